// Package ledgermem holds the ledger in process memory. Committed blocks are
// read without locks through an atomically swapped snapshot; writers are
// serialized.
package ledgermem

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"custodia/internal/domain"
)

type snapshot struct {
	blocks []domain.Block
}

type BlockStore struct {
	mu        sync.Mutex
	snap      atomic.Pointer[snapshot]
	byHash    sync.Map // block hash -> height
	txs       sync.Map // content hash -> domain.TxLocation
	artifacts sync.Map // artifact id -> []domain.TxLocation
}

func NewBlockStore() *BlockStore {
	s := &BlockStore{}
	s.snap.Store(&snapshot{})
	return s
}

func (s *BlockStore) Append(ctx context.Context, block domain.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if n := len(cur.blocks); n == 0 {
		if block.Height != 0 || block.PreviousHash != domain.ZeroHash {
			return fmt.Errorf("%w: first block must be genesis", domain.ErrForkRejected)
		}
	} else {
		head := cur.blocks[n-1]
		if block.Height != head.Height+1 || block.PreviousHash != head.BlockHash {
			return fmt.Errorf("%w: block %d does not extend head %d", domain.ErrForkRejected, block.Height, head.Height)
		}
	}
	for _, tx := range block.Transactions {
		if _, ok := s.txs.Load(tx.ContentHash); ok {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, tx.ContentHash)
		}
	}

	stored := block.Clone()
	next := &snapshot{blocks: append(cur.blocks, stored)}
	s.snap.Store(next)

	s.byHash.Store(stored.BlockHash, stored.Height)
	for i, tx := range stored.Transactions {
		loc := domain.TxLocation{
			ContentHash: tx.ContentHash,
			Height:      stored.Height,
			Index:       i,
			BlockHash:   stored.BlockHash,
			Kind:        tx.Kind,
		}
		s.txs.Store(tx.ContentHash, loc)
		if artifactID := tx.ArtifactID(); artifactID != "" {
			var list []domain.TxLocation
			if v, ok := s.artifacts.Load(artifactID); ok {
				list = v.([]domain.TxLocation)
			}
			grown := make([]domain.TxLocation, len(list), len(list)+1)
			copy(grown, list)
			s.artifacts.Store(artifactID, append(grown, loc))
		}
	}
	return nil
}

func (s *BlockStore) Head(ctx context.Context) (domain.Block, error) {
	if err := ctx.Err(); err != nil {
		return domain.Block{}, err
	}
	cur := s.snap.Load()
	if len(cur.blocks) == 0 {
		return domain.Block{}, domain.ErrNotFound
	}
	return cur.blocks[len(cur.blocks)-1].Clone(), nil
}

func (s *BlockStore) GetByHeight(ctx context.Context, height int64) (domain.Block, error) {
	if err := ctx.Err(); err != nil {
		return domain.Block{}, err
	}
	cur := s.snap.Load()
	if height < 0 || height >= int64(len(cur.blocks)) {
		return domain.Block{}, domain.ErrNotFound
	}
	return cur.blocks[height].Clone(), nil
}

func (s *BlockStore) GetByHash(ctx context.Context, blockHash string) (domain.Block, error) {
	v, ok := s.byHash.Load(blockHash)
	if !ok {
		return domain.Block{}, domain.ErrNotFound
	}
	return s.GetByHeight(ctx, v.(int64))
}

func (s *BlockStore) LocateTransaction(ctx context.Context, contentHash string) (domain.TxLocation, error) {
	if err := ctx.Err(); err != nil {
		return domain.TxLocation{}, err
	}
	v, ok := s.txs.Load(contentHash)
	if !ok {
		return domain.TxLocation{}, domain.ErrNotFound
	}
	return v.(domain.TxLocation), nil
}

func (s *BlockStore) ListArtifactTransactions(ctx context.Context, artifactID string) ([]domain.TxLocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.artifacts.Load(artifactID)
	if !ok {
		return nil, nil
	}
	list := v.([]domain.TxLocation)
	out := make([]domain.TxLocation, len(list))
	copy(out, list)
	return out, nil
}
