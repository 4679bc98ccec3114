package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/binding"
	"custodia/internal/infra/crypto"

	"github.com/jonboulle/clockwork"
)

// Ledger verifies blocks before they reach the store and answers the
// read-side verification queries. Everything it checks is recomputed from
// persisted block contents.
type Ledger struct {
	mu    sync.Mutex
	store BlockStore
	clock clockwork.Clock
}

func NewLedger(store BlockStore, clock clockwork.Clock) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ledger{store: store, clock: clock}
}

// Init writes the genesis block when the store is empty and returns the
// current head either way.
func (l *Ledger) Init(ctx context.Context) (domain.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	head, err := l.store.Head(ctx)
	if err == nil {
		return head, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Block{}, err
	}
	genesis := crypto.Genesis(l.clock.Now())
	if err := l.store.Append(ctx, genesis); err != nil {
		return domain.Block{}, fmt.Errorf("append genesis: %w", err)
	}
	return genesis, nil
}

func (l *Ledger) Head(ctx context.Context) (domain.Block, error) {
	return l.store.Head(ctx)
}

func (l *Ledger) Append(ctx context.Context, block domain.Block) (domain.Outcome, error) {
	if err := verifyBlockContents(block); err != nil {
		return domain.OutcomeRejected, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	head, err := l.store.Head(ctx)
	if err != nil {
		return domain.OutcomeRejected, err
	}
	if head.BlockHash == block.BlockHash && head.Height == block.Height {
		return domain.OutcomeDuplicate, nil
	}
	for _, tx := range block.Transactions {
		if _, err := l.store.LocateTransaction(ctx, tx.ContentHash); err == nil {
			return domain.OutcomeRejected, fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, tx.ContentHash)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return domain.OutcomeRejected, err
		}
	}
	if err := l.store.Append(ctx, block); err != nil {
		return domain.OutcomeRejected, err
	}
	return domain.OutcomeAccepted, nil
}

func (l *Ledger) GetBlock(ctx context.Context, height int64) (domain.Block, error) {
	if height < 0 {
		return domain.Block{}, domain.NewValidationError("height", "must not be negative")
	}
	return l.store.GetByHeight(ctx, height)
}

func (l *Ledger) GetBlockByHash(ctx context.Context, blockHash string) (domain.Block, error) {
	if !domain.ValidDigest(blockHash) {
		return domain.Block{}, domain.NewValidationError("block_hash", "must be 64 lowercase hex chars")
	}
	return l.store.GetByHash(ctx, blockHash)
}

// FindTransaction returns the owning block and the transaction's index in it.
func (l *Ledger) FindTransaction(ctx context.Context, contentHash string) (domain.Block, int, error) {
	loc, err := l.store.LocateTransaction(ctx, contentHash)
	if err != nil {
		return domain.Block{}, 0, err
	}
	block, err := l.store.GetByHeight(ctx, loc.Height)
	if err != nil {
		return domain.Block{}, 0, err
	}
	if loc.Index >= len(block.Transactions) || block.Transactions[loc.Index].ContentHash != contentHash {
		return domain.Block{}, 0, fmt.Errorf("%w: transaction index for %s disagrees with block %d", domain.ErrIntegrityViolation, contentHash, loc.Height)
	}
	return block, loc.Index, nil
}

func (l *Ledger) IsCommitted(ctx context.Context, contentHash string) (bool, error) {
	_, err := l.store.LocateTransaction(ctx, contentHash)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// LatestBinding returns the current binding of artifactID. ok is false when
// the artifact was never bound.
func (l *Ledger) LatestBinding(ctx context.Context, artifactID string) (domain.ArtifactBindingIdentifier, bool, error) {
	txs, err := l.ArtifactTransactions(ctx, artifactID)
	if err != nil {
		return domain.ArtifactBindingIdentifier{}, false, err
	}
	_, p, versions := resolveBinding(txs)
	return p.Binding, versions > 0, nil
}

// resolveBinding follows the succession of committed ArtifactBinds in ledger
// order, starting at the first version 1. A bind that does not verify or does
// not extend the current version is skipped.
func resolveBinding(txs []CommittedTx) (CommittedTx, domain.ArtifactBindPayload, int) {
	var (
		cur      CommittedTx
		payload  domain.ArtifactBindPayload
		versions int
	)
	for _, tx := range txs {
		p, ok := tx.Transaction.Payload.(domain.ArtifactBindPayload)
		if !ok || !binding.Verify(p.Binding) {
			continue
		}
		if versions == 0 {
			if p.Binding.Version != 1 {
				continue
			}
		} else if p.Binding.Version != payload.Binding.Version+1 || p.Binding.PreviousHash != payload.Binding.ImmutableHash {
			continue
		}
		cur, payload = tx, p
		versions++
	}
	return cur, payload, versions
}

// ArtifactTransactions loads every committed transaction that references
// artifactID, in ledger order.
func (l *Ledger) ArtifactTransactions(ctx context.Context, artifactID string) ([]CommittedTx, error) {
	locs, err := l.store.ListArtifactTransactions(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	out := make([]CommittedTx, 0, len(locs))
	blocks := make(map[int64]domain.Block)
	for _, loc := range locs {
		block, ok := blocks[loc.Height]
		if !ok {
			block, err = l.store.GetByHeight(ctx, loc.Height)
			if err != nil {
				return nil, err
			}
			blocks[loc.Height] = block
		}
		if loc.Index >= len(block.Transactions) {
			return nil, fmt.Errorf("%w: block %d has no transaction %d", domain.ErrIntegrityViolation, loc.Height, loc.Index)
		}
		out = append(out, CommittedTx{
			Transaction: block.Transactions[loc.Index],
			Height:      loc.Height,
			Index:       loc.Index,
			BlockHash:   block.BlockHash,
			Timestamp:   block.Timestamp,
		})
	}
	return out, nil
}

func (l *Ledger) MerkleProofFor(ctx context.Context, contentHash string) (domain.InclusionProof, error) {
	if !domain.ValidDigest(contentHash) {
		return domain.InclusionProof{}, domain.NewValidationError("content_hash", "must be 64 lowercase hex chars")
	}
	block, index, err := l.FindTransaction(ctx, contentHash)
	if err != nil {
		return domain.InclusionProof{}, err
	}
	return crypto.InclusionProof(block, index)
}

// ValidateChain walks from genesis to head recomputing every transaction
// hash, merkle root, block hash and link. It reports the first failure and
// changes nothing.
func (l *Ledger) ValidateChain(ctx context.Context) (domain.ChainValidation, error) {
	head, err := l.store.Head(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ChainValidation{Valid: true, Height: -1}, nil
		}
		return domain.ChainValidation{}, err
	}

	prevHash := domain.ZeroHash
	for height := int64(0); height <= head.Height; height++ {
		if err := ctx.Err(); err != nil {
			return domain.ChainValidation{}, err
		}
		block, err := l.store.GetByHeight(ctx, height)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return invalidAt(height, head.Height, "block missing"), nil
			}
			return domain.ChainValidation{}, err
		}
		if block.Height != height {
			return invalidAt(height, head.Height, "height mismatch"), nil
		}
		if block.PreviousHash != prevHash {
			return invalidAt(height, head.Height, "previous hash does not link"), nil
		}
		if err := verifyBlockContents(block); err != nil {
			return invalidAt(height, head.Height, err.Error()), nil
		}
		prevHash = block.BlockHash
	}
	return domain.ChainValidation{Valid: true, Height: head.Height}, nil
}

// CommittedTx is a transaction together with its ledger position.
type CommittedTx struct {
	Transaction domain.Transaction
	Height      int64
	Index       int
	BlockHash   string
	Timestamp   time.Time
}

func invalidAt(height, headHeight int64, reason string) domain.ChainValidation {
	h := height
	return domain.ChainValidation{
		Valid:              false,
		FirstInvalidHeight: &h,
		Reason:             reason,
		Height:             headHeight,
	}
}

func verifyBlockContents(block domain.Block) error {
	if block.Height < 0 {
		return fmt.Errorf("%w: negative height", domain.ErrIntegrityViolation)
	}
	if block.IsGenesis() && len(block.Transactions) != 0 {
		return fmt.Errorf("%w: genesis carries transactions", domain.ErrIntegrityViolation)
	}
	if block.Height > 0 && len(block.Transactions) == 0 {
		return fmt.Errorf("%w: block %d carries no transactions", domain.ErrIntegrityViolation, block.Height)
	}
	seen := make(map[string]struct{}, len(block.Transactions))
	for i, tx := range block.Transactions {
		want, err := crypto.TransactionHash(tx)
		if err != nil {
			return fmt.Errorf("%w: transaction %d: %v", domain.ErrIntegrityViolation, i, err)
		}
		if want != tx.ContentHash {
			return fmt.Errorf("%w: transaction %d content hash mismatch", domain.ErrIntegrityViolation, i)
		}
		if _, dup := seen[tx.ContentHash]; dup {
			return fmt.Errorf("%w: %s repeated in block", domain.ErrDuplicateTransaction, tx.ContentHash)
		}
		seen[tx.ContentHash] = struct{}{}
	}
	root, err := crypto.MerkleRoot(block.TransactionHashes())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIntegrityViolation, err)
	}
	if root != block.MerkleRoot {
		return fmt.Errorf("%w: merkle root mismatch", domain.ErrIntegrityViolation)
	}
	if crypto.BlockHash(block) != block.BlockHash {
		return fmt.Errorf("%w: block hash mismatch", domain.ErrIntegrityViolation)
	}
	return nil
}
