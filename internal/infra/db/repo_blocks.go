package db

import (
	"context"
	"errors"
	"fmt"

	"custodia/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BlockRepository is the durable ledger. Rows are only ever inserted.
type BlockRepository struct {
	db *gorm.DB
}

func NewBlockRepository(db *gorm.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

func (r *BlockRepository) Append(ctx context.Context, block domain.Block) error {
	if r.db == nil {
		return errDBUnavailable
	}
	txModels := make([]TransactionModel, 0, len(block.Transactions))
	hashes := make([]string, 0, len(block.Transactions))
	for i, tx := range block.Transactions {
		m, err := txModelFromDomain(block.Height, i, tx)
		if err != nil {
			return err
		}
		txModels = append(txModels, m)
		hashes = append(hashes, tx.ContentHash)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head BlockModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Order("height DESC").
			Limit(1).
			Take(&head).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if block.Height != 0 || block.PreviousHash != domain.ZeroHash {
				return fmt.Errorf("%w: first block must be genesis", domain.ErrForkRejected)
			}
		case err != nil:
			return err
		default:
			if block.Height != head.Height+1 || block.PreviousHash != head.BlockHash {
				return fmt.Errorf("%w: block %d does not extend head %d", domain.ErrForkRejected, block.Height, head.Height)
			}
		}

		if len(hashes) > 0 {
			var existing int64
			if err := tx.Model(&TransactionModel{}).Where("content_hash IN ?", hashes).Count(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				return domain.ErrDuplicateTransaction
			}
		}

		model := blockModelFromDomain(block)
		if err := tx.Create(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) {
				return fmt.Errorf("%w: %v", domain.ErrForkRejected, err)
			}
			return err
		}
		if len(txModels) > 0 {
			if err := tx.Create(&txModels).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("%w: %v", domain.ErrDuplicateTransaction, err)
				}
				return err
			}
		}
		return nil
	})
}

func (r *BlockRepository) Head(ctx context.Context) (domain.Block, error) {
	if r.db == nil {
		return domain.Block{}, errDBUnavailable
	}
	var m BlockModel
	if err := r.db.WithContext(ctx).Order("height DESC").Limit(1).Take(&m).Error; err != nil {
		return domain.Block{}, notFound(err)
	}
	return r.loadBlock(ctx, m)
}

func (r *BlockRepository) GetByHeight(ctx context.Context, height int64) (domain.Block, error) {
	if r.db == nil {
		return domain.Block{}, errDBUnavailable
	}
	var m BlockModel
	if err := r.db.WithContext(ctx).Where("height = ?", height).Take(&m).Error; err != nil {
		return domain.Block{}, notFound(err)
	}
	return r.loadBlock(ctx, m)
}

func (r *BlockRepository) GetByHash(ctx context.Context, blockHash string) (domain.Block, error) {
	if r.db == nil {
		return domain.Block{}, errDBUnavailable
	}
	var m BlockModel
	if err := r.db.WithContext(ctx).Where("block_hash = ?", blockHash).Take(&m).Error; err != nil {
		return domain.Block{}, notFound(err)
	}
	return r.loadBlock(ctx, m)
}

func (r *BlockRepository) LocateTransaction(ctx context.Context, contentHash string) (domain.TxLocation, error) {
	if r.db == nil {
		return domain.TxLocation{}, errDBUnavailable
	}
	var row struct {
		ContentHash string
		BlockHeight int64
		TxIndex     int
		Kind        string
		BlockHash   string
	}
	err := r.db.WithContext(ctx).
		Table("ledger_transactions AS t").
		Select("t.content_hash, t.block_height, t.tx_index, t.kind, b.block_hash").
		Joins("JOIN ledger_blocks b ON b.height = t.block_height").
		Where("t.content_hash = ?", contentHash).
		Take(&row).Error
	if err != nil {
		return domain.TxLocation{}, notFound(err)
	}
	return domain.TxLocation{
		ContentHash: row.ContentHash,
		Height:      row.BlockHeight,
		Index:       row.TxIndex,
		BlockHash:   row.BlockHash,
		Kind:        domain.TxKind(row.Kind),
	}, nil
}

func (r *BlockRepository) ListArtifactTransactions(ctx context.Context, artifactID string) ([]domain.TxLocation, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var rows []struct {
		ContentHash string
		BlockHeight int64
		TxIndex     int
		Kind        string
		BlockHash   string
	}
	err := r.db.WithContext(ctx).
		Table("ledger_transactions AS t").
		Select("t.content_hash, t.block_height, t.tx_index, t.kind, b.block_hash").
		Joins("JOIN ledger_blocks b ON b.height = t.block_height").
		Where("t.artifact_id = ?", artifactID).
		Order("t.block_height ASC, t.tx_index ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.TxLocation, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.TxLocation{
			ContentHash: row.ContentHash,
			Height:      row.BlockHeight,
			Index:       row.TxIndex,
			BlockHash:   row.BlockHash,
			Kind:        domain.TxKind(row.Kind),
		})
	}
	return out, nil
}

func (r *BlockRepository) loadBlock(ctx context.Context, m BlockModel) (domain.Block, error) {
	var models []TransactionModel
	if err := r.db.WithContext(ctx).
		Where("block_height = ?", m.Height).
		Order("tx_index ASC").
		Find(&models).Error; err != nil {
		return domain.Block{}, err
	}
	txs := make([]domain.Transaction, 0, len(models))
	for _, tm := range models {
		tx, err := txFromModel(tm)
		if err != nil {
			return domain.Block{}, err
		}
		txs = append(txs, tx)
	}
	if len(txs) == 0 {
		txs = nil
	}
	return blockFromModel(m, txs), nil
}
