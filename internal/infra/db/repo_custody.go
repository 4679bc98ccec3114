package db

import (
	"context"
	"fmt"

	"custodia/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CustodyRepository struct {
	db *gorm.DB
}

func NewCustodyRepository(db *gorm.DB) *CustodyRepository {
	return &CustodyRepository{db: db}
}

func (r *CustodyRepository) PutDerived(ctx context.Context, event domain.CustodyEvent) (domain.Outcome, error) {
	if r.db == nil {
		return domain.OutcomeRejected, errDBUnavailable
	}
	event.Seq = 0
	model, err := custodyModelFromDomain(event)
	if err != nil {
		return domain.OutcomeRejected, err
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if res.Error != nil {
		return domain.OutcomeRejected, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.OutcomeDuplicate, nil
	}
	return domain.OutcomeAccepted, nil
}

func (r *CustodyRepository) Append(ctx context.Context, event domain.CustodyEvent) (domain.CustodyEvent, error) {
	if r.db == nil {
		return domain.CustodyEvent{}, errDBUnavailable
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lockKey := fmt.Sprintf("custody:%s:%d:%d", event.ArtifactID, event.Height, event.Index)
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", lockKey).Error; err != nil {
			return err
		}
		var last int
		if err := tx.Model(&CustodyEventModel{}).
			Select("COALESCE(MAX(seq), 0)").
			Where("artifact_id = ? AND block_height = ? AND tx_index = ?", event.ArtifactID, event.Height, event.Index).
			Scan(&last).Error; err != nil {
			return err
		}
		event.Seq = last + 1
		model, err := custodyModelFromDomain(event)
		if err != nil {
			return err
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.CustodyEvent{}, err
	}
	return event, nil
}

func (r *CustodyRepository) List(ctx context.Context, artifactID string) ([]domain.CustodyEvent, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []CustodyEventModel
	if err := r.db.WithContext(ctx).
		Where("artifact_id = ?", artifactID).
		Order("block_height ASC, tx_index ASC, seq ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.CustodyEvent, 0, len(models))
	for _, m := range models {
		ev, err := custodyFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
