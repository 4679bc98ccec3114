package db

import (
	"errors"
	"fmt"

	"custodia/internal/domain"
	"custodia/internal/infra/crypto"

	"gorm.io/gorm"
)

var errDBUnavailable = errors.New("db unavailable")

func stringPtrIfNotEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

func blockModelFromDomain(b domain.Block) BlockModel {
	return BlockModel{
		Height:         b.Height,
		BlockHash:      b.BlockHash,
		PreviousHash:   b.PreviousHash,
		MerkleRoot:     b.MerkleRoot,
		AuditScore:     b.AuditScore,
		Nonce:          int64(b.Nonce),
		BlockTimestamp: domain.NormalizeTime(b.Timestamp),
		TxCount:        len(b.Transactions),
	}
}

func blockFromModel(m BlockModel, txs []domain.Transaction) domain.Block {
	return domain.Block{
		Height:       m.Height,
		PreviousHash: m.PreviousHash,
		MerkleRoot:   m.MerkleRoot,
		Transactions: txs,
		AuditScore:   m.AuditScore,
		Nonce:        uint64(m.Nonce),
		Timestamp:    m.BlockTimestamp.UTC(),
		BlockHash:    m.BlockHash,
	}
}

func txModelFromDomain(height int64, index int, tx domain.Transaction) (TransactionModel, error) {
	payload, err := crypto.EncodePayload(tx.Payload)
	if err != nil {
		return TransactionModel{}, err
	}
	submitter, err := crypto.EncodeIdentity(tx.Submitter)
	if err != nil {
		return TransactionModel{}, err
	}
	return TransactionModel{
		ContentHash: tx.ContentHash,
		BlockHeight: height,
		TxIndex:     index,
		Kind:        string(tx.Kind),
		Payload:     payload,
		Submitter:   submitter,
		ArtifactID:  stringPtrIfNotEmpty(tx.ArtifactID()),
		CaseNumber:  stringPtrIfNotEmpty(tx.CaseNumber()),
		CreatedAt:   domain.NormalizeTime(tx.CreatedAt),
	}, nil
}

func txFromModel(m TransactionModel) (domain.Transaction, error) {
	kind := domain.TxKind(m.Kind)
	payload, err := crypto.DecodePayload(kind, m.Payload)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", m.ContentHash, err)
	}
	submitter, err := crypto.DecodeIdentity(m.Submitter)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", m.ContentHash, err)
	}
	return domain.Transaction{
		Kind:        kind,
		Payload:     payload,
		Submitter:   submitter,
		CreatedAt:   m.CreatedAt.UTC(),
		ContentHash: m.ContentHash,
	}, nil
}

func custodyModelFromDomain(ev domain.CustodyEvent) (CustodyEventModel, error) {
	actor, err := crypto.EncodeIdentity(ev.Actor)
	if err != nil {
		return CustodyEventModel{}, err
	}
	return CustodyEventModel{
		ArtifactID:   ev.ArtifactID,
		BlockHeight:  ev.Height,
		TxIndex:      ev.Index,
		Seq:          ev.Seq,
		ID:           ev.ID,
		EventType:    string(ev.EventType),
		Actor:        actor,
		Note:         ev.Note,
		AnchorTxHash: ev.AnchorTxHash,
		RecordedAt:   domain.NormalizeTime(ev.Timestamp),
	}, nil
}

func custodyFromModel(m CustodyEventModel) (domain.CustodyEvent, error) {
	actor, err := crypto.DecodeIdentity(m.Actor)
	if err != nil {
		return domain.CustodyEvent{}, fmt.Errorf("custody event %s: %w", m.ID, err)
	}
	return domain.CustodyEvent{
		ID:           m.ID,
		ArtifactID:   m.ArtifactID,
		EventType:    domain.CustodyEventType(m.EventType),
		Actor:        actor,
		Timestamp:    m.RecordedAt.UTC(),
		Note:         m.Note,
		AnchorTxHash: m.AnchorTxHash,
		Height:       m.BlockHeight,
		Index:        m.TxIndex,
		Seq:          m.Seq,
	}, nil
}
