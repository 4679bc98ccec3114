// Package notify pushes ledger events to channels outside the process.
package notify

import (
	"fmt"

	"custodia/internal/domain"
	"custodia/internal/infra/crypto"
)

// Message is the wire form of an event. Blocks are summarised by their
// hashes; subscribers fetch full content over the API.
type Message struct {
	Type       domain.EventType `json:"type"`
	OccurredAt string           `json:"occurred_at"`

	Height       *int64   `json:"height,omitempty"`
	BlockHash    string   `json:"block_hash,omitempty"`
	MerkleRoot   string   `json:"merkle_root,omitempty"`
	AuditScore   *float64 `json:"audit_score,omitempty"`
	Transactions []string `json:"transactions,omitempty"`

	FailedPredicates []domain.FailedPredicate `json:"failed_predicates,omitempty"`
	Evicted          []string                 `json:"evicted,omitempty"`

	ArtifactID string `json:"artifact_id,omitempty"`
	CustodyID  string `json:"custody_id,omitempty"`
	EventType  string `json:"custody_event_type,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	Seq        *int   `json:"seq,omitempty"`
}

func NewMessage(event domain.Event) (Message, error) {
	switch ev := event.(type) {
	case domain.ConsensusCommitted:
		b := ev.Block
		return Message{
			Type:         ev.Type(),
			OccurredAt:   crypto.FormatTime(b.Timestamp),
			Height:       &b.Height,
			BlockHash:    b.BlockHash,
			MerkleRoot:   b.MerkleRoot,
			AuditScore:   &b.AuditScore,
			Transactions: b.TransactionHashes(),
		}, nil
	case domain.ConsensusRejected:
		score := ev.AuditScore
		return Message{
			Type:             ev.Type(),
			OccurredAt:       crypto.FormatTime(ev.RejectedAt),
			AuditScore:       &score,
			Transactions:     ev.Batch,
			FailedPredicates: ev.FailedPredicates,
			Evicted:          ev.Evicted,
		}, nil
	case domain.CustodyEventRecorded:
		c := ev.Event
		return Message{
			Type:       ev.Type(),
			OccurredAt: crypto.FormatTime(c.Timestamp),
			Height:     &c.Height,
			ArtifactID: c.ArtifactID,
			CustodyID:  c.ID,
			EventType:  string(c.EventType),
			ActorID:    c.Actor.UserID,
			Seq:        &c.Seq,
		}, nil
	default:
		return Message{}, fmt.Errorf("notify: unsupported event %T", event)
	}
}
