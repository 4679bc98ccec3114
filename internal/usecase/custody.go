package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"custodia/internal/domain"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type RecordRequest struct {
	ArtifactID   string
	EventType    domain.CustodyEventType
	Actor        domain.Identity
	Note         string
	AnchorTxHash string
}

type CustodyVerification struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// CustodyLog is the append-only chain-of-custody. Every event is anchored
// to a committed ledger transaction that references its artifact.
type CustodyLog struct {
	store  CustodyStore
	ledger *Ledger
	events EventPublisher
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewCustodyLog(store CustodyStore, ledger *Ledger, events EventPublisher, clock clockwork.Clock, logger *slog.Logger) *CustodyLog {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CustodyLog{store: store, ledger: ledger, events: events, clock: clock, logger: logger}
}

func (c *CustodyLog) Record(ctx context.Context, req RecordRequest) (domain.CustodyEvent, domain.Outcome, error) {
	if !domain.ValidArtifactID(req.ArtifactID) {
		return domain.CustodyEvent{}, domain.OutcomeRejected, domain.NewValidationError("artifact_id", "must match ART-<12 hex>")
	}
	if !req.EventType.Valid() {
		return domain.CustodyEvent{}, domain.OutcomeRejected, domain.NewValidationError("event_type", "unknown custody event type")
	}
	if strings.TrimSpace(req.Actor.UserID) == "" {
		return domain.CustodyEvent{}, domain.OutcomeRejected, domain.NewValidationError("actor.user_id", "is required")
	}

	anchor, err := c.resolveAnchor(ctx, req.ArtifactID, req.AnchorTxHash)
	if err != nil {
		return domain.CustodyEvent{}, domain.OutcomeRejected, err
	}

	event := domain.CustodyEvent{
		ID:           uuid.NewString(),
		ArtifactID:   req.ArtifactID,
		EventType:    req.EventType,
		Actor:        req.Actor.Clone(),
		Timestamp:    domain.NormalizeTime(c.clock.Now()),
		Note:         req.Note,
		AnchorTxHash: anchor.Transaction.ContentHash,
		Height:       anchor.Height,
		Index:        anchor.Index,
	}
	stored, err := c.store.Append(ctx, event)
	if err != nil {
		return domain.CustodyEvent{}, domain.OutcomeRejected, fmt.Errorf("append custody event: %w", err)
	}
	c.publish(ctx, stored)
	return stored, domain.OutcomeAccepted, nil
}

func (c *CustodyLog) resolveAnchor(ctx context.Context, artifactID, anchorHash string) (CommittedTx, error) {
	txs, err := c.ledger.ArtifactTransactions(ctx, artifactID)
	if err != nil {
		return CommittedTx{}, err
	}
	if anchorHash == "" {
		if len(txs) == 0 {
			return CommittedTx{}, fmt.Errorf("%w: no committed transaction references %s", domain.ErrAnchorNotCommitted, artifactID)
		}
		return txs[len(txs)-1], nil
	}
	if !domain.ValidDigest(anchorHash) {
		return CommittedTx{}, domain.NewValidationError("anchor_tx_hash", "must be 64 lowercase hex chars")
	}
	for _, tx := range txs {
		if tx.Transaction.ContentHash == anchorHash {
			return tx, nil
		}
	}
	return CommittedTx{}, fmt.Errorf("%w: %s does not anchor %s", domain.ErrAnchorNotCommitted, anchorHash, artifactID)
}

// History is ordered by (height, index, seq).
func (c *CustodyLog) History(ctx context.Context, artifactID string) ([]domain.CustodyEvent, error) {
	if !domain.ValidArtifactID(artifactID) {
		return nil, domain.NewValidationError("artifact_id", "must match ART-<12 hex>")
	}
	events, err := c.store.List(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Before(events[j]) })
	return events, nil
}

// Derive replays the ledger into the events its transactions imply.
func (c *CustodyLog) Derive(ctx context.Context, artifactID string) ([]domain.CustodyEvent, error) {
	txs, err := c.ledger.ArtifactTransactions(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CustodyEvent, 0, len(txs))
	for _, tx := range txs {
		event, ok := derivedEvent(artifactID, tx)
		if ok {
			out = append(out, event)
		}
	}
	return out, nil
}

// Verify checks that every stored event is anchored to a committed
// transaction of its artifact and that no ledger-implied event is missing.
func (c *CustodyLog) Verify(ctx context.Context, artifactID string) (CustodyVerification, error) {
	stored, err := c.History(ctx, artifactID)
	if err != nil {
		return CustodyVerification{}, err
	}
	txs, err := c.ledger.ArtifactTransactions(ctx, artifactID)
	if err != nil {
		return CustodyVerification{}, err
	}
	anchors := make(map[string]CommittedTx, len(txs))
	for _, tx := range txs {
		anchors[tx.Transaction.ContentHash] = tx
	}

	var problems []string
	present := make(map[string]struct{})
	for _, ev := range stored {
		tx, ok := anchors[ev.AnchorTxHash]
		if !ok {
			problems = append(problems, fmt.Sprintf("event %s anchor %s not committed for artifact", ev.ID, ev.AnchorTxHash))
			continue
		}
		if tx.Height != ev.Height || tx.Index != ev.Index {
			problems = append(problems, fmt.Sprintf("event %s position disagrees with anchor", ev.ID))
		}
		if ev.Seq == 0 {
			present[ev.AnchorTxHash] = struct{}{}
		}
	}
	for _, tx := range txs {
		if _, ok := derivedEvent(artifactID, tx); !ok {
			continue
		}
		if _, ok := present[tx.Transaction.ContentHash]; !ok {
			problems = append(problems, fmt.Sprintf("ledger event for %s at %d/%d missing", tx.Transaction.Kind, tx.Height, tx.Index))
		}
	}
	return CustodyVerification{Valid: len(problems) == 0, Problems: problems}, nil
}

// RecordDerived stores the ledger-implied events of a committed block.
func (c *CustodyLog) RecordDerived(ctx context.Context, block domain.Block) error {
	var errs []error
	for i, tx := range block.Transactions {
		artifactID := tx.ArtifactID()
		if artifactID == "" {
			continue
		}
		event, ok := derivedEvent(artifactID, CommittedTx{
			Transaction: tx,
			Height:      block.Height,
			Index:       i,
			BlockHash:   block.BlockHash,
			Timestamp:   block.Timestamp,
		})
		if !ok {
			continue
		}
		outcome, err := c.store.PutDerived(ctx, event)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if outcome == domain.OutcomeAccepted {
			c.publish(ctx, event)
		}
	}
	return errors.Join(errs...)
}

// OnCommitted is an EventHandler that records derived custody events.
func (c *CustodyLog) OnCommitted(ctx context.Context, event domain.Event) {
	committed, ok := event.(domain.ConsensusCommitted)
	if !ok {
		return
	}
	if err := c.RecordDerived(ctx, committed.Block); err != nil {
		c.logger.Error("record derived custody events failed", "height", committed.Block.Height, "error", err)
	}
}

func (c *CustodyLog) publish(ctx context.Context, event domain.CustodyEvent) {
	if c.events != nil {
		c.events.Publish(ctx, domain.CustodyEventRecorded{Event: event})
	}
}

func derivedEvent(artifactID string, tx CommittedTx) (domain.CustodyEvent, bool) {
	var kind domain.CustodyEventType
	switch p := tx.Transaction.Payload.(type) {
	case domain.EvidenceSubmitPayload:
		kind = domain.CustodySubmitted
	case domain.EvidenceValidatePayload:
		kind = domain.CustodyValidated
	case domain.ArtifactBindPayload:
		kind = domain.CustodyBound
		if p.Binding.IsCorrection() {
			kind = domain.CustodyCorrected
		}
	default:
		return domain.CustodyEvent{}, false
	}
	return domain.CustodyEvent{
		ID:           derivedID(tx.Transaction.ContentHash, artifactID),
		ArtifactID:   artifactID,
		EventType:    kind,
		Actor:        tx.Transaction.Submitter.Clone(),
		Timestamp:    tx.Timestamp,
		AnchorTxHash: tx.Transaction.ContentHash,
		Height:       tx.Height,
		Index:        tx.Index,
		Seq:          0,
	}, true
}

// derivedID is stable so that replaying a block yields the same event ID.
func derivedID(contentHash, artifactID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(contentHash+"/"+artifactID)).String()
}
