package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/ledgermem"
)

func commitArtifact(t *testing.T, h *harness, content string) (string, domain.Block) {
	t.Helper()
	bind, id := bindTx(t, content, attorney(), testStart)
	mustSubmit(t, h, bind)
	mustSubmit(t, h, evidenceSubmitTx(content, attorney(), testStart))
	return id.ArtifactID, mustCommit(t, h)
}

func TestCustody_DerivedEventsRecordedOnCommit(t *testing.T) {
	h := newHarness(t, AssemblerConfig{BatchSize: 2}, PoolConfig{})
	artifactID, block := commitArtifact(t, h, "contract-v1")

	history, err := h.custody.History(context.Background(), artifactID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 derived events, got %d", len(history))
	}
	if history[0].EventType != domain.CustodyBound || history[1].EventType != domain.CustodySubmitted {
		t.Fatalf("unexpected derived order: %s, %s", history[0].EventType, history[1].EventType)
	}
	for i, ev := range history {
		if ev.Seq != 0 || ev.Height != block.Height || ev.Index != i {
			t.Fatalf("unexpected derived position: %+v", ev)
		}
	}
	if n := len(h.recorded.ofType(domain.EventCustodyEventRecorded)); n != 2 {
		t.Fatalf("expected 2 CustodyEventRecorded events, got %d", n)
	}

	// Replaying the block does not duplicate anything.
	if err := h.custody.RecordDerived(context.Background(), block); err != nil {
		t.Fatalf("replay derived: %v", err)
	}
	again, _ := h.custody.History(context.Background(), artifactID)
	if len(again) != 2 {
		t.Fatalf("replay duplicated derived events: %d", len(again))
	}
}

func TestCustody_RecordAnchorsToLatestTransaction(t *testing.T) {
	h := newHarness(t, AssemblerConfig{BatchSize: 2}, PoolConfig{})
	artifactID, block := commitArtifact(t, h, "photo.jpg")
	ctx := context.Background()

	h.clock.Advance(time.Minute)
	ev, out, err := h.custody.Record(ctx, RecordRequest{
		ArtifactID: artifactID,
		EventType:  domain.CustodyAccessed,
		Actor:      attorney(),
		Note:       "reviewed for deposition",
	})
	if err != nil || out != domain.OutcomeAccepted {
		t.Fatalf("record: %s %v", out, err)
	}
	if ev.AnchorTxHash != block.Transactions[1].ContentHash || ev.Seq != 1 {
		t.Fatalf("expected anchor on the evidence submit with seq 1, got %+v", ev)
	}
	second, _, err := h.custody.Record(ctx, RecordRequest{
		ArtifactID:   artifactID,
		EventType:    domain.CustodyTransferred,
		Actor:        attorney(),
		AnchorTxHash: block.Transactions[0].ContentHash,
	})
	if err != nil {
		t.Fatalf("record explicit anchor: %v", err)
	}
	if second.Index != 0 || second.Seq != 1 {
		t.Fatalf("unexpected position: %+v", second)
	}

	history, _ := h.custody.History(ctx, artifactID)
	want := []domain.CustodyEventType{domain.CustodyBound, domain.CustodyTransferred, domain.CustodySubmitted, domain.CustodyAccessed}
	if len(history) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(history))
	}
	for i, ev := range history {
		if ev.EventType != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], ev.EventType)
		}
	}

	v, err := h.custody.Verify(ctx, artifactID)
	if err != nil || !v.Valid {
		t.Fatalf("expected valid custody, got %+v %v", v, err)
	}
}

func TestCustody_RecordRequiresCommittedAnchor(t *testing.T) {
	h := newHarness(t, AssemblerConfig{BatchSize: 2}, PoolConfig{})
	ctx := context.Background()

	_, out, err := h.custody.Record(ctx, RecordRequest{
		ArtifactID: "ART-000000000000",
		EventType:  domain.CustodyAccessed,
		Actor:      attorney(),
	})
	if !errors.Is(err, domain.ErrAnchorNotCommitted) || out != domain.OutcomeRejected {
		t.Fatalf("expected ErrAnchorNotCommitted, got %s %v", out, err)
	}

	artifactID, _ := commitArtifact(t, h, "memo.pdf")
	_, otherBlock := commitArtifact(t, h, "other.pdf")
	_, _, err = h.custody.Record(ctx, RecordRequest{
		ArtifactID:   artifactID,
		EventType:    domain.CustodyAccessed,
		Actor:        attorney(),
		AnchorTxHash: otherBlock.Transactions[0].ContentHash,
	})
	if !errors.Is(err, domain.ErrAnchorNotCommitted) {
		t.Fatalf("anchor for another artifact should be refused, got %v", err)
	}

	_, _, err = h.custody.Record(ctx, RecordRequest{ArtifactID: artifactID, EventType: "Shredded", Actor: attorney()})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
}

func TestCustody_DeriveAndVerifyDetectMissingEvents(t *testing.T) {
	h := newHarness(t, AssemblerConfig{BatchSize: 2}, PoolConfig{})
	artifactID, _ := commitArtifact(t, h, "contract-v1")
	ctx := context.Background()

	derived, err := h.custody.Derive(ctx, artifactID)
	if err != nil || len(derived) != 2 {
		t.Fatalf("derive: %d %v", len(derived), err)
	}

	// A custody log that never saw the commit.
	blank := NewCustodyLog(ledgermem.NewCustodyStore(), h.ledger, nil, h.clock, quietLogger())
	v, err := blank.Verify(ctx, artifactID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.Valid || len(v.Problems) != 2 {
		t.Fatalf("expected two missing events, got %+v", v)
	}
}
