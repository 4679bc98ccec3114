package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"custodia/internal/domain"

	"github.com/redis/go-redis/v9"
)

type fakePublisher struct {
	channel string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

var at = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func TestRedisPublishesCommittedBlock(t *testing.T) {
	pub := &fakePublisher{}
	n, err := NewRedis(pub, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	block := domain.Block{
		Height:       4,
		BlockHash:    strings.Repeat("b", 64),
		MerkleRoot:   strings.Repeat("c", 64),
		AuditScore:   100,
		Timestamp:    at,
		Transactions: []domain.Transaction{{ContentHash: strings.Repeat("a", 64)}},
	}
	if err := n.Notify(context.Background(), domain.ConsensusCommitted{Block: block}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if pub.channel != DefaultChannel {
		t.Fatalf("channel = %q", pub.channel)
	}
	var msg Message
	if err := json.Unmarshal(pub.payload, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != domain.EventConsensusCommitted || *msg.Height != 4 || len(msg.Transactions) != 1 {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.OccurredAt != "2024-03-01T12:30:00Z" {
		t.Fatalf("occurred_at = %q", msg.OccurredAt)
	}
}

func TestRedisPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	n, _ := NewRedis(pub, "custody")
	err := n.Notify(context.Background(), domain.ConsensusRejected{Batch: []string{"x"}, RejectedAt: at})
	if err == nil || !strings.Contains(err.Error(), "ConsensusRejected") {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))
	ev := domain.CustodyEventRecorded{Event: domain.CustodyEvent{
		ID:         "c1",
		ArtifactID: "ART-4f60ba79cba8",
		EventType:  domain.CustodyAccessed,
		Actor:      domain.Identity{UserID: "u1"},
		Timestamp:  at,
		Height:     2,
		Seq:        1,
	}}
	if err := n.Notify(context.Background(), ev); err != nil {
		t.Fatalf("notify: %v", err)
	}
	line := buf.String()
	for _, want := range []string{`"msg":"CustodyEventRecorded"`, `"artifact_id":"ART-4f60ba79cba8"`, `"seq":1`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %s missing %s", line, want)
		}
	}
}

type otherEvent struct{}

func (otherEvent) Type() domain.EventType { return "Other" }

func TestUnsupportedEvent(t *testing.T) {
	if _, err := NewMessage(otherEvent{}); err == nil {
		t.Fatal("expected error for unknown event")
	}
}
