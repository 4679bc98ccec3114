package usecase

import (
	"context"

	"custodia/internal/domain"
)

// BlockStore persists committed blocks. Append must check the fork rule
// (height == head+1, previous hash == head hash) atomically with the write
// and fail with domain.ErrForkRejected otherwise.
type BlockStore interface {
	Append(ctx context.Context, block domain.Block) error
	// Head returns domain.ErrNotFound on an empty store.
	Head(ctx context.Context) (domain.Block, error)
	GetByHeight(ctx context.Context, height int64) (domain.Block, error)
	GetByHash(ctx context.Context, blockHash string) (domain.Block, error)
	LocateTransaction(ctx context.Context, contentHash string) (domain.TxLocation, error)
	// ListArtifactTransactions returns every committed transaction that
	// references artifactID, in ledger order.
	ListArtifactTransactions(ctx context.Context, artifactID string) ([]domain.TxLocation, error)
}

type CustodyStore interface {
	// PutDerived stores a Seq 0 event. An event already present at the same
	// (artifact, height, index, 0) position yields OutcomeDuplicate.
	PutDerived(ctx context.Context, event domain.CustodyEvent) (domain.Outcome, error)
	// Append assigns the next Seq (starting at 1) for the event's anchor
	// position and stores it.
	Append(ctx context.Context, event domain.CustodyEvent) (domain.CustodyEvent, error)
	List(ctx context.Context, artifactID string) ([]domain.CustodyEvent, error)
}

type PolicyEvaluator interface {
	BundleID() string
	Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyEvaluation, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event)
}

// Notifier pushes events to an out-of-process channel. Failures are logged
// by the caller and never undo ledger state.
type Notifier interface {
	Notify(ctx context.Context, event domain.Event) error
}
