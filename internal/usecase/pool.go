package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/crypto"

	"github.com/jonboulle/clockwork"
)

const DefaultPoolCapacity = 10000

// CommitChecker answers whether a content hash is already in the ledger.
type CommitChecker interface {
	IsCommitted(ctx context.Context, contentHash string) (bool, error)
}

type PoolConfig struct {
	Capacity int
	// MaxAttempts evicts a transaction after that many rejected batches.
	// Zero keeps it forever.
	MaxAttempts int
}

type SubmitResult struct {
	Outcome     domain.Outcome `json:"outcome"`
	ContentHash string         `json:"content_hash"`
}

type poolEntry struct {
	tx         domain.Transaction
	enqueuedAt time.Time
	attempts   int
}

// TxPool is the FIFO of validated, not yet committed transactions. Drained
// transactions stay "in flight" until Ack or Requeue so that a resubmission
// during assembly is still seen as a duplicate.
type TxPool struct {
	mu        sync.Mutex
	cfg       PoolConfig
	clock     clockwork.Clock
	committed CommitChecker
	pending   []*poolEntry
	byHash    map[string]*poolEntry
	inFlight  map[string]*poolEntry
	notify    chan struct{}
}

func NewTxPool(cfg PoolConfig, committed CommitChecker, clock clockwork.Clock) *TxPool {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultPoolCapacity
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TxPool{
		cfg:       cfg,
		clock:     clock,
		committed: committed,
		byHash:    make(map[string]*poolEntry),
		inFlight:  make(map[string]*poolEntry),
		notify:    make(chan struct{}, 1),
	}
}

func (p *TxPool) Submit(ctx context.Context, tx domain.Transaction) (SubmitResult, error) {
	if p == nil {
		return SubmitResult{}, errors.New("transaction pool is nil")
	}
	if err := tx.Validate(); err != nil {
		return SubmitResult{Outcome: domain.OutcomeRejected}, err
	}
	claimed := tx.ContentHash
	sealed, err := crypto.SealTransaction(tx)
	if err != nil {
		return SubmitResult{Outcome: domain.OutcomeRejected}, err
	}
	result := SubmitResult{ContentHash: sealed.ContentHash}
	if claimed != "" && claimed != sealed.ContentHash {
		result.Outcome = domain.OutcomeRejected
		return result, domain.NewValidationError("content_hash", "does not match transaction contents")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byHash[sealed.ContentHash]; ok {
		result.Outcome = domain.OutcomeDuplicate
		return result, nil
	}
	if _, ok := p.inFlight[sealed.ContentHash]; ok {
		result.Outcome = domain.OutcomeDuplicate
		return result, nil
	}
	// Checked under the lock so that it cannot interleave with Ack.
	if p.committed != nil {
		done, err := p.committed.IsCommitted(ctx, sealed.ContentHash)
		if err != nil {
			result.Outcome = domain.OutcomeRejected
			return result, err
		}
		if done {
			result.Outcome = domain.OutcomeDuplicate
			return result, nil
		}
	}
	if len(p.pending) >= p.cfg.Capacity {
		result.Outcome = domain.OutcomeRejected
		return result, domain.ErrPoolFull
	}

	entry := &poolEntry{tx: sealed, enqueuedAt: p.clock.Now()}
	p.pending = append(p.pending, entry)
	p.byHash[sealed.ContentHash] = entry
	p.signal()

	result.Outcome = domain.OutcomeAccepted
	return result, nil
}

// Drain removes up to max transactions from the front.
func (p *TxPool) Drain(max int) []domain.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.takeLocked(max, func(*poolEntry) bool { return true })
}

// DrainOlderThan removes up to max transactions enqueued at or before cutoff.
func (p *TxPool) DrainOlderThan(cutoff time.Time, max int) []domain.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.takeLocked(max, func(e *poolEntry) bool { return !e.enqueuedAt.After(cutoff) })
}

func (p *TxPool) takeLocked(max int, eligible func(*poolEntry) bool) []domain.Transaction {
	if max <= 0 || max > len(p.pending) {
		max = len(p.pending)
	}
	n := 0
	for n < max && eligible(p.pending[n]) {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]domain.Transaction, 0, n)
	for _, entry := range p.pending[:n] {
		hash := entry.tx.ContentHash
		delete(p.byHash, hash)
		p.inFlight[hash] = entry
		out = append(out, entry.tx)
	}
	p.pending = append([]*poolEntry(nil), p.pending[n:]...)
	return out
}

// Requeue returns a rejected batch to the front of the pool in its original
// order, ignoring capacity. Transactions that reached MaxAttempts are
// dropped instead and their hashes returned.
func (p *TxPool) Requeue(batch []domain.Transaction) []string {
	return p.requeue(batch, true)
}

// Release returns a batch whose commit failed for reasons unrelated to the
// transactions. Attempts are not counted.
func (p *TxPool) Release(batch []domain.Transaction) {
	p.requeue(batch, false)
}

func (p *TxPool) requeue(batch []domain.Transaction, counted bool) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var evicted []string
	front := make([]*poolEntry, 0, len(batch))
	for _, tx := range batch {
		entry, ok := p.inFlight[tx.ContentHash]
		if !ok {
			continue
		}
		delete(p.inFlight, tx.ContentHash)
		if counted {
			entry.attempts++
			if p.cfg.MaxAttempts > 0 && entry.attempts >= p.cfg.MaxAttempts {
				evicted = append(evicted, tx.ContentHash)
				continue
			}
		}
		front = append(front, entry)
		p.byHash[tx.ContentHash] = entry
	}
	if len(front) > 0 {
		p.pending = append(front, p.pending...)
	}
	return evicted
}

// Ack forgets transactions that are now committed.
func (p *TxPool) Ack(hashes []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range hashes {
		delete(p.inFlight, h)
	}
}

func (p *TxPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *TxPool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

// Oldest is the enqueue time of the transaction at the front.
func (p *TxPool) Oldest() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return time.Time{}, false
	}
	oldest := p.pending[0].enqueuedAt
	for _, e := range p.pending[1:] {
		if e.enqueuedAt.Before(oldest) {
			oldest = e.enqueuedAt
		}
	}
	return oldest, true
}

// Notify receives a value after accepted submissions. Signals coalesce.
func (p *TxPool) Notify() <-chan struct{} {
	return p.notify
}

func (p *TxPool) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}
