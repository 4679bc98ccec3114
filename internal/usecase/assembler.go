package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/crypto"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultBatchSize = 50
	DefaultMaxWait   = 2 * time.Second
)

type AssemblerState string

const (
	StateIdle       AssemblerState = "idle"
	StateCollecting AssemblerState = "collecting"
	StateScoring    AssemblerState = "scoring"
	StateCommitted  AssemblerState = "committed"
	StateRejected   AssemblerState = "rejected"
)

type AssemblerConfig struct {
	BatchSize int
	MaxWait   time.Duration
	Policy    domain.AuditPolicy
}

// CycleResult describes one assembly cycle. State is StateIdle when there
// was nothing to assemble.
type CycleResult struct {
	State     AssemblerState
	BatchSize int
	Report    AuditReport
	Block     *domain.Block
	Rejection *domain.ConsensusRejected
}

// BlockAssembler turns pooled transactions into blocks under Proof-of-Audit.
// Cycles are serialized.
type BlockAssembler struct {
	cycleMu sync.Mutex
	stateMu sync.RWMutex
	state   AssemblerState

	cfg     AssemblerConfig
	pool    *TxPool
	ledger  *Ledger
	auditor *Auditor
	events  EventPublisher
	clock   clockwork.Clock
	logger  *slog.Logger

	nonce       uint64
	nonceSeeded bool
}

func NewBlockAssembler(cfg AssemblerConfig, pool *TxPool, ledger *Ledger, auditor *Auditor, events EventPublisher, clock clockwork.Clock, logger *slog.Logger) *BlockAssembler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BlockAssembler{
		state:   StateIdle,
		cfg:     cfg,
		pool:    pool,
		ledger:  ledger,
		auditor: auditor,
		events:  events,
		clock:   clock,
		logger:  logger,
	}
}

func (a *BlockAssembler) State() AssemblerState {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state
}

func (a *BlockAssembler) Policy() domain.AuditPolicy {
	return a.cfg.Policy
}

func (a *BlockAssembler) setState(s AssemblerState) {
	a.stateMu.Lock()
	a.state = s
	a.stateMu.Unlock()
}

// RunOnce performs at most one assembly cycle. Without force it only
// collects a batch when the pool holds BatchSize transactions or the oldest
// one has waited MaxWait.
func (a *BlockAssembler) RunOnce(ctx context.Context, force bool) (CycleResult, error) {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()
	defer a.setState(StateIdle)

	a.setState(StateCollecting)
	batch := a.collect(force)
	if len(batch) == 0 {
		return CycleResult{State: StateIdle}, nil
	}
	result := CycleResult{BatchSize: len(batch)}

	head, err := a.ledger.Head(ctx)
	if err != nil {
		a.pool.Release(batch)
		return result, fmt.Errorf("read ledger head: %w", err)
	}
	if !a.nonceSeeded || a.nonce < head.Nonce {
		a.nonce = head.Nonce
		a.nonceSeeded = true
	}
	a.nonce++
	nonce := a.nonce

	a.setState(StateScoring)
	now := a.clock.Now()
	report, err := a.auditor.Audit(ctx, batch, a.cfg.Policy, now)
	if err != nil {
		a.pool.Release(batch)
		return result, fmt.Errorf("audit batch: %w", err)
	}
	result.Report = report

	if !a.cfg.Policy.Accepts(report.Score) {
		evicted := a.pool.Requeue(batch)
		rejected := domain.ConsensusRejected{
			Batch:            hashesOf(batch),
			FailedPredicates: report.Failed,
			AuditScore:       report.Score,
			Nonce:            nonce,
			Evicted:          evicted,
			RejectedAt:       now,
		}
		a.setState(StateRejected)
		result.State = StateRejected
		result.Rejection = &rejected
		a.logger.Warn("batch rejected",
			"size", len(batch),
			"audit_score", report.Score,
			"threshold", a.cfg.Policy.Threshold,
			"failed", len(report.Failed),
			"evicted", len(evicted),
		)
		a.publish(ctx, rejected)
		return result, nil
	}

	block, err := crypto.SealBlock(domain.Block{
		Height:       head.Height + 1,
		PreviousHash: head.BlockHash,
		Transactions: batch,
		AuditScore:   report.Score,
		Nonce:        nonce,
		Timestamp:    now,
	})
	if err != nil {
		a.pool.Release(batch)
		return result, fmt.Errorf("seal block: %w", err)
	}
	if _, err := a.ledger.Append(ctx, block); err != nil {
		if errors.Is(err, domain.ErrDuplicateTransaction) {
			a.dropCommitted(ctx, batch)
		} else {
			a.pool.Release(batch)
		}
		return result, fmt.Errorf("append block %d: %w", block.Height, err)
	}
	a.pool.Ack(block.TransactionHashes())

	a.setState(StateCommitted)
	result.State = StateCommitted
	result.Block = &block
	a.logger.Info("block committed",
		"height", block.Height,
		"block_hash", block.BlockHash,
		"transactions", len(block.Transactions),
		"audit_score", block.AuditScore,
		"nonce", block.Nonce,
	)
	a.publish(ctx, domain.ConsensusCommitted{Block: block.Clone()})
	return result, nil
}

func (a *BlockAssembler) collect(force bool) []domain.Transaction {
	if a.pool.Size() >= a.cfg.BatchSize || force {
		return a.pool.Drain(a.cfg.BatchSize)
	}
	oldest, ok := a.pool.Oldest()
	if !ok {
		return nil
	}
	cutoff := a.clock.Now().Add(-a.cfg.MaxWait)
	if oldest.After(cutoff) {
		return nil
	}
	return a.pool.DrainOlderThan(cutoff, a.cfg.BatchSize)
}

// dropCommitted acknowledges transactions that reached the ledger by another
// path and returns the rest to the pool.
func (a *BlockAssembler) dropCommitted(ctx context.Context, batch []domain.Transaction) {
	var done []string
	var rest []domain.Transaction
	for _, tx := range batch {
		committed, err := a.ledger.IsCommitted(ctx, tx.ContentHash)
		if err == nil && committed {
			done = append(done, tx.ContentHash)
			continue
		}
		rest = append(rest, tx)
	}
	a.pool.Ack(done)
	a.pool.Release(rest)
}

func (a *BlockAssembler) publish(ctx context.Context, event domain.Event) {
	if a.events != nil {
		a.events.Publish(ctx, event)
	}
}

func hashesOf(batch []domain.Transaction) []string {
	out := make([]string, len(batch))
	for i, tx := range batch {
		out[i] = tx.ContentHash
	}
	return out
}
