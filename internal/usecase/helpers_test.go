package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/binding"
	"custodia/internal/infra/crypto"
	"custodia/internal/infra/ledgermem"

	"github.com/jonboulle/clockwork"
)

const (
	testCase         = "2024-C-000123"
	testJurisdiction = "CA-SF"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func attorney() domain.Identity {
	return domain.Identity{
		UserID:             "user-1",
		RegistrationNumber: "REG00000042",
		BarNumber:          "CA123456",
		Role:               "attorney",
		CaseAccess:         []string{testCase},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) ofType(t domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, e := range b.events {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	clock     *clockwork.FakeClock
	blocks    *ledgermem.BlockStore
	ledger    *Ledger
	pool      *TxPool
	auditor   *Auditor
	assembler *BlockAssembler
	custody   *CustodyLog
	bus       *EventBus
	recorded  *recordingBus
	service   *EvidenceLedger
}

func newHarness(t *testing.T, cfg AssemblerConfig, poolCfg PoolConfig) *harness {
	t.Helper()
	h := &harness{clock: clockwork.NewFakeClockAt(testStart), recorded: &recordingBus{}}
	h.blocks = ledgermem.NewBlockStore()
	h.ledger = NewLedger(h.blocks, h.clock)
	if _, err := h.ledger.Init(context.Background()); err != nil {
		t.Fatalf("init ledger: %v", err)
	}
	if cfg.Policy.Threshold == 0 && cfg.Policy.CaseCreatorRoles == nil {
		cfg.Policy = domain.DefaultAuditPolicy()
	}
	h.bus = NewEventBus(quietLogger())
	h.bus.Subscribe(h.recorded.Publish)
	h.pool = NewTxPool(poolCfg, h.ledger, h.clock)
	h.auditor = NewAuditor(h.ledger, nil)
	h.assembler = NewBlockAssembler(cfg, h.pool, h.ledger, h.auditor, h.bus, h.clock, quietLogger())
	h.custody = NewCustodyLog(ledgermem.NewCustodyStore(), h.ledger, h.bus, h.clock, quietLogger())
	h.bus.Subscribe(h.custody.OnCommitted)
	h.service = &EvidenceLedger{
		Pool:      h.pool,
		Ledger:    h.ledger,
		Assembler: h.assembler,
		Custody:   h.custody,
		Clock:     h.clock,
		Logger:    quietLogger(),
	}
	return h
}

func caseCreateTx(title string, at time.Time) domain.Transaction {
	return domain.Transaction{
		Kind:      domain.TxCaseCreate,
		Payload:   domain.CaseCreatePayload{CaseNumber: testCase, Jurisdiction: testJurisdiction, Title: title},
		Submitter: attorney(),
		CreatedAt: at,
	}
}

func caseUpdateTx(status string, who domain.Identity, at time.Time) domain.Transaction {
	return domain.Transaction{
		Kind:      domain.TxCaseUpdate,
		Payload:   domain.CaseUpdatePayload{CaseNumber: testCase, Status: status},
		Submitter: who,
		CreatedAt: at,
	}
}

func bindTx(t *testing.T, content string, who domain.Identity, at time.Time) (domain.Transaction, domain.ArtifactBindingIdentifier) {
	t.Helper()
	hash := crypto.SumHex([]byte(content))
	id, err := binding.Mint(binding.MintRequest{
		ContentHash:      hash,
		CaseNumber:       testCase,
		Jurisdiction:     testJurisdiction,
		UserRegistration: who.RegistrationNumber,
		BarNumber:        who.BarNumber,
		CreatedAt:        at,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return domain.Transaction{
		Kind: domain.TxArtifactBind,
		Payload: domain.ArtifactBindPayload{
			Binding:      id,
			ContentHash:  hash,
			CaseNumber:   testCase,
			Jurisdiction: testJurisdiction,
		},
		Submitter: who,
		CreatedAt: at,
	}, id
}

// correctionTx builds an ArtifactBind carrying a correction of prev made by
// who for caseNumber.
func correctionTx(t *testing.T, prev domain.ArtifactBindingIdentifier, content, caseNumber, jurisdiction string, who domain.Identity) domain.Transaction {
	t.Helper()
	next, err := binding.Correct(prev, binding.CorrectionRequest{
		CaseNumber:       caseNumber,
		Jurisdiction:     jurisdiction,
		UserRegistration: who.RegistrationNumber,
		BarNumber:        who.BarNumber,
		CreatedAt:        testStart,
	})
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	return domain.Transaction{
		Kind: domain.TxArtifactBind,
		Payload: domain.ArtifactBindPayload{
			Binding:      next,
			ContentHash:  crypto.SumHex([]byte(content)),
			CaseNumber:   caseNumber,
			Jurisdiction: jurisdiction,
		},
		Submitter: who,
		CreatedAt: testStart,
	}
}

const otherCase = "2024-C-000999"

// otherCaseAttorney can only reach otherCase.
func otherCaseAttorney() domain.Identity {
	return domain.Identity{
		UserID:             "user-99",
		RegistrationNumber: "REG00000099",
		Role:               "attorney",
		CaseAccess:         []string{otherCase},
	}
}

// forgedCorrection mints a version 1 for content that is never submitted and
// corrects it until version reaches the given number, all for otherCase.
func forgedCorrection(t *testing.T, content string, version int) domain.Transaction {
	t.Helper()
	who := otherCaseAttorney()
	fake, err := binding.Mint(binding.MintRequest{
		ContentHash:      crypto.SumHex([]byte(content)),
		CaseNumber:       otherCase,
		Jurisdiction:     testJurisdiction,
		UserRegistration: who.RegistrationNumber,
		CreatedAt:        testStart,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	tx := correctionTx(t, fake, content, otherCase, testJurisdiction, who)
	for tx.Payload.(domain.ArtifactBindPayload).Binding.Version < version {
		tx = correctionTx(t, tx.Payload.(domain.ArtifactBindPayload).Binding, content, otherCase, testJurisdiction, who)
	}
	return tx
}

func evidenceSubmitTx(content string, who domain.Identity, at time.Time) domain.Transaction {
	hash := crypto.SumHex([]byte(content))
	return domain.Transaction{
		Kind: domain.TxEvidenceSubmit,
		Payload: domain.EvidenceSubmitPayload{
			ArtifactID:  "ART-" + hash[:12],
			ContentHash: hash,
			CaseNumber:  testCase,
		},
		Submitter: who,
		CreatedAt: at,
	}
}

func mustSubmit(t *testing.T, h *harness, tx domain.Transaction) string {
	t.Helper()
	res, err := h.pool.Submit(context.Background(), tx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Outcome != domain.OutcomeAccepted {
		t.Fatalf("expected accepted, got %s", res.Outcome)
	}
	return res.ContentHash
}

func mustCommit(t *testing.T, h *harness) domain.Block {
	t.Helper()
	res, err := h.assembler.RunOnce(context.Background(), true)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if res.State != StateCommitted || res.Block == nil {
		t.Fatalf("expected commit, got %s (score %v, failed %+v)", res.State, res.Report.Score, res.Report.Failed)
	}
	return *res.Block
}

// tamperStore serves a modified copy of one block.
type tamperStore struct {
	BlockStore
	height int64
	mutate func(*domain.Block)
}

func (s tamperStore) GetByHeight(ctx context.Context, height int64) (domain.Block, error) {
	b, err := s.BlockStore.GetByHeight(ctx, height)
	if err == nil && height == s.height {
		s.mutate(&b)
	}
	return b, err
}
