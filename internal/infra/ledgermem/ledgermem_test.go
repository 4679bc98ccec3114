package ledgermem

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/crypto"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func submitter() domain.Identity {
	return domain.Identity{UserID: "u-1", RegistrationNumber: "REG00000001", Role: "attorney", CaseAccess: []string{"2024-C-000001"}}
}

func caseTx(t *testing.T, title string) domain.Transaction {
	t.Helper()
	tx, err := crypto.SealTransaction(domain.Transaction{
		Kind:      domain.TxCaseCreate,
		Payload:   domain.CaseCreatePayload{CaseNumber: "2024-C-000001", Jurisdiction: "CA-SF", Title: title},
		Submitter: submitter(),
		CreatedAt: t0,
	})
	if err != nil {
		t.Fatalf("seal tx: %v", err)
	}
	return tx
}

func evidenceTx(t *testing.T, artifactID, contentHash string) domain.Transaction {
	t.Helper()
	tx, err := crypto.SealTransaction(domain.Transaction{
		Kind: domain.TxEvidenceSubmit,
		Payload: domain.EvidenceSubmitPayload{
			ArtifactID:  artifactID,
			ContentHash: contentHash,
			CaseNumber:  "2024-C-000001",
		},
		Submitter: submitter(),
		CreatedAt: t0,
	})
	if err != nil {
		t.Fatalf("seal tx: %v", err)
	}
	return tx
}

func nextBlock(t *testing.T, head domain.Block, txs ...domain.Transaction) domain.Block {
	t.Helper()
	b, err := crypto.SealBlock(domain.Block{
		Height:       head.Height + 1,
		PreviousHash: head.BlockHash,
		Transactions: txs,
		AuditScore:   100,
		Nonce:        head.Nonce + 1,
		Timestamp:    t0.Add(time.Duration(head.Height+1) * time.Minute),
	})
	if err != nil {
		t.Fatalf("seal block: %v", err)
	}
	return b
}

func TestBlockStoreAppendAndRead(t *testing.T) {
	ctx := context.Background()
	s := NewBlockStore()
	if _, err := s.Head(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	genesis := crypto.Genesis(t0)
	if err := s.Append(ctx, genesis); err != nil {
		t.Fatalf("append genesis: %v", err)
	}
	hash := crypto.SumHex([]byte("doc"))
	artifactID := "ART-" + hash[:12]
	tx1 := caseTx(t, "first")
	tx2 := evidenceTx(t, artifactID, hash)
	b1 := nextBlock(t, genesis, tx1, tx2)
	if err := s.Append(ctx, b1); err != nil {
		t.Fatalf("append block 1: %v", err)
	}

	head, err := s.Head(ctx)
	if err != nil || head.Height != 1 {
		t.Fatalf("unexpected head: %+v %v", head, err)
	}
	byHash, err := s.GetByHash(ctx, b1.BlockHash)
	if err != nil || byHash.Height != 1 {
		t.Fatalf("get by hash: %+v %v", byHash, err)
	}
	loc, err := s.LocateTransaction(ctx, tx2.ContentHash)
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if loc.Height != 1 || loc.Index != 1 || loc.Kind != domain.TxEvidenceSubmit {
		t.Fatalf("unexpected location: %+v", loc)
	}
	locs, err := s.ListArtifactTransactions(ctx, artifactID)
	if err != nil || len(locs) != 1 {
		t.Fatalf("artifact transactions: %+v %v", locs, err)
	}
	if _, err := s.GetByHeight(ctx, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing height, got %v", err)
	}
}

func TestBlockStoreRejectsForks(t *testing.T) {
	ctx := context.Background()
	s := NewBlockStore()
	genesis := crypto.Genesis(t0)
	if err := s.Append(ctx, genesis); err != nil {
		t.Fatalf("append genesis: %v", err)
	}
	b1 := nextBlock(t, genesis, caseTx(t, "a"))
	if err := s.Append(ctx, b1); err != nil {
		t.Fatalf("append: %v", err)
	}

	sibling := nextBlock(t, genesis, caseTx(t, "b"))
	if err := s.Append(ctx, sibling); !errors.Is(err, domain.ErrForkRejected) {
		t.Fatalf("expected ErrForkRejected, got %v", err)
	}
	skip := nextBlock(t, b1, caseTx(t, "c"))
	skip.Height = 5
	if err := s.Append(ctx, skip); !errors.Is(err, domain.ErrForkRejected) {
		t.Fatalf("expected ErrForkRejected for height gap, got %v", err)
	}
	head, _ := s.Head(ctx)
	if head.Height != 1 {
		t.Fatalf("head moved after rejected fork: %d", head.Height)
	}
}

func TestBlockStoreRejectsCommittedTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewBlockStore()
	genesis := crypto.Genesis(t0)
	_ = s.Append(ctx, genesis)
	tx := caseTx(t, "a")
	b1 := nextBlock(t, genesis, tx)
	if err := s.Append(ctx, b1); err != nil {
		t.Fatalf("append: %v", err)
	}
	b2 := nextBlock(t, b1, tx)
	if err := s.Append(ctx, b2); !errors.Is(err, domain.ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
}

func TestBlockStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewBlockStore()
	genesis := crypto.Genesis(t0)
	_ = s.Append(ctx, genesis)
	b1 := nextBlock(t, genesis, caseTx(t, "a"))
	_ = s.Append(ctx, b1)

	got, _ := s.GetByHeight(ctx, 1)
	got.Transactions[0].ContentHash = "tampered"
	again, _ := s.GetByHeight(ctx, 1)
	if again.Transactions[0].ContentHash == "tampered" {
		t.Fatal("store leaked internal block state")
	}
}

func TestBlockStoreConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	s := NewBlockStore()
	genesis := crypto.Genesis(t0)
	_ = s.Append(ctx, genesis)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				head, err := s.Head(ctx)
				if err != nil {
					t.Errorf("head: %v", err)
					return
				}
				if _, err := s.GetByHeight(ctx, head.Height); err != nil {
					t.Errorf("get head by height: %v", err)
					return
				}
			}
		}()
	}
	head := genesis
	for i := 0; i < 20; i++ {
		b := nextBlock(t, head, caseTx(t, string(rune('a'+i))))
		if err := s.Append(ctx, b); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		head = b
	}
	close(stop)
	wg.Wait()
}

func TestCustodyStoreSequencing(t *testing.T) {
	ctx := context.Background()
	s := NewCustodyStore()
	base := domain.CustodyEvent{ArtifactID: "ART-000000000001", Height: 2, Index: 0, EventType: domain.CustodySubmitted}

	out, err := s.PutDerived(ctx, base)
	if err != nil || out != domain.OutcomeAccepted {
		t.Fatalf("put derived: %s %v", out, err)
	}
	out, err = s.PutDerived(ctx, base)
	if err != nil || out != domain.OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s %v", out, err)
	}

	access := base
	access.EventType = domain.CustodyAccessed
	e1, err := s.Append(ctx, access)
	if err != nil || e1.Seq != 1 {
		t.Fatalf("first append: %+v %v", e1, err)
	}
	e2, _ := s.Append(ctx, access)
	if e2.Seq != 2 {
		t.Fatalf("expected seq 2, got %d", e2.Seq)
	}
	events, _ := s.List(ctx, base.ArtifactID)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
}
