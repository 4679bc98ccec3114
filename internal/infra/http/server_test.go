package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"custodia/internal/config"
	"custodia/internal/domain"
	"custodia/internal/infra/blobstore"
	"custodia/internal/infra/ledgermem"
	"custodia/internal/infra/ratelimit"
	"custodia/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

const (
	testAdminKey = "admin-secret"
	testCase     = "2024-C-000123"
)

type testServer struct {
	server *Server
	clock  *clockwork.FakeClock
}

func newTestServer(t *testing.T, cfg config.Config, limiter domain.RateLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC))

	ledger := usecase.NewLedger(ledgermem.NewBlockStore(), clock)
	if _, err := ledger.Init(context.Background()); err != nil {
		t.Fatalf("init ledger: %v", err)
	}
	bus := usecase.NewEventBus(logger)
	pool := usecase.NewTxPool(usecase.PoolConfig{}, ledger, clock)
	assembler := usecase.NewBlockAssembler(usecase.AssemblerConfig{Policy: domain.DefaultAuditPolicy()},
		pool, ledger, usecase.NewAuditor(ledger, nil), bus, clock, logger)
	custody := usecase.NewCustodyLog(ledgermem.NewCustodyStore(), ledger, bus, clock, logger)
	bus.Subscribe(custody.OnCommitted)

	svc := &usecase.EvidenceLedger{
		Pool:      pool,
		Ledger:    ledger,
		Assembler: assembler,
		Custody:   custody,
		Blobs:     blobstore.NewMemory(),
		Clock:     clock,
		Logger:    logger,
	}
	if cfg.AdminAPIKey == "" {
		cfg.AdminAPIKey = testAdminKey
	}
	if cfg.RateLimitWindowSeconds == 0 {
		cfg.RateLimitWindowSeconds = 60
	}
	return &testServer{
		server: NewServer(cfg, ServerDeps{Ledger: svc, RateLimiter: limiter, Clock: clock, Logger: logger}),
		clock:  clock,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func attorneyHeaders() map[string]string {
	return map[string]string{
		"X-User-Id":           "user-1",
		"X-User-Registration": "REG00000042",
		"X-User-Bar":          "CA123456",
		"X-User-Role":         "Attorney",
		"X-User-Case-Access":  testCase + ", 2024-C-000999",
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d: %s", rec.Code, want, rec.Body.String())
	}
}

func TestArtifactLifecycle(t *testing.T) {
	ts := newTestServer(t, config.Config{AuthMode: AuthModeHeader}, nil)
	content := []byte("contract-v1")

	rec := ts.do(t, http.MethodPost, "/v1/artifacts", registerArtifactRequest{
		ContentBase64: base64.StdEncoding.EncodeToString(content),
		CaseNumber:    testCase,
		Jurisdiction:  "CA-SF",
		MediaType:     "text/plain",
	}, attorneyHeaders())
	expectStatus(t, rec, http.StatusAccepted)
	var reg usecase.RegisterArtifactResult
	decode(t, rec, &reg)
	artifactID := reg.Binding.ArtifactID
	if artifactID != "ART-4f60ba79cba8" {
		t.Fatalf("artifact id = %s", artifactID)
	}

	rec = ts.do(t, http.MethodPost, "/v1/assembly:run", nil, nil)
	expectStatus(t, rec, http.StatusUnauthorized)
	rec = ts.do(t, http.MethodPost, "/v1/assembly:run", nil, map[string]string{"X-Admin-Key": testAdminKey})
	expectStatus(t, rec, http.StatusOK)
	var cycle assemblyResponse
	decode(t, rec, &cycle)
	if cycle.State != usecase.StateCommitted || cycle.Height == nil || *cycle.Height != 1 || cycle.Score != 100 {
		t.Fatalf("unexpected cycle %+v", cycle)
	}

	rec = ts.do(t, http.MethodGet, "/v1/artifacts/"+artifactID+"/chain", nil, attorneyHeaders())
	expectStatus(t, rec, http.StatusOK)
	var chain chainResponse
	decode(t, rec, &chain)
	if chain.Binding.ImmutableHash != reg.Binding.ImmutableHash || chain.OwningBlockHeight != 1 {
		t.Fatalf("unexpected chain %+v", chain)
	}
	if len(chain.CustodyHistory) == 0 || chain.MerkleProof.ContentHash != reg.BindTx.ContentHash {
		t.Fatalf("expected derived custody and bind proof, got %+v", chain)
	}

	rec = ts.do(t, http.MethodPost, "/v1/artifacts/"+artifactID+"/verify", verifyArtifactRequest{
		ContentBase64: base64.StdEncoding.EncodeToString(content),
	}, attorneyHeaders())
	expectStatus(t, rec, http.StatusOK)
	var verified verifyArtifactResponse
	decode(t, rec, &verified)
	if !verified.Intact {
		t.Fatal("expected original content to verify")
	}
	rec = ts.do(t, http.MethodPost, "/v1/artifacts/"+artifactID+"/verify", verifyArtifactRequest{
		ContentBase64: base64.StdEncoding.EncodeToString([]byte("contract-v2")),
	}, attorneyHeaders())
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &verified)
	if verified.Intact {
		t.Fatal("expected altered content to fail verification")
	}

	rec = ts.do(t, http.MethodPost, "/v1/artifacts/"+artifactID+"/custody", recordCustodyRequest{
		EventType: string(domain.CustodyAccessed),
		Note:      "reviewed in chambers",
	}, attorneyHeaders())
	expectStatus(t, rec, http.StatusCreated)
	var recorded recordCustodyResponse
	decode(t, rec, &recorded)
	if recorded.Event.Seq != 1 || recorded.Event.Actor.UserID != "user-1" || recorded.Event.Height != 1 {
		t.Fatalf("unexpected custody event %+v", recorded.Event)
	}

	rec = ts.do(t, http.MethodGet, "/v1/artifacts/"+artifactID+"/custody/verify", nil, attorneyHeaders())
	expectStatus(t, rec, http.StatusOK)

	rec = ts.do(t, http.MethodGet, "/v1/blocks/1", nil, attorneyHeaders())
	expectStatus(t, rec, http.StatusOK)
	var block blockResponse
	decode(t, rec, &block)
	if len(block.Transactions) != 2 || block.Transactions[0].Type != domain.TxArtifactBind {
		t.Fatalf("unexpected block %+v", block)
	}
	var bound domain.ArtifactBindPayload
	if err := json.Unmarshal(block.Transactions[0].Payload, &bound); err != nil {
		t.Fatalf("decode bind payload: %v", err)
	}
	if bound.Binding.ArtifactID != artifactID || bound.Binding.Version != 1 {
		t.Fatalf("unexpected bind payload %+v", bound)
	}
	rec = ts.do(t, http.MethodGet, "/v1/blocks/"+block.BlockHash, nil, attorneyHeaders())
	expectStatus(t, rec, http.StatusOK)
	var byHash blockResponse
	decode(t, rec, &byHash)
	if byHash.Height != 1 {
		t.Fatalf("lookup by hash returned height %d", byHash.Height)
	}

	rec = ts.do(t, http.MethodGet, "/v1/transactions/"+reg.EvidenceTx.ContentHash+"/proof", nil, attorneyHeaders())
	expectStatus(t, rec, http.StatusOK)
	var proof domain.InclusionProof
	decode(t, rec, &proof)
	if proof.Index != 1 || proof.BlockHash != block.BlockHash {
		t.Fatalf("unexpected proof %+v", proof)
	}

	rec = ts.do(t, http.MethodGet, "/v1/ledger/validate", nil, attorneyHeaders())
	expectStatus(t, rec, http.StatusOK)
	var validation domain.ChainValidation
	decode(t, rec, &validation)
	if !validation.Valid || validation.Height != 1 {
		t.Fatalf("unexpected validation %+v", validation)
	}
}

func TestSubmitTransaction(t *testing.T) {
	ts := newTestServer(t, config.Config{AuthMode: AuthModeHeader}, nil)
	body := map[string]any{
		"type":       "CaseCreate",
		"payload":    map[string]any{"case_number": testCase, "jurisdiction": "CA-SF", "title": "People v. Doe"},
		"created_at": "2024-03-01T12:29:00Z",
	}

	rec := ts.do(t, http.MethodPost, "/v1/transactions", body, attorneyHeaders())
	expectStatus(t, rec, http.StatusAccepted)
	var first usecase.SubmitResult
	decode(t, rec, &first)
	if first.Outcome != domain.OutcomeAccepted || !domain.ValidDigest(first.ContentHash) {
		t.Fatalf("unexpected result %+v", first)
	}

	rec = ts.do(t, http.MethodPost, "/v1/transactions", body, attorneyHeaders())
	expectStatus(t, rec, http.StatusOK)
	var second usecase.SubmitResult
	decode(t, rec, &second)
	if second.Outcome != domain.OutcomeDuplicate || second.ContentHash != first.ContentHash {
		t.Fatalf("expected duplicate of %s, got %+v", first.ContentHash, second)
	}

	body["content_hash"] = "0000000000000000000000000000000000000000000000000000000000000000"
	rec = ts.do(t, http.MethodPost, "/v1/transactions", body, attorneyHeaders())
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestSubmitTransactionRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, config.Config{AuthMode: AuthModeHeader}, nil)
	cases := map[string]map[string]any{
		"unknown type":    {"type": "Mint", "payload": map[string]any{}},
		"missing payload": {"type": "CaseUpdate"},
		"unknown field":   {"type": "CaseUpdate", "payload": map[string]any{"case_number": testCase, "verdict": "x"}},
		"invalid payload": {"type": "CaseUpdate", "payload": map[string]any{"case_number": "123"}},
		"bad created_at":  {"type": "CaseUpdate", "payload": map[string]any{"case_number": testCase, "status": "open"}, "created_at": "yesterday"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/v1/transactions", body, attorneyHeaders())
			expectStatus(t, rec, http.StatusBadRequest)
			var out errorResponse
			decode(t, rec, &out)
			if out.Code != "VALIDATION_FAILED" {
				t.Fatalf("code = %s", out.Code)
			}
		})
	}
}

func TestHeaderAuthRequired(t *testing.T) {
	ts := newTestServer(t, config.Config{AuthMode: AuthModeHeader}, nil)
	rec := ts.do(t, http.MethodGet, "/v1/blocks/0", nil, map[string]string{"X-User-Id": "user-1"})
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = ts.do(t, http.MethodGet, "/healthz", nil, nil)
	expectStatus(t, rec, http.StatusOK)
	var health map[string]any
	decode(t, rec, &health)
	if health["mode"] != "memory" || health["height"] != float64(0) {
		t.Fatalf("unexpected health %v", health)
	}
}

func TestAuthModeNoneAllowsAnonymousReads(t *testing.T) {
	ts := newTestServer(t, config.Config{AuthMode: AuthModeNone}, nil)
	rec := ts.do(t, http.MethodGet, "/v1/blocks/0", nil, nil)
	expectStatus(t, rec, http.StatusOK)
	var genesis blockResponse
	decode(t, rec, &genesis)
	if genesis.Height != 0 || genesis.PreviousHash != domain.ZeroHash || len(genesis.Transactions) != 0 {
		t.Fatalf("unexpected genesis %+v", genesis)
	}
}

func TestUnsupportedAuthMode(t *testing.T) {
	ts := newTestServer(t, config.Config{AuthMode: "oidc"}, nil)
	rec := ts.do(t, http.MethodGet, "/v1/ledger/validate", nil, attorneyHeaders())
	expectStatus(t, rec, http.StatusInternalServerError)
	if err := ts.server.Serve(context.Background()); err == nil {
		t.Fatal("expected Serve to refuse an unsupported auth mode")
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, config.Config{AuthMode: AuthModeHeader}, nil)
	cases := []struct {
		method, path string
		body         any
		status       int
		code         string
	}{
		{http.MethodGet, "/v1/blocks/abc", nil, http.StatusBadRequest, "INVALID_HEIGHT"},
		{http.MethodGet, "/v1/blocks/7", nil, http.StatusNotFound, "NOT_FOUND"},
		{http.MethodGet, "/v1/artifacts/ART-000000000000/chain", nil, http.StatusNotFound, "NOT_FOUND"},
		{http.MethodGet, "/v1/artifacts/nope/chain", nil, http.StatusBadRequest, "VALIDATION_FAILED"},
		{http.MethodPost, "/v1/artifacts/ART-000000000000/custody", recordCustodyRequest{EventType: "Accessed"}, http.StatusConflict, "ANCHOR_NOT_COMMITTED"},
		{http.MethodGet, "/v1/unknown", nil, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := ts.do(t, tc.method, tc.path, tc.body, attorneyHeaders())
			expectStatus(t, rec, tc.status)
			var out errorResponse
			decode(t, rec, &out)
			if out.Code != tc.code {
				t.Fatalf("code = %s, want %s", out.Code, tc.code)
			}
		})
	}
}

func TestSubmitRateLimited(t *testing.T) {
	cfg := config.Config{AuthMode: AuthModeHeader, RateLimitRequests: 1, RateLimitWindowSeconds: 30}
	limiterClock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC))
	ts := newTestServer(t, cfg, ratelimit.NewMemory(limiterClock, 0))
	body := map[string]any{
		"type":    "CaseUpdate",
		"payload": map[string]any{"case_number": testCase, "status": "open"},
	}
	rec := ts.do(t, http.MethodPost, "/v1/transactions", body, attorneyHeaders())
	expectStatus(t, rec, http.StatusAccepted)
	if rec.Header().Get("RateLimit-Remaining") != "0" {
		t.Fatalf("remaining = %q", rec.Header().Get("RateLimit-Remaining"))
	}
	rec = ts.do(t, http.MethodPost, "/v1/transactions", body, attorneyHeaders())
	expectStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") != "30" {
		t.Fatalf("retry-after = %q", rec.Header().Get("Retry-After"))
	}
}
