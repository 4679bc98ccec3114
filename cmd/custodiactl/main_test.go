package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"custodia/internal/domain"
	"custodia/internal/infra/crypto"
)

func TestMintThenVerifyBinding(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "exhibit.pdf")
	if err := os.WriteFile(artifact, []byte("exhibit A"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "binding.json")
	code := run([]string{"custodiactl", "mint",
		"--file", artifact,
		"--case", "2024-D-007847",
		"--jurisdiction", "ILLINOIS-COOK",
		"--registration", "REG12345678",
		"--created-at", "2024-03-01T10:00:00Z",
		"--out", out,
	})
	if code != 0 {
		t.Fatalf("mint exit %d", code)
	}
	if code := run([]string{"custodiactl", "verify-binding", "--in", out}); code != 0 {
		t.Fatalf("verify-binding exit %d", code)
	}

	payload, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var id domain.ArtifactBindingIdentifier
	if err := json.Unmarshal(payload, &id); err != nil {
		t.Fatal(err)
	}
	if id.ArtifactID != "ART-"+crypto.SumHex([]byte("exhibit A"))[:12] {
		t.Fatalf("unexpected artifact id %s", id.ArtifactID)
	}
	id.CaseBinding = "CASE-2024-D-007848-ILLINOIS-COOK"
	tampered, _ := json.Marshal(id)
	if err := os.WriteFile(out, tampered, 0o644); err != nil {
		t.Fatal(err)
	}
	if code := run([]string{"custodiactl", "verify-binding", "--in", out}); code != 1 {
		t.Fatalf("tampered binding should fail, exit %d", code)
	}
}

func TestMintRequiresOneSource(t *testing.T) {
	if code := run([]string{"custodiactl", "mint", "--case", "C1", "--jurisdiction", "NY", "--registration", "R1"}); code != 1 {
		t.Fatalf("expected usage failure, got %d", code)
	}
}

func testProof(t *testing.T) domain.InclusionProof {
	t.Helper()
	hashes := []string{crypto.SumHex([]byte("a")), crypto.SumHex([]byte("b")), crypto.SumHex([]byte("c"))}
	root, err := crypto.MerkleRoot(hashes)
	if err != nil {
		t.Fatal(err)
	}
	block := domain.Block{Height: 3, MerkleRoot: root}
	for _, h := range hashes {
		block.Transactions = append(block.Transactions, domain.Transaction{ContentHash: h})
	}
	proof, err := crypto.InclusionProof(block, 2)
	if err != nil {
		t.Fatal(err)
	}
	return proof
}

func TestVerifyProofFromServer(t *testing.T) {
	proof := testProof(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transactions/"+proof.ContentHash+"/proof" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-User-Registration") != "REG42" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(proof)
	}))
	defer srv.Close()

	code := run([]string{"custodiactl", "verify-proof", "--server", srv.URL, "--content-hash", proof.ContentHash, "--registration", "REG42"})
	if code != 0 {
		t.Fatalf("verify-proof exit %d", code)
	}
}

func TestVerifyProofRejectsTamperedFile(t *testing.T) {
	proof := testProof(t)
	proof.Path[0].Sibling = strings.Repeat("0", 64)
	path := filepath.Join(t.TempDir(), "proof.json")
	payload, _ := json.Marshal(proof)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatal(err)
	}
	if code := run([]string{"custodiactl", "verify-proof", "--in", path}); code != 1 {
		t.Fatalf("tampered proof should fail, exit %d", code)
	}
}

func TestValidateReportsBrokenChain(t *testing.T) {
	first := int64(4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.ChainValidation{Valid: false, FirstInvalidHeight: &first, Reason: "previous hash mismatch", Height: 6})
	}))
	defer srv.Close()

	if code := run([]string{"custodiactl", "validate", "--server", srv.URL}); code != 1 {
		t.Fatalf("broken chain should exit 1, got %d", code)
	}
}

func TestValidateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if code := run([]string{"custodiactl", "validate", "--server", srv.URL}); code != 1 {
		t.Fatalf("expected failure, got %d", code)
	}
}

func TestUnknownCommand(t *testing.T) {
	if code := run([]string{"custodiactl", "bogus"}); code != 1 {
		t.Fatalf("expected 1, got %d", code)
	}
}
