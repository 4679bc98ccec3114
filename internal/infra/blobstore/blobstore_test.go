package blobstore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"custodia/internal/domain"
	"custodia/internal/infra/crypto"
)

func TestStores(t *testing.T) {
	fsStore, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	stores := map[string]domain.BlobStore{
		"memory": NewMemory(),
		"fs":     fsStore,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			content := bytes.Repeat([]byte("contract-v1 "), 200)
			hash, err := store.Put(ctx, content)
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if hash != crypto.SumHex(content) {
				t.Fatalf("put returned %s, want sha256 of content", hash)
			}
			again, err := store.Put(ctx, content)
			if err != nil || again != hash {
				t.Fatalf("second put: %s %v", again, err)
			}
			got, err := store.Get(ctx, hash)
			if err != nil || !bytes.Equal(got, content) {
				t.Fatalf("get: %v", err)
			}
			ok, err := store.Verify(ctx, hash)
			if err != nil || !ok {
				t.Fatalf("verify: %v %v", ok, err)
			}
			missing := crypto.SumHex([]byte("never stored"))
			if _, err := store.Get(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestFSVerifyDetectsTampering(t *testing.T) {
	store, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	ctx := context.Background()
	hash, err := store.Put(ctx, []byte("exhibit A"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	other := encoder.EncodeAll([]byte("exhibit B"), nil)
	if err := os.WriteFile(store.path(hash), other, 0o640); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	ok, err := store.Verify(ctx, hash)
	if err != nil || ok {
		t.Fatalf("expected verify=false for replaced blob, got %v %v", ok, err)
	}

	if err := os.WriteFile(store.path(hash), []byte("not zstd"), 0o640); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	ok, err = store.Verify(ctx, hash)
	if err != nil || ok {
		t.Fatalf("expected verify=false for corrupt blob, got %v %v", ok, err)
	}
}

func TestFSRejectsBadDigest(t *testing.T) {
	store, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	if _, err := store.Get(context.Background(), "../etc/passwd"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
