package domain

import "context"

// BlobStore holds raw artifact bytes keyed by their sha256 hex digest. The
// ledger only ever stores the digest.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (contentHash string, err error)
	Get(ctx context.Context, contentHash string) ([]byte, error)
	Verify(ctx context.Context, contentHash string) (bool, error)
}
