package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"custodia/internal/domain"
	"custodia/internal/infra/crypto"

	"github.com/klauspost/compress/zstd"
)

var errCorrupt = errors.New("blob is corrupt")

// encoder and decoder are safe for concurrent EncodeAll/DecodeAll.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blobstore: zstd encoder: " + err.Error())
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blobstore: zstd decoder: " + err.Error())
	}
}

// FS stores each blob zstd-compressed at <root>/<hash[:2]>/<hash>.zst.
// Writes go through a temp file and a rename, so a reader never sees a
// partial blob.
type FS struct {
	root string
}

func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, errors.New("blobstore: root directory is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("blobstore: create root: %w", err)
	}
	return &FS{root: root}, nil
}

func (s *FS) path(hash string) string {
	return filepath.Join(s.root, hash[:2], hash+".zst")
}

func (s *FS) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	hash := crypto.SumHex(data)
	final := s.path(hash)
	if _, err := os.Stat(final); err == nil {
		return hash, nil
	}
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("blobstore: create shard: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "blob-*.tmp")
	if err != nil {
		return "", fmt.Errorf("blobstore: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	_, werr := tmp.Write(encoder.EncodeAll(data, nil))
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("blobstore: write %s: %w", hash, errors.Join(werr, cerr))
	}
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("blobstore: commit %s: %w", hash, err)
	}
	return hash, nil
}

func (s *FS) Get(ctx context.Context, contentHash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !domain.ValidDigest(contentHash) {
		return nil, domain.NewValidationError("content_hash", "must be 64 lowercase hex chars")
	}
	compressed, err := os.ReadFile(s.path(contentHash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", contentHash, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", contentHash, err)
	}
	data, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("blobstore: decompress %s: %w: %v", contentHash, errCorrupt, err)
	}
	return data, nil
}

// Verify reports false, not an error, when the stored bytes no longer hash
// to contentHash or cannot be decompressed.
func (s *FS) Verify(ctx context.Context, contentHash string) (bool, error) {
	data, err := s.Get(ctx, contentHash)
	if errors.Is(err, errCorrupt) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return crypto.SumHex(data) == contentHash, nil
}
