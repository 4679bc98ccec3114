// Package blobstore keeps artifact bytes addressed by their sha256 digest.
package blobstore

import (
	"context"
	"fmt"
	"sync"

	"custodia/internal/domain"
	"custodia/internal/infra/crypto"
)

type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, data []byte) (string, error) {
	hash := crypto.SumHex(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[hash]; !ok {
		m.blobs[hash] = append([]byte(nil), data...)
	}
	return hash, nil
}

func (m *Memory) Get(_ context.Context, contentHash string) ([]byte, error) {
	m.mu.RLock()
	data, ok := m.blobs[contentHash]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", contentHash, domain.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Verify(ctx context.Context, contentHash string) (bool, error) {
	data, err := m.Get(ctx, contentHash)
	if err != nil {
		return false, err
	}
	return crypto.SumHex(data) == contentHash, nil
}
