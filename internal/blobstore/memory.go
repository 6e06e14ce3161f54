package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore keeps blobs in memory, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	content map[string][]byte
	mu      sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{content: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, blobID string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.content[blobID] = data
	return nil
}

func (m *MemoryStore) Get(_ context.Context, blobID string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.content[blobID]
	if !ok {
		return fmt.Errorf("blob not found: %s", blobID)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, blobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.content, blobID)
	return nil
}

func (m *MemoryStore) ByteSizes(_ context.Context, blobIDs []string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sizes := make(map[string]int64, len(blobIDs))
	for _, id := range blobIDs {
		if data, ok := m.content[id]; ok {
			sizes[id] = int64(len(data))
		}
	}
	return sizes, nil
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup(context.Context) error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
