package storage

import (
	"context"
	"errors"
	"sync"

	appstorage "github.com/pinstor/backend/internal/application/storage"
)

// Ensure MemoryBlobStore implements BlobStore
var _ appstorage.BlobStore = (*MemoryBlobStore)(nil)

// MemoryBlobStore keeps blobs in process memory. Use it for development
// and testing until a real S3-compatible backend is configured.
type MemoryBlobStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	baseURL string
}

// NewMemoryBlobStore creates a new in-memory blob store
func NewMemoryBlobStore(baseURL string) *MemoryBlobStore {
	if baseURL == "" {
		baseURL = "https://blobs.example.com"
	}
	return &MemoryBlobStore{
		blobs:   make(map[string][]byte),
		baseURL: baseURL,
	}
}

// Put stores the blob under its content identifier
func (s *MemoryBlobStore) Put(ctx context.Context, contentID string, data []byte, contentType string) error {
	if contentID == "" {
		return errors.New("content identifier is required")
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.blobs[contentID] = buf
	s.mu.Unlock()
	return nil
}

// Get returns the stored blob, nil when absent
func (s *MemoryBlobStore) Get(contentID string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blobs[contentID]
}

// Len returns the number of stored blobs
func (s *MemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// URL returns the public gateway URL for a stored blob
func (s *MemoryBlobStore) URL(contentID string) string {
	return s.baseURL + "/" + contentID
}
