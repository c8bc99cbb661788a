package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ruteri/will-escrow-backend/interfaces"
)

var errContentMismatch = errors.New("stored content does not match its content id")

// verifyContent checks data against the content ID it was fetched by.
func verifyContent(id interfaces.ContentID, data []byte) error {
	if interfaces.ComputeID(data) != id {
		return fmt.Errorf("%w: %s", errContentMismatch, id)
	}
	return nil
}

type blobKey struct {
	id          interfaces.ContentID
	contentType interfaces.ContentType
}

// MemoryBackend keeps ciphertexts in process memory. It is the default blob
// store when no storage URI is configured.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[blobKey][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[blobKey][]byte)}
}

func (b *MemoryBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.blobs[blobKey{id, contentType}]
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[blobKey{id, contentType}] = append([]byte(nil), data...)
	return id, nil
}

func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

func (b *MemoryBackend) Name() string {
	return "memory"
}

func (b *MemoryBackend) LocationURI() string {
	return "memory://"
}
