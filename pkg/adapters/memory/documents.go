package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aretw0/redliner/pkg/domain"
)

// Documents implements ports.DocumentStore in memory.
type Documents struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewDocuments creates an empty in-memory document store.
func NewDocuments() *Documents {
	return &Documents{data: make(map[string][]byte)}
}

// Put stores the full content of r under key.
func (d *Documents) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[key] = data
	return nil
}

// Open returns a reader over a copy of the stored bytes.
func (d *Documents) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, ok := d.data[key]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

// Remove deletes the document. Missing keys are ignored.
func (d *Documents) Remove(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data, key)
	return nil
}
