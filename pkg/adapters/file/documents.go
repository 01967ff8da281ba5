package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aretw0/redliner/pkg/domain"
)

// Documents implements ports.DocumentStore on the local filesystem.
type Documents struct {
	BasePath string
}

// NewDocuments creates a document store rooted at basePath.
// If basePath is empty, it defaults to ".redliner/documents".
func NewDocuments(basePath string) *Documents {
	if basePath == "" {
		basePath = filepath.Join(".redliner", "documents")
	}
	return &Documents{BasePath: basePath}
}

// Put writes the document atomically.
func (d *Documents) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := validName(key); err != nil {
		return fmt.Errorf("invalid document key: %w", err)
	}
	if err := writeAtomic(d.BasePath, filepath.Join(d.BasePath, key), r); err != nil {
		return fmt.Errorf("failed to store document %s: %w", key, err)
	}
	return nil
}

// Open opens the document for reading.
func (d *Documents) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validName(key); err != nil {
		return nil, domain.ErrDocumentNotFound
	}
	f, err := os.Open(filepath.Join(d.BasePath, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	return f, nil
}

// Remove deletes the document. Missing files are ignored.
func (d *Documents) Remove(ctx context.Context, key string) error {
	if err := validName(key); err != nil {
		return fmt.Errorf("invalid document key: %w", err)
	}
	err := os.Remove(filepath.Join(d.BasePath, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove document: %w", err)
	}
	return nil
}
