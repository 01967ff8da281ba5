package ports

import (
	"context"
	"io"
	"log/slog"

	"github.com/aretw0/redliner/pkg/domain"
)

// StageExecutor performs one stage of the pipeline.
// It receives a read-only snapshot of the committed session and returns a partial
// update that carries only the section owned by its stage.
// Failures should be *domain.StageError so the orchestrator can classify them.
type StageExecutor interface {
	Stage() domain.Stage
	Execute(ctx context.Context, snapshot *domain.Session, tools Tools) (domain.StageResults, error)
}

// Tools are the collaborators injected into every stage execution.
type Tools struct {
	Documents DocumentStore
	Extractor TextExtractor
	Logger    *slog.Logger
}

// DocumentStore holds original uploads, addressed by key.
type DocumentStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Open returns domain.ErrDocumentNotFound for unknown keys.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Remove is idempotent.
	Remove(ctx context.Context, key string) error
}

// TextExtractor turns raw document bytes into per-page text.
type TextExtractor interface {
	Extract(ctx context.Context, filename, contentType string, data []byte) ([]string, error)
}
