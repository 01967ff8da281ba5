package stages

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
)

// Ingestion reads the original upload and produces normalized text and metadata.
type Ingestion struct{}

func (Ingestion) Stage() domain.Stage { return domain.StageIngestion }

func (Ingestion) Execute(ctx context.Context, s *domain.Session, tools ports.Tools) (domain.StageResults, error) {
	const stage = domain.StageIngestion
	if tools.Documents == nil || tools.Extractor == nil {
		return domain.StageResults{}, domain.NewStageError(stage, false, "document store and extractor are required")
	}
	if s.DocumentKey == "" {
		return domain.StageResults{}, domain.NewStageError(stage, false, "session has no document")
	}

	rc, err := tools.Documents.Open(ctx, s.DocumentKey)
	if err != nil {
		return domain.StageResults{}, &domain.StageError{
			Stage:     stage,
			Retryable: !errors.Is(err, domain.ErrDocumentNotFound),
			Message:   "failed to open document: " + err.Error(),
			Err:       err,
		}
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return domain.StageResults{}, &domain.StageError{Stage: stage, Retryable: true, Message: "failed to read document: " + err.Error(), Err: err}
	}

	pages, err := tools.Extractor.Extract(ctx, s.Filename, s.ContentType, data)
	if err != nil {
		return domain.StageResults{}, &domain.StageError{Stage: stage, Message: "failed to extract text: " + err.Error(), Err: err}
	}

	kept := make([]string, 0, len(pages))
	for _, p := range pages {
		kept = append(kept, Normalize(p))
	}
	text := strings.Join(kept, PageBreak)
	if strings.TrimSpace(strings.ReplaceAll(text, PageBreak, "")) == "" {
		return domain.StageResults{}, domain.NewStageError(stage, false, "document contains no text")
	}

	loggerOf(tools).Debug("document ingested", "pages", len(pages), "chars", len(text))
	return domain.StageResults{Ingestion: &domain.IngestionResult{
		NormalizedText: text,
		Metadata:       ExtractMetadata(text),
		PageCount:      len(pages),
	}}, nil
}
