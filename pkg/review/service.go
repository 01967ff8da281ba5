// Package review is the application service behind the HTTP, MCP and CLI surfaces.
//
// It ties upload validation, the document store, the session store and the
// pipeline together: a caller never talks to the orchestrator directly.
package review

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/aretw0/redliner/internal/logging"
	"github.com/aretw0/redliner/pkg/audit"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/pipeline"
	"github.com/aretw0/redliner/pkg/ports"
	"github.com/google/uuid"
)

// StatusView is the polling view of a session.
type StatusView struct {
	SessionID   string        `json:"session_id"`
	Status      domain.Status `json:"status"`
	StageCursor int           `json:"stage_cursor"`
	NextStage   *domain.Stage `json:"next_stage,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Service implements the review use cases.
type Service struct {
	sessions   ports.SessionStore
	documents  ports.DocumentStore
	orch       *pipeline.Orchestrator
	dispatcher ports.RunDispatcher
	compiler   *audit.Compiler
	policy     UploadPolicy
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithDispatcher runs sessions in the background. Without one, runs are synchronous.
func WithDispatcher(d ports.RunDispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithUploadPolicy overrides the default upload limits.
func WithUploadPolicy(p UploadPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithCompiler sets the audit compiler.
func WithCompiler(c *audit.Compiler) Option {
	return func(s *Service) { s.compiler = c }
}

// WithLogger configures a logger for the Service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService wires the service around an orchestrator and its session store.
func NewService(orch *pipeline.Orchestrator, documents ports.DocumentStore, opts ...Option) *Service {
	s := &Service{
		sessions:  orch.Store(),
		documents: documents,
		orch:      orch,
		compiler:  audit.NewCompiler(),
		policy:    DefaultUploadPolicy(),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates and stores an upload and creates its session.
// When run is set the pipeline is started as well.
func (s *Service) Submit(ctx context.Context, u Upload, run bool) (*domain.Session, error) {
	name, err := s.policy.Validate(u)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	key := id + strings.ToLower(filepath.Ext(name))
	if err := s.documents.Put(ctx, key, bytes.NewReader(u.Data), int64(len(u.Data)), u.ContentType); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	_, err = s.sessions.Create(ctx, &domain.Session{
		ID:          id,
		UserID:      strings.TrimSpace(u.UserID),
		Filename:    name,
		ContentType: u.ContentType,
		DocumentKey: key,
	})
	if err != nil {
		if rmErr := s.documents.Remove(context.WithoutCancel(ctx), key); rmErr != nil {
			s.logger.Warn("Failed to remove orphaned document", "key", key, "err", rmErr)
		}
		return nil, err
	}
	s.logger.Info("Session created", "session_id", id, "user_id", u.UserID, "filename", name, "size", len(u.Data))

	if !run {
		return s.sessions.Get(ctx, id)
	}
	return s.Run(ctx, id)
}

// Run starts the pipeline for a session. With a dispatcher it returns the claimed
// session right away; otherwise it returns the finished session.
func (s *Service) Run(ctx context.Context, id string) (*domain.Session, error) {
	if s.dispatcher != nil {
		return s.dispatcher.Submit(ctx, id)
	}
	return s.orch.Run(ctx, id)
}

// Get returns the full session record.
func (s *Service) Get(ctx context.Context, id string) (*domain.Session, error) {
	return s.sessions.Get(ctx, id)
}

// Status reports where a session is in the pipeline.
func (s *Service) Status(ctx context.Context, id string) (*StatusView, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v := &StatusView{SessionID: sess.ID, Status: sess.Status, StageCursor: sess.StageCursor, Error: sess.Error}
	if next, ok := sess.NextStage(); ok && !sess.Status.Terminal() {
		v.NextStage = &next
	}
	return v, nil
}

// Results returns the committed stage results.
func (s *Service) Results(ctx context.Context, id string) (domain.StageResults, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return domain.StageResults{}, err
	}
	return sess.Results, nil
}

// Audit compiles the audit bundle of a finished session.
func (s *Service) Audit(ctx context.Context, id string) (*domain.AuditBundle, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.compiler.Compile(sess)
}

// AuditMarkdown renders the audit bundle of a finished session as a markdown report.
func (s *Service) AuditMarkdown(ctx context.Context, id string) (string, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return "", err
	}
	b, err := s.compiler.Compile(sess)
	if err != nil {
		return "", err
	}
	return audit.Markdown(sess, b), nil
}

// Document opens the original upload. The caller closes the reader.
func (s *Service) Document(ctx context.Context, id string) (io.ReadCloser, *domain.Session, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.documents.Open(ctx, sess.DocumentKey)
	if err != nil {
		return nil, nil, err
	}
	return rc, sess, nil
}

// History lists a user's sessions, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error) {
	return s.sessions.List(ctx, userID, limit)
}

// Delete removes a session and its document. Deleting twice succeeds.
func (s *Service) Delete(ctx context.Context, id string) error {
	sess, err := s.sessions.Get(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return err
	}
	s.RemoveDocument(ctx, sess)
	s.logger.Info("Session deleted", "session_id", id)
	return nil
}

// RemoveDocument drops the upload of a deleted or purged session.
// Failures are logged; the session is already gone.
func (s *Service) RemoveDocument(ctx context.Context, sess *domain.Session) {
	if sess.DocumentKey == "" {
		return
	}
	if err := s.documents.Remove(context.WithoutCancel(ctx), sess.DocumentKey); err != nil {
		s.logger.Warn("Failed to remove document", "session_id", sess.ID, "key", sess.DocumentKey, "err", err)
	}
}

// Rewind discards the results of stage and every later stage so they run again.
func (s *Service) Rewind(ctx context.Context, id string, stage domain.Stage) (*domain.Session, error) {
	return s.sessions.Rewind(ctx, id, stage)
}
