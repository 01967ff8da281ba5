package redliner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/redliner/internal/logging"
	"github.com/aretw0/redliner/pkg/adapters/file"
	"github.com/aretw0/redliner/pkg/adapters/memory"
	"github.com/aretw0/redliner/pkg/adapters/minio"
	"github.com/aretw0/redliner/pkg/adapters/process"
	"github.com/aretw0/redliner/pkg/adapters/redis"
	"github.com/aretw0/redliner/pkg/audit"
	"github.com/aretw0/redliner/pkg/config"
	"github.com/aretw0/redliner/pkg/observability"
	"github.com/aretw0/redliner/pkg/persistence/middleware"
	"github.com/aretw0/redliner/pkg/pipeline"
	"github.com/aretw0/redliner/pkg/ports"
	"github.com/aretw0/redliner/pkg/review"
	"github.com/aretw0/redliner/pkg/session"
	"github.com/aretw0/redliner/pkg/stages"
)

// Engine is the high-level entry point for the redliner library.
// It assembles stores, executors, orchestrator and review service from a Config.
type Engine struct {
	cfg       config.Config
	logger    *slog.Logger
	hooks     []ports.ObservabilityHooks
	state     ports.StateStore
	documents ports.DocumentStore
	executors []ports.StageExecutor
	compiler  *audit.Compiler
	clock     pipeline.Clock
	inline    bool

	sessions   *session.Manager
	orch       *pipeline.Orchestrator
	dispatcher *pipeline.Dispatcher
	review     *review.Service
	sweeper    *session.Sweeper
	closers    []io.Closer
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithHooks registers observability hooks. Repeated calls accumulate.
func WithHooks(hooks ...ports.ObservabilityHooks) Option {
	return func(e *Engine) {
		e.hooks = append(e.hooks, hooks...)
	}
}

// WithStateStore injects a record store, bypassing the configured backend.
func WithStateStore(store ports.StateStore) Option {
	return func(e *Engine) {
		e.state = store
	}
}

// WithDocumentStore injects a document store, bypassing the configured backend.
func WithDocumentStore(docs ports.DocumentStore) Option {
	return func(e *Engine) {
		e.documents = docs
	}
}

// WithExecutors replaces the rule-based executors.
func WithExecutors(executors ...ports.StageExecutor) Option {
	return func(e *Engine) {
		e.executors = executors
	}
}

// WithCompiler sets the audit compiler shared by the audit stage and the review service.
func WithCompiler(c *audit.Compiler) Option {
	return func(e *Engine) {
		e.compiler = c
	}
}

// WithClock replaces the orchestrator clock, mostly for tests.
func WithClock(c pipeline.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithInlineRuns makes Submit and Run execute the pipeline before returning
// instead of handing the session to the background dispatcher.
func WithInlineRuns() Option {
	return func(e *Engine) {
		e.inline = true
	}
}

// New initializes an Engine from cfg.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	eng := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.compiler == nil {
		eng.compiler = audit.NewCompiler()
	}

	if err := eng.openStores(); err != nil {
		eng.closeAll()
		return nil, err
	}

	executors, err := eng.buildExecutors()
	if err != nil {
		eng.closeAll()
		return nil, err
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithTools(ports.Tools{
			Documents: eng.documents,
			Extractor: stages.PlainTextExtractor{},
			Logger:    eng.logger,
		}),
		pipeline.WithHooks(observability.MultiWithLogger(eng.logger, eng.hooks...)),
		pipeline.WithRetryPolicy(cfg.Pipeline.Retry),
		pipeline.WithStageTimeout(cfg.Pipeline.StageTimeout),
		pipeline.WithLogger(eng.logger),
	}
	if eng.clock != nil {
		pipeOpts = append(pipeOpts, pipeline.WithClock(eng.clock))
	}
	eng.orch, err = pipeline.New(eng.sessions, executors, pipeOpts...)
	if err != nil {
		eng.closeAll()
		return nil, err
	}

	svcOpts := []review.Option{
		review.WithCompiler(eng.compiler),
		review.WithLogger(eng.logger),
		review.WithUploadPolicy(review.UploadPolicy{
			MaxSize:      cfg.MaxUploadBytes(),
			AllowedTypes: cfg.Upload.AllowedTypes,
		}),
	}
	if !eng.inline {
		eng.dispatcher = pipeline.NewDispatcher(eng.orch, cfg.Pipeline.Workers, eng.logger)
		svcOpts = append(svcOpts, review.WithDispatcher(eng.dispatcher))
	}
	eng.review = review.NewService(eng.orch, eng.documents, svcOpts...)

	eng.sweeper = session.NewSweeper(eng.sessions, cfg.Retention.TTL, cfg.Retention.Interval, eng.logger)
	eng.sweeper.OnPurged = eng.review.RemoveDocument

	return eng, nil
}

func (e *Engine) openStores() error {
	cfg := e.cfg
	var managerOpts []session.Option

	if e.state == nil {
		switch cfg.Store.Backend {
		case config.BackendFile:
			e.state = file.New(cfg.Store.Path)
		case config.BackendRedis:
			var redisOpts []redis.Option
			prefix := redis.DefaultPrefix
			if cfg.Store.Redis.Prefix != "" {
				prefix = cfg.Store.Redis.Prefix
				redisOpts = append(redisOpts, redis.WithPrefix(prefix))
			}
			rs := redis.New(cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB, redisOpts...)
			e.closers = append(e.closers, rs)
			e.state = rs
			managerOpts = append(managerOpts, session.WithLocker(redis.NewLocker(rs.Client(), prefix)))
		default:
			e.state = memory.NewStore()
		}
	}

	if cfg.Store.EncryptionKey != "" {
		key, err := middleware.ParseKey(cfg.Store.EncryptionKey)
		if err != nil {
			return fmt.Errorf("store.encryption_key: %w", err)
		}
		e.state = middleware.Chain(e.state, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}

	managerOpts = append(managerOpts, session.WithLogger(e.logger), session.WithClaimTTL(cfg.Pipeline.ClaimTTL))
	e.sessions = session.NewManager(e.state, managerOpts...)

	if e.documents == nil {
		switch cfg.Documents.Backend {
		case config.BackendFile:
			e.documents = file.NewDocuments(cfg.Documents.Dir)
		case config.BackendMinio:
			m := cfg.Documents.Minio
			docs, err := minio.NewDocuments(minio.Config{
				Endpoint:  m.Endpoint,
				AccessKey: m.AccessKey,
				SecretKey: m.SecretKey,
				Bucket:    m.Bucket,
				UseSSL:    m.UseSSL,
				Region:    m.Region,
			})
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			e.documents = docs
		default:
			e.documents = memory.NewDocuments()
		}
	}
	return nil
}

func (e *Engine) buildExecutors() ([]ports.StageExecutor, error) {
	if e.executors != nil {
		return e.executors, nil
	}
	var rb *stages.Rulebook
	if e.cfg.Rules != "" {
		var err error
		rb, err = stages.LoadRulebook(e.cfg.Rules)
		if err != nil {
			return nil, err
		}
	}
	executors := stages.Defaults(rb, e.compiler)
	if e.cfg.Tools == "" {
		return executors, nil
	}
	cfgs, err := process.LoadConfig(e.cfg.Tools)
	if err != nil {
		return nil, err
	}
	for stage, c := range cfgs {
		e.logger.Info("stage delegated to external command", "stage", stage, "command", c.Command)
	}
	return process.Overlay(executors, cfgs)
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() config.Config { return e.cfg }

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Review returns the use-case service consumed by the HTTP, MCP and CLI adapters.
func (e *Engine) Review() *review.Service { return e.review }

// Sessions returns the session store.
func (e *Engine) Sessions() ports.SessionStore { return e.sessions }

// Orchestrator returns the pipeline orchestrator.
func (e *Engine) Orchestrator() *pipeline.Orchestrator { return e.orch }

// Sweeper returns the retention sweeper. It does nothing until Run is called.
func (e *Engine) Sweeper() *session.Sweeper { return e.sweeper }

// Compiler returns the audit compiler.
func (e *Engine) Compiler() *audit.Compiler { return e.compiler }

// Wait blocks until every background run has finished.
func (e *Engine) Wait() {
	if e.dispatcher != nil {
		e.dispatcher.Wait()
	}
}

// Close drains background runs (until ctx is done) and releases store connections.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.dispatcher != nil {
		errs = append(errs, e.dispatcher.Shutdown(ctx))
	}
	errs = append(errs, e.closeAll())
	return errors.Join(errs...)
}

func (e *Engine) closeAll() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c.Close())
	}
	e.closers = nil
	return errors.Join(errs...)
}
