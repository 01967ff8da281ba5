package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/redliner/internal/logging"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
)

// Nop ignores every notification.
type Nop struct{}

func (Nop) OnStageStart(context.Context, string, domain.Stage) {}

func (Nop) OnStageEnd(context.Context, string, domain.Stage, bool, time.Duration) {}

type multi struct {
	hooks  []ports.ObservabilityHooks
	logger *slog.Logger
}

// Multi fans notifications out to every non-nil sink, in order.
// A sink that panics is logged and skipped; the remaining sinks still run.
func Multi(hooks ...ports.ObservabilityHooks) ports.ObservabilityHooks {
	return MultiWithLogger(nil, hooks...)
}

// MultiWithLogger is Multi with a logger for sink panics.
func MultiWithLogger(logger *slog.Logger, hooks ...ports.ObservabilityHooks) ports.ObservabilityHooks {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &multi{logger: logger}
	for _, h := range hooks {
		if h != nil {
			m.hooks = append(m.hooks, h)
		}
	}
	return m
}

func (m *multi) each(method string, fn func(ports.ObservabilityHooks)) {
	for _, h := range m.hooks {
		m.call(method, h, fn)
	}
}

func (m *multi) call(method string, h ports.ObservabilityHooks, fn func(ports.ObservabilityHooks)) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("Observability sink panicked", "hook", method, "sink", fmt.Sprintf("%T", h), "panic", r)
		}
	}()
	fn(h)
}

func (m *multi) OnStageStart(ctx context.Context, id string, stage domain.Stage) {
	m.each("OnStageStart", func(h ports.ObservabilityHooks) {
		h.OnStageStart(ctx, id, stage)
	})
}

func (m *multi) OnStageEnd(ctx context.Context, id string, stage domain.Stage, success bool, d time.Duration) {
	m.each("OnStageEnd", func(h ports.ObservabilityHooks) {
		h.OnStageEnd(ctx, id, stage, success, d)
	})
}

func (m *multi) OnStageCommitted(ctx context.Context, s *domain.Session, stage domain.Stage) {
	m.each("OnStageCommitted", func(h ports.ObservabilityHooks) {
		if ro, ok := h.(ports.ResultObserver); ok {
			ro.OnStageCommitted(ctx, s, stage)
		}
	})
}

func (m *multi) OnRunFinished(ctx context.Context, s *domain.Session) {
	m.each("OnRunFinished", func(h ports.ObservabilityHooks) {
		if ro, ok := h.(ports.RunObserver); ok {
			ro.OnRunFinished(ctx, s)
		}
	})
}

// Slog logs stage boundaries.
type Slog struct {
	logger *slog.Logger
}

func NewSlog(logger *slog.Logger) *Slog {
	return &Slog{logger: logger}
}

func (s *Slog) OnStageStart(ctx context.Context, id string, stage domain.Stage) {
	s.logger.DebugContext(ctx, "Stage started", "session_id", id, "stage", stage)
}

func (s *Slog) OnStageEnd(ctx context.Context, id string, stage domain.Stage, success bool, d time.Duration) {
	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "Stage finished", "session_id", id, "stage", stage, "success", success, "duration", d)
}
