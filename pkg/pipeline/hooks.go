package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
)

// safeHooks shields the run from hooks that panic.
type safeHooks struct {
	hooks  ports.ObservabilityHooks
	logger *slog.Logger
}

func (h safeHooks) guard(name string) {
	if r := recover(); r != nil {
		h.logger.Warn("Observability hook panicked", "hook", name, "panic", r)
	}
}

func (h safeHooks) start(ctx context.Context, id string, stage domain.Stage) {
	if h.hooks == nil {
		return
	}
	defer h.guard("OnStageStart")
	h.hooks.OnStageStart(ctx, id, stage)
}

func (h safeHooks) end(ctx context.Context, id string, stage domain.Stage, success bool, d time.Duration) {
	if h.hooks == nil {
		return
	}
	defer h.guard("OnStageEnd")
	h.hooks.OnStageEnd(ctx, id, stage, success, d)
}

func (h safeHooks) committed(ctx context.Context, s *domain.Session, stage domain.Stage) {
	ro, ok := h.hooks.(ports.ResultObserver)
	if !ok {
		return
	}
	defer h.guard("OnStageCommitted")
	ro.OnStageCommitted(ctx, s.Clone(), stage)
}

func (h safeHooks) finished(ctx context.Context, s *domain.Session) {
	ro, ok := h.hooks.(ports.RunObserver)
	if !ok {
		return
	}
	defer h.guard("OnRunFinished")
	ro.OnRunFinished(ctx, s.Clone())
}
