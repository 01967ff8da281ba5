package ports

import (
	"context"
	"time"

	"github.com/aretw0/redliner/pkg/domain"
)

// ObservabilityHooks receives synchronous notifications around each executor invocation.
// Implementations must not block; their failures never affect a run.
type ObservabilityHooks interface {
	OnStageStart(ctx context.Context, sessionID string, stage domain.Stage)
	OnStageEnd(ctx context.Context, sessionID string, stage domain.Stage, success bool, duration time.Duration)
}

// ResultObserver is an optional extension of ObservabilityHooks.
// Hooks that implement it are notified after a stage result is committed.
type ResultObserver interface {
	OnStageCommitted(ctx context.Context, session *domain.Session, stage domain.Stage)
}

// RunObserver is an optional extension of ObservabilityHooks.
// Hooks that implement it are notified once a run leaves the session in a
// terminal status (completed, partial or failed).
type RunObserver interface {
	OnRunFinished(ctx context.Context, session *domain.Session)
}
