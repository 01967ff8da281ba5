package ports

import (
	"context"

	"github.com/aretw0/redliner/pkg/domain"
)

// RunDispatcher starts pipeline runs in the background.
// Submit claims the session before returning, so a busy session is reported
// synchronously with domain.ErrBusy.
type RunDispatcher interface {
	Submit(ctx context.Context, sessionID string) (*domain.Session, error)
}
