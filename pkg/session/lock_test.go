package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/aretw0/redliner/pkg/adapters/memory"
	"github.com/aretw0/redliner/pkg/domain"
)

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(memory.NewStore())
	ctx := context.Background()
	count := 2000

	for i := 0; i < count; i++ {
		sid := fmt.Sprintf("session-%d", i)
		_, _ = mgr.Create(ctx, &domain.Session{ID: sid})
		_, _ = mgr.Claim(ctx, sid)
		_ = mgr.Delete(ctx, sid)
	}

	lockCount := len(mgr.locks)
	if lockCount != 0 {
		t.Errorf("Memory Leak Detected: %d locks remaining in memory after Delete", lockCount)
	}
}
