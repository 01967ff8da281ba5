package ports

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/redliner/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStateStoreContract runs a suite of tests to verify that a StateStore implementation
// adheres to the defined interface contract.
func RunStateStoreContract(t *testing.T, store StateStore) {
	ctx := context.Background()
	sessionID := "contract-" + time.Now().Format("20060102150405")

	newSession := func(id string) *domain.Session {
		now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		return &domain.Session{
			ID:        id,
			UserID:    "contract-user",
			Filename:  "msa.txt",
			CreatedAt: now,
			UpdatedAt: now,
			Status:    domain.StatusPending,
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		s := newSession(sessionID)
		s.StageCursor = 2
		s.Results.Extraction = &domain.ExtractionResult{Clauses: []domain.Clause{
			{ID: "clause_1", Type: "termination", Text: "Either party may terminate.", StartLine: 3, EndLine: 4, PageNumber: 1},
		}}
		s.Executions = []domain.StageExecution{{Stage: domain.StageIngestion, Attempt: 1, Success: true, InputHash: "abc"}}

		require.NoError(t, store.Save(ctx, sessionID, s), "Save should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, s.UserID, loaded.UserID)
		assert.Equal(t, 2, loaded.StageCursor)
		require.NotNil(t, loaded.Results.Extraction)
		assert.Equal(t, s.Results.Extraction.Clauses, loaded.Results.Extraction.Clauses)
		require.Len(t, loaded.Executions, 1)
		assert.Equal(t, "abc", loaded.Executions[0].InputHash)
		assert.True(t, s.CreatedAt.Equal(loaded.CreatedAt))
	})

	t.Run("Load returns a detached copy", func(t *testing.T) {
		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		loaded.Status = domain.StatusFailed
		if loaded.Results.Extraction != nil {
			loaded.Results.Extraction.Clauses = nil
		}

		again, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, again.Status)
		require.NotNil(t, again.Results.Extraction)
		assert.Len(t, again.Results.Extraction.Clauses, 1)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := newSession(sessionID)
		s.Status = domain.StatusRunning
		require.NoError(t, store.Save(ctx, sessionID, s))

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRunning, loaded.Status)
		assert.Nil(t, loaded.Results.Extraction)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, sessionID, newSession(sessionID)))

		require.NoError(t, store.Delete(ctx, sessionID), "Delete should not return error")

		_, err := store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")

		assert.NoError(t, store.Delete(ctx, sessionID), "Deleting a missing record is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		require.NoError(t, store.Save(ctx, id1, newSession(id1)))
		require.NoError(t, store.Save(ctx, id2, newSession(id2)))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})

	t.Run("Concurrent readers see whole records", func(t *testing.T) {
		id := sessionID + "-concurrent"
		seed := newSession(id)
		seed.Filename = "v0.txt"
		require.NoError(t, store.Save(ctx, id, seed))
		defer func() { _ = store.Delete(ctx, id) }()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				s := newSession(id)
				s.StageCursor = i % domain.StageCount
				s.Filename = fmt.Sprintf("v%d.txt", s.StageCursor)
				_ = store.Save(ctx, id, s)
			}
		}()
		for i := 0; i < 20; i++ {
			loaded, err := store.Load(ctx, id)
			if err != nil {
				continue
			}
			assert.Equal(t, fmt.Sprintf("v%d.txt", loaded.StageCursor), loaded.Filename)
		}
		wg.Wait()
	})
}
