package file_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aretw0/redliner/pkg/adapters/file"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Ensure Store implements StateStore
var _ ports.StateStore = (*file.Store)(nil)
var _ ports.DocumentStore = (*file.Documents)(nil)

func TestFileStore_Contract(t *testing.T) {
	ports.RunStateStoreContract(t, file.New(t.TempDir()))
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	s := &domain.Session{ID: "s1", Status: domain.StatusPending}
	require.NoError(t, store.Save(ctx, "s1", s))
	require.NoError(t, store.Save(ctx, "s1", s))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s1.json", entries[0].Name())
}

func TestFileStore_RejectsTraversal(t *testing.T) {
	store := file.New(t.TempDir())
	ctx := context.Background()

	err := store.Save(ctx, "../escape", &domain.Session{})
	assert.Error(t, err)

	_, err = store.Load(ctx, "../escape")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestFileStore_ListMissingDir(t *testing.T) {
	store := file.New(filepath.Join(t.TempDir(), "absent"))
	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFileDocuments(t *testing.T) {
	ctx := context.Background()
	docs := file.NewDocuments(t.TempDir())

	require.NoError(t, docs.Put(ctx, "doc-1", strings.NewReader("contract body"), 13, "text/plain"))

	rc, err := docs.Open(ctx, "doc-1")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "contract body", string(data))

	require.NoError(t, docs.Remove(ctx, "doc-1"))
	require.NoError(t, docs.Remove(ctx, "doc-1"))
	_, err = docs.Open(ctx, "doc-1")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}
