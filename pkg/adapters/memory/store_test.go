package memory_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aretw0/redliner/pkg/adapters/memory"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunStateStoreContract(t, store)
}

func TestMemoryDocuments(t *testing.T) {
	ctx := context.Background()
	docs := memory.NewDocuments()

	require.NoError(t, docs.Put(ctx, "k1", strings.NewReader("hello"), 5, "text/plain"))

	rc, err := docs.Open(ctx, "k1")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, docs.Remove(ctx, "k1"))
	require.NoError(t, docs.Remove(ctx, "k1"))

	_, err = docs.Open(ctx, "k1")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}
