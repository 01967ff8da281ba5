package redliner_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/redliner"
	"github.com/aretw0/redliner/pkg/config"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/pipeline"
	"github.com/aretw0/redliner/pkg/review"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contract = `MASTER SERVICES AGREEMENT

1. Termination
Either party may terminate this Agreement at any time.

2. Payment
Invoices are payable within thirty days.
`

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Pipeline.Retry = pipeline.NoRetry()
	return cfg
}

func upload() review.Upload {
	return review.Upload{UserID: "u1", Filename: "msa.txt", ContentType: "text/plain", Data: []byte(contract)}
}

func newEngine(t *testing.T, cfg config.Config, opts ...redliner.Option) *redliner.Engine {
	t.Helper()
	eng, err := redliner.New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, eng.Close(ctx))
	})
	return eng
}

func TestEngine_Dispatcher(t *testing.T) {
	eng := newEngine(t, testConfig())
	ctx := context.Background()

	sess, err := eng.Review().Submit(ctx, upload(), true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, sess.Status)

	eng.Wait()

	st, err := eng.Review().Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, st.Status)
	assert.Equal(t, domain.StageCount, st.StageCursor)
}

func TestEngine_FileBackends(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Store.Backend = config.BackendFile
	cfg.Store.Path = filepath.Join(dir, "sessions")
	cfg.Documents.Backend = config.BackendFile
	cfg.Documents.Dir = filepath.Join(dir, "documents")

	eng := newEngine(t, cfg, redliner.WithInlineRuns())
	ctx := context.Background()

	sess, err := eng.Review().Submit(ctx, upload(), true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, sess.Status)

	_, err = os.Stat(filepath.Join(cfg.Store.Path, sess.ID+".json"))
	assert.NoError(t, err)

	// A second engine over the same directories sees the session.
	other := newEngine(t, cfg, redliner.WithInlineRuns())
	b, err := other.Review().Audit(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, b.ClausesExtracted)
}

func TestEngine_RedisEncrypted(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Store.Backend = config.BackendRedis
	cfg.Store.Redis.Addr = mr.Addr()
	cfg.Store.EncryptionKey = strings.Repeat("ab", 32)

	eng := newEngine(t, cfg, redliner.WithInlineRuns())
	ctx := context.Background()

	sess, err := eng.Review().Submit(ctx, upload(), true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, sess.Status)

	raw, err := mr.Get("redliner:session:" + sess.ID)
	require.NoError(t, err)
	assert.NotContains(t, raw, "Termination")
	assert.NotContains(t, raw, "msa.txt")

	history, err := eng.Review().History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, sess.ID, history[0].SessionID)
}

func TestEngine_ExternalStageFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	tools := filepath.Join(t.TempDir(), "executors.yaml")
	require.NoError(t, os.WriteFile(tools, []byte(`executors:
  - stage: redline
    command: sh
    args: ["-c", "cat >/dev/null; echo 'drafting service unavailable' >&2; exit 2"]
`), 0644))

	cfg := testConfig()
	cfg.Tools = tools
	eng := newEngine(t, cfg, redliner.WithInlineRuns())
	ctx := context.Background()

	sess, err := eng.Review().Submit(ctx, upload(), true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, sess.Status)
	assert.Nil(t, sess.Results.Redline)
	assert.NotNil(t, sess.Results.Summary)

	exec, ok := sess.LastExecution(domain.StageRedline)
	require.True(t, ok)
	assert.False(t, exec.Success)
	assert.Contains(t, exec.ErrorMessage, "drafting service unavailable")
}

func TestEngine_InvalidSettings(t *testing.T) {
	cfg := testConfig()
	cfg.Store.EncryptionKey = "not-hex"
	_, err := redliner.New(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Rules = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = redliner.New(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Store.Backend = "etcd"
	_, err = redliner.New(cfg)
	assert.Error(t, err)
}
