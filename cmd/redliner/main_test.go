package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/redliner/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCLI_ReviewLifecycle(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "redliner.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`log_level: error
store:
  path: %s
documents:
  dir: %s
pipeline:
  retry:
    max_attempts: 1
`, filepath.Join(dir, "sessions"), filepath.Join(dir, "documents"))), 0644))

	contract := filepath.Join(dir, "nda.txt")
	require.NoError(t, os.WriteFile(contract, []byte(`1. Termination
Either party may terminate this Agreement at any time.

2. Payment
Invoices are payable within thirty days.
`), 0644))

	out, err := execute(t, "review", contract, "--config", cfgPath, "--user", "alice", "--format", "json")
	require.NoError(t, err)
	var sess domain.Session
	require.NoError(t, json.Unmarshal([]byte(out), &sess))
	assert.Equal(t, domain.StatusCompleted, sess.Status)
	assert.Equal(t, "nda.txt", sess.Filename)

	out, err = execute(t, "session", "ls", "--config", cfgPath, "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, sess.ID)

	out, err = execute(t, "session", "graph", sess.ID, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "class audit committed;")

	out, err = execute(t, "session", "audit", sess.ID, "--config", cfgPath, "--format", "markdown")
	require.NoError(t, err)
	assert.Contains(t, out, sess.ID)

	out, err = execute(t, "session", "rewind", sess.ID, "summary", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "pending (cursor 4)")

	_, err = execute(t, "session", "rm", sess.ID, "--config", cfgPath)
	require.NoError(t, err)

	_, err = execute(t, "session", "status", sess.ID, "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, 3, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(&domain.ValidationError{Field: "file", Reason: "empty"}))
	assert.Equal(t, 3, exitCode(fmt.Errorf("load: %w", domain.ErrSessionNotFound)))
	assert.Equal(t, 4, exitCode(domain.ErrBusy))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "redliner version")
}
