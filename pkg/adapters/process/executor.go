package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
)

// ExitRetryable is the exit status (EX_TEMPFAIL) a command uses to report a
// transient failure that is worth another attempt.
const ExitRetryable = 75

// killGrace is how long a cancelled command has to exit before its pipes are closed.
const killGrace = 2 * time.Second

// maxStderr bounds how much of stderr is copied into error messages.
const maxStderr = 512

// Executor runs a stage as an external process.
//
// The committed session snapshot is written to stdin as JSON. The process must
// print a JSON object on stdout holding only its own section, keyed like the
// session's stage_results (for example {"redline": {...}}).
// The document is not sent; commands that need it read ingestion.normalized_contract.
type Executor struct {
	stage domain.Stage
	cfg   Config
}

// NewExecutor builds an executor for the stage named in cfg.
func NewExecutor(cfg Config) (*Executor, error) {
	stage, err := domain.ParseStage(cfg.Stage)
	if err != nil {
		return nil, err
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("executor for %s has no command", stage)
	}
	return &Executor{stage: stage, cfg: cfg}, nil
}

func (e *Executor) Stage() domain.Stage { return e.stage }

func (e *Executor) Execute(ctx context.Context, s *domain.Session, tools ports.Tools) (domain.StageResults, error) {
	in := s.Clone()
	in.Sealed = nil
	payload, err := json.Marshal(in)
	if err != nil {
		return domain.StageResults{}, &domain.StageError{Stage: e.stage, Message: "failed to encode snapshot", Err: err}
	}

	cmd := exec.CommandContext(ctx, e.cfg.Command, e.cfg.Args...)
	cmd.Dir = e.cfg.Dir
	cmd.WaitDelay = killGrace
	cmd.Env = append(cmd.Environ(),
		"REDLINER_SESSION_ID="+s.ID,
		"REDLINER_STAGE="+string(e.stage),
	)
	for k, v := range e.cfg.Environment {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if tools.Logger != nil {
		tools.Logger.Debug("running stage command", "command", e.cfg.Command)
	}
	runErr := cmd.Run()
	if ctx.Err() != nil {
		return domain.StageResults{}, ctx.Err()
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		retryable := errors.As(runErr, &exitErr) && exitErr.ExitCode() == ExitRetryable
		return domain.StageResults{}, &domain.StageError{
			Stage:     e.stage,
			Retryable: retryable,
			Message:   fmt.Sprintf("command %s failed: %v: %s", e.cfg.Command, runErr, tail(stderr.String())),
			Err:       runErr,
		}
	}

	var update domain.StageResults
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &update); err != nil {
		return domain.StageResults{}, &domain.StageError{Stage: e.stage, Message: "command printed invalid JSON: " + err.Error(), Err: err}
	}
	return update, nil
}

// tail keeps the last maxStderr bytes of s, starting on a rune boundary.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxStderr {
		return s
	}
	cut := len(s) - maxStderr
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "..." + s[cut:]
}

// Overlay replaces the executors of every configured stage with a process executor.
func Overlay(executors []ports.StageExecutor, cfgs map[domain.Stage]Config) ([]ports.StageExecutor, error) {
	out := make([]ports.StageExecutor, len(executors))
	copy(out, executors)
	for stage, cfg := range cfgs {
		cfg.Stage = string(stage)
		pe, err := NewExecutor(cfg)
		if err != nil {
			return nil, err
		}
		replaced := false
		for i, ex := range out {
			if ex.Stage() == stage {
				out[i] = pe
				replaced = true
			}
		}
		if !replaced {
			out = append(out, pe)
		}
	}
	return out, nil
}
