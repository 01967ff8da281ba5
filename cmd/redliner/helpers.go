package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/redliner"
	"github.com/aretw0/redliner/internal/logging"
	"github.com/aretw0/redliner/pkg/config"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/spf13/cobra"
)

// loadConfig reads the --config file, the environment and the --log-level flag.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

// durable switches in-memory backends to the file backends so that one-shot
// commands can see each other's sessions.
func durable(cfg config.Config) config.Config {
	if cfg.Store.Backend == config.BackendMemory {
		cfg.Store.Backend = config.BackendFile
	}
	if cfg.Documents.Backend == config.BackendMemory {
		cfg.Documents.Backend = config.BackendFile
	}
	return cfg
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(level), nil
}

// openEngine builds an engine over durable storage for one-shot commands.
func openEngine(cmd *cobra.Command, opts ...redliner.Option) (*redliner.Engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg = durable(cfg)
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	opts = append([]redliner.Option{redliner.WithLogger(logger), redliner.WithInlineRuns()}, opts...)
	eng, err := redliner.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing redliner: %w", err)
	}
	return eng, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode maps domain errors to process exit codes.
func exitCode(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return 2
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrDocumentNotFound):
		return 3
	case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrNotTerminal):
		return 4
	}
	return 1
}
