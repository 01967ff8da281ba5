// Package stages holds the rule-based stage executors.
//
// Every executor is deterministic: the same snapshot and rulebook always produce
// the same update. Rules live in a YAML rulebook, see rules.yaml for the defaults.
package stages

import (
	"log/slog"

	"github.com/aretw0/redliner/internal/logging"
	"github.com/aretw0/redliner/pkg/audit"
	"github.com/aretw0/redliner/pkg/ports"
)

// Defaults returns one executor per pipeline stage, in pipeline order.
// Nil arguments fall back to the embedded rulebook and a system-clock compiler.
func Defaults(rb *Rulebook, compiler *audit.Compiler) []ports.StageExecutor {
	if rb == nil {
		rb = DefaultRulebook()
	}
	if compiler == nil {
		compiler = audit.NewCompiler()
	}
	return []ports.StageExecutor{
		Ingestion{},
		Extraction{Rules: rb},
		RiskScoring{Rules: rb},
		Redline{Rules: rb},
		Summary{},
		Audit{Compiler: compiler},
	}
}

func loggerOf(tools ports.Tools) *slog.Logger {
	if tools.Logger == nil {
		return logging.NewNop()
	}
	return tools.Logger
}
