package stages

import (
	"context"

	"github.com/aretw0/redliner/pkg/audit"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
)

// Audit embeds the audit bundle of the committed results.
type Audit struct {
	Compiler *audit.Compiler
}

func (Audit) Stage() domain.Stage { return domain.StageAudit }

func (a Audit) Execute(ctx context.Context, s *domain.Session, tools ports.Tools) (domain.StageResults, error) {
	return domain.StageResults{Audit: &domain.AuditResult{
		AuditBundle: audit.Assemble(s, a.Compiler.Now()),
	}}, nil
}
