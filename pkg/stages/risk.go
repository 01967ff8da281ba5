package stages

import (
	"context"

	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
)

// RiskScoring grades every extracted clause.
type RiskScoring struct {
	Rules *Rulebook
}

func (RiskScoring) Stage() domain.Stage { return domain.StageRiskScoring }

func (r RiskScoring) Execute(ctx context.Context, s *domain.Session, tools ports.Tools) (domain.StageResults, error) {
	ex := s.Results.Extraction
	if ex == nil {
		return domain.StageResults{}, domain.NewStageError(domain.StageRiskScoring, false, "extraction result missing")
	}
	out := make([]domain.RiskAssessment, 0, len(ex.Clauses))
	for _, c := range ex.Clauses {
		if err := ctx.Err(); err != nil {
			return domain.StageResults{}, err
		}
		out = append(out, r.Rules.Assess(c))
	}
	return domain.StageResults{RiskScoring: &domain.RiskScoringResult{RiskAssessments: out}}, nil
}
