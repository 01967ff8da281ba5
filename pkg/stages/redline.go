package stages

import (
	"context"
	"strings"

	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
	"github.com/pmezard/go-difflib/difflib"
)

// Redline proposes template wording for clauses graded at or above the
// rulebook's minimum severity. A contract with nothing to change yields an empty list.
type Redline struct {
	Rules *Rulebook
}

func (Redline) Stage() domain.Stage { return domain.StageRedline }

func (r Redline) Execute(ctx context.Context, s *domain.Session, tools ports.Tools) (domain.StageResults, error) {
	ex, rs := s.Results.Extraction, s.Results.RiskScoring
	if ex == nil || rs == nil {
		return domain.StageResults{}, domain.NewStageError(domain.StageRedline, false, "extraction or risk scoring result missing")
	}
	byID := make(map[string]domain.Clause, len(ex.Clauses))
	for _, c := range ex.Clauses {
		byID[c.ID] = c
	}

	threshold := r.Rules.Redline.MinSeverity.Rank()
	proposals := []domain.RedlineProposal{}
	for _, ra := range rs.RiskAssessments {
		if ra.Severity.Rank() < threshold {
			continue
		}
		c, ok := byID[ra.ClauseID]
		if !ok {
			continue
		}
		t, ok := r.Rules.Template(c.Type, ra.Severity)
		if !ok {
			continue
		}
		proposed := strings.TrimSpace(t.Text)
		diff, err := unifiedDiff(c.Text, proposed)
		if err != nil {
			return domain.StageResults{}, &domain.StageError{Stage: domain.StageRedline, Message: "failed to diff clause " + c.ID, Err: err}
		}
		proposals = append(proposals, domain.RedlineProposal{
			ClauseID:     c.ID,
			OriginalText: c.Text,
			ProposedText: proposed,
			Rationale:    strings.TrimSpace(t.Rationale),
			Diff:         diff,
		})
	}
	return domain.StageResults{Redline: &domain.RedlineResult{RedlineProposals: proposals}}, nil
}

func unifiedDiff(original, proposed string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original + "\n"),
		B:        difflib.SplitLines(proposed + "\n"),
		FromFile: "original",
		ToFile:   "proposed",
		Context:  3,
	})
}
