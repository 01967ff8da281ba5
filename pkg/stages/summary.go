package stages

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
)

// maxPriorityIssues bounds the list of issues called out in the summary.
const maxPriorityIssues = 5

// Summary builds the negotiation summary from whatever sections are committed.
// A missing redline section only shortens the checklist.
type Summary struct{}

func (Summary) Stage() domain.Stage { return domain.StageSummary }

func (Summary) Execute(ctx context.Context, s *domain.Session, tools ports.Tools) (domain.StageResults, error) {
	r := s.Results
	if r.Extraction == nil || r.RiskScoring == nil {
		return domain.StageResults{}, domain.NewStageError(domain.StageSummary, false, "extraction or risk scoring result missing")
	}

	clauses := make(map[string]domain.Clause, len(r.Extraction.Clauses))
	for _, c := range r.Extraction.Clauses {
		clauses[c.ID] = c
	}

	risks := slices.Clone(r.RiskScoring.RiskAssessments)
	slices.SortStableFunc(risks, func(a, b domain.RiskAssessment) int {
		return b.Severity.Rank() - a.Severity.Rank()
	})

	var counts domain.SeverityCounts
	priority := []string{}
	for _, ra := range risks {
		switch ra.Severity {
		case domain.SeverityHigh:
			counts.High++
		case domain.SeverityMedium:
			counts.Medium++
		default:
			counts.Low++
		}
		if ra.Severity == domain.SeverityLow || len(priority) == maxPriorityIssues {
			continue
		}
		priority = append(priority, fmt.Sprintf("[%s] %s (%s): %s",
			strings.ToUpper(string(ra.Severity)), ra.RiskType, describeClause(clauses[ra.ClauseID], ra.ClauseID), ra.Explanation))
	}

	checklist := []string{}
	if r.Redline != nil {
		for _, p := range r.Redline.RedlineProposals {
			checklist = append(checklist, fmt.Sprintf("Negotiate %s: %s", describeClause(clauses[p.ClauseID], p.ClauseID), p.Rationale))
		}
	} else {
		for _, ra := range risks {
			if ra.Severity != domain.SeverityLow {
				checklist = append(checklist, fmt.Sprintf("Review %s: %s", describeClause(clauses[ra.ClauseID], ra.ClauseID), ra.RiskType))
			}
		}
	}
	checklist = append(checklist, "Confirm the final draft with legal counsel before signing")

	contractType := "contract"
	if r.Ingestion != nil && r.Ingestion.Metadata.ContractType != "" {
		contractType = r.Ingestion.Metadata.ContractType + " contract"
	}

	var exec strings.Builder
	fmt.Fprintf(&exec, "Reviewed %s %q: %d clauses analyzed, %d high, %d medium and %d low risk.",
		contractType, s.Filename, len(r.Extraction.Clauses), counts.High, counts.Medium, counts.Low)
	if r.Redline != nil {
		fmt.Fprintf(&exec, " %d redlines proposed.", len(r.Redline.RedlineProposals))
	}
	switch {
	case counts.High > 0:
		exec.WriteString(" High-risk terms must be resolved before signing.")
	case counts.Medium > 0:
		exec.WriteString(" Some terms deserve negotiation.")
	default:
		exec.WriteString(" No significant risks were found.")
	}

	return domain.StageResults{Summary: &domain.SummaryResult{NegotiationSummary: domain.NegotiationSummary{
		Checklist:        checklist,
		DraftEmail:       draftEmail(s, priority),
		ExecutiveSummary: exec.String(),
		PriorityIssues:   priority,
	}}}, nil
}

func describeClause(c domain.Clause, id string) string {
	if c.Type == "" {
		return id
	}
	return fmt.Sprintf("%s clause %s", strings.ReplaceAll(c.Type, "_", " "), id)
}

func draftEmail(s *domain.Session, priority []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: Proposed changes to %s\n\n", s.Filename)
	b.WriteString("Hello,\n\nThank you for sharing the agreement. ")
	if len(priority) == 0 {
		b.WriteString("We have reviewed it and have no material concerns.\n")
	} else {
		b.WriteString("Before we proceed we would like to discuss the following points:\n\n")
		for i, p := range priority {
			fmt.Fprintf(&b, "%d. %s\n", i+1, p)
		}
		if s.Results.Redline != nil && len(s.Results.Redline.RedlineProposals) > 0 {
			b.WriteString("\nProposed wording for each point is attached.\n")
		}
	}
	b.WriteString("\nBest regards")
	return b.String()
}
