package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/redliner/pkg/domain"
)

// Markdown renders a human-readable report of the bundle and the session results.
func Markdown(s *domain.Session, b *domain.AuditBundle) string {
	var sb strings.Builder

	sb.WriteString("# Contract Review Report\n\n")
	fmt.Fprintf(&sb, "**Session ID:** %s\n\n", b.SessionID)
	if b.Filename != "" {
		fmt.Fprintf(&sb, "**Document:** %s\n\n", b.Filename)
	}
	fmt.Fprintf(&sb, "**Status:** %s\n\n", s.Status)
	fmt.Fprintf(&sb, "**Compiled:** %s\n\n", b.CompiledAt.Format(time.RFC3339))
	sb.WriteString("---\n\n")

	sb.WriteString("## Overview\n\n")
	sb.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Clauses extracted | %d |\n", b.ClausesExtracted)
	fmt.Fprintf(&sb, "| Risks identified | %d |\n", b.RisksIdentified)
	fmt.Fprintf(&sb, "| High / Medium / Low | %d / %d / %d |\n", b.Severity.High, b.Severity.Medium, b.Severity.Low)
	fmt.Fprintf(&sb, "| Redlines proposed | %d |\n\n", b.RedlinesProposed)

	if r := s.Results.Summary; r != nil && r.NegotiationSummary.ExecutiveSummary != "" {
		fmt.Fprintf(&sb, "## Executive Summary\n\n%s\n\n", r.NegotiationSummary.ExecutiveSummary)
	}

	if r := s.Results.RiskScoring; r != nil && len(r.RiskAssessments) > 0 {
		sb.WriteString("## Risk Assessment\n\n")
		for _, ra := range r.RiskAssessments {
			fmt.Fprintf(&sb, "### %s (%s)\n\n", ra.RiskType, strings.ToUpper(string(ra.Severity)))
			fmt.Fprintf(&sb, "**Clause:** %s\n\n", ra.ClauseID)
			fmt.Fprintf(&sb, "**Explanation:** %s\n\n", ra.Explanation)
			if ra.Rationale != "" {
				fmt.Fprintf(&sb, "**Rationale:** %s\n\n", ra.Rationale)
			}
		}
	}

	if r := s.Results.Redline; r != nil && len(r.RedlineProposals) > 0 {
		sb.WriteString("## Proposed Redlines\n\n")
		for _, p := range r.RedlineProposals {
			fmt.Fprintf(&sb, "### %s\n\n%s\n\n", p.ClauseID, p.Rationale)
			fmt.Fprintf(&sb, "```diff\n%s```\n\n", ensureNewline(p.Diff))
		}
	}

	if r := s.Results.Summary; r != nil && len(r.NegotiationSummary.Checklist) > 0 {
		sb.WriteString("## Negotiation Checklist\n\n")
		for _, item := range r.NegotiationSummary.Checklist {
			fmt.Fprintf(&sb, "- [ ] %s\n", item)
		}
		sb.WriteString("\n")
	}

	if r := s.Results.Extraction; r != nil && len(r.Clauses) > 0 {
		sb.WriteString("## Extracted Clauses\n\n")
		for _, c := range r.Clauses {
			fmt.Fprintf(&sb, "### %s (%s, page %d, lines %d-%d)\n\n%s\n\n", c.ID, c.Type, c.PageNumber, c.StartLine, c.EndLine, c.Text)
		}
	}

	sb.WriteString("## Stage Trace\n\n")
	sb.WriteString("| Stage | Attempt | Success | Duration | Input hash | Output hash |\n|---|---|---|---|---|---|\n")
	for _, e := range b.Executions {
		fmt.Fprintf(&sb, "| %s | %d | %t | %s | `%s` | `%s` |\n",
			e.Stage, e.Attempt, e.Success, e.Duration().Round(time.Millisecond), short(e.InputHash), short(e.OutputHash))
	}
	fmt.Fprintf(&sb, "\nResults digest: `%s`\n\n", b.ResultsHash)

	sb.WriteString("---\n\n")
	for _, line := range strings.Split(b.Disclaimer, "\n") {
		fmt.Fprintf(&sb, "> %s\n", line)
	}
	return sb.String()
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
