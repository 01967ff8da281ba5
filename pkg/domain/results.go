package domain

import "fmt"

// Severity grades a risk assessment.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Rank orders severities so that higher means riskier. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// ContractMetadata is the descriptive header found during ingestion.
type ContractMetadata struct {
	Parties      []string `json:"parties"`
	Date         string   `json:"date,omitempty"`
	Jurisdiction string   `json:"jurisdiction,omitempty"`
	ContractType string   `json:"contract_type,omitempty"`
}

// Clause is a located span of the normalized contract.
type Clause struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Text       string `json:"text"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	PageNumber int    `json:"page_number"`
}

// RiskAssessment grades a single clause.
type RiskAssessment struct {
	ClauseID    string   `json:"clause_id"`
	Severity    Severity `json:"severity"`
	RiskType    string   `json:"risk_type"`
	Explanation string   `json:"explanation"`
	Rationale   string   `json:"rationale,omitempty"`
}

// RedlineProposal suggests replacement wording for a clause.
type RedlineProposal struct {
	ClauseID     string `json:"clause_id"`
	OriginalText string `json:"original_text"`
	ProposedText string `json:"proposed_text"`
	Rationale    string `json:"rationale"`
	Diff         string `json:"diff"`
}

// NegotiationSummary is the human-facing output of the summary stage.
type NegotiationSummary struct {
	Checklist        []string `json:"checklist"`
	DraftEmail       string   `json:"draft_email"`
	ExecutiveSummary string   `json:"executive_summary"`
	PriorityIssues   []string `json:"priority_issues"`
}

type IngestionResult struct {
	NormalizedText string           `json:"normalized_contract"`
	Metadata       ContractMetadata `json:"metadata"`
	PageCount      int              `json:"page_count"`
}

type ExtractionResult struct {
	Clauses []Clause `json:"clauses"`
}

type RiskScoringResult struct {
	RiskAssessments []RiskAssessment `json:"risk_assessments"`
}

type RedlineResult struct {
	RedlineProposals []RedlineProposal `json:"redline_proposals"`
}

type SummaryResult struct {
	NegotiationSummary NegotiationSummary `json:"negotiation_summary"`
}

type AuditResult struct {
	AuditBundle AuditBundle `json:"audit_bundle"`
}

// StageResults holds the committed output of every stage that has succeeded.
// Each field belongs to exactly one stage and is written at most once.
// A value with exactly one field set is a partial update.
type StageResults struct {
	Ingestion   *IngestionResult   `json:"ingestion,omitempty"`
	Extraction  *ExtractionResult  `json:"extraction,omitempty"`
	RiskScoring *RiskScoringResult `json:"risk_scoring,omitempty"`
	Redline     *RedlineResult     `json:"redline,omitempty"`
	Summary     *SummaryResult     `json:"summary,omitempty"`
	Audit       *AuditResult       `json:"audit,omitempty"`
}

// Has reports whether the section owned by stage is present.
func (r StageResults) Has(stage Stage) bool {
	switch stage {
	case StageIngestion:
		return r.Ingestion != nil
	case StageExtraction:
		return r.Extraction != nil
	case StageRiskScoring:
		return r.RiskScoring != nil
	case StageRedline:
		return r.Redline != nil
	case StageSummary:
		return r.Summary != nil
	case StageAudit:
		return r.Audit != nil
	}
	return false
}

// Stages lists the present sections in pipeline order.
func (r StageResults) Stages() []Stage {
	var out []Stage
	for _, st := range pipeline {
		if r.Has(st) {
			out = append(out, st)
		}
	}
	return out
}

// Empty reports whether no section is present.
func (r StageResults) Empty() bool {
	return len(r.Stages()) == 0
}

// Complete reports whether every stage has a section.
func (r StageResults) Complete() bool {
	return len(r.Stages()) == len(pipeline)
}

// Only verifies that the update carries exactly the section owned by stage.
func (r StageResults) Only(stage Stage) error {
	present := r.Stages()
	if len(present) != 1 || present[0] != stage {
		return fmt.Errorf("update for stage %s must carry exactly its own section, got %v", stage, present)
	}
	return nil
}

// Merge writes the sections of update into r.
// It fails with ErrStageCommitted if any of them is already present.
func (r *StageResults) Merge(update StageResults) error {
	for _, st := range update.Stages() {
		if r.Has(st) {
			return fmt.Errorf("%w: %s", ErrStageCommitted, st)
		}
	}
	if update.Ingestion != nil {
		r.Ingestion = update.Ingestion
	}
	if update.Extraction != nil {
		r.Extraction = update.Extraction
	}
	if update.RiskScoring != nil {
		r.RiskScoring = update.RiskScoring
	}
	if update.Redline != nil {
		r.Redline = update.Redline
	}
	if update.Summary != nil {
		r.Summary = update.Summary
	}
	if update.Audit != nil {
		r.Audit = update.Audit
	}
	return nil
}

// Clear removes the section owned by stage.
func (r *StageResults) Clear(stage Stage) {
	switch stage {
	case StageIngestion:
		r.Ingestion = nil
	case StageExtraction:
		r.Extraction = nil
	case StageRiskScoring:
		r.RiskScoring = nil
	case StageRedline:
		r.Redline = nil
	case StageSummary:
		r.Summary = nil
	case StageAudit:
		r.Audit = nil
	}
}

// Clone returns a deep copy.
func (r StageResults) Clone() StageResults {
	var out StageResults
	if r.Ingestion != nil {
		v := *r.Ingestion
		v.Metadata.Parties = cloneStrings(r.Ingestion.Metadata.Parties)
		out.Ingestion = &v
	}
	if r.Extraction != nil {
		out.Extraction = &ExtractionResult{Clauses: cloneSlice(r.Extraction.Clauses)}
	}
	if r.RiskScoring != nil {
		out.RiskScoring = &RiskScoringResult{RiskAssessments: cloneSlice(r.RiskScoring.RiskAssessments)}
	}
	if r.Redline != nil {
		out.Redline = &RedlineResult{RedlineProposals: cloneSlice(r.Redline.RedlineProposals)}
	}
	if r.Summary != nil {
		v := *r.Summary
		v.NegotiationSummary.Checklist = cloneStrings(r.Summary.NegotiationSummary.Checklist)
		v.NegotiationSummary.PriorityIssues = cloneStrings(r.Summary.NegotiationSummary.PriorityIssues)
		out.Summary = &v
	}
	if r.Audit != nil {
		out.Audit = &AuditResult{AuditBundle: r.Audit.AuditBundle.Clone()}
	}
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func cloneStrings(in []string) []string {
	return cloneSlice(in)
}
