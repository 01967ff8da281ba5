package domain

import "time"

// SeverityCounts breaks down risk assessments by severity.
type SeverityCounts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// AuditBundle is the derived, read-only record of a review.
// Everything except CompiledAt is a pure function of the session.
type AuditBundle struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`

	// Sections lists the stages whose results were committed when the bundle was built.
	Sections []Stage `json:"sections"`

	// Executions holds the last execution of each attempted stage, in pipeline order.
	Executions []StageExecution `json:"stage_executions"`

	ClausesExtracted int            `json:"clauses_extracted"`
	RisksIdentified  int            `json:"risks_identified"`
	RedlinesProposed int            `json:"redlines_proposed"`
	Severity         SeverityCounts `json:"severity_counts"`

	// ResultsHash is the SHA-256 digest of the committed results, excluding the audit section.
	ResultsHash string `json:"results_hash"`

	Disclaimer string    `json:"disclaimer"`
	CompiledAt time.Time `json:"compiled_at"`
}

// Clone returns a deep copy.
func (b AuditBundle) Clone() AuditBundle {
	out := b
	out.Sections = cloneSlice(b.Sections)
	out.Executions = cloneSlice(b.Executions)
	return out
}
