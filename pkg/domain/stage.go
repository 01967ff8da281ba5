package domain

import "fmt"

// Stage identifies one step of the review pipeline.
type Stage string

const (
	StageIngestion   Stage = "ingestion"    // Read and normalize the document
	StageExtraction  Stage = "extraction"   // Locate clauses
	StageRiskScoring Stage = "risk_scoring" // Assess each clause
	StageRedline     Stage = "redline"      // Propose alternative wording
	StageSummary     Stage = "summary"      // Negotiation checklist and email
	StageAudit       Stage = "audit"        // Embed the compiled audit bundle
)

var pipeline = []Stage{
	StageIngestion,
	StageExtraction,
	StageRiskScoring,
	StageRedline,
	StageSummary,
	StageAudit,
}

// Pipeline returns the stages in execution order.
func Pipeline() []Stage {
	out := make([]Stage, len(pipeline))
	copy(out, pipeline)
	return out
}

// StageCount is the number of stages in the pipeline.
const StageCount = 6

// StageAt returns the stage at position i of the pipeline.
func StageAt(i int) (Stage, bool) {
	if i < 0 || i >= len(pipeline) {
		return "", false
	}
	return pipeline[i], true
}

// ParseStage converts a string into a known Stage.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if st.Index() < 0 {
		return "", &ValidationError{Field: "stage", Reason: fmt.Sprintf("unknown stage %q", s)}
	}
	return st, nil
}

// Index returns the position of the stage in the pipeline, or -1 if unknown.
func (s Stage) Index() int {
	for i, st := range pipeline {
		if st == s {
			return i
		}
	}
	return -1
}

// Mandatory reports whether a failure of this stage halts the run.
// Ingestion, extraction and risk scoring feed every later stage; the rest are best-effort.
func (s Stage) Mandatory() bool {
	switch s {
	case StageIngestion, StageExtraction, StageRiskScoring:
		return true
	}
	return false
}

func (s Stage) String() string {
	return string(s)
}
