package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/redliner/pkg/domain"
)

// Overlay contains the run state to visualize on the pipeline graph.
type Overlay struct {
	Committed []domain.Stage
	Failed    []domain.Stage
	Current   domain.Stage
}

// OverlayFor derives the overlay of a session: committed sections, stages whose
// last attempt failed without a result, and the cursor stage while running.
func OverlayFor(s *domain.Session) *Overlay {
	o := &Overlay{}
	for _, st := range domain.Pipeline() {
		if s.Results.Has(st) {
			o.Committed = append(o.Committed, st)
			continue
		}
		if exec, ok := s.LastExecution(st); ok && !exec.Success {
			o.Failed = append(o.Failed, st)
		}
	}
	if next, ok := s.NextStage(); ok && s.Status == domain.StatusRunning {
		o.Current = next
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of the review pipeline.
// Mandatory stages are drawn as [Rectangle], best-effort ones as ([Stadium])
// reached through a dotted edge.
func GenerateMermaid(overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")

	stages := domain.Pipeline()
	for i, st := range stages {
		opener, closer := "[", "]"
		if !st.Mandatory() {
			opener, closer = "([", "])"
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", st, opener, st, closer))
		if i == 0 {
			continue
		}
		arrow := "-->"
		if !st.Mandatory() {
			arrow = "-.->"
		}
		sb.WriteString(fmt.Sprintf("    %s %s %s\n", stages[i-1], arrow, st))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef committed fill:#e8f5e9,stroke:#2e7d32,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef failed fill:#ffebee,stroke:#c62828,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		for _, st := range overlay.Committed {
			sb.WriteString(fmt.Sprintf("    class %s committed;\n", st))
		}
		for _, st := range overlay.Failed {
			sb.WriteString(fmt.Sprintf("    class %s failed;\n", st))
		}
		if overlay.Current != "" {
			sb.WriteString(fmt.Sprintf("    class %s current;\n", overlay.Current))
		}
	}

	return sb.String()
}
