package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/redliner/internal/presentation/graph"
	"github.com/aretw0/redliner/pkg/domain"
)

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		overlay  *graph.Overlay
		contains []string
		excludes []string
	}{
		{
			name: "Stage Shapes",
			contains: []string{
				`ingestion["ingestion"]`,
				`risk_scoring["risk_scoring"]`,
				`redline(["redline"])`,
				`audit(["audit"])`,
			},
			excludes: []string{"classDef"},
		},
		{
			name: "Edges",
			contains: []string{
				"ingestion --> extraction",
				"extraction --> risk_scoring",
				"risk_scoring -.-> redline",
				"summary -.-> audit",
			},
		},
		{
			name: "Overlay",
			overlay: &graph.Overlay{
				Committed: []domain.Stage{domain.StageIngestion},
				Failed:    []domain.Stage{domain.StageRedline},
				Current:   domain.StageExtraction,
			},
			contains: []string{
				"class ingestion committed;",
				"class redline failed;",
				"class extraction current;",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(tt.overlay)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("GenerateMermaid() = \n%v\nWant substring: %v", got, want)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(got, unwanted) {
					t.Errorf("GenerateMermaid() = \n%v\nUnwanted substring: %v", got, unwanted)
				}
			}
		})
	}
}

func TestOverlayFor(t *testing.T) {
	s := &domain.Session{
		Status:      domain.StatusRunning,
		StageCursor: 3,
		Results: domain.StageResults{
			Ingestion:   &domain.IngestionResult{},
			Extraction:  &domain.ExtractionResult{},
			RiskScoring: &domain.RiskScoringResult{},
		},
		Executions: []domain.StageExecution{
			{Stage: domain.StageRedline, Attempt: 1, Success: false},
		},
	}

	o := graph.OverlayFor(s)
	if len(o.Committed) != 3 {
		t.Errorf("Committed = %v, want 3 stages", o.Committed)
	}
	if len(o.Failed) != 1 || o.Failed[0] != domain.StageRedline {
		t.Errorf("Failed = %v, want [redline]", o.Failed)
	}
	if o.Current != domain.StageRedline {
		t.Errorf("Current = %q, want redline", o.Current)
	}

	s.Status = domain.StatusPartial
	if o := graph.OverlayFor(s); o.Current != "" {
		t.Errorf("Current = %q on a terminal session", o.Current)
	}
}
