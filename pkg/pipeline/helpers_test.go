package pipeline_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
)

type fakeExecutor struct {
	stage domain.Stage
	calls atomic.Int32
	fn    func(ctx context.Context, snap *domain.Session) (domain.StageResults, error)
}

func (f *fakeExecutor) Stage() domain.Stage { return f.stage }

func (f *fakeExecutor) Execute(ctx context.Context, snap *domain.Session, tools ports.Tools) (domain.StageResults, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, snap)
	}
	return okUpdate(f.stage), nil
}

func okUpdate(stage domain.Stage) domain.StageResults {
	switch stage {
	case domain.StageIngestion:
		return domain.StageResults{Ingestion: &domain.IngestionResult{NormalizedText: "text"}}
	case domain.StageExtraction:
		return domain.StageResults{Extraction: &domain.ExtractionResult{Clauses: []domain.Clause{{ID: "clause_1"}}}}
	case domain.StageRiskScoring:
		return domain.StageResults{RiskScoring: &domain.RiskScoringResult{RiskAssessments: []domain.RiskAssessment{{ClauseID: "clause_1", Severity: domain.SeverityLow}}}}
	case domain.StageRedline:
		return domain.StageResults{Redline: &domain.RedlineResult{}}
	case domain.StageSummary:
		return domain.StageResults{Summary: &domain.SummaryResult{}}
	case domain.StageAudit:
		return domain.StageResults{Audit: &domain.AuditResult{}}
	}
	return domain.StageResults{}
}

type fakeSet map[domain.Stage]*fakeExecutor

func newFakes() fakeSet {
	set := fakeSet{}
	for _, st := range domain.Pipeline() {
		set[st] = &fakeExecutor{stage: st}
	}
	return set
}

func (s fakeSet) executors() []ports.StageExecutor {
	out := make([]ports.StageExecutor, 0, len(s))
	for _, st := range domain.Pipeline() {
		out = append(out, s[st])
	}
	return out
}

func (s fakeSet) calls() map[domain.Stage]int32 {
	out := map[domain.Stage]int32{}
	for st, f := range s {
		out[st] = f.calls.Load()
	}
	return out
}

// fakeClock advances one second per Now and records requested sleeps without waiting.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// recordingHooks counts hook invocations.
type recordingHooks struct {
	mu     sync.Mutex
	starts   []domain.Stage
	ends     []bool
	finished []domain.Status
}

func (h *recordingHooks) OnStageStart(ctx context.Context, id string, stage domain.Stage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, stage)
}

func (h *recordingHooks) OnStageEnd(ctx context.Context, id string, stage domain.Stage, success bool, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ends = append(h.ends, success)
}

func (h *recordingHooks) OnRunFinished(ctx context.Context, s *domain.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = append(h.finished, s.Status)
}

type panickingHooks struct{}

func (panickingHooks) OnStageStart(context.Context, string, domain.Stage) { panic("start boom") }
func (panickingHooks) OnStageEnd(context.Context, string, domain.Stage, bool, time.Duration) {
	panic("end boom")
}
