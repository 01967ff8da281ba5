package observability

import (
	"context"
	"time"

	"github.com/aretw0/redliner/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus records per-stage invocation counts, latencies and result sizes.
type Prometheus struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inflight   *prometheus.GaugeVec
	clauses    prometheus.Counter
	highRisks  prometheus.Counter
	runs       *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg.
// It panics if they are already registered, like prometheus.MustRegister.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redliner_stage_executions_total",
			Help: "Stage executor invocations by outcome.",
		}, []string{"stage", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redliner_stage_duration_seconds",
			Help:    "Duration of stage executor invocations.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"stage"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "redliner_stage_inflight",
			Help: "Stage executor invocations currently running.",
		}, []string{"stage"}),
		clauses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redliner_clauses_extracted_total",
			Help: "Clauses committed by the extraction stage.",
		}),
		highRisks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redliner_high_risks_total",
			Help: "High severity risks committed by the risk scoring stage.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redliner_runs_finished_total",
			Help: "Pipeline runs by terminal status.",
		}, []string{"status"}),
	}
	reg.MustRegister(p.executions, p.duration, p.inflight, p.clauses, p.highRisks, p.runs)
	return p
}

func (p *Prometheus) OnStageStart(_ context.Context, _ string, stage domain.Stage) {
	p.inflight.WithLabelValues(string(stage)).Inc()
}

func (p *Prometheus) OnStageEnd(_ context.Context, _ string, stage domain.Stage, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	p.inflight.WithLabelValues(string(stage)).Dec()
	p.executions.WithLabelValues(string(stage), outcome).Inc()
	p.duration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (p *Prometheus) OnStageCommitted(_ context.Context, s *domain.Session, stage domain.Stage) {
	switch stage {
	case domain.StageExtraction:
		if r := s.Results.Extraction; r != nil {
			p.clauses.Add(float64(len(r.Clauses)))
		}
	case domain.StageRiskScoring:
		if r := s.Results.RiskScoring; r != nil {
			for _, ra := range r.RiskAssessments {
				if ra.Severity == domain.SeverityHigh {
					p.highRisks.Inc()
				}
			}
		}
	}
}

func (p *Prometheus) OnRunFinished(_ context.Context, s *domain.Session) {
	p.runs.WithLabelValues(string(s.Status)).Inc()
}
