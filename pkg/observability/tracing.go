package observability

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/redliner/pkg/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracing opens one span per stage invocation.
// Spans are children of the span carried by the run context, if any.
type Tracing struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[spanKey]trace.Span
}

type spanKey struct {
	session string
	stage   domain.Stage
}

func NewTracing(tracer trace.Tracer) *Tracing {
	return &Tracing{tracer: tracer, spans: make(map[spanKey]trace.Span)}
}

func (t *Tracing) OnStageStart(ctx context.Context, id string, stage domain.Stage) {
	_, span := t.tracer.Start(ctx, "redliner.stage."+string(stage),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("redliner.session_id", id),
			attribute.String("redliner.stage", string(stage)),
		),
	)

	t.mu.Lock()
	if prev, ok := t.spans[spanKey{id, stage}]; ok {
		prev.End()
	}
	t.spans[spanKey{id, stage}] = span
	t.mu.Unlock()
}

func (t *Tracing) OnStageEnd(_ context.Context, id string, stage domain.Stage, success bool, d time.Duration) {
	t.mu.Lock()
	span, ok := t.spans[spanKey{id, stage}]
	delete(t.spans, spanKey{id, stage})
	t.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(
		attribute.Bool("success", success),
		attribute.Int64("redliner.duration_ms", d.Milliseconds()),
	)
	if !success {
		span.SetStatus(codes.Error, "stage failed")
	}
	span.End()
}
