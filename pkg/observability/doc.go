/*
Package observability provides sinks for the pipeline's stage hooks.

Every sink implements ports.ObservabilityHooks and can be combined with Multi:

	hooks := observability.Multi(
		observability.NewSlog(logger),
		observability.NewPrometheus(prometheus.DefaultRegisterer),
		observability.NewTracing(otel.Tracer("redliner")),
	)

Sinks that also implement ports.ResultObserver (Prometheus) are told about every
committed stage result, which lets them count clauses and high-severity risks.
Sinks that implement ports.RunObserver hear about each terminal status.

A sink that panics is logged by MultiWithLogger and does not stop the sinks after it.
*/
package observability
