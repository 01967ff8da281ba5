/*
Package ports defines the driven ports (interfaces) for the redliner pipeline.

These interfaces decouple the orchestration core from external implementations,
allowing the pipeline to work with various storage backends, stage executors,
document stores and observability sinks.

# Key Interfaces

  - SessionStore: The serialized, per-session gateway every pipeline write goes through.
  - StateStore: Responsible for persisting and loading whole Session records.
  - DistributedLocker: Provides distributed locking for handling concurrent session access.
  - StageExecutor: One opaque step of the pipeline.
  - ObservabilityHooks: Receives stage start and end events.
  - DocumentStore: Holds the original uploaded bytes.
*/
package ports
