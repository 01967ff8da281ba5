/*
Package domain contains the core domain models of the redliner review pipeline.

It defines the session record that the pipeline mutates, the fixed stage order,
the per-stage result schema and the derived audit bundle. This package is kept
pure and free of external dependencies like I/O or persistence, following
Hexagonal Architecture principles.

# Key Entities

  - Session: The persistent record of one document review (status, cursor, results, executions).
  - Stage: One of the six pipeline steps, in a fixed order.
  - StageResults: One optional, write-once field per stage.
  - StageExecution: An append-only trace entry for every attempt of a stage.
  - AuditBundle: A read-only summary compiled from a session.
*/
package domain
