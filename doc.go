/*
Package redliner is a staged contract-review pipeline with durable, resumable sessions.

A document uploaded for review becomes a session. The session walks a fixed pipeline of
six stages (ingestion, extraction, risk scoring, redline, summary, audit) and every stage
commits its section of the results exactly once. A run that stops halfway, because of a
crash, a timeout or a shutdown, resumes from the first stage without a committed result.

# Concept

The Orchestrator owns the control flow. Stage executors are pure functions of a session
snapshot: they return a single-section update and never write to the store themselves.
Ingestion, extraction and risk scoring are mandatory; when one of them fails the session
is marked failed. Redline, summary and audit are best-effort; when one of them fails the
run continues and ends as partial.

When every stage has committed, the audit stage embeds a bundle with the input and results
hashes, the per-stage execution trail and the severity counts of the assessed clauses.

# Usage

	cfg := config.Default()
	eng, err := redliner.New(cfg, redliner.WithInlineRuns())
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close(context.Background())

	sess, err := eng.Review().Submit(ctx, review.Upload{
		UserID:   "legal-team",
		Filename: "msa.txt",
		Data:     data,
	}, true)

The same Engine backs the HTTP server, the MCP server and the command line tool in
cmd/redliner.

# Storage

Session records go to memory, a directory of JSON files or Redis (with a distributed lock
so several processes can share it), optionally sealed with AES-GCM. Uploaded documents go
to memory, a directory or an S3-compatible bucket.
*/
package redliner
