/*
Package pipeline sequences the six review stages for a session.

The Orchestrator claims a session, skips every stage whose result is already committed,
invokes the remaining executors in order and commits each result through the
ports.SessionStore. Failures are retried under a RetryPolicy and then classified by the
stage: mandatory stages halt the run, best-effort stages are recorded and skipped.

The Dispatcher runs claimed sessions on a bounded worker pool so callers get an immediate
accepted or busy answer.
*/
package pipeline
