package domain

import "time"

// StageExecution records one attempt of one stage.
// Executions are append-only; the audit uses the last entry per stage.
type StageExecution struct {
	Stage     Stage     `json:"stage"`
	Attempt   int       `json:"attempt"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Success   bool      `json:"success"`

	// InputHash and OutputHash are SHA-256 digests of the snapshot handed to the
	// executor and of the update it returned.
	InputHash  string `json:"input_hash"`
	OutputHash string `json:"output_hash,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	Retryable    bool   `json:"retryable,omitempty"`
}

// Duration is the wall time of the attempt.
func (e StageExecution) Duration() time.Duration {
	return e.EndedAt.Sub(e.StartedAt)
}
