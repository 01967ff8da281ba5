// Package audit compiles the read-only audit bundle of a review session.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/redliner/pkg/domain"
)

const disclaimerTemplate = `LEGAL DISCLAIMER

This report was produced by an automated contract review pipeline. It is a screening aid
for preliminary analysis and is not legal advice. Using it does not create an
attorney-client relationship.

Limitations:
- Findings may contain errors or omissions.
- Risk grades come from pattern rules and can miss context.
- Proposed redlines must be reviewed by qualified counsel before use.
- Jurisdiction-specific requirements are not verified.

Have every contract reviewed by a qualified legal professional before acting on it.

Session ID: %s`

// Disclaimer returns the disclaimer embedded in every bundle of a session.
func Disclaimer(sessionID string) string {
	return fmt.Sprintf(disclaimerTemplate, sessionID)
}

// Compiler builds audit bundles from stored sessions.
type Compiler struct {
	now func() time.Time
}

// Option configures the Compiler.
type Option func(*Compiler)

// WithClock sets the source of the CompiledAt marker.
func WithClock(now func() time.Time) Option {
	return func(c *Compiler) { c.now = now }
}

// NewCompiler creates a Compiler.
func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile builds the bundle of a session that finished its run.
// It has no side effects and can be called any number of times.
func (c *Compiler) Compile(s *domain.Session) (*domain.AuditBundle, error) {
	if s == nil {
		return nil, domain.ErrSessionNotFound
	}
	if !s.Status.Terminal() {
		return nil, fmt.Errorf("%w: session %s is %s", domain.ErrNotTerminal, s.ID, s.Status)
	}
	b := Assemble(s, c.now().UTC())
	return &b, nil
}

// Now returns the compiler's current time.
func (c *Compiler) Now() time.Time {
	return c.now().UTC()
}

// Assemble builds a bundle without checking the session status.
// The audit stage uses it mid-run, when the session is still running.
func Assemble(s *domain.Session, at time.Time) domain.AuditBundle {
	b := domain.AuditBundle{
		SessionID:  s.ID,
		UserID:     s.UserID,
		Filename:   s.Filename,
		CreatedAt:  s.CreatedAt,
		Sections:   s.Results.Stages(),
		Executions: lastExecutions(s),
		Disclaimer: Disclaimer(s.ID),
		CompiledAt: at,
	}
	if b.Sections == nil {
		b.Sections = []domain.Stage{}
	}

	if r := s.Results.Extraction; r != nil {
		b.ClausesExtracted = len(r.Clauses)
	}
	if r := s.Results.RiskScoring; r != nil {
		b.RisksIdentified = len(r.RiskAssessments)
		for _, ra := range r.RiskAssessments {
			switch ra.Severity {
			case domain.SeverityHigh:
				b.Severity.High++
			case domain.SeverityMedium:
				b.Severity.Medium++
			case domain.SeverityLow:
				b.Severity.Low++
			}
		}
	}
	if r := s.Results.Redline; r != nil {
		b.RedlinesProposed = len(r.RedlineProposals)
	}
	b.ResultsHash = resultsHash(s.Results)
	return b
}

func lastExecutions(s *domain.Session) []domain.StageExecution {
	out := []domain.StageExecution{}
	for _, st := range domain.Pipeline() {
		if e, ok := s.LastExecution(st); ok {
			out = append(out, e)
		}
	}
	return out
}

// resultsHash digests every section except the audit itself, so the hash embedded
// by the audit stage matches one compiled later.
func resultsHash(r domain.StageResults) string {
	r.Audit = nil
	data, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
