package stages

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"slices"

	"github.com/aretw0/redliner/pkg/domain"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// ClausePattern classifies paragraphs into a clause type.
type ClausePattern struct {
	Type     string   `yaml:"type"`
	Patterns []string `yaml:"patterns"`

	compiled []*regexp.Regexp
}

// RiskRule grades clauses whose text matches Pattern.
// An empty ClauseTypes applies the rule to every clause.
type RiskRule struct {
	Name        string          `yaml:"name"`
	Pattern     string          `yaml:"pattern"`
	Severity    domain.Severity `yaml:"severity"`
	RiskType    string          `yaml:"risk_type"`
	Explanation string          `yaml:"explanation"`
	ClauseTypes []string        `yaml:"clause_types"`

	compiled *regexp.Regexp
}

// Template is replacement wording offered by the redline stage.
type Template struct {
	ID          string            `yaml:"id"`
	ClauseTypes []string          `yaml:"clause_types"`
	Severity    []domain.Severity `yaml:"severity"`
	Text        string            `yaml:"text"`
	Rationale   string            `yaml:"rationale"`
}

// Rulebook drives the rule-based executors.
type Rulebook struct {
	Clauses     []ClausePattern `yaml:"clauses"`
	Risks       []RiskRule      `yaml:"risks"`
	DefaultRisk struct {
		Severity    domain.Severity `yaml:"severity"`
		RiskType    string          `yaml:"risk_type"`
		Explanation string          `yaml:"explanation"`
	} `yaml:"default_risk"`
	Redline struct {
		MinSeverity domain.Severity `yaml:"min_severity"`
	} `yaml:"redline"`
	Templates []Template `yaml:"templates"`
}

// DefaultRulebook returns the embedded rulebook.
func DefaultRulebook() *Rulebook {
	rb, err := ParseRulebook(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded rulebook is invalid: %v", err))
	}
	return rb
}

// LoadRulebook reads a rulebook from a YAML file.
func LoadRulebook(path string) (*Rulebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rulebook: %w", err)
	}
	rb, err := ParseRulebook(data)
	if err != nil {
		return nil, fmt.Errorf("invalid rulebook %s: %w", path, err)
	}
	return rb, nil
}

// ParseRulebook decodes and validates a YAML rulebook.
func ParseRulebook(data []byte) (*Rulebook, error) {
	var rb Rulebook
	if err := yaml.Unmarshal(data, &rb); err != nil {
		return nil, fmt.Errorf("failed to parse rulebook: %w", err)
	}
	if err := rb.compile(); err != nil {
		return nil, err
	}
	return &rb, nil
}

func compilePattern(p string) (*regexp.Regexp, error) {
	// Case-insensitive, and '.' spans the line breaks inside a paragraph.
	return regexp.Compile("(?is)" + p)
}

func (rb *Rulebook) compile() error {
	if len(rb.Clauses) == 0 {
		return fmt.Errorf("rulebook defines no clause patterns")
	}
	for i := range rb.Clauses {
		c := &rb.Clauses[i]
		if c.Type == "" {
			return fmt.Errorf("clause pattern %d has no type", i)
		}
		c.compiled = c.compiled[:0]
		for _, p := range c.Patterns {
			re, err := compilePattern(p)
			if err != nil {
				return fmt.Errorf("clause %s: %w", c.Type, err)
			}
			c.compiled = append(c.compiled, re)
		}
	}
	for i := range rb.Risks {
		r := &rb.Risks[i]
		if !r.Severity.Valid() {
			return fmt.Errorf("risk rule %s: invalid severity %q", r.Name, r.Severity)
		}
		re, err := compilePattern(r.Pattern)
		if err != nil {
			return fmt.Errorf("risk rule %s: %w", r.Name, err)
		}
		r.compiled = re
	}
	if rb.DefaultRisk.Severity == "" {
		rb.DefaultRisk.Severity = domain.SeverityLow
	}
	if !rb.DefaultRisk.Severity.Valid() {
		return fmt.Errorf("default risk: invalid severity %q", rb.DefaultRisk.Severity)
	}
	if rb.Redline.MinSeverity == "" {
		rb.Redline.MinSeverity = domain.SeverityMedium
	}
	if !rb.Redline.MinSeverity.Valid() {
		return fmt.Errorf("redline: invalid min_severity %q", rb.Redline.MinSeverity)
	}
	return nil
}

// Classify returns the first clause type whose patterns match text.
func (rb *Rulebook) Classify(text string) (string, bool) {
	for _, c := range rb.Clauses {
		for _, re := range c.compiled {
			if re.MatchString(text) {
				return c.Type, true
			}
		}
	}
	return "", false
}

// Assess grades a clause with the most severe matching rule, or the default risk.
func (rb *Rulebook) Assess(c domain.Clause) domain.RiskAssessment {
	var best *RiskRule
	var matched string
	for i := range rb.Risks {
		r := &rb.Risks[i]
		if len(r.ClauseTypes) > 0 && !slices.Contains(r.ClauseTypes, c.Type) {
			continue
		}
		m := r.compiled.FindString(c.Text)
		if m == "" {
			continue
		}
		if best == nil || r.Severity.Rank() > best.Severity.Rank() {
			best, matched = r, m
		}
	}
	if best == nil {
		return domain.RiskAssessment{
			ClauseID:    c.ID,
			Severity:    rb.DefaultRisk.Severity,
			RiskType:    rb.DefaultRisk.RiskType,
			Explanation: rb.DefaultRisk.Explanation,
		}
	}
	return domain.RiskAssessment{
		ClauseID:    c.ID,
		Severity:    best.Severity,
		RiskType:    best.RiskType,
		Explanation: best.Explanation,
		Rationale:   fmt.Sprintf("rule %s matched %q", best.Name, matched),
	}
}

// Template returns the best template for a clause type and severity: an exact
// match on both first, then any template for the clause type.
func (rb *Rulebook) Template(clauseType string, sev domain.Severity) (Template, bool) {
	var fallback *Template
	for i := range rb.Templates {
		t := &rb.Templates[i]
		if !slices.Contains(t.ClauseTypes, clauseType) {
			continue
		}
		if slices.Contains(t.Severity, sev) {
			return *t, true
		}
		if fallback == nil {
			fallback = t
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Template{}, false
}
