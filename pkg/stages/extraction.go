package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
)

// headingMax is the longest single line still treated as a heading of the next paragraph.
const headingMax = 80

// Extraction splits the normalized text into paragraphs and keeps the ones the
// rulebook classifies as clauses.
type Extraction struct {
	Rules *Rulebook
}

func (Extraction) Stage() domain.Stage { return domain.StageExtraction }

func (e Extraction) Execute(ctx context.Context, s *domain.Session, tools ports.Tools) (domain.StageResults, error) {
	in := s.Results.Ingestion
	if in == nil {
		return domain.StageResults{}, domain.NewStageError(domain.StageExtraction, false, "ingestion result missing")
	}

	clauses := []domain.Clause{}
	for _, p := range splitParagraphs(in.NormalizedText) {
		typ, ok := e.Rules.Classify(p.text)
		if !ok {
			continue
		}
		clauses = append(clauses, domain.Clause{
			ID:         fmt.Sprintf("clause_%d", len(clauses)+1),
			Type:       typ,
			Text:       p.text,
			StartLine:  p.start,
			EndLine:    p.end,
			PageNumber: p.page,
		})
	}
	loggerOf(tools).Debug("clauses extracted", "count", len(clauses))
	return domain.StageResults{Extraction: &domain.ExtractionResult{Clauses: clauses}}, nil
}

type paragraph struct {
	text       string
	start, end int
	page       int
}

// splitParagraphs cuts text on blank lines and page breaks. Line numbers are
// 1-based and count across pages. A lone short line is merged into the
// paragraph that follows it.
func splitParagraphs(text string) []paragraph {
	var (
		out     []paragraph
		cur     []string
		start   int
		pending *paragraph
	)
	flush := func(end, page int) {
		if len(cur) == 0 {
			return
		}
		p := paragraph{text: strings.Join(cur, "\n"), start: start, end: end, page: page}
		cur = nil
		if pending != nil {
			p.text = pending.text + "\n" + p.text
			p.start = pending.start
			pending = nil
		}
		if p.start == p.end && len(p.text) <= headingMax && !strings.HasSuffix(p.text, ".") {
			pending = &p
			return
		}
		out = append(out, p)
	}

	line := 0
	for pi, page := range strings.Split(text, PageBreak) {
		for _, l := range strings.Split(page, "\n") {
			line++
			if strings.TrimSpace(l) == "" {
				flush(line-1, pi+1)
				continue
			}
			if len(cur) == 0 {
				start = line
			}
			cur = append(cur, strings.TrimSpace(l))
		}
		flush(line, pi+1)
	}
	if pending != nil {
		out = append(out, *pending)
	}
	return out
}
