package stages

import (
	"regexp"
	"strings"

	"github.com/aretw0/redliner/pkg/domain"
)

var (
	partyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`between\s+([A-Z][A-Za-z&.,\s]+?)\s*(?:\(|,\s+an?\s)`),
		regexp.MustCompile(`\band\s+([A-Z][A-Za-z&.,\s]+?)\s*(?:\(|,\s+an?\s)`),
		regexp.MustCompile(`(?m)Party:\s*([A-Z][A-Za-z&.,\s]+?)\s*$`),
	}
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`dated?\s+(?:as\s+of\s+)?([A-Z][a-z]+\s+\d{1,2},?\s+\d{4})`),
		regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`),
		regexp.MustCompile(`\b(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})\b`),
		regexp.MustCompile(`\b([A-Z][a-z]+\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4})\b`),
	}
	jurisdictionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)governed\s+by\s+the\s+laws?\s+of\s+(?:the\s+)?([A-Za-z][A-Za-z\s]+?)(?:\.|,|\s+without)`),
		regexp.MustCompile(`(?i)jurisdiction\s+of\s+the\s+courts?\s+of\s+(?:the\s+)?([A-Za-z][A-Za-z\s]+?)(?:\.|,)`),
	}
	contractTypes = []struct {
		name     string
		keywords []string
	}{
		{"NDA", []string{"non-disclosure", "nda", "confidentiality agreement"}},
		{"MSA", []string{"master service", "msa"}},
		{"SLA", []string{"service level"}},
		{"EMPLOYMENT", []string{"employment agreement", "employment contract"}},
		{"VENDOR", []string{"vendor agreement", "supplier agreement"}},
		{"LICENSE", []string{"license agreement", "licensing"}},
		{"LEASE", []string{"lease agreement", "rental agreement"}},
	}
	spaces = regexp.MustCompile(`\s+`)
)

const headerWindow = 2000

// ExtractMetadata finds parties, date, jurisdiction and contract type.
// Parties and dates are only searched for in the document header.
func ExtractMetadata(text string) domain.ContractMetadata {
	header := text
	if len(header) > headerWindow {
		header = header[:headerWindow]
	}

	md := domain.ContractMetadata{Parties: []string{}}
	seen := map[string]bool{}
	for _, re := range partyPatterns {
		for _, m := range re.FindAllStringSubmatch(header, -1) {
			party := strings.TrimRight(spaces.ReplaceAllString(strings.TrimSpace(m[1]), " "), ".,;")
			if len(party) > 3 && !seen[party] {
				seen[party] = true
				md.Parties = append(md.Parties, party)
			}
		}
	}
	if len(md.Parties) > 5 {
		md.Parties = md.Parties[:5]
	}

	for _, re := range datePatterns {
		if m := re.FindStringSubmatch(header); m != nil {
			md.Date = m[1]
			break
		}
	}
	for _, re := range jurisdictionPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			md.Jurisdiction = strings.TrimSpace(spaces.ReplaceAllString(m[1], " "))
			break
		}
	}

	lower := strings.ToLower(text)
	if len(lower) > 3000 {
		lower = lower[:3000]
	}
	for _, ct := range contractTypes {
		for _, kw := range ct.keywords {
			if strings.Contains(lower, kw) {
				md.ContractType = ct.name
				return md
			}
		}
	}
	return md
}
