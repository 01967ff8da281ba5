package stages

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var typographic = strings.NewReplacer(
	"\u2018", "'",
	"\u2019", "'",
	"\u201c", `"`,
	"\u201d", `"`,
	"\u2013", "-",
	"\u2014", "--",
	"\u2026", "...",
	"\u00a0", " ",
	"\u00ad", "",
	"\ufeff", "",
	"\t", "    ",
)

var (
	innerSpaces = regexp.MustCompile(` {2,}`)
	blankRuns   = regexp.MustCompile(`\n{3,}`)
)

// Normalize cleans one page of contract text: NFC form, ASCII punctuation,
// unified line endings, collapsed inner whitespace and at most one blank line in a row.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = typographic.Replace(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		indent := len(line) - len(trimmed)
		lines[i] = strings.Repeat(" ", indent) + strings.TrimRight(innerSpaces.ReplaceAllString(trimmed, " "), " ")
	}
	text = strings.Join(lines, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.Trim(text, "\n")
}
