// Package markdown repairs malformed structural markup in model output
// before generic rendering. The upstream generator routinely emits
// headings without a following space ("##患者信息"), symmetric legacy
// headings ("##主诉：##") and list bullets glued to their text ("-发热").
// Repairs are local and best effort: a line matching no rule passes
// through unchanged, and Normalize never fails.
package markdown

import (
	"strings"
)

const maxHeadingLevel = 6

// Normalize applies the heading and list repairs to text and returns the
// repaired form. It is pure, deterministic and idempotent.
func Normalize(text string) string {
	if text == "" {
		return text
	}

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		repaired := repairLine(line)

		// A heading needs a blank line before it unless it opens the text
		// or already follows one.
		if isHeading(repaired) && len(out) > 0 && strings.TrimSpace(out[len(out)-1]) != "" {
			out = append(out, "")
		}
		out = append(out, repaired)
	}

	return strings.Join(out, "\n")
}

func repairLine(line string) string {
	if fixed, ok := collapseSymmetricHeading(line); ok {
		return fixed
	}
	if fixed, ok := spaceAfterHeadingMarkers(line); ok {
		return fixed
	}
	if fixed, ok := spaceAfterBullet(line); ok {
		return fixed
	}
	return line
}

// collapseSymmetricHeading rewrites "##主诉：##" to "## 主诉：". The line
// must carry a leading run of 2–6 markers and a trailing run of the same
// length around non-empty text.
func collapseSymmetricHeading(line string) (string, bool) {
	lead := leadingRun(line, '#')
	if lead < 2 || lead > maxHeadingLevel {
		return "", false
	}

	rest := strings.TrimRight(line[lead:], " \t")
	trail := trailingRun(rest, '#')
	if trail != lead {
		return "", false
	}

	inner := strings.TrimSpace(rest[:len(rest)-trail])
	if inner == "" || strings.ContainsRune(inner, '#') {
		return "", false
	}

	return strings.Repeat("#", lead) + " " + inner, true
}

// spaceAfterHeadingMarkers rewrites "##患者信息：无" to "## 患者信息：无".
func spaceAfterHeadingMarkers(line string) (string, bool) {
	lead := leadingRun(line, '#')
	if lead < 1 || lead > maxHeadingLevel || lead == len(line) {
		return "", false
	}

	next := line[lead]
	if next == ' ' || next == '\t' || next == '#' {
		return "", false
	}

	return line[:lead] + " " + line[lead:], true
}

// spaceAfterBullet rewrites "-发热" to "- 发热". A doubled marker ("**",
// "--") is emphasis or a rule, not a list item, and is left alone.
func spaceAfterBullet(line string) (string, bool) {
	if len(line) < 2 {
		return "", false
	}

	marker := line[0]
	if marker != '-' && marker != '*' && marker != '+' {
		return "", false
	}

	next := line[1]
	if next == ' ' || next == '\t' || next == marker {
		return "", false
	}

	return line[:1] + " " + line[1:], true
}

func isHeading(line string) bool {
	lead := leadingRun(line, '#')
	if lead < 1 || lead > maxHeadingLevel {
		return false
	}
	return lead == len(line) || line[lead] == ' '
}

func leadingRun(s string, c byte) int {
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	return n
}

func trailingRun(s string, c byte) int {
	n := 0
	for n < len(s) && s[len(s)-1-n] == c {
		n++
	}
	return n
}
