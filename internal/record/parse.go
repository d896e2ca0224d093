package record

import (
	"regexp"
	"strings"

	"github.com/medai/consultd/internal/domain"
)

// introPhrases mark acknowledgement lines the generator prepends to a
// record ("根据您提供的资料，我将整理成病历记录…"). They are rendered
// separately, never as sections.
var introPhrases = []string{
	"根据您提供的资料",
	"我将整理成病历记录",
}

var (
	// New format: the whole label wrapped in double markers, optional
	// colon, optional remainder on the same line.
	newFormatLineRe = regexp.MustCompile(`^\*\*([^*]+)\*\*\s*[：:]?\s*(.*)$`)

	// Old format: a lone marker, then a wrapped label with possibly
	// asymmetric closing markers, optional colon, optional remainder.
	oldFormatLineRe = regexp.MustCompile(`^\*\s*\*([^*]+)\*\*?\s*[：:]?\s*(.*)$`)

	numberedItemRe = regexp.MustCompile(`^\d+\.\s`)
	itemPrefixRe   = regexp.MustCompile(`^(\d+\.\s*|-\s*)`)
)

// lineKind tags the outcome of matching a single record line.
type lineKind int

const (
	lineIntro lineKind = iota
	lineNewFormat
	lineOldFormat
	lineBullet
	lineContinuation
)

// lineMatch is the structured result of matching one trimmed line.
type lineMatch struct {
	kind lineKind
	name string // section name for lineNewFormat / lineOldFormat
	text string // body, bullet text or continuation text
}

// matchLine classifies one trimmed, non-blank line. Matchers run in fixed
// priority order and short-circuit on first success: the new format must
// be tried before the old one because an old-format match would also
// consume a well-formed "**label**" heading.
func matchLine(line string) lineMatch {
	for _, phrase := range introPhrases {
		if strings.Contains(line, phrase) {
			return lineMatch{kind: lineIntro, text: line}
		}
	}

	if m := newFormatLineRe.FindStringSubmatch(line); m != nil {
		// The colon often sits inside the markers ("**主诉：**"); it
		// belongs to the markup, not the section name.
		name := strings.TrimSpace(m[1])
		name = strings.TrimRight(name, "：:")
		return lineMatch{
			kind: lineNewFormat,
			name: name,
			text: strings.TrimSpace(m[2]),
		}
	}

	if m := oldFormatLineRe.FindStringSubmatch(line); m != nil {
		name := strings.TrimSpace(m[1])
		name = strings.TrimRight(name, "：:")
		return lineMatch{
			kind: lineOldFormat,
			name: name,
			text: strings.TrimSpace(m[2]),
		}
	}

	if numberedItemRe.MatchString(line) || strings.HasPrefix(line, "- ") {
		return lineMatch{kind: lineBullet, text: itemPrefixRe.ReplaceAllString(line, "")}
	}

	if strings.HasPrefix(line, "-") {
		return lineMatch{kind: lineBullet, text: strings.TrimSpace(line[1:])}
	}

	return lineMatch{kind: lineContinuation, text: line}
}

// ParseSections splits record text into its ordered sections. It operates
// line by line on trimmed lines, dropping blanks. Bullets and
// continuation lines attach to the most recently opened section; lines
// arriving before any section collect in Leading. Repeated section names
// produce repeated entries — nothing is merged or deduplicated.
func ParseSections(text string) domain.ParsedRecord {
	var rec domain.ParsedRecord

	appendFragment := func(f domain.Fragment) {
		if len(rec.Sections) == 0 {
			rec.Leading = append(rec.Leading, f)
			return
		}
		cur := &rec.Sections[len(rec.Sections)-1]
		cur.Fragments = append(cur.Fragments, f)
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		m := matchLine(line)
		switch m.kind {
		case lineIntro:
			rec.Intro = append(rec.Intro, m.text)
		case lineNewFormat, lineOldFormat:
			rec.Sections = append(rec.Sections, domain.Section{Name: m.name, Body: m.text})
		case lineBullet:
			appendFragment(domain.Fragment{Kind: domain.FragmentBullet, Text: m.text})
		case lineContinuation:
			appendFragment(domain.Fragment{Kind: domain.FragmentContinuation, Text: m.text})
		}
	}

	return rec
}
