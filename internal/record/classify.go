// Package record decides whether an assistant reply is a clinical record
// and, if so, parses it into ordered sections. The upstream generator has
// produced two markup conventions over time: a "new format" that wraps
// section labels in double emphasis markers ("**主诉：**") and an older
// one that prefixes them with a lone marker ("* *主诉：**"). Both are
// still seen in the wild and both must be recognized without flagging
// ordinary chat text.
package record

import (
	"regexp"
	"strings"

	"github.com/medai/consultd/internal/domain"
)

// sectionKeywords is the fixed bilingual vocabulary of clinical section
// names. Exact substring match, matching the upstream prompt templates.
var sectionKeywords = []string{
	"病历记录", "Medical Record",
	"患者信息",
	"主诉", "Chief Complaint",
	"现病史", "Present Illness",
	"既往史", "Past Medical History",
	"过敏史", "Allergies",
	"家族史", "Family History",
	"体格检查", "Physical Examination",
	"辅助检查", "Auxiliary Examination",
	"诊断", "Diagnosis",
	"处置意见", "Treatment Plan",
	"中医辩证", "TCM Diagnosis",
	"中药处方", "TCM Prescription",
}

var (
	// New format: a label wrapped in double markers, optional full-width
	// or ASCII colon, anywhere in the text.
	newFormatRe = regexp.MustCompile(`\*\*[^*]+\*\*\s*[：:]?\s*`)

	// Legacy fallback: the old format repeats a "* *" marker pair per
	// section, so three or more occurrences signal a sectioned record.
	doubleMarkerRe = regexp.MustCompile(`\*\s*\*`)
)

// doubleMarkerThreshold is the minimum number of marker-pair fragments
// for the legacy-format fallback to trigger. Short replies that merely
// emphasize a couple of words stay below it.
const doubleMarkerThreshold = 3

// IsRecord reports whether text represents a structured clinical record.
// Only assistant replies can be records; user text never is. The check is
// heuristic by design: keyword presence, a new-format heading, or enough
// legacy marker pairs. It must run on the raw reply, before any markup
// normalization, so both conventions remain recognizable.
func IsRecord(text string, role domain.Role) bool {
	if role != domain.RoleAssistant {
		return false
	}

	for _, kw := range sectionKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}

	if newFormatRe.MatchString(text) {
		return true
	}

	return len(doubleMarkerRe.FindAllStringIndex(text, -1)) >= doubleMarkerThreshold
}
