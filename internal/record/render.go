package record

import (
	"github.com/medai/consultd/internal/domain"
)

// recordHeader is the fixed bilingual banner shown above every rendered
// record.
const recordHeader = "医疗记录 / Medical Record"

// Render maps a reply to a presentation-neutral structured document.
// Unclassified text becomes a raw passthrough document; classified text
// becomes an ordered block list the UI can style per role. Exactly one of
// the two forms is produced.
func Render(classified bool, parsed domain.ParsedRecord, rawText string) domain.StructuredDocument {
	if !classified {
		return domain.StructuredDocument{Record: false, Raw: rawText}
	}

	blocks := []domain.Block{{Role: domain.BlockHeader, Text: recordHeader}}

	for _, line := range parsed.Intro {
		blocks = append(blocks, domain.Block{Role: domain.BlockIntro, Text: line})
	}

	blocks = appendFragments(blocks, parsed.Leading)

	for _, sec := range parsed.Sections {
		blocks = append(blocks, domain.Block{Role: domain.BlockSectionTitle, Text: sec.Name})
		if sec.Body != "" {
			blocks = append(blocks, domain.Block{Role: domain.BlockSectionBody, Text: sec.Body})
		}
		blocks = appendFragments(blocks, sec.Fragments)
	}

	return domain.StructuredDocument{Record: true, Blocks: blocks}
}

func appendFragments(blocks []domain.Block, frags []domain.Fragment) []domain.Block {
	for _, f := range frags {
		role := domain.BlockContinuation
		if f.Kind == domain.FragmentBullet {
			role = domain.BlockBullet
		}
		blocks = append(blocks, domain.Block{Role: role, Text: f.Text})
	}
	return blocks
}
