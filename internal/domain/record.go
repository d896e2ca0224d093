package domain

// FragmentKind distinguishes line fragments attached to a record section.
type FragmentKind string

const (
	FragmentBullet       FragmentKind = "bullet"
	FragmentContinuation FragmentKind = "continuation"
)

// Fragment is a bullet item or continuation line belonging to a section
// (or to the record preamble when no section is open yet).
type Fragment struct {
	Kind FragmentKind `json:"kind"`
	Text string       `json:"text"`
}

// Section is a named block of record content, e.g. "主诉" or "Diagnosis".
// Body may be empty for heading-only sections. Fragments preserve the
// original line order of bullets and continuation lines under the heading.
type Section struct {
	Name      string     `json:"name"`
	Body      string     `json:"body"`
	Fragments []Fragment `json:"fragments,omitempty"`
}

// ParsedRecord is the structured form of a reply classified as a clinical
// record. Intro holds acknowledgement lines rendered separately from the
// sections; Leading holds content encountered before the first section.
// Section order reflects original line order and repeated names are kept
// as repeated entries.
type ParsedRecord struct {
	Intro    []string   `json:"intro,omitempty"`
	Leading  []Fragment `json:"leading,omitempty"`
	Sections []Section  `json:"sections"`
}

// BlockRole tags a renderable block so the presentation layer can style
// each structural role without re-parsing.
type BlockRole string

const (
	BlockHeader       BlockRole = "header"
	BlockIntro        BlockRole = "intro"
	BlockSectionTitle BlockRole = "section-title"
	BlockSectionBody  BlockRole = "section-body"
	BlockBullet       BlockRole = "bullet"
	BlockContinuation BlockRole = "continuation"
)

// Block is one renderable unit of a structured record document.
type Block struct {
	Role BlockRole `json:"role"`
	Text string    `json:"text"`
}

// StructuredDocument is the presentation-neutral result of rendering a
// reply. Exactly one of Raw (generic display) or Blocks (sectioned record
// display) is populated.
type StructuredDocument struct {
	Record bool    `json:"record"`
	Raw    string  `json:"raw,omitempty"`
	Blocks []Block `json:"blocks,omitempty"`
}
