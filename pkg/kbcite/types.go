// Package kbcite ranks knowledge-base documents as citations for a query.
package kbcite

// Mode is a named operating context that selects a document set.
type Mode string

const (
	ModeOperator  Mode = "operator"
	ModeMarketing Mode = "marketing"
	ModeStrategic Mode = "strategic"
)

// Heading is a markdown section marker found in a document.
type Heading struct {
	Level  int    `json:"level"`  // 1-6, the number of leading '#'
	Text   string `json:"text"`   // heading text, trimmed
	Anchor string `json:"anchor"` // URL-fragment slug of Text
}

// Document is one knowledge-base file. Immutable once loaded.
type Document struct {
	Filename string    `json:"filename"` // unique within a KBVersion
	Content  string    `json:"content"`
	Headings []Heading `json:"headings"`
}

// KBVersion is the document set loaded for one mode.
type KBVersion struct {
	Fingerprint string     `json:"fingerprint"`
	Docs        []Document `json:"docs"` // load order
	Mode        Mode       `json:"mode"`
}

// Citation is a scored reference from a query to a document and, optionally, a section.
type Citation struct {
	Doc    string  `json:"doc"`
	Anchor string  `json:"anchor,omitempty"`
	Score  float64 `json:"score,omitempty"`
}
