package content

import "strings"

// Section is a heading and the content blocks that follow it until the next heading.
type Section struct {
	Heading string   `json:"heading"`
	Level   int      `json:"level"`
	Blocks  []string `json:"blocks,omitempty"`
	Items   []string `json:"items,omitempty"`
}

// Answer joins the section's blocks and list items into a single reply.
func (s Section) Answer() string {
	parts := make([]string, 0, len(s.Blocks)+1)
	for _, b := range s.Blocks {
		if b = collapse(b); b != "" {
			parts = append(parts, b)
		}
	}
	items := make([]string, 0, len(s.Items))
	for _, it := range s.Items {
		if it = collapse(it); it != "" {
			items = append(items, it)
		}
	}
	if len(items) > 0 {
		parts = append(parts, strings.Join(items, "; "))
	}
	return strings.Join(parts, " ")
}

// FAQ is a question/answer pair found on a page.
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Valid reports whether both sides of the pair are present.
func (f FAQ) Valid() bool {
	return strings.TrimSpace(f.Question) != "" && strings.TrimSpace(f.Answer) != ""
}

// Document is the queryable page structure consumed by the knowledge base importer.
type Document struct {
	Title    string    `json:"title,omitempty"`
	Source   string    `json:"source,omitempty"`
	Sections []Section `json:"sections"`
	FAQs     []FAQ     `json:"faqs,omitempty"`
}

// Empty reports whether the document has nothing to import.
func (d *Document) Empty() bool {
	return d == nil || (len(d.Sections) == 0 && len(d.FAQs) == 0)
}

// collapse trims s and folds runs of whitespace into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// isQuestion reports whether a heading reads as a question.
func isQuestion(s string) bool {
	return strings.HasSuffix(strings.TrimSpace(s), "?")
}
