package content

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	bulletPattern  = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+(.+)$`)
	questionPrefix = regexp.MustCompile(`(?i)^\s*(?:\*\*)?q(?:uestion)?\s*:\s*(?:\*\*)?\s*(.+)$`)
	answerPrefix   = regexp.MustCompile(`(?i)^\s*(?:\*\*)?a(?:nswer)?\s*:\s*(?:\*\*)?\s*(.+)$`)
)

// ParseMarkdown builds a Document from Markdown. ATX headings open sections,
// bullet and numbered lines become list items, consecutive text lines form a
// paragraph block, and "Q:"/"A:" line pairs become FAQ entries.
func ParseMarkdown(r io.Reader) (*Document, error) {
	out := &Document{}
	var (
		cur       *Section
		paragraph []string
		question  string
		inFence   bool
	)

	flush := func() {
		if len(paragraph) > 0 && cur != nil {
			cur.Blocks = append(cur.Blocks, collapse(strings.Join(paragraph, " ")))
		}
		paragraph = nil
	}
	closeSection := func() {
		flush()
		if cur == nil {
			return
		}
		if isQuestion(cur.Heading) {
			out.FAQs = append(out.FAQs, FAQ{Question: cur.Heading, Answer: cur.Answer()})
		} else {
			out.Sections = append(out.Sections, *cur)
		}
		cur = nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}

		if heading, level := parseHeading(line); heading != "" {
			closeSection()
			if level == 1 && out.Title == "" {
				out.Title = heading
			}
			cur = &Section{Heading: heading, Level: level}
			continue
		}

		if m := questionPrefix.FindStringSubmatch(line); m != nil {
			flush()
			question = collapse(m[1])
			continue
		}
		if m := answerPrefix.FindStringSubmatch(line); m != nil && question != "" {
			flush()
			if f := (FAQ{Question: question, Answer: collapse(m[1])}); f.Valid() {
				out.FAQs = append(out.FAQs, f)
			}
			question = ""
			continue
		}

		if trimmed == "" {
			flush()
			continue
		}
		if cur == nil {
			// 首个标题之前的内容不归属任何 section
			continue
		}
		if m := bulletPattern.FindStringSubmatch(line); m != nil {
			flush()
			cur.Items = append(cur.Items, collapse(m[1]))
			continue
		}
		paragraph = append(paragraph, trimmed)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse markdown: %w", err)
	}
	closeSection()
	return out, nil
}

// parseHeading returns the text and level of an ATX heading line.
func parseHeading(line string) (heading string, level int) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", 0
	}
	for _, ch := range trimmed {
		if ch != '#' {
			break
		}
		level++
	}
	if level > 6 {
		return "", 0
	}
	heading = strings.TrimSpace(strings.TrimRight(trimmed[level:], "#"))
	if heading == "" {
		return "", 0
	}
	return heading, level
}
