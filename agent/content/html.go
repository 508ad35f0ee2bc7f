package content

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const headingSelector = "h1, h2, h3, h4, h5, h6"

// ParseHTML builds a Document from an HTML page: headings with their
// following siblings, list items, and FAQ pairs from <dl>, <details> and
// .faq-question/.faq-answer markup. Question headings become FAQ pairs.
func ParseHTML(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	out := &Document{Title: collapse(doc.Find("title").First().Text())}

	doc.Find(headingSelector).Each(func(_ int, h *goquery.Selection) {
		heading := collapse(h.Text())
		if heading == "" {
			return
		}
		sec := Section{Heading: heading, Level: headingLevel(h)}
		h.NextUntil(headingSelector).Each(func(_ int, sib *goquery.Selection) {
			collectBlock(&sec, sib)
		})
		if isQuestion(heading) {
			out.FAQs = append(out.FAQs, FAQ{Question: heading, Answer: sec.Answer()})
			return
		}
		out.Sections = append(out.Sections, sec)
	})

	out.FAQs = append(out.FAQs, parseFAQMarkup(doc)...)
	return out, nil
}

// ParseHTMLString is ParseHTML over a string.
func ParseHTMLString(s string) (*Document, error) {
	return ParseHTML(strings.NewReader(s))
}

func headingLevel(h *goquery.Selection) int {
	name := goquery.NodeName(h)
	if len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6' {
		return int(name[1] - '0')
	}
	return 0
}

func collectBlock(sec *Section, sib *goquery.Selection) {
	switch {
	case sib.Is("ul, ol"):
		sib.Children().Filter("li").Each(func(_ int, li *goquery.Selection) {
			if t := collapse(li.Text()); t != "" {
				sec.Items = append(sec.Items, t)
			}
		})
	case sib.Is("dl, details, nav, header, footer, form, .faq-item"), sib.Find(".faq-question").Length() > 0:
		// FAQ markup is collected separately; chrome is skipped
	default:
		if t := collapse(sib.Text()); t != "" {
			sec.Blocks = append(sec.Blocks, t)
		}
	}
}

func parseFAQMarkup(doc *goquery.Document) []FAQ {
	var faqs []FAQ

	doc.Find("dl dt").Each(func(_ int, dt *goquery.Selection) {
		dd := dt.NextFiltered("dd")
		f := FAQ{Question: collapse(dt.Text()), Answer: collapse(dd.Text())}
		if f.Valid() {
			faqs = append(faqs, f)
		}
	})

	doc.Find("details").Each(func(_ int, d *goquery.Selection) {
		summary := d.ChildrenFiltered("summary").First()
		body := d.Clone()
		body.ChildrenFiltered("summary").Remove()
		f := FAQ{Question: collapse(summary.Text()), Answer: collapse(body.Text())}
		if f.Valid() {
			faqs = append(faqs, f)
		}
	})

	doc.Find(".faq-question").Each(func(_ int, q *goquery.Selection) {
		a := q.NextFiltered(".faq-answer")
		if a.Length() == 0 {
			a = q.Parent().Find(".faq-answer").First()
		}
		f := FAQ{Question: collapse(q.Text()), Answer: collapse(a.Text())}
		if f.Valid() {
			faqs = append(faqs, f)
		}
	})

	return faqs
}
