package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadFile parses a local .html/.htm or .md/.markdown file.
func LoadFile(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("content loader: %w", err)
	}
	defer f.Close()

	var doc *Document
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".html", ".htm":
		doc, err = ParseHTML(f)
	case ".md", ".markdown":
		doc, err = ParseMarkdown(f)
	default:
		return nil, fmt.Errorf("content loader: unsupported file type %q", ext)
	}
	if err != nil {
		return nil, err
	}
	doc.Source = path
	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return doc, nil
}
