// Package extract converts office and pdf files into markdown text so the
// block parser can shred them. Paged formats become one "## " section per
// page, slide or sheet.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extractor converts document files to markdown text.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its markdown text.
// Plain text and markdown files are returned as-is (UTF-8 validated).
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return e.ExtractBytes(content, ext)
}

// ExtractBytes converts content based on the given extension, which
// includes the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".docx", ".odt", ".rtf":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	case ".pptx":
		return extractPPTX(content)
	case ".odp":
		return extractODP(content)
	case ".ods":
		return extractODS(content)
	default:
		// markdown, text and anything unknown
		return extractPlain(content)
	}
}

// Supported reports whether ext has a dedicated converter or is plain text.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx", ".odt", ".rtf", ".xlsx", ".pptx", ".odp", ".ods",
		".md", ".markdown", ".txt", ".rst":
		return true
	}
	return false
}

// sections accumulates "## title" sections separated by blank lines.
type sections struct {
	b strings.Builder
}

func (s *sections) add(title, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	if s.b.Len() > 0 {
		s.b.WriteByte('\n')
	}
	s.b.WriteString("## ")
	s.b.WriteString(title)
	s.b.WriteString("\n\n")
	s.b.WriteString(body)
	s.b.WriteByte('\n')
}

func (s *sections) String() string { return s.b.String() }
