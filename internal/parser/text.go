package parser

import (
	"strings"
	"unicode/utf8"
)

// TextParser parses plain text documents.
type TextParser struct{}

// NewTextParser creates a plain text parser.
func NewTextParser() *TextParser {
	return &TextParser{}
}

var _ Parser = (*TextParser)(nil)

// Extensions returns the extensions this parser handles.
func (p *TextParser) Extensions() []string {
	return []string{".txt", ".text"}
}

// Parse reads and parses a text file.
func (p *TextParser) Parse(path string) (*ParsedDocument, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return p.ParseContent(data, path)
}

// ParseContent decodes text bytes and records basic size metadata.
func (p *TextParser) ParseContent(data []byte, sourcePath string) (*ParsedDocument, error) {
	content := decodeText(data, sourcePath)

	metadata := map[string]any{
		"char_count": utf8.RuneCountInString(content),
		"line_count": strings.Count(content, "\n") + 1,
	}

	return &ParsedDocument{
		Content:    strings.TrimSpace(content),
		Metadata:   sanitizeMetadata(metadata),
		SourcePath: sourcePath,
		Format:     FormatText,
	}, nil
}
