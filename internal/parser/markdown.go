package parser

import (
	"strings"
)

// MarkdownParser parses markdown documents, lifting simple key: value
// frontmatter into metadata.
type MarkdownParser struct{}

// NewMarkdownParser creates a markdown parser.
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{}
}

var _ Parser = (*MarkdownParser)(nil)

// Extensions returns the extensions this parser handles.
func (p *MarkdownParser) Extensions() []string {
	return []string{".md", ".markdown", ".mdown"}
}

// Parse reads and parses a markdown file.
func (p *MarkdownParser) Parse(path string) (*ParsedDocument, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return p.ParseContent(data, path)
}

// ParseContent parses markdown bytes. A leading frontmatter block of
// key: value lines is stripped from the content and merged into metadata.
func (p *MarkdownParser) ParseContent(data []byte, sourcePath string) (*ParsedDocument, error) {
	content := decodeText(data, sourcePath)
	metadata := make(map[string]any)

	if body, front, ok := splitFrontmatter(content); ok {
		for k, v := range front {
			metadata[k] = v
		}
		content = body
	}

	return &ParsedDocument{
		Content:    strings.TrimSpace(content),
		Metadata:   sanitizeMetadata(metadata),
		SourcePath: sourcePath,
		Format:     FormatMarkdown,
	}, nil
}

// splitFrontmatter extracts a leading "---" delimited block of simple
// key: value lines. Full YAML is deliberately not supported; lines without
// a colon are ignored. Returns ok=false when no block is present.
func splitFrontmatter(content string) (body string, front map[string]string, ok bool) {
	if !strings.HasPrefix(content, "---\n") {
		return content, nil, false
	}

	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	var block, remainder string
	switch {
	case end >= 0:
		block = rest[:end]
		remainder = rest[end+len("\n---\n"):]
	case strings.HasSuffix(rest, "\n---"):
		block = rest[:len(rest)-len("\n---")]
		remainder = ""
	default:
		return content, nil, false
	}

	front = make(map[string]string)
	for _, line := range strings.Split(block, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		front[key] = stripQuotes(strings.TrimSpace(value))
	}

	return remainder, front, true
}

// stripQuotes removes one layer of matching outer quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
