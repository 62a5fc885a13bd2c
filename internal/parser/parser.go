// Package parser converts raw document bytes into plain text plus metadata.
// One parser exists per supported format; dispatch is by lowercase file
// extension through a caching factory.
package parser

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/thothlabs/thoth/internal/errors"
)

// Format names emitted by the parser set.
const (
	FormatMarkdown = "markdown"
	FormatText     = "text"
	FormatPDF      = "pdf"
	FormatDocx     = "docx"
)

// ParsedDocument is the output of a parser: decoded text plus scalar
// metadata. List-valued metadata is comma-joined before leaving this
// package so downstream consumers only see scalars.
type ParsedDocument struct {
	Content    string
	Metadata   map[string]any
	SourcePath string
	Format     string
}

// Parser converts one document format into a ParsedDocument.
type Parser interface {
	// Parse reads path from the local filesystem and parses its bytes.
	Parse(path string) (*ParsedDocument, error)

	// ParseContent parses in-memory bytes. sourcePath is recorded on the
	// result and used in error messages.
	ParseContent(data []byte, sourcePath string) (*ParsedDocument, error)

	// Extensions returns the lowercase file extensions this parser handles.
	Extensions() []string
}

// Factory caches one parser instance per extension.
type Factory struct {
	mu    sync.Mutex
	cache map[string]Parser
}

// NewFactory creates an empty parser factory.
func NewFactory() *Factory {
	return &Factory{cache: make(map[string]Parser)}
}

// ForExtension returns the parser for a lowercase extension (with or
// without the leading dot), constructing and caching it on first use.
func (f *Factory) ForExtension(ext string) (Parser, error) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.cache[ext]; ok {
		return p, nil
	}

	var p Parser
	switch ext {
	case ".md", ".markdown", ".mdown":
		p = NewMarkdownParser()
	case ".txt", ".text":
		p = NewTextParser()
	case ".pdf":
		p = NewPDFParser()
	case ".docx":
		p = NewDocxParser()
	default:
		return nil, errors.BadRequest(fmt.Sprintf("no parser for extension %q", ext))
	}

	for _, e := range p.Extensions() {
		f.cache[e] = p
	}
	return p, nil
}

// readFile loads path, mapping a missing file to the NotFound error.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(path, err)
		}
		return nil, err
	}
	return data, nil
}

// decodeText decodes bytes as UTF-8 with a latin-1 fallback. The fallback
// is logged because it usually signals a mislabeled file.
func decodeText(data []byte, sourcePath string) string {
	if utf8.Valid(data) {
		return string(data)
	}

	slog.Debug("falling back to latin-1 decoding", slog.String("path", sourcePath))
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

// sanitizeMetadata coerces list values to comma-joined strings and drops
// nils, so every value leaving the parser set is a scalar.
func sanitizeMetadata(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case []string:
			out[k] = strings.Join(val, ",")
		case []any:
			parts := make([]string, len(val))
			for i, item := range val {
				parts[i] = fmt.Sprintf("%v", item)
			}
			out[k] = strings.Join(parts, ",")
		case string, int, int64, float64, bool:
			out[k] = val
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}
