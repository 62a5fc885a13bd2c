package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/thothlabs/thoth/internal/errors"
)

// DocxParser extracts text from the OOXML word processing format. A .docx
// file is a zip archive; body text lives in word/document.xml and document
// properties in docProps/core.xml.
type DocxParser struct{}

// NewDocxParser creates a docx parser.
func NewDocxParser() *DocxParser {
	return &DocxParser{}
}

var _ Parser = (*DocxParser)(nil)

// Extensions returns the extensions this parser handles.
func (p *DocxParser) Extensions() []string {
	return []string{".docx"}
}

// Parse reads and parses a docx file.
func (p *DocxParser) Parse(path string) (*ParsedDocument, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return p.ParseContent(data, path)
}

// ParseContent extracts paragraph and table text. Each paragraph becomes one
// line; table rows become one line per row with cells joined by " | ".
func (p *DocxParser) ParseContent(data []byte, sourcePath string) (*ParsedDocument, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.ParseError(fmt.Sprintf("open docx %s", sourcePath), err)
	}

	body, err := readArchiveFile(archive, "word/document.xml")
	if err != nil {
		return nil, errors.ParseError(fmt.Sprintf("docx %s has no document body", sourcePath), err)
	}

	paragraphs, err := extractDocumentText(body)
	if err != nil {
		return nil, errors.ParseError(fmt.Sprintf("parse docx body %s", sourcePath), err)
	}

	metadata := map[string]any{
		"paragraph_count": len(paragraphs),
	}
	if props, err := readArchiveFile(archive, "docProps/core.xml"); err == nil {
		readCoreProperties(props, metadata)
	}

	return &ParsedDocument{
		Content:    strings.TrimSpace(strings.Join(paragraphs, "\n")),
		Metadata:   sanitizeMetadata(metadata),
		SourcePath: sourcePath,
		Format:     FormatDocx,
	}, nil
}

// readArchiveFile returns the contents of one file inside the zip.
func readArchiveFile(archive *zip.Reader, name string) ([]byte, error) {
	for _, f := range archive.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

// extractDocumentText walks the word/document.xml token stream, collecting
// one string per paragraph or table row. The OOXML elements involved:
// w:p paragraph, w:tbl table, w:tr row, w:tc cell, w:t text run,
// w:tab tab, w:br line break.
func extractDocumentText(body []byte) ([]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))

	var (
		lines     []string
		paragraph strings.Builder
		cells     []string
		cell      strings.Builder
		inTable   int
		inCell    bool
		inText    bool
	)

	flushParagraph := func() {
		text := strings.TrimSpace(paragraph.String())
		paragraph.Reset()
		if text != "" {
			lines = append(lines, text)
		}
	}

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tbl":
				inTable++
			case "tc":
				if inTable > 0 {
					inCell = true
					cell.Reset()
				}
			case "tab":
				if inCell {
					cell.WriteByte('\t')
				} else {
					paragraph.WriteByte('\t')
				}
			case "br":
				if inCell {
					cell.WriteByte(' ')
				} else {
					flushParagraph()
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if !inCell {
					flushParagraph()
				}
			case "tc":
				if inCell {
					cells = append(cells, strings.TrimSpace(cell.String()))
					inCell = false
				}
			case "tr":
				if inTable > 0 {
					row := strings.TrimSpace(strings.Join(cells, " | "))
					cells = cells[:0]
					if row != "" {
						lines = append(lines, row)
					}
				}
			case "tbl":
				if inTable > 0 {
					inTable--
				}
			}
		case xml.CharData:
			if !inText {
				continue
			}
			if inCell {
				cell.Write(t)
			} else {
				paragraph.Write(t)
			}
		}
	}
	flushParagraph()

	return lines, nil
}

// coreProperties is the subset of docProps/core.xml worth keeping.
type coreProperties struct {
	Title    string `xml:"title"`
	Creator  string `xml:"creator"`
	Subject  string `xml:"subject"`
	Keywords string `xml:"keywords"`
}

// readCoreProperties merges non-empty document properties into metadata.
func readCoreProperties(data []byte, metadata map[string]any) {
	var props coreProperties
	if err := xml.Unmarshal(data, &props); err != nil {
		return
	}
	for key, value := range map[string]string{
		"title":    props.Title,
		"author":   props.Creator,
		"subject":  props.Subject,
		"keywords": props.Keywords,
	} {
		if s := strings.TrimSpace(value); s != "" {
			metadata[key] = s
		}
	}
}
