package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dslipak/pdf"

	"github.com/thothlabs/thoth/internal/errors"
)

// PDFParser extracts per-page text and document info from PDF bytes.
type PDFParser struct{}

// NewPDFParser creates a PDF parser.
func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

var _ Parser = (*PDFParser)(nil)

// infoFields are the PDF info dictionary entries copied into metadata when
// non-empty.
var infoFields = map[string]string{
	"Title":    "title",
	"Author":   "author",
	"Subject":  "subject",
	"Creator":  "creator",
	"Producer": "producer",
}

// Extensions returns the extensions this parser handles.
func (p *PDFParser) Extensions() []string {
	return []string{".pdf"}
}

// Parse reads and parses a PDF file.
func (p *PDFParser) Parse(path string) (*ParsedDocument, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return p.ParseContent(data, path)
}

// ParseContent extracts text page by page. Pages with only whitespace are
// skipped; the rest carry a "[Page N]" marker. The pdf library panics on
// some malformed inputs, so extraction runs behind a recover.
func (p *PDFParser) ParseContent(data []byte, sourcePath string) (doc *ParsedDocument, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = errors.ParseError(fmt.Sprintf("malformed pdf %s: %v", sourcePath, r), nil)
		}
	}()

	reader, rErr := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if rErr != nil {
		return nil, errors.ParseError(fmt.Sprintf("open pdf %s", sourcePath), rErr)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, tErr := page.GetPlainText(nil)
		if tErr != nil {
			// A single unreadable page does not fail the document.
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, fmt.Sprintf("[Page %d]\n%s", i, text))
	}

	metadata := map[string]any{
		"page_count": reader.NumPage(),
	}
	readInfoFields(reader, metadata)

	return &ParsedDocument{
		Content:    strings.TrimSpace(strings.Join(pages, "\n\n")),
		Metadata:   sanitizeMetadata(metadata),
		SourcePath: sourcePath,
		Format:     FormatPDF,
	}, nil
}

// readInfoFields copies non-empty info dictionary strings into metadata.
func readInfoFields(reader *pdf.Reader, metadata map[string]any) {
	defer func() {
		// A corrupt trailer should not fail text extraction.
		_ = recover()
	}()

	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return
	}
	for pdfKey, metaKey := range infoFields {
		v := info.Key(pdfKey)
		if v.Kind() != pdf.String {
			continue
		}
		if s := strings.TrimSpace(v.RawString()); s != "" {
			metadata[metaKey] = s
		}
	}
}
