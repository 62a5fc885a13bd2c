package parser

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thothlabs/thoth/internal/errors"
)

func TestFactory_Dispatch(t *testing.T) {
	f := NewFactory()

	md, err := f.ForExtension(".md")
	require.NoError(t, err)
	assert.IsType(t, &MarkdownParser{}, md)

	// Same instance comes back for every alias, with or without the dot.
	alias, err := f.ForExtension("markdown")
	require.NoError(t, err)
	assert.Same(t, md, alias)

	txt, err := f.ForExtension(".TXT")
	require.NoError(t, err)
	assert.IsType(t, &TextParser{}, txt)

	pdf, err := f.ForExtension(".pdf")
	require.NoError(t, err)
	assert.IsType(t, &PDFParser{}, pdf)

	docx, err := f.ForExtension(".docx")
	require.NoError(t, err)
	assert.IsType(t, &DocxParser{}, docx)

	_, err = f.ForExtension(".exe")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBadRequest, errors.GetCode(err))
}

func TestMarkdown_Frontmatter(t *testing.T) {
	input := "---\ntitle: My Doc\nauthor: \"Ada\"\ntags: a, b\n---\n# Heading\n\nBody text.\n"

	doc, err := NewMarkdownParser().ParseContent([]byte(input), "doc.md")
	require.NoError(t, err)

	assert.Equal(t, "# Heading\n\nBody text.", doc.Content)
	assert.Equal(t, FormatMarkdown, doc.Format)
	assert.Equal(t, "doc.md", doc.SourcePath)
	assert.Equal(t, "My Doc", doc.Metadata["title"])
	assert.Equal(t, "Ada", doc.Metadata["author"])
	assert.Equal(t, "a, b", doc.Metadata["tags"])
}

func TestMarkdown_NoFrontmatter(t *testing.T) {
	doc, err := NewMarkdownParser().ParseContent([]byte("# Just a doc\n"), "doc.md")
	require.NoError(t, err)
	assert.Equal(t, "# Just a doc", doc.Content)
	assert.Empty(t, doc.Metadata)
}

func TestMarkdown_UnterminatedFrontmatter(t *testing.T) {
	input := "---\ntitle: broken\nno closing fence here\n"
	doc, err := NewMarkdownParser().ParseContent([]byte(input), "doc.md")
	require.NoError(t, err)
	// The block is kept as content when the closing fence is missing.
	assert.Contains(t, doc.Content, "title: broken")
	assert.Empty(t, doc.Metadata)
}

func TestText_Metadata(t *testing.T) {
	doc, err := NewTextParser().ParseContent([]byte("line one\nline two\n"), "notes.txt")
	require.NoError(t, err)

	assert.Equal(t, "line one\nline two", doc.Content)
	assert.Equal(t, FormatText, doc.Format)
	assert.Equal(t, 18, doc.Metadata["char_count"])
	assert.Equal(t, 3, doc.Metadata["line_count"])
}

func TestText_Latin1Fallback(t *testing.T) {
	// 0xE9 is latin-1 é and invalid UTF-8 on its own.
	doc, err := NewTextParser().ParseContent([]byte{'c', 'a', 'f', 0xE9}, "menu.txt")
	require.NoError(t, err)
	assert.Equal(t, "café", doc.Content)
}

func TestParse_MissingFile(t *testing.T) {
	_, err := NewTextParser().Parse(filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.GetCode(err))
}

func TestParse_ReadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "on-disk.md")
	require.NoError(t, os.WriteFile(path, []byte("# From disk\n"), 0o644))

	doc, err := NewMarkdownParser().Parse(path)
	require.NoError(t, err)
	assert.Equal(t, "# From disk", doc.Content)
	assert.Equal(t, path, doc.SourcePath)
}

func TestPDF_MalformedBytes(t *testing.T) {
	_, err := NewPDFParser().ParseContent([]byte("not a pdf at all"), "bad.pdf")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeParseFailed, errors.GetCode(err))
}

const docxBody = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
    <w:tbl>
      <w:tr>
        <w:tc><w:p><w:r><w:t>Name</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>Role</w:t></w:r></w:p></w:tc>
      </w:tr>
      <w:tr>
        <w:tc><w:p><w:r><w:t>Ada</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>Engineer</w:t></w:r></w:p></w:tc>
      </w:tr>
    </w:tbl>
    <w:p><w:r><w:t></w:t></w:r></w:p>
  </w:body>
</w:document>`

const docxCore = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties"
  xmlns:dc="http://purl.org/dc/elements/1.1/">
  <dc:title>Team Roster</dc:title>
  <dc:creator>Ada</dc:creator>
  <dc:subject></dc:subject>
</cp:coreProperties>`

func buildDocx(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDocx_ParagraphsAndTables(t *testing.T) {
	data := buildDocx(t, map[string]string{
		"word/document.xml": docxBody,
		"docProps/core.xml": docxCore,
	})

	doc, err := NewDocxParser().ParseContent(data, "roster.docx")
	require.NoError(t, err)

	want := "First paragraph.\nSecond paragraph.\nName | Role\nAda | Engineer"
	assert.Equal(t, want, doc.Content)
	assert.Equal(t, FormatDocx, doc.Format)
	assert.Equal(t, "Team Roster", doc.Metadata["title"])
	assert.Equal(t, "Ada", doc.Metadata["author"])
	assert.NotContains(t, doc.Metadata, "subject")
	// Table rows count as text blocks too.
	assert.Equal(t, 4, doc.Metadata["paragraph_count"])
}

func TestDocx_MissingBody(t *testing.T) {
	data := buildDocx(t, map[string]string{"docProps/core.xml": docxCore})

	_, err := NewDocxParser().ParseContent(data, "empty.docx")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeParseFailed, errors.GetCode(err))
}

func TestDocx_NotAZip(t *testing.T) {
	_, err := NewDocxParser().ParseContent([]byte("plain bytes"), "bad.docx")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeParseFailed, errors.GetCode(err))
}

func TestSanitizeMetadata(t *testing.T) {
	out := sanitizeMetadata(map[string]any{
		"tags":   []string{"a", "b"},
		"mixed":  []any{1, "two"},
		"none":   nil,
		"count":  7,
		"ratio":  0.5,
		"name":   "x",
		"truthy": true,
	})

	assert.Equal(t, "a,b", out["tags"])
	assert.Equal(t, "1,two", out["mixed"])
	assert.Equal(t, "", out["none"])
	assert.Equal(t, 7, out["count"])
	assert.Equal(t, 0.5, out["ratio"])
	assert.Equal(t, "x", out["name"])
	assert.Equal(t, true, out["truthy"])
}
