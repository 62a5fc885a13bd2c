package chunk

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thothlabs/thoth/internal/errors"
)

func mustChunker(t *testing.T, min, max, overlap int) *Chunker {
	t.Helper()
	c, err := NewChunker(Options{MinTokens: min, MaxTokens: max, OverlapTokens: overlap})
	require.NoError(t, err)
	return c
}

func TestNewChunker_RejectsBadOptions(t *testing.T) {
	cases := []struct {
		name string
		opts Options
	}{
		{"overlap equals min", Options{MinTokens: 50, MaxTokens: 100, OverlapTokens: 50}},
		{"overlap above min", Options{MinTokens: 50, MaxTokens: 100, OverlapTokens: 60}},
		{"negative overlap", Options{MinTokens: 50, MaxTokens: 100, OverlapTokens: -1}},
		{"zero min", Options{MinTokens: 0, MaxTokens: 100}},
		{"max below min", Options{MinTokens: 100, MaxTokens: 50}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewChunker(tc.opts)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeChunkerConfig, errors.GetCode(err))
		})
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	c := mustChunker(t, 10, 100, 2)
	assert.Empty(t, c.Split("", "a.md"))
	assert.Empty(t, c.Split("   \n\t\n", "a.md"))
}

func TestSplit_SingleSmallInput(t *testing.T) {
	c := mustChunker(t, 10, 1000, 2)
	chunks := c.Split("just one short line", "a.md")
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 1, chunks[0].TotalChunks)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 1, chunks[0].EndLine)
	assert.False(t, chunks[0].OverlapWithPrevious)
	assert.False(t, chunks[0].OverlapWithNext)
}

func TestSplit_HeaderHierarchy(t *testing.T) {
	input := "# A\n\nhello\n\n## B\n\nworld\n"
	c := mustChunker(t, 10, 1000, 5)

	chunks := c.Split(input, "doc.md")
	require.NotEmpty(t, chunks)

	var found bool
	for _, ch := range chunks {
		if strings.Contains(ch.Content, "world") {
			found = true
			// Merging "# A" with its "## B" subsection still reports the
			// full path to the deepest header.
			assert.Equal(t, []string{"A", "B"}, ch.Headers)
			assert.Equal(t, "A > B", ch.Section())
		}
	}
	assert.True(t, found, "no chunk covers the nested section body")
}

func TestSplit_SiblingHeaderReplacesStackTop(t *testing.T) {
	input := "# Top\n\n## First\n\nalpha alpha alpha alpha alpha alpha\n\n## Second\n\nbeta beta beta beta beta beta beta\n"
	// Small max forces the two subsections into separate chunks.
	c := mustChunker(t, 4, 12, 2)

	chunks := c.Split(input, "doc.md")
	require.GreaterOrEqual(t, len(chunks), 2)

	for _, ch := range chunks {
		if strings.Contains(ch.Content, "beta") && !strings.Contains(ch.Content, "## First") {
			assert.Equal(t, []string{"Top", "Second"}, ch.Headers)
		}
	}
}

func TestSplit_IndexInvariants(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "## Section %d\n\nsome body text for section number %d with padding words\n\n", i, i)
	}
	c := mustChunker(t, 20, 60, 5)

	chunks := c.Split(b.String(), "doc.md")
	require.NotEmpty(t, chunks)

	seen := make(map[int]bool)
	for _, ch := range chunks {
		assert.Equal(t, len(chunks), ch.TotalChunks)
		assert.False(t, seen[ch.ChunkIndex], "duplicate chunk_index")
		seen[ch.ChunkIndex] = true
		assert.GreaterOrEqual(t, ch.ChunkIndex, 0)
		assert.Less(t, ch.ChunkIndex, len(chunks))

		assert.Equal(t, utf8.RuneCountInString(ch.Content), ch.CharCount)
		assert.Equal(t, ch.CharCount/4, ch.TokenCount)
	}
}

func TestSplit_OverlapPrefix(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "# H%d\n\nline one of section %d\nline two of section %d\n\n", i, i, i)
	}
	c := mustChunker(t, 10, 30, 8)

	chunks := c.Split(b.String(), "doc.md")
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		assert.True(t, chunks[i].OverlapWithPrevious, "chunk %d missing overlap", i)
		assert.True(t, chunks[i-1].OverlapWithNext)

		// The first non-blank line of this chunk came from the tail of the
		// previous chunk's pre-overlap content.
		var firstLine string
		for _, line := range strings.Split(chunks[i].Content, "\n") {
			if strings.TrimSpace(line) != "" {
				firstLine = line
				break
			}
		}
		prev := chunks[i-1].Content
		tail := prev
		if limit := 8 * 4; utf8.RuneCountInString(prev) > limit {
			runes := []rune(prev)
			tail = string(runes[len(runes)-limit:])
		}
		assert.Contains(t, tail, firstLine)
	}
	assert.False(t, chunks[len(chunks)-1].OverlapWithNext)
}

func TestSplit_NoOverlapWhenZero(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "# H%d\n\nbody text for this section goes here\n\n", i)
	}
	c := mustChunker(t, 5, 20, 0)

	chunks := c.Split(b.String(), "doc.md")
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.False(t, ch.OverlapWithPrevious)
		assert.False(t, ch.OverlapWithNext)
	}
}

func TestSplit_OversizedSection(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Big\n")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "this is long line number %d with plenty of words in it\n", i)
	}
	c := mustChunker(t, 20, 50, 5)

	chunks := c.Split(b.String(), "doc.md")
	require.Greater(t, len(chunks), 1)

	for _, ch := range chunks {
		// Soft bound after overlap injection.
		assert.LessOrEqual(t, ch.TokenCount, 50*5/2)
		assert.Equal(t, []string{"Big"}, ch.Headers)
	}
}

func TestSplit_IDStability(t *testing.T) {
	input := "# A\n\nhello world content\n\n## B\n\nmore content here\n"
	c1 := mustChunker(t, 5, 20, 2)
	c2 := mustChunker(t, 5, 20, 2)

	a := c1.Split(input, "doc.md")
	b := c2.Split(input, "doc.md")

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].ChunkID, b[i].ChunkID)
	}
}

func TestSplit_IDIgnoresOverlapAndPath(t *testing.T) {
	input := "# A\n\nfirst section body text\n\n# B\n\nsecond section body text\n"

	with, err := NewChunker(Options{MinTokens: 4, MaxTokens: 8, OverlapTokens: 3})
	require.NoError(t, err)
	without, err := NewChunker(Options{MinTokens: 4, MaxTokens: 8, OverlapTokens: 0})
	require.NoError(t, err)

	a := with.Split(input, "doc.md")
	b := without.Split(input, "doc.md")
	require.Equal(t, len(a), len(b))
	for i := range a {
		// IDs hash the pre-overlap content, so overlap settings cannot
		// change them.
		assert.Equal(t, b[i].ChunkID, a[i].ChunkID)
	}

	other := with.Split(input, "other.md")
	require.Equal(t, len(a), len(other))
	for i := range a {
		assert.NotEqual(t, a[i].ChunkID, other[i].ChunkID)
	}
}

func TestChunkID_Format(t *testing.T) {
	id := ChunkID("doc.md", 3, "some content")
	assert.Regexp(t, `^chunk_3_[0-9a-f]{8}$`, id)

	// Only the first 100 characters of content participate.
	long := strings.Repeat("x", 100)
	assert.Equal(t, ChunkID("doc.md", 0, long+"aaa"), ChunkID("doc.md", 0, long+"bbb"))
	assert.NotEqual(t, ChunkID("doc.md", 0, "aaa"), ChunkID("doc.md", 0, "bbb"))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 0, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}
