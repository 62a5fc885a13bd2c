// Package chunk splits parsed document text into overlapping, header-aware
// chunks sized by an approximate token budget.
package chunk

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/thothlabs/thoth/internal/errors"
)

// Options controls chunk sizing. All values are token budgets under the
// EstimateTokens oracle.
type Options struct {
	MinTokens     int
	MaxTokens     int
	OverlapTokens int
}

// DefaultOptions returns the standard chunk sizing.
func DefaultOptions() Options {
	return Options{
		MinTokens:     200,
		MaxTokens:     800,
		OverlapTokens: 50,
	}
}

// Chunk is one unit of embeddable text with its provenance.
type Chunk struct {
	Content             string
	ChunkID             string
	FilePath            string
	ChunkIndex          int
	TotalChunks         int
	Headers             []string
	StartLine           int
	EndLine             int
	TokenCount          int
	CharCount           int
	OverlapWithPrevious bool
	OverlapWithNext     bool
	Timestamp           string
}

// Section returns the active header path joined with " > ", or "" when the
// chunk sits above any header.
func (c *Chunk) Section() string {
	return strings.Join(c.Headers, " > ")
}

// Chunker splits text into chunks.
type Chunker struct {
	opts Options
	now  func() time.Time
}

// NewChunker validates options and creates a chunker. The overlap must be
// strictly smaller than the minimum chunk size or grouping cannot make
// forward progress.
func NewChunker(opts Options) (*Chunker, error) {
	if opts.MinTokens <= 0 || opts.MaxTokens <= 0 {
		return nil, errors.ChunkerConfig(fmt.Sprintf(
			"token budgets must be positive, got min=%d max=%d", opts.MinTokens, opts.MaxTokens))
	}
	if opts.MaxTokens < opts.MinTokens {
		return nil, errors.ChunkerConfig(fmt.Sprintf(
			"max_tokens %d below min_tokens %d", opts.MaxTokens, opts.MinTokens))
	}
	if opts.OverlapTokens < 0 || opts.OverlapTokens >= opts.MinTokens {
		return nil, errors.ChunkerConfig(fmt.Sprintf(
			"overlap_tokens %d must be in [0, min_tokens %d)", opts.OverlapTokens, opts.MinTokens))
	}
	return &Chunker{opts: opts, now: time.Now}, nil
}

// EstimateTokens approximates the token count of s as one quarter of its
// character count, rounded down. It is the sole sizing oracle for budgeting.
func EstimateTokens(s string) int {
	return utf8.RuneCountInString(s) / 4
}

var headerPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// section is an intermediate unit between header splitting and grouping.
type section struct {
	content   string
	headers   []string
	startLine int
	endLine   int
}

// headerFrame is one entry of the active header stack.
type headerFrame struct {
	level int
	text  string
}

// Split chunks content from sourcePath. Empty or whitespace-only content
// yields no chunks.
func (c *Chunker) Split(content, sourcePath string) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	sections := splitByHeaders(content)
	groups := c.group(sections)
	return c.materialize(groups, sourcePath)
}

// splitByHeaders walks lines maintaining a header stack. Each markdown
// header starts a new section whose headers field is the stack projection
// at that point; non-header lines accumulate into the current section.
func splitByHeaders(content string) []section {
	lines := strings.Split(content, "\n")

	var (
		sections []section
		stack    []headerFrame
		current  *section
	)

	closeCurrent := func(endLine int) {
		if current == nil {
			return
		}
		current.endLine = endLine
		if strings.TrimSpace(current.content) != "" {
			sections = append(sections, *current)
		}
		current = nil
	}

	for i, line := range lines {
		lineNo := i + 1
		m := headerPattern.FindStringSubmatch(line)
		if m == nil {
			if current == nil {
				current = &section{startLine: lineNo}
			}
			if current.content != "" {
				current.content += "\n"
			}
			current.content += line
			continue
		}

		closeCurrent(lineNo - 1)

		level := len(m[1])
		for len(stack) > 0 && stack[len(stack)-1].level >= level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, headerFrame{level: level, text: strings.TrimSpace(m[2])})

		headers := make([]string, len(stack))
		for j, f := range stack {
			headers[j] = f.text
		}
		current = &section{
			content:   line,
			headers:   headers,
			startLine: lineNo,
		}
	}
	closeCurrent(len(lines))

	return sections
}

// group packs sections into chunk-sized groups under the max budget,
// flushing early only once the min budget is met. A single section over
// the max budget is split line by line into its own groups.
func (c *Chunker) group(sections []section) [][]section {
	var (
		groups  [][]section
		current []section
		tokens  int
	)

	flush := func() {
		if len(current) > 0 {
			groups = append(groups, current)
			current = nil
			tokens = 0
		}
	}

	for _, s := range sections {
		st := EstimateTokens(s.content)

		if st > c.opts.MaxTokens {
			flush()
			for _, sub := range c.splitOversized(s) {
				groups = append(groups, []section{sub})
			}
			continue
		}

		if tokens+st > c.opts.MaxTokens && (tokens >= c.opts.MinTokens || len(current) == 0) {
			flush()
		}
		current = append(current, s)
		tokens += st
	}
	flush()

	return groups
}

// splitOversized packs the lines of one oversized section into subsections
// that each fit the max budget. Header metadata carries over to every
// subsection.
func (c *Chunker) splitOversized(s section) []section {
	lines := strings.Split(s.content, "\n")

	var (
		subs    []section
		buf     []string
		tokens  int
		lineNo  = s.startLine
		bufLine = s.startLine
	)

	flush := func() {
		if len(buf) == 0 {
			return
		}
		subs = append(subs, section{
			content:   strings.Join(buf, "\n"),
			headers:   s.headers,
			startLine: bufLine,
			endLine:   lineNo - 1,
		})
		buf = nil
		tokens = 0
		bufLine = lineNo
	}

	for _, line := range lines {
		lt := EstimateTokens(line)
		if len(buf) > 0 && tokens+lt > c.opts.MaxTokens {
			flush()
		}
		buf = append(buf, line)
		tokens += lt
		lineNo++
	}
	flush()

	return subs
}

// materialize turns groups into chunks and injects the overlap prefix.
// Chunk IDs are computed over the pre-overlap content so that overlap
// tuning does not change identities.
func (c *Chunker) materialize(groups [][]section, sourcePath string) []Chunk {
	if len(groups) == 0 {
		return nil
	}

	timestamp := c.now().UTC().Format(time.RFC3339)
	chunks := make([]Chunk, 0, len(groups))

	for i, group := range groups {
		parts := make([]string, len(group))
		startLine := group[0].startLine
		endLine := group[0].endLine
		var headers []string
		for j, s := range group {
			parts[j] = s.content
			if s.startLine < startLine {
				startLine = s.startLine
			}
			if s.endLine > endLine {
				endLine = s.endLine
			}
			// The deepest header context in the group wins, so a chunk
			// merging "# A" with its "## B" subsection reports both.
			if len(s.headers) > 0 {
				headers = s.headers
			}
		}
		content := strings.Join(parts, "\n")

		chunks = append(chunks, Chunk{
			Content:     content,
			ChunkID:     ChunkID(sourcePath, i, content),
			FilePath:    sourcePath,
			ChunkIndex:  i,
			TotalChunks: len(groups),
			Headers:     headers,
			StartLine:   startLine,
			EndLine:     endLine,
			TokenCount:  EstimateTokens(content),
			CharCount:   utf8.RuneCountInString(content),
			Timestamp:   timestamp,
		})
	}

	for i := 1; i < len(chunks); i++ {
		suffix := trailingByBudget(chunks[i-1].Content, c.opts.OverlapTokens)
		if suffix == "" {
			continue
		}
		chunks[i].Content = suffix + "\n\n" + chunks[i].Content
		chunks[i].OverlapWithPrevious = true
		chunks[i-1].OverlapWithNext = true
		chunks[i].TokenCount = EstimateTokens(chunks[i].Content)
		chunks[i].CharCount = utf8.RuneCountInString(chunks[i].Content)
	}

	return chunks
}

// trailingByBudget returns the longest line-aligned suffix of content whose
// token estimate stays within budget, accumulating lines back to front.
func trailingByBudget(content string, budget int) string {
	if budget <= 0 {
		return ""
	}

	lines := strings.Split(content, "\n")
	var (
		kept   []string
		tokens int
	)
	for i := len(lines) - 1; i >= 0; i-- {
		lt := EstimateTokens(lines[i])
		if tokens+lt > budget {
			break
		}
		kept = append([]string{lines[i]}, kept...)
		tokens += lt
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// ChunkID derives the stable chunk identifier from the source path, index,
// and the first 100 bytes of the pre-overlap content.
func ChunkID(sourcePath string, index int, content string) string {
	head := content
	if len(head) > 100 {
		head = head[:100]
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", sourcePath, index, head)))
	return fmt.Sprintf("chunk_%d_%x", index, sum[:4])
}
