package chunker

import (
	"math"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Default chunking parameters.
const (
	DefaultChunkSize    = 800
	DefaultOverlapRatio = 0.10
)

// Config holds chunking configuration.
type Config struct {
	// ChunkSize is the per-record token budget.
	ChunkSize int

	// OverlapRatio is the fraction of ChunkSize carried over between
	// consecutive chunks split from one oversized paragraph (0 <= r < 1).
	OverlapRatio float64

	// Now supplies record timestamps; defaults to time.Now.
	Now func() time.Time

	Logger hclog.Logger
}

// Chunker turns rendered pages into index-ready records.
type Chunker struct {
	chunkSize int
	overlap   int
	now       func() time.Time
	logger    hclog.Logger
}

// New creates a chunker, applying defaults for zero values.
func New(cfg Config) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.OverlapRatio < 0 || cfg.OverlapRatio >= 1 {
		cfg.OverlapRatio = DefaultOverlapRatio
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Chunker{
		chunkSize: cfg.ChunkSize,
		overlap:   Overlap(cfg.ChunkSize, cfg.OverlapRatio),
		now:       cfg.Now,
		logger:    cfg.Logger.Named("chunker"),
	}
}

// Overlap computes the inter-chunk token overlap:
// max(0, min(chunkSize-1, round(chunkSize*ratio))).
func Overlap(chunkSize int, ratio float64) int {
	overlap := int(math.Round(float64(chunkSize) * ratio))
	if overlap > chunkSize-1 {
		overlap = chunkSize - 1
	}
	if overlap < 0 {
		overlap = 0
	}
	return overlap
}

// BuildRecords renders a page into zero or more records. A page whose
// rendered text fits the token budget yields exactly one record; larger
// pages split on paragraph boundaries first, then on word windows with
// overlap. Whitespace-only output is dropped, so a page of only image
// blocks yields zero records.
func (c *Chunker) BuildRecords(page Page) []Record {
	text, types, markers, depths, starts := c.render(page.Segments)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	chunks := c.split(text)

	records := make([]Record, 0, len(chunks))
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk.text) == "" {
			continue
		}

		rec := Record{
			SourceType:  page.SourceType,
			SourceID:    page.SourceID,
			ChunkOrd:    len(records),
			Text:        chunk.text,
			Title:       page.Title,
			URL:         page.URL,
			WorkspaceID: page.WorkspaceID,
			IngestedAt:  c.now().UTC(),
		}

		// Attach the structural arrays of segments whose rendered start
		// falls inside this chunk's span of the composed text.
		for i, start := range starts {
			if start >= chunk.start && start < chunk.end {
				rec.BlockTypes = append(rec.BlockTypes, types[i])
				rec.BlockMarkers = append(rec.BlockMarkers, markers[i])
				rec.BlockDepths = append(rec.BlockDepths, depths[i])
				rec.BlockStarts = append(rec.BlockStarts, start-chunk.start)
			}
		}

		// Structured payloads ride on the first chunk only.
		if len(records) == 0 && page.StructuredText != "" {
			rec.StructuredFormat = page.StructuredFormat
			rec.StructuredText = page.StructuredText
		}
		rec.FilePath = page.FilePath

		records = append(records, rec)
	}

	return records
}

// render composes annotated text from segments, inserting sparse block
// markers between them and recording the parallel structural arrays.
func (c *Chunker) render(segments []Segment) (string, []string, []string, []int, []int) {
	var (
		sb      strings.Builder
		types   []string
		markers []string
		depths  []int
		starts  []int
	)

	for _, seg := range segments {
		text := strings.TrimRight(seg.Text, " \t")
		if strings.TrimSpace(text) == "" {
			continue
		}

		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}

		marker := MarkerFor(seg.Type)
		starts = append(starts, sb.Len())
		types = append(types, seg.Type)
		markers = append(markers, marker)
		depths = append(depths, seg.Depth)

		sb.WriteString(marker)
		sb.WriteString(" ")
		sb.WriteString(text)
	}

	return sb.String(), types, markers, depths, starts
}

// span is one chunk of the composed text with its byte offsets.
type span struct {
	text  string
	start int
	end   int
}

// split applies the chunk policy: whole text if it fits, otherwise pack
// paragraphs greedily, and window oversized paragraphs by words with
// overlap.
func (c *Chunker) split(text string) []span {
	if tokenCount(text) <= c.chunkSize {
		return []span{{text: text, start: 0, end: len(text)}}
	}

	var out []span

	offset := 0
	var buf strings.Builder
	bufStart := 0
	bufTokens := 0

	flush := func(end int) {
		if buf.Len() == 0 {
			return
		}
		out = append(out, span{text: buf.String(), start: bufStart, end: end})
		buf.Reset()
		bufTokens = 0
	}

	for _, para := range strings.Split(text, "\n\n") {
		paraStart := strings.Index(text[offset:], para) + offset
		offset = paraStart + len(para)

		paraTokens := tokenCount(para)

		switch {
		case paraTokens > c.chunkSize:
			// Oversized paragraph: flush what we have, then window it.
			flush(paraStart)
			for _, w := range windowWords(para, c.chunkSize, c.overlap) {
				out = append(out, span{
					text:  w.text,
					start: paraStart + w.start,
					end:   paraStart + w.end,
				})
			}

		case bufTokens+paraTokens > c.chunkSize:
			flush(paraStart)
			fallthrough

		default:
			if buf.Len() == 0 {
				bufStart = paraStart
			} else {
				buf.WriteString("\n\n")
			}
			buf.WriteString(para)
			bufTokens += paraTokens
		}
	}
	flush(len(text))

	return out
}

// wordSpan is a word-window chunk relative to its paragraph.
type wordSpan struct {
	text  string
	start int
	end   int
}

// windowWords splits a paragraph into word windows of at most size tokens,
// each starting overlap tokens before the previous window's end.
func windowWords(para string, size, overlap int) []wordSpan {
	words := strings.Fields(para)
	if len(words) == 0 {
		return nil
	}

	// Locate each word's byte offset so spans map back to the paragraph.
	offsets := make([]int, len(words))
	pos := 0
	for i, w := range words {
		idx := strings.Index(para[pos:], w)
		offsets[i] = pos + idx
		pos = offsets[i] + len(w)
	}

	step := size - overlap
	if step < 1 {
		step = 1
	}

	var out []wordSpan
	for begin := 0; begin < len(words); begin += step {
		end := begin + size
		if end > len(words) {
			end = len(words)
		}
		start := offsets[begin]
		last := offsets[end-1] + len(words[end-1])
		out = append(out, wordSpan{
			text:  strings.Join(words[begin:end], " "),
			start: start,
			end:   last,
		})
		if end == len(words) {
			break
		}
	}
	return out
}

// tokenCount approximates the token count as whitespace-delimited words.
func tokenCount(text string) int {
	return len(strings.Fields(text))
}
