package chunker

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func testPage(segments ...Segment) Page {
	return Page{
		SourceType:  SourceTypeNotion,
		SourceID:    "page-1",
		Title:       "Q3 Review",
		URL:         "https://notion.so/page-1",
		WorkspaceID: "ws-1",
		Segments:    segments,
	}
}

func TestOverlap(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		ratio     float64
		want      int
	}{
		{"default ratio", 800, 0.10, 80},
		{"zero ratio", 800, 0, 0},
		{"rounds", 100, 0.111, 11},
		{"capped at size-1", 10, 0.99, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlap(tt.chunkSize, tt.ratio))
		})
	}
}

func TestBuildRecordsSinglePage(t *testing.T) {
	c := New(Config{ChunkSize: 50, Now: fixedNow})

	page := testPage(
		Segment{Type: "heading_1", Depth: 0, Text: "Q3 Review"},
		Segment{Type: "paragraph", Depth: 0, Text: "revenue grew 18% in Q3"},
	)

	records := c.BuildRecords(page)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, 0, rec.ChunkOrd)
	assert.Contains(t, rec.Text, "[[H1]] Q3 Review")
	assert.Contains(t, rec.Text, "[[P]] revenue grew 18% in Q3")
	assert.Equal(t, []string{"heading_1", "paragraph"}, rec.BlockTypes)
	assert.Equal(t, []string{"[[H1]]", "[[P]]"}, rec.BlockMarkers)
	assert.Equal(t, []int{0, 0}, rec.BlockDepths)
	assert.Equal(t, "notion:page-1:0", rec.ID())
}

func TestBuildRecordsExactBudgetYieldsOneRecord(t *testing.T) {
	c := New(Config{ChunkSize: 12, Now: fixedNow})

	// 11 words of body plus the single [[P]] marker: exactly 12 tokens.
	body := strings.TrimSpace(strings.Repeat("word ", 11))
	records := c.BuildRecords(testPage(Segment{Type: "paragraph", Text: body}))

	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].ChunkOrd)
}

func TestBuildRecordsEmptyPage(t *testing.T) {
	c := New(Config{Now: fixedNow})

	assert.Empty(t, c.BuildRecords(testPage()))
	assert.Empty(t, c.BuildRecords(testPage(Segment{Type: "paragraph", Text: "   \t  "})))
}

func TestBuildRecordsSplitsParagraphs(t *testing.T) {
	c := New(Config{ChunkSize: 10, OverlapRatio: 0, Now: fixedNow})

	var segments []Segment
	for i := 0; i < 4; i++ {
		segments = append(segments, Segment{
			Type: "paragraph",
			Text: fmt.Sprintf("paragraph %d has exactly seven words total", i),
		})
	}

	records := c.BuildRecords(testPage(segments...))
	require.Greater(t, len(records), 1)

	for i, rec := range records {
		assert.Equal(t, i, rec.ChunkOrd, "chunk_ord contiguous from 0")
		assert.NotEmpty(t, strings.TrimSpace(rec.Text))
	}
}

func TestBuildRecordsOverlapProperty(t *testing.T) {
	const chunkSize = 20
	c := New(Config{ChunkSize: chunkSize, OverlapRatio: 0.25, Now: fixedNow})
	overlap := Overlap(chunkSize, 0.25)
	require.Equal(t, 5, overlap)

	// One oversized paragraph forces word-window splitting.
	words := make([]string, 100)
	for i := range words {
		words[i] = fmt.Sprintf("w%03d", i)
	}
	page := testPage(Segment{Type: "paragraph", Text: strings.Join(words, " ")})

	records := c.BuildRecords(page)
	require.Greater(t, len(records), 2)

	for i := 0; i+1 < len(records); i++ {
		prev := strings.Fields(records[i].Text)
		next := strings.Fields(records[i+1].Text)
		if len(prev) < chunkSize {
			continue // final partial window
		}
		suffix := prev[len(prev)-overlap:]
		prefix := next[:overlap]
		assert.Equal(t, suffix, prefix, "chunks %d/%d should overlap", i, i+1)
	}
}

func TestBuildRecordsStructuredTextOnFirstChunkOnly(t *testing.T) {
	c := New(Config{ChunkSize: 10, OverlapRatio: 0, Now: fixedNow})

	words := strings.Repeat("structured document body text here now ", 20)
	page := testPage(Segment{Type: "paragraph", Text: words})
	page.SourceType = SourceTypeGDrive
	page.StructuredFormat = StructuredFormatOpenXML
	page.StructuredText = "<w:document/>"

	records := c.BuildRecords(page)
	require.Greater(t, len(records), 1)

	assert.Equal(t, StructuredFormatOpenXML, records[0].StructuredFormat)
	assert.Equal(t, "<w:document/>", records[0].StructuredText)
	for _, rec := range records[1:] {
		assert.Empty(t, rec.StructuredText)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	rec := Record{
		SourceType:   SourceTypeNotion,
		SourceID:     "page-9",
		ChunkOrd:     3,
		Title:        "Notes",
		URL:          "https://notion.so/page-9",
		WorkspaceID:  "ws-1",
		BlockTypes:   []string{"heading_1", "paragraph"},
		BlockMarkers: []string{"[[H1]]", "[[P]]"},
		BlockDepths:  []int{0, 1},
		BlockStarts:  []int{0, 42},
		IngestedAt:   fixedNow(),
	}

	md, err := rec.Metadata()
	require.NoError(t, err)

	// The index only accepts scalar metadata; arrays must be JSON strings.
	assert.Equal(t, `["heading_1","paragraph"]`, md["block_types"])
	assert.Equal(t, `[0,42]`, md["block_starts"])

	decoded, err := DecodeMetadata(md)
	require.NoError(t, err)
	assert.Equal(t, rec.SourceType, decoded.SourceType)
	assert.Equal(t, rec.SourceID, decoded.SourceID)
	assert.Equal(t, rec.ChunkOrd, decoded.ChunkOrd)
	assert.Equal(t, rec.BlockTypes, decoded.BlockTypes)
	assert.Equal(t, rec.BlockMarkers, decoded.BlockMarkers)
	assert.Equal(t, rec.BlockDepths, decoded.BlockDepths)
	assert.Equal(t, rec.BlockStarts, decoded.BlockStarts)
	assert.Equal(t, rec.IngestedAt, decoded.IngestedAt)
}

func TestMarkerFor(t *testing.T) {
	assert.Equal(t, "[[H1]]", MarkerFor("heading_1"))
	assert.Equal(t, "[[TBL]]", MarkerFor("table"))
	assert.Equal(t, "[[P]]", MarkerFor("mystery_block"))
}
