package chunker

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source types accepted by the index.
const (
	SourceTypeNotion = "notion"
	SourceTypeGDrive = "gdrive"
)

// Structured formats preserved alongside the plain text.
const (
	StructuredFormatNone    = "none"
	StructuredFormatOpenXML = "openxml"
)

// Record is the unit committed to the retrieval index: one chunk of one
// source with its structural metadata.
type Record struct {
	SourceType  string
	SourceID    string
	ChunkOrd    int
	Text        string
	Title       string
	URL         string
	WorkspaceID string

	// Parallel arrays describing the structural origin of each rendered
	// segment inside Text.
	BlockTypes   []string
	BlockMarkers []string
	BlockDepths  []int
	BlockStarts  []int

	// StructuredFormat is "openxml" when StructuredText carries the raw
	// word/document.xml of a DOCX/Google-Docs source.
	StructuredFormat string
	StructuredText   string
	FilePath         string

	IngestedAt time.Time
}

// ID returns the deterministic index document id for the record.
func (r *Record) ID() string {
	return fmt.Sprintf("%s:%s:%d", r.SourceType, r.SourceID, r.ChunkOrd)
}

// Metadata flattens the record into scalar-only metadata for the vector
// store. Parallel arrays are JSON-encoded; DecodeMetadata reverses this.
func (r *Record) Metadata() (map[string]string, error) {
	blockTypes, err := json.Marshal(r.BlockTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode block types: %w", err)
	}
	blockMarkers, err := json.Marshal(r.BlockMarkers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode block markers: %w", err)
	}
	blockDepths, err := json.Marshal(r.BlockDepths)
	if err != nil {
		return nil, fmt.Errorf("failed to encode block depths: %w", err)
	}
	blockStarts, err := json.Marshal(r.BlockStarts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode block starts: %w", err)
	}

	structuredFormat := r.StructuredFormat
	if structuredFormat == "" {
		structuredFormat = StructuredFormatNone
	}

	md := map[string]string{
		"source_type":       r.SourceType,
		"source_id":         r.SourceID,
		"chunk_ord":         fmt.Sprintf("%d", r.ChunkOrd),
		"title":             r.Title,
		"url":               r.URL,
		"workspace_id":      r.WorkspaceID,
		"block_types":       string(blockTypes),
		"block_markers":     string(blockMarkers),
		"block_depths":      string(blockDepths),
		"block_starts":      string(blockStarts),
		"structured_format": structuredFormat,
		"ingested_at":       r.IngestedAt.UTC().Format(time.RFC3339),
	}
	if r.FilePath != "" {
		md["file_path"] = r.FilePath
	}
	return md, nil
}

// DecodeMetadata rebuilds a record (minus Text and StructuredText, which
// are stored as document content) from scalar index metadata.
func DecodeMetadata(md map[string]string) (*Record, error) {
	r := &Record{
		SourceType:       md["source_type"],
		SourceID:         md["source_id"],
		Title:            md["title"],
		URL:              md["url"],
		WorkspaceID:      md["workspace_id"],
		StructuredFormat: md["structured_format"],
		FilePath:         md["file_path"],
	}

	if _, err := fmt.Sscanf(md["chunk_ord"], "%d", &r.ChunkOrd); err != nil {
		return nil, fmt.Errorf("invalid chunk_ord %q: %w", md["chunk_ord"], err)
	}

	for key, dst := range map[string]interface{}{
		"block_types":   &r.BlockTypes,
		"block_markers": &r.BlockMarkers,
		"block_depths":  &r.BlockDepths,
		"block_starts":  &r.BlockStarts,
	} {
		raw := md[key]
		if raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return nil, fmt.Errorf("invalid %s metadata: %w", key, err)
		}
	}

	if ts := md["ingested_at"]; ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("invalid ingested_at %q: %w", ts, err)
		}
		r.IngestedAt = parsed
	}

	return r, nil
}
