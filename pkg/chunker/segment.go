package chunker

// Segment is one rendered block of source text: its provider block type,
// its depth in the block tree, and its plain text.
type Segment struct {
	Type  string
	Depth int
	Text  string
}

// Page is a provider-agnostic rendered source document, ready for
// chunking. Sync workers build pages from Notion block trees or exported
// Drive files.
type Page struct {
	SourceType  string
	SourceID    string
	Title       string
	URL         string
	WorkspaceID string

	Segments []Segment

	// StructuredFormat and StructuredText carry richer structure (DOCX
	// OpenXML) when the source preserves it.
	StructuredFormat string
	StructuredText   string
	FilePath         string
}
