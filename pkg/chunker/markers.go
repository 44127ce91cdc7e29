package chunker

import "fmt"

// Block marker abbreviations. Rendered text is interleaved with sparse
// markers like [[H1]] and [[LI]] so consumers can reconstruct structure.
var blockMarkerNames = map[string]string{
	"heading_1":          "H1",
	"heading_2":          "H2",
	"heading_3":          "H3",
	"paragraph":          "P",
	"bulleted_list_item": "LI",
	"numbered_list_item": "LI",
	"to_do":              "LI",
	"toggle":             "TGL",
	"quote":              "Q",
	"callout":            "CO",
	"code":               "CODE",
	"table":              "TBL",
	"table_row":          "TR",
	"child_page":         "PAGE",
	"bookmark":           "LNK",
	"divider":            "HR",
}

// MarkerFor returns the sparse marker token for a block type, e.g.
// "[[H1]]" for heading_1. Unknown types fall back to "[[P]]".
func MarkerFor(blockType string) string {
	name, ok := blockMarkerNames[blockType]
	if !ok {
		name = "P"
	}
	return fmt.Sprintf("[[%s]]", name)
}
