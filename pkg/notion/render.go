package notion

import (
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"

	"github.com/arcana-forge/arcana/pkg/chunker"
)

// Block types excluded from rendering entirely.
var skippedBlockTypes = map[string]bool{
	"image":       true,
	"file":        true,
	"video":       true,
	"audio":       true,
	"pdf":         true,
	"embed":       true,
	"unsupported": true,
}

// RenderSegments walks a block tree depth-first and emits typed text
// segments for the chunker. Image and file blocks are skipped; the body
// of child_page blocks is skipped (title only) so nested pages, which
// are enumerated as sources of their own, are not ingested twice.
// Malformed block payloads are logged and skipped.
func RenderSegments(blocks []Block, logger hclog.Logger) []chunker.Segment {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	var segments []chunker.Segment
	renderBlocks(blocks, 0, &segments, logger)
	return segments
}

func renderBlocks(blocks []Block, depth int, out *[]chunker.Segment, logger hclog.Logger) {
	for _, block := range blocks {
		if skippedBlockTypes[block.Type] {
			continue
		}

		text, descend, err := blockText(block)
		if err != nil {
			logger.Warn("skipping malformed block",
				"block_id", block.ID,
				"block_type", block.Type,
				"error", err,
			)
			continue
		}

		if strings.TrimSpace(text) != "" {
			*out = append(*out, chunker.Segment{
				Type:  block.Type,
				Depth: depth,
				Text:  text,
			})
		}

		if descend && len(block.Children) > 0 {
			renderBlocks(block.Children, depth+1, out, logger)
		}
	}
}

// blockText extracts the plain text of one block and reports whether its
// children should be rendered.
func blockText(block Block) (string, bool, error) {
	switch block.Type {
	case "child_page":
		var payload struct {
			Title string `mapstructure:"title"`
		}
		if err := mapstructure.Decode(block.Content, &payload); err != nil {
			return "", false, err
		}
		return payload.Title, false, nil

	case "table":
		// Text lives in the table_row children.
		return "", true, nil

	case "table_row":
		var payload struct {
			Cells [][]richText `mapstructure:"cells"`
		}
		if err := mapstructure.Decode(block.Content, &payload); err != nil {
			return "", false, err
		}
		cells := make([]string, 0, len(payload.Cells))
		for _, cell := range payload.Cells {
			cells = append(cells, joinRichText(cell))
		}
		return strings.Join(cells, " | "), false, nil

	case "bookmark":
		var payload struct {
			URL     string     `mapstructure:"url"`
			Caption []richText `mapstructure:"caption"`
		}
		if err := mapstructure.Decode(block.Content, &payload); err != nil {
			return "", false, err
		}
		caption := joinRichText(payload.Caption)
		if caption != "" {
			return caption + " " + payload.URL, false, nil
		}
		return payload.URL, false, nil

	case "divider":
		return "", false, nil

	default:
		var payload struct {
			RichText []richText `mapstructure:"rich_text"`
		}
		if err := mapstructure.Decode(block.Content, &payload); err != nil {
			return "", false, err
		}
		return joinRichText(payload.RichText), true, nil
	}
}

func joinRichText(parts []richText) string {
	var sb strings.Builder
	for _, part := range parts {
		if part.PlainText != "" {
			sb.WriteString(part.PlainText)
		} else {
			sb.WriteString(part.Text.Content)
		}
	}
	return sb.String()
}
