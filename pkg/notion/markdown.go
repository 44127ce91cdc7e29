package notion

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// markdownParser is shared across conversions; goldmark parsers are
// stateless. The table extension turns |---|-delimited rows into table
// nodes instead of paragraphs.
var markdownParser = goldmark.New(goldmark.WithExtensions(extension.Table))

// MarkdownToBlocks converts generated Markdown into Notion block
// payloads. Headings, lists, code fences, tables, quotes, and thematic
// breaks map to their native block types; everything else becomes a
// paragraph.
func MarkdownToBlocks(markdown string) []map[string]interface{} {
	source := []byte(markdown)
	doc := markdownParser.Parser().Parse(text.NewReader(source))

	var blocks []map[string]interface{}
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		blocks = append(blocks, convertNode(node, source)...)
	}
	return blocks
}

func convertNode(node ast.Node, source []byte) []map[string]interface{} {
	switch n := node.(type) {
	case *ast.Heading:
		level := n.Level
		if level > 3 {
			level = 3
		}
		headingType := map[int]string{1: "heading_1", 2: "heading_2", 3: "heading_3"}[level]
		return []map[string]interface{}{
			richTextBlock(headingType, inlineText(n, source)),
		}

	case *ast.FencedCodeBlock:
		language := string(n.Language(source))
		if language == "" {
			language = "plain text"
		}
		block := richTextBlock("code", codeText(n, source))
		block["code"].(map[string]interface{})["language"] = language
		return []map[string]interface{}{block}

	case *ast.CodeBlock:
		block := richTextBlock("code", codeText(n, source))
		block["code"].(map[string]interface{})["language"] = "plain text"
		return []map[string]interface{}{block}

	case *ast.List:
		itemType := "bulleted_list_item"
		if n.IsOrdered() {
			itemType = "numbered_list_item"
		}
		var blocks []map[string]interface{}
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			blocks = append(blocks, convertListItem(item, itemType, source)...)
		}
		return blocks

	case *ast.Blockquote:
		return []map[string]interface{}{
			richTextBlock("quote", inlineText(n, source)),
		}

	case *ast.ThematicBreak:
		return []map[string]interface{}{
			{"object": "block", "type": "divider", "divider": map[string]interface{}{}},
		}

	case *east.Table:
		return []map[string]interface{}{convertTable(n, source)}

	case *ast.Paragraph, *ast.TextBlock:
		content := inlineText(n, source)
		if strings.TrimSpace(content) == "" {
			return nil
		}
		return []map[string]interface{}{richTextBlock("paragraph", content)}

	default:
		content := inlineText(node, source)
		if strings.TrimSpace(content) == "" {
			return nil
		}
		return []map[string]interface{}{richTextBlock("paragraph", content)}
	}
}

// convertListItem renders one list item and any list nested inside it.
func convertListItem(item ast.Node, itemType string, source []byte) []map[string]interface{} {
	var itemText string
	var nested []map[string]interface{}

	for child := item.FirstChild(); child != nil; child = child.NextSibling() {
		if list, ok := child.(*ast.List); ok {
			nestedType := "bulleted_list_item"
			if list.IsOrdered() {
				nestedType = "numbered_list_item"
			}
			for sub := list.FirstChild(); sub != nil; sub = sub.NextSibling() {
				nested = append(nested, convertListItem(sub, nestedType, source)...)
			}
			continue
		}
		if itemText != "" {
			itemText += " "
		}
		itemText += inlineText(child, source)
	}

	blocks := make([]map[string]interface{}, 0, 1+len(nested))
	if strings.TrimSpace(itemText) != "" {
		blocks = append(blocks, richTextBlock(itemType, itemText))
	}
	return append(blocks, nested...)
}

// convertTable builds a native table block with a column header row.
func convertTable(table *east.Table, source []byte) map[string]interface{} {
	var rows []map[string]interface{}
	width := 0

	for row := table.FirstChild(); row != nil; row = row.NextSibling() {
		var cells [][]map[string]interface{}
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, richTextArray(inlineText(cell, source)))
		}
		if len(cells) > width {
			width = len(cells)
		}
		rows = append(rows, map[string]interface{}{
			"object": "block",
			"type":   "table_row",
			"table_row": map[string]interface{}{
				"cells": cells,
			},
		})
	}

	return map[string]interface{}{
		"object": "block",
		"type":   "table",
		"table": map[string]interface{}{
			"table_width":       width,
			"has_column_header": true,
			"children":          rows,
		},
	}
}

// richTextBlock builds a block whose payload is a rich_text array.
func richTextBlock(blockType, content string) map[string]interface{} {
	return map[string]interface{}{
		"object":  "block",
		"type":    blockType,
		blockType: map[string]interface{}{"rich_text": richTextArray(content)},
	}
}

// richTextArray wraps plain text in Notion's rich_text shape. Notion
// rejects text elements over 2000 characters, so long content is split.
func richTextArray(content string) []map[string]interface{} {
	const maxLen = 2000

	var parts []map[string]interface{}
	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxLen {
			chunk = chunk[:maxLen]
		}
		content = content[len(chunk):]
		parts = append(parts, map[string]interface{}{
			"type": "text",
			"text": map[string]interface{}{"content": chunk},
		})
	}
	if parts == nil {
		parts = []map[string]interface{}{}
	}
	return parts
}

// inlineText collects the plain text of a node's inline content.
func inlineText(node ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteString(" ")
			}
		case *ast.AutoLink:
			sb.Write(t.URL(source))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

// codeText collects the raw lines of a code block.
func codeText(node ast.Node, source []byte) string {
	var sb strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		sb.Write(segment.Value(source))
	}
	return strings.TrimRight(sb.String(), "\n")
}
