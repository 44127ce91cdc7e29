package notion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bType(t *testing.T, block map[string]interface{}) string {
	t.Helper()
	typ, ok := block["type"].(string)
	require.True(t, ok)
	return typ
}

func bText(t *testing.T, block map[string]interface{}) string {
	t.Helper()
	typ := bType(t, block)
	payload, ok := block[typ].(map[string]interface{})
	require.True(t, ok)
	parts, ok := payload["rich_text"].([]map[string]interface{})
	require.True(t, ok)
	text := ""
	for _, part := range parts {
		text += part["text"].(map[string]interface{})["content"].(string)
	}
	return text
}

func TestMarkdownToBlocksHeadingsAndParagraphs(t *testing.T) {
	blocks := MarkdownToBlocks("# Title\n\nSome body text.\n\n## Section\n\nMore text.")
	require.Len(t, blocks, 4)

	assert.Equal(t, "heading_1", bType(t, blocks[0]))
	assert.Equal(t, "Title", bText(t, blocks[0]))
	assert.Equal(t, "paragraph", bType(t, blocks[1]))
	assert.Equal(t, "heading_2", bType(t, blocks[2]))
	assert.Equal(t, "paragraph", bType(t, blocks[3]))
}

func TestMarkdownToBlocksDeepHeadingClamped(t *testing.T) {
	blocks := MarkdownToBlocks("##### Deep")
	require.Len(t, blocks, 1)
	assert.Equal(t, "heading_3", bType(t, blocks[0]))
}

func TestMarkdownToBlocksLists(t *testing.T) {
	blocks := MarkdownToBlocks("- first\n- second\n\n1. one\n2. two")
	require.Len(t, blocks, 4)

	assert.Equal(t, "bulleted_list_item", bType(t, blocks[0]))
	assert.Equal(t, "first", bText(t, blocks[0]))
	assert.Equal(t, "numbered_list_item", bType(t, blocks[2]))
	assert.Equal(t, "one", bText(t, blocks[2]))
}

func TestMarkdownToBlocksCodeFence(t *testing.T) {
	blocks := MarkdownToBlocks("```go\nfmt.Println(\"hi\")\n```")
	require.Len(t, blocks, 1)

	assert.Equal(t, "code", bType(t, blocks[0]))
	assert.Equal(t, "fmt.Println(\"hi\")", bText(t, blocks[0]))
	payload := blocks[0]["code"].(map[string]interface{})
	assert.Equal(t, "go", payload["language"])
}

func TestMarkdownToBlocksTable(t *testing.T) {
	md := "| Name | Count |\n|---|---|\n| apples | 4 |\n| pears | 7 |"
	blocks := MarkdownToBlocks(md)
	require.Len(t, blocks, 1, "a |---|-separated table becomes one native table block")

	require.Equal(t, "table", bType(t, blocks[0]))
	payload := blocks[0]["table"].(map[string]interface{})
	assert.Equal(t, 2, payload["table_width"])
	assert.Equal(t, true, payload["has_column_header"])

	rows := payload["children"].([]map[string]interface{})
	require.Len(t, rows, 3)
	assert.Equal(t, "table_row", rows[0]["type"])

	headerCells := rows[0]["table_row"].(map[string]interface{})["cells"].([][]map[string]interface{})
	require.Len(t, headerCells, 2)
	assert.Equal(t, "Name", headerCells[0][0]["text"].(map[string]interface{})["content"])
}

func TestMarkdownToBlocksPipeLinesWithoutSeparatorStayParagraphs(t *testing.T) {
	blocks := MarkdownToBlocks("| just | pipes |\nno separator row")
	require.NotEmpty(t, blocks)
	for _, block := range blocks {
		assert.NotEqual(t, "table", bType(t, block))
	}
}

func TestMarkdownToBlocksQuoteAndDivider(t *testing.T) {
	blocks := MarkdownToBlocks("> quoted wisdom\n\n---\n\nafter")
	require.Len(t, blocks, 3)
	assert.Equal(t, "quote", bType(t, blocks[0]))
	assert.Equal(t, "divider", bType(t, blocks[1]))
	assert.Equal(t, "paragraph", bType(t, blocks[2]))
}

func TestMarkdownToBlocksLongTextSplit(t *testing.T) {
	long := make([]byte, 4500)
	for i := range long {
		long[i] = 'a'
	}
	blocks := MarkdownToBlocks(string(long))
	require.Len(t, blocks, 1)

	parts := blocks[0]["paragraph"].(map[string]interface{})["rich_text"].([]map[string]interface{})
	require.Len(t, parts, 3, "rich_text elements capped at 2000 chars")
}
