package search

import (
	"fmt"
	"strings"
)

// MaxContextChars bounds the prompt context built from retrieved records.
const MaxContextChars = 12000

// BuildContext renders retrieved records into numbered prompt context
// blocks of the form "[N] Title / URL / body". The budget is met by
// dropping the lowest-ranked records, never by truncating mid-record.
func BuildContext(results []Result) string {
	return BuildContextN(results, MaxContextChars)
}

// BuildContextN is BuildContext with an explicit character budget.
func BuildContextN(results []Result, maxChars int) string {
	blocks := make([]string, 0, len(results))
	total := 0

	for i, res := range results {
		var sb strings.Builder
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, res.Record.Title)
		if res.Record.URL != "" {
			sb.WriteString(res.Record.URL)
			sb.WriteString("\n")
		}
		sb.WriteString(res.Record.Text)

		block := sb.String()
		cost := len(block)
		if len(blocks) > 0 {
			cost += 2 // separator
		}
		if total+cost > maxChars {
			break
		}
		blocks = append(blocks, block)
		total += cost
	}

	return strings.Join(blocks, "\n\n")
}
