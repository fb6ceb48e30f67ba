// Package helpers contains small shared utilities.
package helpers

// TruncateMiddle shortens s to at most budget characters by keeping the head
// and tail and dropping the middle, marking the cut with an ellipsis line.
// The result is deterministic: the same input always yields the same output,
// and len(result) == budget whenever truncation happens. Returns the possibly
// shortened string and whether anything was dropped.
func TruncateMiddle(s string, budget int) (string, bool) {
	if budget <= 0 || len(s) <= budget {
		return s, false
	}

	const marker = "\n...[content truncated]...\n"
	if budget <= len(marker) {
		return s[:budget], true
	}

	keep := budget - len(marker)
	head := keep / 2
	tail := keep - head
	return s[:head] + marker + s[len(s)-tail:], true
}
