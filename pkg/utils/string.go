package utils

// Truncate caps s at max runes, marking the cut with an ellipsis rune.
// Digests and tags are abbreviated this way throughout the CLI.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
