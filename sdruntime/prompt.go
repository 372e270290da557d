package sdruntime

import "strings"

// DefaultCaption is rendered by engines when the prompt is empty.
const DefaultCaption = "A fantasy landscape"

// SanitizePrompt trims the prompt and collapses internal runs of whitespace
// (including newlines from multi-line inputs) into single spaces.
func SanitizePrompt(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}
