package interview

import (
	"fmt"
	"strings"

	"github.com/expectedparrot/edsl-sub003/pkg/survey"
)

// buildPrompt assembles the user prompt: earlier turns visible through
// memory, the rendered question and its options.
func buildPrompt(text string, options []string, memory []survey.Turn) string {
	var b strings.Builder
	if len(memory) > 0 {
		b.WriteString("Before this question, you answered:\n")
		for _, turn := range memory {
			fmt.Fprintf(&b, "Question: %s\nAnswer: %v\n", turn.Text, turn.Answer)
		}
		b.WriteString("\n")
	}
	b.WriteString(text)
	if len(options) > 0 {
		b.WriteString("\n\nOptions:\n")
		for _, opt := range options {
			fmt.Fprintf(&b, "- %s\n", opt)
		}
		b.WriteString("\nAnswer with one option on the first line. You may explain on the following lines.")
	}
	return b.String()
}
