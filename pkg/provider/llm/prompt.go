package llm

import (
	"strconv"
	"strings"
)

// RenderSystemPrompt combines the base system prompt with retrieved context
// passages into the single system message sent to the backend. With no
// passages the base prompt is returned unchanged; with no base prompt and no
// passages the result is empty and callers should omit the system message.
func RenderSystemPrompt(base string, passages []string) string {
	if len(passages) == 0 {
		return base
	}

	var b strings.Builder
	if base != "" {
		b.WriteString(base)
		b.WriteString("\n\n")
	}
	b.WriteString("Use the following reference passages when they are relevant. If they do not cover the question, answer from the conversation alone.\n")
	for i, p := range passages {
		b.WriteString("\n[")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("] ")
		b.WriteString(strings.TrimSpace(p))
	}
	return b.String()
}
