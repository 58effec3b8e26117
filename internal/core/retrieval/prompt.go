package retrieval

import (
	"fmt"
	"strings"
)

// NotFoundAnswer is the admission returned when the sources do not support an answer.
const NotFoundAnswer = "I could not find this in the provided sources."

// SystemPrompt fixes the answer contract the generator is asked to follow.
const SystemPrompt = `You answer questions strictly from the numbered sources you are given.
Reply with a single JSON object and nothing else:
{"answer": "<prose answer>", "bullets": ["<optional>"], "table": {"columns": [], "rows": [[]]}, "citations_used": ["S1"]}
Rules:
- Cite every claim inline with markers such as [S1] or [S1, S2], using only the source ids listed.
- "bullets" and "table" are optional; leave them out when they add nothing.
- "citations_used" lists every source id you cited, in the order you first cited it.
- If the sources do not contain the answer, set "answer" to "` + NotFoundAnswer + `" and "citations_used" to [].`

// RenderPrompt formats citations as the numbered source block of a prompt.
func RenderPrompt(citations []Citation) string {
	var b strings.Builder
	for i, c := range citations {
		if i > 0 {
			b.WriteString("\n\n")
		}
		title := c.DocTitle
		if title == "" {
			title = c.DocID
		}
		label := "document"
		if c.Location != nil {
			label = c.Location.Label()
		}
		fmt.Fprintf(&b, "[%s] %s (%s)\n%q", c.ID, title, label, c.Snippet)
	}
	return b.String()
}

// UserPrompt pairs the question with its rendered sources.
func UserPrompt(question string, citations []Citation) string {
	return "Question: " + strings.TrimSpace(question) + "\n\nSources:\n" + RenderPrompt(citations)
}
