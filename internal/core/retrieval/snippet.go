package retrieval

import (
	"strings"
	"unicode"
)

// DefaultSnippetLimit is the soft cap, in runes, of a citation snippet.
const DefaultSnippetLimit = 280

// Snippet returns a prefix of the trimmed content no longer than limit runes.
// When the cap falls mid-text it cuts after the last sentence end inside the
// cap, provided that end lies past a third of the cap. The result is always a
// substring of content.
func Snippet(content string, limit int) string {
	s := strings.TrimSpace(content)
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	for i := limit - 1; i >= limit/3; i-- {
		if isSentenceEnd(r[i]) && unicode.IsSpace(r[i+1]) {
			return string(r[:i+1])
		}
	}
	return strings.TrimRightFunc(string(r[:limit]), unicode.IsSpace)
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
