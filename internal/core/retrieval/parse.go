package retrieval

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/markdave123-py/docuiq/internal/models"
)

// Table is an optional tabular block of a generated answer.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// ModelOutput is the tolerant reading of a generator reply.
type ModelOutput struct {
	Answer        string
	Bullets       []string
	Table         *Table
	CitationsUsed []string
	// Structured reports whether the reply carried a usable JSON object.
	Structured bool
}

var (
	fencedRe   = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	markerRe   = regexp.MustCompile(`(?i)\[\s*(S\d+(?:\s*,\s*S\d+)*)\s*\]`)
	trailerRe  = regexp.MustCompile(`(?is)<citations>(.*?)</citations>`)
	sourceIDRe = regexp.MustCompile(`(?i)\bS\d+\b`)
	exactIDRe  = regexp.MustCompile(`^S\d+$`)
)

// ParseModelOutput extracts the answer contract from raw generator text. It
// tries fenced code blocks, then the whole text, then the outermost brace
// span, and falls back to treating the text as the answer itself. It never
// returns an empty answer for non-blank input.
func ParseModelOutput(raw string) ModelOutput {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ModelOutput{}
	}

	candidates := make([]string, 0, 4)
	for _, m := range fencedRe.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	candidates = append(candidates, text)
	if i, j := strings.Index(text, "{"), strings.LastIndex(text, "}"); i >= 0 && j > i {
		candidates = append(candidates, text[i:j+1])
	}

	for _, c := range candidates {
		if out, ok := decodeOutput(c); ok {
			if len(out.CitationsUsed) == 0 {
				out.CitationsUsed = uniqueIDs(ExtractMarkers(out.Answer), trailerIDs(text))
			}
			return out
		}
	}

	answer := strings.TrimSpace(trailerRe.ReplaceAllString(text, ""))
	if answer == "" {
		answer = text
	}
	return ModelOutput{
		Answer:        answer,
		CitationsUsed: uniqueIDs(ExtractMarkers(text), trailerIDs(text)),
	}
}

func decodeOutput(s string) (ModelOutput, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return ModelOutput{}, false
	}
	out := ModelOutput{Structured: true}
	out.Answer = strings.TrimSpace(models.MetaString(obj["answer"]))
	out.Bullets = stringList(obj["bullets"])
	out.Table = tableOf(obj["table"])
	out.CitationsUsed = uniqueIDs(stringList(obj["citations_used"]))

	if out.Answer == "" {
		out.Answer = strings.Join(out.Bullets, "\n")
	}
	if out.Answer == "" {
		// an explicit empty answer with nothing else is a refusal
		if _, has := obj["answer"]; has && out.Table == nil {
			out.Answer = NotFoundAnswer
			return out, true
		}
		return ModelOutput{}, false
	}
	return out, true
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		if s := strings.TrimSpace(models.MetaString(it)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// tableOf accepts {columns, rows} or a bare list of rows whose first row is the header.
func tableOf(v any) *Table {
	var t Table
	switch x := v.(type) {
	case map[string]any:
		t.Columns = stringList(x["columns"])
		t.Rows = rowsOf(x["rows"])
	case []any:
		rows := rowsOf(x)
		if len(rows) > 0 {
			t.Columns, t.Rows = rows[0], rows[1:]
		}
	default:
		return nil
	}
	if len(t.Columns) == 0 && len(t.Rows) == 0 {
		return nil
	}
	return &t
}

func rowsOf(v any) [][]string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		cells, ok := it.([]any)
		if !ok {
			continue
		}
		row := make([]string, len(cells))
		for i, c := range cells {
			row[i] = models.MetaString(c)
		}
		rows = append(rows, row)
	}
	return rows
}

// ExtractMarkers returns the source ids cited inline as [S1] or [S1, S2],
// uppercased, unique and in first-seen order.
func ExtractMarkers(text string) []string {
	var ids []string
	for _, m := range markerRe.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.Split(m[1], ",") {
			ids = append(ids, strings.TrimSpace(part))
		}
	}
	return uniqueIDs(ids)
}

func trailerIDs(text string) []string {
	var ids []string
	for _, m := range trailerRe.FindAllStringSubmatch(text, -1) {
		ids = append(ids, sourceIDRe.FindAllString(m[1], -1)...)
	}
	return ids
}

// uniqueIDs normalizes "[s1]"-like values to "S1" and keeps first occurrences.
func uniqueIDs(lists ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, id := range list {
			id = strings.ToUpper(strings.Trim(strings.TrimSpace(id), "[]"))
			if !exactIDRe.MatchString(id) || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
