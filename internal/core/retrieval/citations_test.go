package retrieval

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docuiq/internal/models"
)

func match(content string, score float64, meta map[string]any) models.Match {
	return models.Match{Content: content, Score: score, Metadata: meta}
}

func TestBuildCitationsMapsMetadata(t *testing.T) {
	matches := []models.Match{match("Revenue increased 18% quarter over quarter.", 0.92, map[string]any{
		"document_id": "doc-1",
		"title":       "Integrated Report",
		"page":        float64(5),
		"chunk_id":    "doc-1:p5:c0",
		"source_type": "pdf",
	})}

	got := BuildCitations(matches, 2, Options{})
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "S1", c.ID)
	assert.Equal(t, "doc-1", c.DocID)
	assert.Equal(t, "Integrated Report", c.DocTitle)
	assert.Equal(t, "doc-1:p5:c0", c.ChunkID)
	assert.Equal(t, SourcePDF, c.SourceType)
	assert.Equal(t, PdfLocation{Page: 5}, c.Location)
	assert.Equal(t, "/documents/doc-1?p=5", c.URL)
	assert.True(t, strings.HasPrefix(c.Snippet, "Revenue increased"))
	assert.Equal(t, 0.92, c.Score)
}

func TestBuildCitationsDedupesAndSkips(t *testing.T) {
	matches := []models.Match{
		match("a", 0.9, map[string]any{"document_id": "d1", "chunk": 0}),
		match("orphan", 0.8, map[string]any{"title": "no id"}),
		match("a again", 0.7, map[string]any{"doc_id": "d1", "chunk": 0}),
		match("b", 0.6, map[string]any{"documentId": "d2", "chunk": 3, "page": 2}),
	}

	got := BuildCitations(matches, 0, Options{})
	require.Len(t, got, 2)
	assert.Equal(t, "S1", got[0].ID)
	assert.Equal(t, "d1:p0:c0", got[0].ChunkID)
	assert.Equal(t, "a", got[0].Snippet, "first occurrence wins")
	assert.Equal(t, "S2", got[1].ID)
	assert.Equal(t, "d2:p2:c3", got[1].ChunkID)
	assert.Equal(t, SourceDocument, got[1].SourceType)
	assert.Equal(t, PdfLocation{Page: 2}, got[1].Location)
}

func TestBuildCitationsLimitMatchesTruncation(t *testing.T) {
	var matches []models.Match
	for i, doc := range []string{"a", "b", "a", "c", "b", "d", "e"} {
		matches = append(matches, match("text", float64(10-i), map[string]any{"document_id": doc, "chunk": 0}))
	}
	full := BuildCitations(matches, 0, Options{})
	for limit := 1; limit <= 6; limit++ {
		got := BuildCitations(matches, limit, Options{})
		want := full[:min(limit, len(full))]
		assert.Equal(t, want, got, "limit %d", limit)
	}
	assert.Len(t, full, 5)
}

func TestNormalizeSourceType(t *testing.T) {
	tests := map[string]string{
		"":             SourceDocument,
		"google_drive": SourceGDrive,
		"Drive":        SourceGDrive,
		"msteams":      SourceTeams,
		"share-point":  SourceSharePoint,
		"one_drive":    SourceOneDrive,
		"html":         SourceWeb,
		"gmail":        SourceEmail,
		"postgres":     SourceDB,
		"upload":       SourceDocument,
		"slack":        SourceSlack,
		"confluence":   "confluence",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeSourceType(in), in)
	}
}

func TestLocationsPerSourceType(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]any
		want SourceLocation
		url  string
	}{
		{"web", map[string]any{"source_type": "web", "url": "https://x.test/a"}, WebLocation{URL: "https://x.test/a"}, "https://x.test/a"},
		{"drive view url", map[string]any{"source_type": "drive", "view_url": "https://drive.test/v"}, WebLocation{URL: "https://drive.test/v"}, "https://drive.test/v"},
		{"email", map[string]any{"source_type": "mail", "thread_id": "t1", "message_id": "m1", "ts": "2024-01-01"}, EmailLocation{ThreadID: "t1", MessageID: "m1", TS: "2024-01-01"}, "/documents/d"},
		{"slack", map[string]any{"source_type": "slack", "message_id": "m9"}, ChatLocation{MessageID: "m9"}, "/documents/d"},
		{"db", map[string]any{"source_type": "sql", "table": "orders", "row_id": float64(42), "column": "total"}, DBLocation{Table: "orders", RowID: "42", Column: "total"}, "/documents/d"},
		{"generic", map[string]any{}, GenericLocation{}, "/documents/d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.meta["document_id"] = "d"
			got := BuildCitations([]models.Match{match("x", 1, tt.meta)}, 1, Options{})
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Location)
			assert.Equal(t, tt.url, got[0].URL)
		})
	}
}

func TestCitationExtraAndJSON(t *testing.T) {
	meta := map[string]any{
		"document_id": "d1",
		"source_type": "db",
		"table":       "orders",
		"row_id":      "7",
		"region":      "emea",
		"nothing":     nil,
		"bad":         make(chan int),
	}
	got := BuildCitations([]models.Match{match("x", 0.5, meta)}, 1, Options{})
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"region": "emea"}, got[0].Extra)

	raw, err := json.Marshal(got[0])
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "S1", decoded["citation_id"])
	assert.Equal(t, "orders", decoded["table"])
	assert.Equal(t, "7", decoded["row_id"])
	assert.Equal(t, "/documents/d1", decoded["url"])
	assert.NotContains(t, decoded, "page")
}

func TestSnippet(t *testing.T) {
	short := "First sentence. Second sentence with more detail! Third?"
	assert.Equal(t, short, Snippet("  "+short+"\n", 80))

	sentence := strings.Repeat("word ", 10) + "End here. " + strings.Repeat("tail ", 20)
	assert.Equal(t, strings.Repeat("word ", 10)+"End here.", Snippet(sentence, 60))

	plain := strings.Repeat("abcd ", 100)
	got := Snippet(plain, 50)
	assert.LessOrEqual(t, len([]rune(got)), 50)
	assert.True(t, strings.HasPrefix(plain, got))

	early := "Hi. " + strings.Repeat("x", 200)
	assert.Equal(t, "Hi. "+strings.Repeat("x", 56), Snippet(early, 60), "sentence end before a third of the cap is ignored")
}

func TestRenderPrompt(t *testing.T) {
	citations := []Citation{
		{ID: "S1", DocTitle: "Report", Snippet: "Revenue grew.", Location: PdfLocation{Page: 1}},
		{ID: "S2", DocID: "d2", Snippet: "Row", Location: DBLocation{Table: "t", RowID: "1", Column: "c"}},
	}
	got := RenderPrompt(citations)
	assert.Equal(t, "[S1] Report (page 1)\n\"Revenue grew.\"\n\n[S2] d2 (table t, row 1, column c)\n\"Row\"", got)
	assert.Contains(t, UserPrompt(" why? ", citations), "Question: why?\n\nSources:\n[S1]")
}
