package retrieval

import (
	"encoding/json"
	"strconv"

	"github.com/markdave123-py/docuiq/internal/models"
)

// Citation is a deduplicated, numbered reference to one retrieved chunk.
type Citation struct {
	ID         string
	ChunkID    string
	DocID      string
	DocTitle   string
	SourceType string
	Snippet    string
	Score      float64
	Location   SourceLocation
	URL        string
	Extra      map[string]any
}

type citationJSON struct {
	ID         string         `json:"citation_id"`
	ChunkID    string         `json:"chunk_id"`
	DocID      string         `json:"doc_id"`
	DocTitle   string         `json:"doc_title"`
	SourceType string         `json:"source_type"`
	Snippet    string         `json:"snippet"`
	Score      float64        `json:"score"`
	URL        string         `json:"url,omitempty"`
	Page       int            `json:"page,omitempty"`
	ThreadID   string         `json:"thread_id,omitempty"`
	MessageID  string         `json:"message_id,omitempty"`
	TS         string         `json:"ts,omitempty"`
	Table      string         `json:"table,omitempty"`
	RowID      string         `json:"row_id,omitempty"`
	Column     string         `json:"column,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// MarshalJSON flattens the location next to the common fields. A web
// location's url replaces the resolved link.
func (c Citation) MarshalJSON() ([]byte, error) {
	out := citationJSON{
		ID:         c.ID,
		ChunkID:    c.ChunkID,
		DocID:      c.DocID,
		DocTitle:   c.DocTitle,
		SourceType: c.SourceType,
		Snippet:    c.Snippet,
		Score:      c.Score,
		URL:        c.URL,
		Extra:      c.Extra,
	}
	switch l := c.Location.(type) {
	case PdfLocation:
		out.Page = l.Page
	case WebLocation:
		if l.URL != "" {
			out.URL = l.URL
		}
	case EmailLocation:
		out.ThreadID, out.MessageID, out.TS = l.ThreadID, l.MessageID, l.TS
	case ChatLocation:
		out.ThreadID, out.MessageID, out.TS = l.ThreadID, l.MessageID, l.TS
	case DBLocation:
		out.Table, out.RowID, out.Column = l.Table, l.RowID, l.Column
	}
	return json.Marshal(out)
}

// Options tunes citation building.
type Options struct {
	SnippetLimit int
}

// metadata keys consumed by citation building; everything else goes to Extra.
var citationKeys = map[string]bool{
	"document_id": true, "documentId": true, "doc_id": true,
	"title": true, "chunk": true, "chunk_index": true, "page": true,
	"chunk_id": true, "source_type": true,
	"url": true, "view_url": true, "origin_url": true, "source_url": true,
	"message_id": true, "thread_id": true, "ts": true,
	"table": true, "row_id": true, "column": true,
}

// BuildCitations walks matches in order and returns one citation per
// distinct chunk, numbered S1..Sn. Matches without a document id are skipped
// and the first occurrence of a chunk wins. The walk stops once limit
// citations exist; limit <= 0 means no limit.
func BuildCitations(matches []models.Match, limit int, opts Options) []Citation {
	snippetLimit := opts.SnippetLimit
	if snippetLimit <= 0 {
		snippetLimit = DefaultSnippetLimit
	}

	out := make([]Citation, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if limit > 0 && len(out) >= limit {
			break
		}
		meta := m.Metadata
		docID := models.DocumentIDOf(meta)
		if docID == "" {
			continue
		}
		chunkID := ChunkIDOf(docID, meta)
		if seen[chunkID] {
			continue
		}
		seen[chunkID] = true

		sourceType := NormalizeSourceType(models.MetaString(meta["source_type"]))
		out = append(out, Citation{
			ID:         "S" + strconv.Itoa(len(out)+1),
			ChunkID:    chunkID,
			DocID:      docID,
			DocTitle:   models.MetaString(meta["title"]),
			SourceType: sourceType,
			Snippet:    Snippet(m.Content, snippetLimit),
			Score:      m.Score,
			Location:   locationFor(sourceType, meta),
			URL:        resolveURL(docID, meta),
			Extra:      extraOf(meta),
		})
	}
	return out
}

// ChunkIDOf returns the explicit chunk id of meta or synthesizes one from
// the document id, page and chunk index.
func ChunkIDOf(docID string, meta map[string]any) string {
	if id := models.MetaString(meta["chunk_id"]); id != "" {
		return id
	}
	return docID + ":p" + strconv.Itoa(metaInt(meta["page"])) + ":c" + models.MetaString(meta["chunk"])
}

func extraOf(meta map[string]any) map[string]any {
	var extra map[string]any
	for k, v := range meta {
		if citationKeys[k] || v == nil {
			continue
		}
		if _, err := json.Marshal(v); err != nil {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return extra
}
