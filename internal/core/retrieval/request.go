package retrieval

import (
	"encoding/json"
	"strings"

	"github.com/markdave123-py/docuiq/internal/models"
)

// IndexRequest is one document submitted for indexing. Exactly one of
// Fragments, Pages or Text is used, in that order of preference.
type IndexRequest struct {
	DocumentID string            `json:"document_id"`
	Title      string            `json:"title,omitempty"`
	Text       string            `json:"text,omitempty"`
	Pages      []models.PageText `json:"pages,omitempty"`
	Fragments  []Fragment        `json:"fragments,omitempty"`
	SourceType string            `json:"source_type,omitempty"`
	OriginURL  string            `json:"origin_url,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

func (r IndexRequest) hasContent() bool {
	return r.Text != "" || len(r.Pages) > 0 || len(r.Fragments) > 0
}

// Fragment is a located piece of a non-paged source such as a message,
// a table cell or a web section. Unknown JSON keys land in Extra.
type Fragment struct {
	Text       string
	Page       int
	URL        string
	MessageID  string
	ThreadID   string
	TS         string
	Table      string
	RowID      string
	Column     string
	SourceType string
	Extra      map[string]any
}

var fragmentKeys = []string{"text", "page", "url", "message_id", "thread_id", "ts", "table", "row_id", "column", "source_type"}

func (f *Fragment) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Text = models.MetaString(raw["text"])
	f.Page = metaInt(raw["page"])
	f.URL = models.MetaString(raw["url"])
	f.MessageID = models.MetaString(raw["message_id"])
	f.ThreadID = models.MetaString(raw["thread_id"])
	f.TS = models.MetaString(raw["ts"])
	f.Table = models.MetaString(raw["table"])
	f.RowID = models.MetaString(raw["row_id"])
	f.Column = models.MetaString(raw["column"])
	f.SourceType = models.MetaString(raw["source_type"])
	for _, k := range fragmentKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		f.Extra = raw
	}
	return nil
}

func (f Fragment) MarshalJSON() ([]byte, error) {
	out := models.CloneMap(f.Extra)
	if out == nil {
		out = make(map[string]any)
	}
	out["text"] = f.Text
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	if f.Page > 0 {
		out["page"] = f.Page
	}
	set("url", f.URL)
	set("message_id", f.MessageID)
	set("thread_id", f.ThreadID)
	set("ts", f.TS)
	set("table", f.Table)
	set("row_id", f.RowID)
	set("column", f.Column)
	set("source_type", f.SourceType)
	return json.Marshal(out)
}

// metadata returns the location keys of f merged over base.
func (f Fragment) metadata(base map[string]any) map[string]any {
	meta := models.CloneMap(base)
	if meta == nil {
		meta = make(map[string]any)
	}
	for k, v := range f.Extra {
		meta[k] = v
	}
	put := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			meta[k] = v
		}
	}
	if f.Page > 0 {
		meta["page"] = f.Page
	}
	put("url", f.URL)
	put("message_id", f.MessageID)
	put("thread_id", f.ThreadID)
	put("ts", f.TS)
	put("table", f.Table)
	put("row_id", f.RowID)
	put("column", f.Column)
	put("source_type", f.SourceType)
	return meta
}

// IndexResult reports how many chunks were written and how many were lost
// to failed embedding batches.
type IndexResult struct {
	OK     bool `json:"ok"`
	Chunks int  `json:"chunks"`
	Failed int  `json:"failed"`
}

// AskRequest is a question against the index. Allow, when set, restricts
// matches to the document ids it accepts.
type AskRequest struct {
	Question    string
	TopK        int
	WithSources bool
	Allow       func(documentID string) bool
}

// Block is a structured rendering hint next to the prose answer.
type Block struct {
	Type    string     `json:"type"`
	Items   []string   `json:"items,omitempty"`
	Columns []string   `json:"columns,omitempty"`
	Rows    [][]string `json:"rows,omitempty"`
}

type AskResponse struct {
	Answer       string              `json:"answer"`
	Citations    []Citation          `json:"citations"`
	InlineRefs   map[string]Citation `json:"inline_refs"`
	Blocks       []Block             `json:"blocks"`
	AllCitations []Citation          `json:"all_citations,omitempty"`
}

func emptyAnswer() *AskResponse {
	return &AskResponse{
		Citations:  []Citation{},
		InlineRefs: map[string]Citation{},
		Blocks:     []Block{},
	}
}

type EmbedResponse struct {
	Model   string      `json:"model"`
	Vectors [][]float32 `json:"vectors"`
}
