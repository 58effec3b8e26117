package retrieval

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/markdave123-py/docuiq/internal/models"
)

// Source types a citation may carry. Values outside this list are passed
// through untouched.
const (
	SourcePDF        = "pdf"
	SourceWeb        = "web"
	SourceEmail      = "email"
	SourceSlack      = "slack"
	SourceTeams      = "teams"
	SourceGDrive     = "gdrive"
	SourceDB         = "db"
	SourceDocument   = "document"
	SourceNotion     = "notion"
	SourceSharePoint = "sharepoint"
	SourceOneDrive   = "onedrive"
)

var sourceAliases = map[string]string{
	"drive":        SourceGDrive,
	"google_drive": SourceGDrive,
	"google":       SourceGDrive,
	"googledrive":  SourceGDrive,
	"ms_teams":     SourceTeams,
	"msteams":      SourceTeams,
	"share-point":  SourceSharePoint,
	"share_point":  SourceSharePoint,
	"one_drive":    SourceOneDrive,
	"one-drive":    SourceOneDrive,
	"web_page":     SourceWeb,
	"url":          SourceWeb,
	"html":         SourceWeb,
	"mail":         SourceEmail,
	"gmail":        SourceEmail,
	"outlook":      SourceEmail,
	"database":     SourceDB,
	"sql":          SourceDB,
	"postgres":     SourceDB,
	"doc":          SourceDocument,
	"file":         SourceDocument,
	"text":         SourceDocument,
	"upload":       SourceDocument,
}

var knownSources = map[string]bool{
	SourcePDF: true, SourceWeb: true, SourceEmail: true, SourceSlack: true,
	SourceTeams: true, SourceGDrive: true, SourceDB: true, SourceDocument: true,
	SourceNotion: true, SourceSharePoint: true, SourceOneDrive: true,
}

// NormalizeSourceType maps aliases onto the canonical source types.
// An empty value becomes "document"; unknown values are kept as given.
func NormalizeSourceType(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return SourceDocument
	}
	if alias, ok := sourceAliases[s]; ok {
		return alias
	}
	if knownSources[s] {
		return s
	}
	return strings.TrimSpace(raw)
}

// SourceLocation pins a citation inside its source. Exactly one variant is
// attached to every citation.
type SourceLocation interface {
	// Label is the short human form used in prompts.
	Label() string
	isLocation()
}

type PdfLocation struct {
	Page int
}

type WebLocation struct {
	URL string
}

type EmailLocation struct {
	ThreadID  string
	MessageID string
	TS        string
}

type ChatLocation struct {
	ThreadID  string
	MessageID string
	TS        string
}

type DBLocation struct {
	Table  string
	RowID  string
	Column string
}

type GenericLocation struct{}

func (l PdfLocation) Label() string {
	if l.Page <= 0 {
		return "document"
	}
	return fmt.Sprintf("page %d", l.Page)
}

func (l WebLocation) Label() string {
	if l.URL == "" {
		return "web page"
	}
	return l.URL
}

func (l EmailLocation) Label() string { return messageLabel(l.ThreadID, l.MessageID, l.TS) }
func (l ChatLocation) Label() string  { return messageLabel(l.ThreadID, l.MessageID, l.TS) }

func (l DBLocation) Label() string {
	var parts []string
	if l.Table != "" {
		parts = append(parts, "table "+l.Table)
	}
	if l.RowID != "" {
		parts = append(parts, "row "+l.RowID)
	}
	if l.Column != "" {
		parts = append(parts, "column "+l.Column)
	}
	if len(parts) == 0 {
		return "record"
	}
	return strings.Join(parts, ", ")
}

func (GenericLocation) Label() string { return "document" }

func (PdfLocation) isLocation()     {}
func (WebLocation) isLocation()     {}
func (EmailLocation) isLocation()   {}
func (ChatLocation) isLocation()    {}
func (DBLocation) isLocation()      {}
func (GenericLocation) isLocation() {}

func messageLabel(thread, message, ts string) string {
	var parts []string
	if thread != "" {
		parts = append(parts, "thread "+thread)
	}
	if message != "" {
		parts = append(parts, "message "+message)
	}
	if ts != "" {
		parts = append(parts, "at "+ts)
	}
	if len(parts) == 0 {
		return "message"
	}
	return strings.Join(parts, ", ")
}

// locationFor picks the location variant that fits sourceType.
func locationFor(sourceType string, meta map[string]any) SourceLocation {
	switch sourceType {
	case SourcePDF:
		return PdfLocation{Page: metaInt(meta["page"])}
	case SourceWeb, SourceGDrive, SourceNotion, SourceSharePoint, SourceOneDrive:
		return WebLocation{URL: explicitURL(meta)}
	case SourceEmail:
		return EmailLocation{
			ThreadID:  models.MetaString(meta["thread_id"]),
			MessageID: models.MetaString(meta["message_id"]),
			TS:        models.MetaString(meta["ts"]),
		}
	case SourceSlack, SourceTeams:
		return ChatLocation{
			ThreadID:  models.MetaString(meta["thread_id"]),
			MessageID: models.MetaString(meta["message_id"]),
			TS:        models.MetaString(meta["ts"]),
		}
	case SourceDB:
		return DBLocation{
			Table:  models.MetaString(meta["table"]),
			RowID:  models.MetaString(meta["row_id"]),
			Column: models.MetaString(meta["column"]),
		}
	}
	if page := metaInt(meta["page"]); page > 0 {
		return PdfLocation{Page: page}
	}
	return GenericLocation{}
}

func explicitURL(meta map[string]any) string {
	for _, k := range []string{"url", "view_url", "origin_url", "source_url"} {
		if s := strings.TrimSpace(models.MetaString(meta[k])); s != "" {
			return s
		}
	}
	return ""
}

// resolveURL returns the explicit link of a chunk, or the in-app viewer path.
func resolveURL(docID string, meta map[string]any) string {
	if u := explicitURL(meta); u != "" {
		return u
	}
	path := "/documents/" + url.PathEscape(docID)
	if page := metaInt(meta["page"]); page > 0 {
		path += "?p=" + strconv.Itoa(page)
	}
	return path
}

func metaInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0
		}
		return n
	}
	n, err := strconv.Atoi(models.MetaString(v))
	if err != nil {
		return 0
	}
	return n
}
