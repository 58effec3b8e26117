package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Status is the ingest state of a ContentItem.
type Status string

const (
	StatusQueued       Status = "QUEUED"
	StatusFetching     Status = "FETCHING"
	StatusNormalizing  Status = "NORMALIZING"
	StatusChunking     Status = "CHUNKING"
	StatusEmbedding    Status = "EMBEDDING"
	StatusIndexing     Status = "INDEXING"
	StatusReady        Status = "READY"
	StatusPartialReady Status = "PARTIAL_READY"
	StatusFailed       Status = "FAILED"
	StatusCancelled    Status = "CANCELLED"
	StatusDeleted      Status = "DELETED"
)

// Stable error codes recorded on failed content items.
const (
	ErrCodeFetch     = "FETCH_ERROR"
	ErrCodeRateLimit = "RATE_LIMIT"
	ErrCodeTimeout   = "TIMEOUT"
	ErrCodeEmbed     = "EMBED_ERROR"
	ErrCodeIndex     = "INDEX_ERROR"
	ErrCodeStorage   = "STORAGE_ERROR"
)

// JobStatus mirrors the progress of an IngestJob.
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

const (
	JobModeUpload = "upload"
	JobModeWeb    = "web"
)

// ContentItem is one uploaded or fetched artifact tracked through the ingest pipeline.
type ContentItem struct {
	ID              string         `db:"id" json:"id"`
	OwnerID         string         `db:"owner_id" json:"owner_id"`
	Filename        string         `db:"filename" json:"filename"`
	ContentType     string         `db:"content_type" json:"content_type"`
	Size            int64          `db:"size" json:"size"`
	Checksum        string         `db:"checksum" json:"checksum"`
	StorageKey      string         `db:"storage_key" json:"storage_key"`
	Status          Status         `db:"status" json:"status"`
	StatusUpdatedAt time.Time      `db:"status_updated_at" json:"status_updated_at"`
	ErrorCode       string         `db:"error_code" json:"error_code"`
	ErrorText       string         `db:"error_text" json:"error_text"`
	Steps           map[string]any `db:"steps_json" json:"steps_json"` // per-stage metrics, merged additively
	Indexed         bool           `db:"indexed" json:"indexed_bool"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// SourceURL returns the origin url recorded for web items, or "".
func (c *ContentItem) SourceURL() string {
	if c == nil || c.Steps == nil {
		return ""
	}
	s, _ := c.Steps["source_url"].(string)
	return s
}

// Clone returns a copy that shares no maps with c.
func (c *ContentItem) Clone() *ContentItem {
	if c == nil {
		return nil
	}
	out := *c
	out.Steps = CloneMap(c.Steps)
	return &out
}

// IngestJob is a unit of asynchronous work: processing an upload or fetching a url.
type IngestJob struct {
	ID         string         `db:"id" json:"id"`
	OwnerID    string         `db:"owner_id" json:"owner_id"`
	Mode       string         `db:"mode" json:"mode"`
	Payload    map[string]any `db:"payload" json:"payload"`
	Status     JobStatus      `db:"status" json:"status"`
	Progress   int            `db:"progress" json:"progress"`
	Message    string         `db:"message" json:"message"`
	ContentID  string         `db:"content_id" json:"content_id,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	StartedAt  *time.Time     `db:"started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time     `db:"finished_at" json:"finished_at,omitempty"`
}

func (j *IngestJob) Clone() *IngestJob {
	if j == nil {
		return nil
	}
	out := *j
	out.Payload = CloneMap(j.Payload)
	return &out
}

// ChunkRecord is one row of the vector store.
type ChunkRecord struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding"`
}

// Match is a ranked vector store hit.
type Match struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

// PageText is the text of one physical page, 1-based.
type PageText struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// CloneMap copies the top level of m.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// DocumentIDOf resolves the owning document id of chunk metadata.
// Numeric ids are rendered without a fractional part.
func DocumentIDOf(meta map[string]any) string {
	for _, k := range []string{"document_id", "documentId", "doc_id"} {
		if s := MetaString(meta[k]); s != "" {
			return s
		}
	}
	return ""
}

// MetaString renders a loosely typed metadata value as a string.
func MetaString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
