package ingestion_engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/core/retrieval"
)

// Indexer hands extracted text to the retrieval engine, in process or over HTTP.
type Indexer interface {
	Index(ctx context.Context, req retrieval.IndexRequest) (*retrieval.IndexResult, error)
	Unindex(ctx context.Context, documentID string) (int, error)
}

// IndexError is a failed index call, carrying the status the engine
// answered with and the start of its body.
type IndexError struct {
	Status    int
	Body      string
	Transient bool
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("AI index failed %d: %s", e.Status, e.Body)
}

// snippet keeps the first 200 characters of a response body.
func snippet(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) > 200 {
		r = r[:200]
	}
	return string(r)
}

type LocalIndexer struct {
	engine *retrieval.Engine
}

var _ Indexer = (*LocalIndexer)(nil)

func NewLocalIndexer(engine *retrieval.Engine) *LocalIndexer {
	return &LocalIndexer{engine: engine}
}

func (l *LocalIndexer) Index(ctx context.Context, req retrieval.IndexRequest) (*retrieval.IndexResult, error) {
	res, err := l.engine.IndexDocument(ctx, req)
	if err != nil {
		return nil, &IndexError{
			Status:    core.HTTPStatus(err),
			Body:      snippet(core.Code(err) + ": " + core.Detail(err)),
			Transient: errors.Is(err, core.ErrTransientUpstream),
		}
	}
	return res, nil
}

func (l *LocalIndexer) Unindex(ctx context.Context, documentID string) (int, error) {
	return l.engine.Unindex(ctx, documentID)
}

// HTTPIndexer calls a remote engine's /ai routes.
type HTTPIndexer struct {
	baseURL string
	client  *http.Client
}

var _ Indexer = (*HTTPIndexer)(nil)

func NewHTTPIndexer(baseURL string, timeout time.Duration) *HTTPIndexer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPIndexer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTPIndexer) Index(ctx context.Context, req retrieval.IndexRequest) (*retrieval.IndexResult, error) {
	var res retrieval.IndexResult
	if err := h.post(ctx, "/ai/index_document", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (h *HTTPIndexer) Unindex(ctx context.Context, documentID string) (int, error) {
	var res struct {
		Removed int `json:"removed"`
	}
	if err := h.post(ctx, "/ai/unindex_document", map[string]string{"document_id": documentID}, &res); err != nil {
		return 0, err
	}
	return res.Removed, nil
}

// post sends body as JSON. Network failures and 5xx answers are transient.
func (h *HTTPIndexer) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return &IndexError{Status: 0, Body: snippet(err.Error()), Transient: true}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &IndexError{Status: resp.StatusCode, Body: snippet(err.Error()), Transient: true}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &IndexError{
			Status:    resp.StatusCode,
			Body:      snippet(string(raw)),
			Transient: resp.StatusCode >= 500,
		}
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &IndexError{Status: resp.StatusCode, Body: snippet("invalid response: " + err.Error())}
	}
	return nil
}
