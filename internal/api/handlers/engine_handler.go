package handlers

import (
	"net/http"
	"strings"

	"github.com/markdave123-py/docuiq/internal/core/retrieval"
	"github.com/markdave123-py/docuiq/internal/pkg/logger"
)

// EngineHandler serves the service-to-service /ai routes.
type EngineHandler struct {
	engine *retrieval.Engine
	log    *logger.Logger
}

func NewEngineHandler(engine *retrieval.Engine, log *logger.Logger) *EngineHandler {
	return &EngineHandler{engine: engine, log: log}
}

func (h *EngineHandler) IndexDocument(w http.ResponseWriter, r *http.Request) {
	var req retrieval.IndexRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	res, err := h.engine.IndexDocument(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type unindexRequest struct {
	DocumentID string `json:"document_id"`
}

func (h *EngineHandler) UnindexDocument(w http.ResponseWriter, r *http.Request) {
	var req unindexRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	n, err := h.engine.Unindex(r.Context(), req.DocumentID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": n})
}

// askRequest is the wire form of a question. DocumentIDs, when present,
// restricts retrieval to those documents. WithSources defaults to true.
type askRequest struct {
	Question    string   `json:"question"`
	TopK        int      `json:"top_k"`
	WithSources *bool    `json:"with_sources"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

func (a askRequest) toAsk() retrieval.AskRequest {
	req := retrieval.AskRequest{Question: a.Question, TopK: a.TopK, WithSources: true}
	if a.WithSources != nil {
		req.WithSources = *a.WithSources
	}
	if req.TopK == 0 {
		req.TopK = retrieval.DefaultTopK
	}
	if a.DocumentIDs != nil {
		allowed := make(map[string]bool, len(a.DocumentIDs))
		for _, id := range a.DocumentIDs {
			allowed[strings.TrimSpace(id)] = true
		}
		req.Allow = func(id string) bool { return allowed[id] }
	}
	return req
}

func (h *EngineHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	resp, err := h.engine.Ask(r.Context(), req.toAsk())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

func (h *EngineHandler) Embed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	resp, err := h.engine.Embed(r.Context(), req.Texts)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *EngineHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.ClearAll(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.log.Warn("vector store cleared", "removed", n)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": n})
}

func (h *EngineHandler) Health(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Count(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "chunks": n})
}
