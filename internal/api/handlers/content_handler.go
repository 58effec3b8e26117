package handlers

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/pkg/logger"
	"github.com/markdave123-py/docuiq/internal/services"
)

// maxUploadBytes is the largest accepted upload.
const maxUploadBytes = 50 << 20

// ContentHandler serves the tenant /api routes.
type ContentHandler struct {
	svc *services.ContentService
	log *logger.Logger
}

func NewContentHandler(svc *services.ContentService, log *logger.Logger) *ContentHandler {
	return &ContentHandler{svc: svc, log: log}
}

// Upload handles a multipart upload in the "file" field.
func (h *ContentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOf(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, h.log, core.Validation("invalid_upload", "%v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.log, core.Validation("missing_file", "multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, h.log, core.Validation("invalid_upload", "%v", err))
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, h.log, core.Validation("file_too_large", "file exceeds %d bytes", maxUploadBytes))
		return
	}

	res, err := h.svc.Upload(r.Context(), owner, filepath.Base(header.Filename), header.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type webRequest struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (h *ContentHandler) SubmitWeb(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOf(w, r)
	if !ok {
		return
	}
	var req webRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	job, err := h.svc.SubmitWeb(r.Context(), owner, req.URL, req.Headers)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *ContentHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOf(w, r)
	if !ok {
		return
	}
	items, err := h.svc.List(r.Context(), owner)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "results": items})
}

func (h *ContentHandler) Status(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOf(w, r)
	if !ok {
		return
	}
	st, err := h.svc.Status(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *ContentHandler) Retry(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOf(w, r)
	if !ok {
		return
	}
	job, err := h.svc.Retry(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "job_id": job.ID})
}

func (h *ContentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOf(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.Delete(r.Context(), owner, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Ask answers from the caller's own documents.
func (h *ContentHandler) Ask(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOf(w, r)
	if !ok {
		return
	}
	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	req.DocumentIDs = nil
	resp, err := h.svc.Ask(r.Context(), owner, req.toAsk())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type cleanupRequest struct {
	Action string `json:"action"`
}

func (h *ContentHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOf(w, r)
	if !ok {
		return
	}
	var req cleanupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	res, err := h.svc.Cleanup(r.Context(), owner, strings.ToLower(strings.TrimSpace(req.Action)))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
