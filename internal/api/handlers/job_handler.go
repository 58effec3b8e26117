package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/docuiq/internal/pkg/logger"
	"github.com/markdave123-py/docuiq/internal/services"
)

type JobHandler struct {
	svc *services.ContentService
	log *logger.Logger
}

func NewJobHandler(svc *services.ContentService, log *logger.Logger) *JobHandler {
	return &JobHandler{svc: svc, log: log}
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOf(w, r)
	if !ok {
		return
	}
	jobs, err := h.svc.ListJobs(r.Context(), owner)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOf(w, r)
	if !ok {
		return
	}
	job, err := h.svc.GetJob(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOf(w, r)
	if !ok {
		return
	}
	job, err := h.svc.CancelJob(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job": job})
}

// Delete removes a job; web jobs cascade to the item they fetched.
func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOf(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.DeleteJob(r.Context(), owner, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
