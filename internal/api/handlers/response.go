package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	middleware "github.com/markdave123-py/docuiq/internal/api/middlewares"
	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/pkg/logger"
)

// maxJSONBody caps decoded request bodies.
const maxJSONBody = 32 << 20

type errorBody struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {ok:false, error, detail}. Internal errors keep
// their detail out of the response and in the log.
func writeError(w http.ResponseWriter, log *logger.Logger, err error) {
	status := core.HTTPStatus(err)
	body := errorBody{Error: core.Code(err), Detail: core.Detail(err)}
	if status == http.StatusInternalServerError {
		log.Error("request failed", "err", err)
		body.Detail = "internal error"
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a JSON body into v. Malformed bodies are validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return core.Validation("body_too_large", "request body exceeds %d bytes", tooBig.Limit)
		}
		return core.Validation("invalid_json", "%v", err)
	}
	return nil
}

// ownerOf returns the authenticated owner id or answers 401.
func ownerOf(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Detail: "user_id not found in context"})
		return "", false
	}
	return id, true
}
