package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes. Every error surfaced by the core wraps exactly one of these.
var (
	// ErrConfiguration marks a missing or invalid external-service setting. Not retryable.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransientUpstream marks network failures and 5xx answers from the embedding,
	// generation or indexing services.
	ErrTransientUpstream = errors.New("upstream error")
	// ErrContent marks undecodable input. Callers degrade to empty text.
	ErrContent = errors.New("content error")
	ErrNotFound = errors.New("not found")
	// ErrValidation marks a malformed request; nothing was applied.
	ErrValidation = errors.New("validation error")

	ErrInvalidEmbeddingDimension = errors.New("invalid embedding dimension")
	// ErrStatusConflict is returned by compare-and-set writes when the stored status moved.
	ErrStatusConflict = errors.New("status changed concurrently")
)

// Error carries a stable machine-readable code next to its class.
type Error struct {
	Kind   error
	Code   string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.Kind }

func Validation(code, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Code: code, Detail: fmt.Sprintf(format, args...)}
}

func NotFound(what, id string) error {
	return &Error{Kind: ErrNotFound, Code: "not_found", Detail: fmt.Sprintf("%s %q not found", what, id)}
}

func Upstream(code string, err error) error {
	return &Error{Kind: ErrTransientUpstream, Code: code, Detail: err.Error()}
}

func Configuration(format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Code: "configuration_error", Detail: fmt.Sprintf(format, args...)}
}

// Code returns the stable code of err, falling back to a per-class default.
func Code(err error) string {
	var ce *Error
	if errors.As(err, &ce) && ce.Code != "" {
		return ce.Code
	}
	switch {
	case errors.Is(err, ErrValidation):
		return "invalid_request"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidEmbeddingDimension):
		return "invalid_embedding_dimension"
	case errors.Is(err, ErrTransientUpstream):
		return "upstream_error"
	case errors.Is(err, ErrConfiguration):
		return "configuration_error"
	}
	return "internal_error"
}

// Detail returns the human-readable part of err.
func Detail(err error) string {
	var ce *Error
	if errors.As(err, &ce) && ce.Detail != "" {
		return ce.Detail
	}
	return err.Error()
}

// HTTPStatus maps an error class onto the status code it is served with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidEmbeddingDimension):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTransientUpstream):
		return http.StatusBadGateway
	case errors.Is(err, ErrConfiguration):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
