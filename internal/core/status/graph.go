// Package status implements the forward-only ingest state machine of content items.
package status

import (
	"slices"

	"github.com/markdave123-py/docuiq/internal/models"
)

// chain is the happy path, in order.
var chain = []models.Status{
	models.StatusQueued,
	models.StatusFetching,
	models.StatusNormalizing,
	models.StatusChunking,
	models.StatusEmbedding,
	models.StatusIndexing,
	models.StatusReady,
}

// graph lists, for every state, the states it may move to.
var graph = buildGraph()

func buildGraph() map[models.Status][]models.Status {
	g := make(map[models.Status][]models.Status)
	exits := []models.Status{models.StatusFailed, models.StatusCancelled}

	for i, s := range chain[:len(chain)-1] {
		next := slices.Clone(chain[i+1:])
		if s == models.StatusEmbedding || s == models.StatusIndexing {
			next = append(next, models.StatusPartialReady)
		}
		g[s] = append(next, exits...)
	}
	g[models.StatusReady] = append([]models.Status{models.StatusDeleted}, exits...)
	g[models.StatusPartialReady] = append([]models.Status{models.StatusDeleted}, exits...)
	g[models.StatusFailed] = slices.Clone(exits)
	g[models.StatusCancelled] = slices.Clone(exits)
	g[models.StatusDeleted] = nil
	return g
}

// resettable are the states a retry may send back to QUEUED.
var resettable = []models.Status{
	models.StatusReady,
	models.StatusPartialReady,
	models.StatusFailed,
	models.StatusCancelled,
}

var retryable = map[string]bool{
	models.ErrCodeRateLimit: true,
	models.ErrCodeTimeout:   true,
	models.ErrCodeEmbed:     true,
	models.ErrCodeIndex:     true,
	models.ErrCodeStorage:   true,
}

// Allowed reports whether from may move to to.
func Allowed(from, to models.Status) bool {
	return slices.Contains(graph[from], to)
}

// Next returns a copy of the states reachable from s in one step.
func Next(s models.Status) []models.Status {
	return slices.Clone(graph[s])
}

// All returns every known status.
func All() []models.Status {
	return append(slices.Clone(chain),
		models.StatusPartialReady, models.StatusFailed, models.StatusCancelled, models.StatusDeleted)
}

func IsTerminal(s models.Status) bool {
	switch s {
	case models.StatusReady, models.StatusPartialReady, models.StatusFailed,
		models.StatusCancelled, models.StatusDeleted:
		return true
	}
	return false
}

// CanReset reports whether a retry may move s back to QUEUED.
func CanReset(s models.Status) bool {
	return slices.Contains(resettable, s)
}

// IsRetryable classifies error codes. It only informs callers; the machine
// itself never retries.
func IsRetryable(code string) bool {
	return retryable[code]
}
