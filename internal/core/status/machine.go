package status

import (
	"context"
	"errors"
	"time"

	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/models"
	"github.com/markdave123-py/docuiq/internal/pkg/logger"
)

// maxConflicts bounds how often SetStatus re-reads a row that moved under it.
const maxConflicts = 3

// Store is the persistence the machine needs. core.DbClient satisfies it.
type Store interface {
	GetContentItem(ctx context.Context, id string) (*models.ContentItem, error)
	CompareAndSetStatus(ctx context.Context, item *models.ContentItem, prev models.Status) error
}

// Observer is told about every applied transition.
type Observer func(from, to models.Status)

type Machine struct {
	store    Store
	log      *logger.Logger
	now      func() time.Time
	observer Observer
}

type MachineOption func(*Machine)

func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

func WithObserver(o Observer) MachineOption {
	return func(m *Machine) { m.observer = o }
}

func NewMachine(store Store, log *logger.Logger, opts ...MachineOption) *Machine {
	m := &Machine{store: store, log: log, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

type transition struct {
	errorCode string
	errorText string
	hasError  bool
	patch     map[string]any
}

type Option func(*transition)

// WithError records an error code and text on the item.
func WithError(code, text string) Option {
	return func(t *transition) {
		t.errorCode, t.errorText, t.hasError = code, text, true
	}
}

// WithMetrics merges patch into the item's per-stage metrics.
func WithMetrics(patch map[string]any) Option {
	return func(t *transition) { t.patch = patch }
}

// Apply mutates item in memory if the graph allows the move. It reports
// whether the move was accepted; a rejected move leaves item untouched.
func Apply(item *models.ContentItem, next models.Status, now time.Time, opts ...Option) bool {
	if item == nil || !Allowed(item.Status, next) {
		return false
	}
	var t transition
	for _, o := range opts {
		o(&t)
	}
	item.Status = next
	item.StatusUpdatedAt = now
	item.UpdatedAt = now
	if t.hasError {
		item.ErrorCode = t.errorCode
		item.ErrorText = t.errorText
	}
	if len(t.patch) > 0 {
		if item.Steps == nil {
			item.Steps = make(map[string]any, len(t.patch))
		}
		for k, v := range t.patch {
			item.Steps[k] = v
		}
	}
	item.Indexed = next == models.StatusReady || next == models.StatusPartialReady
	return true
}

// SetStatus moves item to next and persists it. It returns false, leaving
// the stored row alone, when the move is not an edge of the graph. If another
// writer changed the row first, the move is re-checked against the fresh
// status and item is refreshed on rejection. A row deleted underneath is
// not an error: the move counts as applied.
func (m *Machine) SetStatus(ctx context.Context, item *models.ContentItem, next models.Status, opts ...Option) bool {
	for attempt := 0; attempt <= maxConflicts; attempt++ {
		prev := item.Status
		candidate := item.Clone()
		if !Apply(candidate, next, m.now(), opts...) {
			m.log.Debug("status transition rejected", "content_id", item.ID, "from", prev, "to", next)
			return false
		}

		err := m.store.CompareAndSetStatus(ctx, candidate, prev)
		switch {
		case err == nil:
			*item = *candidate
			m.notify(prev, next)
			return true
		case errors.Is(err, core.ErrNotFound):
			m.log.Info("status write skipped, content item is gone", "content_id", item.ID, "to", next)
			*item = *candidate
			return true
		case errors.Is(err, core.ErrStatusConflict):
			fresh, gerr := m.store.GetContentItem(ctx, item.ID)
			if gerr != nil {
				m.log.Warn("reload after status conflict failed", "content_id", item.ID, "error", gerr)
				return false
			}
			if fresh == nil {
				*item = *candidate
				return true
			}
			*item = *fresh
		default:
			m.log.Error("persist status failed", "content_id", item.ID, "to", next, "error", err)
			return false
		}
	}
	m.log.Warn("status transition gave up after repeated conflicts", "content_id", item.ID, "to", next)
	return false
}

// Reset sends a finished item back to QUEUED for a retry, clearing its
// error fields. Items in flight or deleted are left alone.
func (m *Machine) Reset(ctx context.Context, item *models.ContentItem) bool {
	for attempt := 0; attempt <= maxConflicts; attempt++ {
		prev := item.Status
		if !CanReset(prev) {
			return false
		}
		candidate := item.Clone()
		now := m.now()
		candidate.Status = models.StatusQueued
		candidate.StatusUpdatedAt = now
		candidate.UpdatedAt = now
		candidate.ErrorCode = ""
		candidate.ErrorText = ""
		candidate.Indexed = false

		err := m.store.CompareAndSetStatus(ctx, candidate, prev)
		switch {
		case err == nil:
			*item = *candidate
			m.notify(prev, models.StatusQueued)
			return true
		case errors.Is(err, core.ErrStatusConflict):
			fresh, gerr := m.store.GetContentItem(ctx, item.ID)
			if gerr != nil || fresh == nil {
				return false
			}
			*item = *fresh
		default:
			m.log.Warn("reset content item failed", "content_id", item.ID, "error", err)
			return false
		}
	}
	return false
}

func (m *Machine) notify(from, to models.Status) {
	if m.observer != nil {
		m.observer(from, to)
	}
}
