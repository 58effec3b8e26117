package db

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/models"
)

var _ core.DbClient = (*MemoryClient)(nil)

// MemoryClient is a process-local DbClient with the same semantics as the
// Postgres client. It backs DATABASE_URL=memory and the tests.
type MemoryClient struct {
	mu    sync.RWMutex
	items map[string]*models.ContentItem
	jobs  map[string]*models.IngestJob
	// seq orders rows by insertion when timestamps tie.
	seq     int
	itemSeq map[string]int
	jobSeq  map[string]int
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		items:   make(map[string]*models.ContentItem),
		jobs:    make(map[string]*models.IngestJob),
		itemSeq: make(map[string]int),
		jobSeq:  make(map[string]int),
	}
}

func (c *MemoryClient) Close() error { return nil }

func (c *MemoryClient) CreateContentItem(_ context.Context, item *models.ContentItem) error {
	if item == nil {
		return errors.New("nil content item")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[item.ID]; ok {
		return core.Validation("duplicate_id", "content item %q already exists", item.ID)
	}
	c.seq++
	c.items[item.ID] = item.Clone()
	c.itemSeq[item.ID] = c.seq
	return nil
}

func (c *MemoryClient) GetContentItem(_ context.Context, id string) (*models.ContentItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items[id].Clone(), nil
}

func (c *MemoryClient) ListContentItemsByOwner(_ context.Context, ownerID string) ([]models.ContentItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []models.ContentItem
	for _, it := range c.sortedItems() {
		if it.OwnerID == ownerID {
			out = append(out, *it.Clone())
		}
	}
	return out, nil
}

func (c *MemoryClient) FindContentItemBySourceURL(_ context.Context, ownerID, sourceURL string) (*models.ContentItem, error) {
	return c.findLatest(func(it *models.ContentItem) bool {
		return it.OwnerID == ownerID && it.SourceURL() == sourceURL
	}), nil
}

func (c *MemoryClient) FindContentItemByChecksum(_ context.Context, ownerID, checksum string) (*models.ContentItem, error) {
	return c.findLatest(func(it *models.ContentItem) bool {
		return it.OwnerID == ownerID && it.Checksum == checksum
	}), nil
}

func (c *MemoryClient) findLatest(match func(*models.ContentItem) bool) *models.ContentItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, it := range c.sortedItems() {
		if it.Status != models.StatusDeleted && match(it) {
			return it.Clone()
		}
	}
	return nil
}

func (c *MemoryClient) UpdateContentItem(_ context.Context, item *models.ContentItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.items[item.ID]
	if !ok {
		return core.NotFound("content item", item.ID)
	}
	cur.Filename = item.Filename
	cur.ContentType = item.ContentType
	cur.Size = item.Size
	cur.Checksum = item.Checksum
	cur.StorageKey = item.StorageKey
	cur.Steps = models.CloneMap(item.Steps)
	return nil
}

func (c *MemoryClient) CompareAndSetStatus(_ context.Context, item *models.ContentItem, prev models.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.items[item.ID]
	if !ok {
		return core.NotFound("content item", item.ID)
	}
	if cur.Status != prev {
		return core.ErrStatusConflict
	}
	cur.Status = item.Status
	cur.StatusUpdatedAt = item.StatusUpdatedAt
	cur.UpdatedAt = item.StatusUpdatedAt
	cur.ErrorCode = item.ErrorCode
	cur.ErrorText = item.ErrorText
	cur.Steps = models.CloneMap(item.Steps)
	cur.Indexed = item.Indexed
	return nil
}

func (c *MemoryClient) DeleteContentItem(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	delete(c.itemSeq, id)
	return nil
}

func (c *MemoryClient) CreateJob(_ context.Context, job *models.IngestJob) error {
	if job == nil {
		return errors.New("nil job")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[job.ID]; ok {
		return core.Validation("duplicate_id", "job %q already exists", job.ID)
	}
	c.seq++
	c.jobs[job.ID] = job.Clone()
	c.jobSeq[job.ID] = c.seq
	return nil
}

func (c *MemoryClient) GetJob(_ context.Context, id string) (*models.IngestJob, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jobs[id].Clone(), nil
}

func (c *MemoryClient) ListJobsByOwner(_ context.Context, ownerID string) ([]models.IngestJob, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.jobs))
	for id, j := range c.jobs {
		if j.OwnerID == ownerID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return c.jobSeq[ids[a]] > c.jobSeq[ids[b]] })
	out := make([]models.IngestJob, 0, len(ids))
	for _, id := range ids {
		out = append(out, *c.jobs[id].Clone())
	}
	return out, nil
}

func (c *MemoryClient) UpdateJob(_ context.Context, job *models.IngestJob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.jobs[job.ID]
	if !ok {
		return nil
	}
	if cur.Status == models.JobCancelled && job.Status != models.JobCancelled {
		return nil
	}
	created := cur.CreatedAt
	c.jobs[job.ID] = job.Clone()
	c.jobs[job.ID].CreatedAt = created
	return nil
}

func (c *MemoryClient) DeleteJob(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.jobs, id)
	delete(c.jobSeq, id)
	return nil
}

// sortedItems returns items newest first. Callers hold c.mu.
func (c *MemoryClient) sortedItems() []*models.ContentItem {
	out := make([]*models.ContentItem, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it)
	}
	sort.Slice(out, func(a, b int) bool { return c.itemSeq[out[a].ID] > c.itemSeq[out[b].ID] })
	return out
}
