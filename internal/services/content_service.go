package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/core/ingestion_engine"
	"github.com/markdave123-py/docuiq/internal/core/queue"
	"github.com/markdave123-py/docuiq/internal/core/retrieval"
	"github.com/markdave123-py/docuiq/internal/core/status"
	"github.com/markdave123-py/docuiq/internal/models"
	"github.com/markdave123-py/docuiq/internal/pkg/logger"
)

// Asker answers questions against the shared index.
type Asker interface {
	Ask(ctx context.Context, req retrieval.AskRequest) (*retrieval.AskResponse, error)
}

// ContentService holds the tenant operations on content items and jobs.
// Every method is scoped to an owner; rows of other owners read as missing.
type ContentService struct {
	db      core.DbClient
	objects core.ObjectClient
	indexer ingestion_engine.Indexer
	asker   Asker
	tasks   queue.Enqueuer
	machine *status.Machine
	log     *logger.Logger
	now     func() time.Time
}

type ContentDeps struct {
	DB      core.DbClient
	Objects core.ObjectClient
	Indexer ingestion_engine.Indexer
	Asker   Asker
	Tasks   queue.Enqueuer
	Machine *status.Machine
	Log     *logger.Logger
	Now     func() time.Time
}

func NewContentService(d ContentDeps) *ContentService {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ContentService{
		db:      d.DB,
		objects: d.Objects,
		indexer: d.Indexer,
		asker:   d.Asker,
		tasks:   d.Tasks,
		machine: d.Machine,
		log:     d.Log,
		now:     now,
	}
}

// UploadResult is the item an upload created and the job processing it.
type UploadResult struct {
	Item *models.ContentItem `json:"item"`
	Job  *models.IngestJob   `json:"job"`
}

// Upload stores the bytes, records a QUEUED item with its upload job and
// queues processing.
func (s *ContentService) Upload(ctx context.Context, ownerID, filename, contentType string, data []byte) (*UploadResult, error) {
	if len(data) == 0 {
		return nil, core.Validation("empty_file", "uploaded file %q is empty", filename)
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = "upload"
	}
	if contentType == "" {
		contentType = ingestion_engine.NormalizeContentType("", filename)
	}

	sum := sha256.Sum256(data)
	now := s.now()
	id := uuid.NewString()
	item := &models.ContentItem{
		ID:              id,
		OwnerID:         ownerID,
		Filename:        filename,
		ContentType:     contentType,
		Size:            int64(len(data)),
		Checksum:        hex.EncodeToString(sum[:]),
		StorageKey:      ingestion_engine.StorageKey(ownerID, id, filename),
		Status:          models.StatusQueued,
		StatusUpdatedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := s.objects.UploadFile(ctx, item.StorageKey, bytes.NewReader(data), contentType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if err := s.db.CreateContentItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create content item: %w", err)
	}

	job, err := s.queueItem(ctx, item)
	if err != nil {
		return nil, err
	}
	s.log.Info("upload queued", "content_id", item.ID, "job_id", job.ID, "owner_id", ownerID, "bytes", item.Size)
	return &UploadResult{Item: item, Job: job}, nil
}

// SubmitWeb records a web job for rawURL and queues the fetch.
func (s *ContentService) SubmitWeb(ctx context.Context, ownerID, rawURL string, headers map[string]string) (*models.IngestJob, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, core.Validation("invalid_url", "url %q must be an absolute http(s) url", rawURL)
	}

	payload := map[string]any{"url": rawURL}
	if len(headers) > 0 {
		h := make(map[string]any, len(headers))
		for k, v := range headers {
			h[k] = v
		}
		payload["headers"] = h
	}
	job := &models.IngestJob{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Mode:      models.JobModeWeb,
		Payload:   payload,
		Status:    models.JobQueued,
		CreatedAt: s.now(),
	}
	if err := s.db.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.tasks.Enqueue(ctx, queue.Task{Kind: queue.KindProcessWebJob, JobID: job.ID}); err != nil {
		return nil, fmt.Errorf("enqueue web job: %w", err)
	}
	s.log.Info("web job queued", "job_id", job.ID, "owner_id", ownerID, "url", rawURL)
	return job, nil
}

// List returns the owner's live items, newest first.
func (s *ContentService) List(ctx context.Context, ownerID string) ([]models.ContentItem, error) {
	items, err := s.db.ListContentItemsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list content items: %w", err)
	}
	out := make([]models.ContentItem, 0, len(items))
	for _, it := range items {
		if it.Status != models.StatusDeleted {
			out = append(out, it)
		}
	}
	return out, nil
}

// ContentStatus is the pipeline view of one item.
type ContentStatus struct {
	ID        string         `json:"id"`
	Status    models.Status  `json:"status"`
	ErrorCode string         `json:"error_code"`
	ErrorText string         `json:"error_text"`
	Steps     map[string]any `json:"steps_json"`
	Indexed   bool           `json:"indexed_bool"`
}

func (s *ContentService) Status(ctx context.Context, ownerID, id string) (*ContentStatus, error) {
	item, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return &ContentStatus{
		ID:        item.ID,
		Status:    item.Status,
		ErrorCode: item.ErrorCode,
		ErrorText: item.ErrorText,
		Steps:     item.Steps,
		Indexed:   item.Indexed,
	}, nil
}

// Retry sends a finished item back to QUEUED and queues a fresh upload job.
func (s *ContentService) Retry(ctx context.Context, ownerID, id string) (*models.IngestJob, error) {
	item, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !s.machine.Reset(ctx, item) {
		return nil, core.Validation("not_retryable", "content item %s is %s", item.ID, item.Status)
	}
	job, err := s.queueItem(ctx, item)
	if err != nil {
		return nil, err
	}
	s.log.Info("retry queued", "content_id", item.ID, "job_id", job.ID)
	return job, nil
}

// DeleteResult counts what a delete removed.
type DeleteResult struct {
	VectorsRemoved int `json:"vectors_removed"`
	JobsDeleted    int `json:"jobs_deleted"`
}

// Delete removes an item's vectors and bytes. READY and PARTIAL_READY items
// are kept as DELETED tombstones; other finished items lose their row.
// Items in flight must be cancelled first.
func (s *ContentService) Delete(ctx context.Context, ownerID, id string) (*DeleteResult, error) {
	item, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	switch item.Status {
	case models.StatusReady, models.StatusPartialReady:
		removed, err := s.indexer.Unindex(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("unindex %s: %w", item.ID, err)
		}
		if !s.machine.SetStatus(ctx, item, models.StatusDeleted) {
			return nil, core.Validation("status_changed", "content item %s moved to %s", item.ID, item.Status)
		}
		s.deleteObject(ctx, item)
		jobs, err := s.deleteJobsOf(ctx, item)
		if err != nil {
			return nil, err
		}
		return &DeleteResult{VectorsRemoved: removed, JobsDeleted: jobs}, nil
	case models.StatusQueued, models.StatusFailed, models.StatusCancelled:
		return s.purge(ctx, item)
	}
	return nil, core.Validation("in_flight", "content item %s is %s; cancel its job first", item.ID, item.Status)
}

// Ask answers a question from the owner's indexed items only.
func (s *ContentService) Ask(ctx context.Context, ownerID string, req retrieval.AskRequest) (*retrieval.AskResponse, error) {
	items, err := s.db.ListContentItemsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list content items: %w", err)
	}
	allowed := make(map[string]bool, len(items))
	for _, it := range items {
		if it.Indexed {
			allowed[it.ID] = true
		}
	}
	req.Allow = func(documentID string) bool { return allowed[documentID] }
	return s.asker.Ask(ctx, req)
}

// owned loads an item of ownerID. Deleted items and items of other owners
// are reported as not found.
func (s *ContentService) owned(ctx context.Context, ownerID, id string) (*models.ContentItem, error) {
	item, err := s.db.GetContentItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load content item %s: %w", id, err)
	}
	if item == nil || item.OwnerID != ownerID || item.Status == models.StatusDeleted {
		return nil, core.NotFound("content item", id)
	}
	return item, nil
}

func (s *ContentService) queueItem(ctx context.Context, item *models.ContentItem) (*models.IngestJob, error) {
	job := &models.IngestJob{
		ID:        uuid.NewString(),
		OwnerID:   item.OwnerID,
		Mode:      models.JobModeUpload,
		Payload:   map[string]any{"file_ids": []any{item.ID}},
		Status:    models.JobQueued,
		ContentID: item.ID,
		CreatedAt: s.now(),
	}
	if err := s.db.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.tasks.Enqueue(ctx, queue.Task{Kind: queue.KindProcessItem, ContentID: item.ID, JobID: job.ID}); err != nil {
		return nil, fmt.Errorf("enqueue content item: %w", err)
	}
	return job, nil
}

// purge removes an item completely: vectors, bytes, related jobs and row.
func (s *ContentService) purge(ctx context.Context, item *models.ContentItem) (*DeleteResult, error) {
	removed, err := s.indexer.Unindex(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("unindex %s: %w", item.ID, err)
	}
	s.deleteObject(ctx, item)
	jobs, err := s.deleteJobsOf(ctx, item)
	if err != nil {
		return nil, err
	}
	if err := s.db.DeleteContentItem(ctx, item.ID); err != nil {
		return nil, fmt.Errorf("delete content item %s: %w", item.ID, err)
	}
	s.log.Info("content item purged", "content_id", item.ID, "vectors", removed, "jobs", jobs)
	return &DeleteResult{VectorsRemoved: removed, JobsDeleted: jobs}, nil
}

// deleteObject drops stored bytes. A missing object is fine.
func (s *ContentService) deleteObject(ctx context.Context, item *models.ContentItem) {
	if item.StorageKey == "" {
		return
	}
	if err := s.objects.DeleteFile(ctx, item.StorageKey); err != nil {
		s.log.Warn("delete object failed", "content_id", item.ID, "key", item.StorageKey, "err", err)
	}
}

// deleteJobsOf removes the owner's jobs that produced or fetched item.
func (s *ContentService) deleteJobsOf(ctx context.Context, item *models.ContentItem) (int, error) {
	jobs, err := s.db.ListJobsByOwner(ctx, item.OwnerID)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	n := 0
	for _, j := range jobs {
		if !jobTouches(&j, item) {
			continue
		}
		if err := s.db.DeleteJob(ctx, j.ID); err != nil {
			return n, fmt.Errorf("delete job %s: %w", j.ID, err)
		}
		n++
	}
	return n, nil
}

// jobTouches reports whether job references item by id, upload file list
// or fetched url.
func jobTouches(job *models.IngestJob, item *models.ContentItem) bool {
	if job.ContentID == item.ID || models.MetaString(job.Payload["file_id"]) == item.ID {
		return true
	}
	if ids, ok := job.Payload["file_ids"].([]any); ok {
		for _, v := range ids {
			if models.MetaString(v) == item.ID {
				return true
			}
		}
	}
	src := item.SourceURL()
	return src != "" && (models.MetaString(job.Payload["url"]) == src || models.MetaString(job.Payload["start_url"]) == src)
}
