package ingestion_engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/markdave123-py/docuiq/internal/core/queue"
	"github.com/markdave123-py/docuiq/internal/core/status"
	"github.com/markdave123-py/docuiq/internal/models"
)

// ProcessWebJob fetches the url of a web job into a content item and
// queues the item for processing. The job stays RUNNING until the item
// run finishes it; fetch problems fail the job directly.
func (p *Pipeline) ProcessWebJob(ctx context.Context, jobID string) error {
	job, err := p.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil || jobFinished(job.Status) {
		return nil
	}
	p.startJob(ctx, job, 0)

	if err := p.fetchWeb(ctx, job); err != nil {
		p.log.Warn("web job failed", "job_id", job.ID, "err", err)
		p.failJob(ctx, job, err.Error())
	}
	return nil
}

func (p *Pipeline) fetchWeb(ctx context.Context, job *models.IngestJob) error {
	payload := job.Payload
	rawURL := models.MetaString(payload["url"])
	if rawURL == "" {
		rawURL = models.MetaString(payload["start_url"])
	}

	var rec *models.ContentItem
	if hint := models.MetaString(payload["file_id"]); hint != "" {
		found, err := p.db.GetContentItem(ctx, hint)
		if err != nil {
			return fmt.Errorf("load content item %s: %w", hint, err)
		}
		if found != nil && found.OwnerID == job.OwnerID && found.Status != models.StatusDeleted {
			rec = found
			if rawURL == "" {
				rawURL = rec.SourceURL()
			}
		}
	}
	if rawURL == "" {
		return errors.New("missing url in payload")
	}

	res, err := p.fetcher.Fetch(ctx, rawURL, headersOf(payload["headers"]))
	if err != nil {
		return err
	}
	sum := sha256.Sum256(res.Body)
	checksum := hex.EncodeToString(sum[:])

	if rec == nil {
		if rec, err = p.db.FindContentItemBySourceURL(ctx, job.OwnerID, rawURL); err != nil {
			return fmt.Errorf("find by url: %w", err)
		}
	}
	if rec == nil {
		if rec, err = p.db.FindContentItemByChecksum(ctx, job.OwnerID, checksum); err != nil {
			return fmt.Errorf("find by checksum: %w", err)
		}
	}

	now := p.now()
	if rec == nil {
		id := uuid.NewString()
		rec = &models.ContentItem{
			ID:              id,
			OwnerID:         job.OwnerID,
			Filename:        res.Name,
			ContentType:     res.ContentType,
			Size:            int64(len(res.Body)),
			Checksum:        checksum,
			StorageKey:      StorageKey(job.OwnerID, id, res.Name),
			Status:          models.StatusQueued,
			StatusUpdatedAt: now,
			Steps:           map[string]any{"source_url": rawURL},
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := p.db.CreateContentItem(ctx, rec); err != nil {
			return fmt.Errorf("create content item: %w", err)
		}
	} else {
		if rec.Status != models.StatusQueued && !status.CanReset(rec.Status) {
			return fmt.Errorf("content item %s is still being processed (%s)", rec.ID, rec.Status)
		}
		rec.Filename = res.Name
		rec.ContentType = res.ContentType
		rec.Size = int64(len(res.Body))
		rec.Checksum = checksum
		rec.StorageKey = StorageKey(job.OwnerID, rec.ID, res.Name)
		if rec.Steps == nil {
			rec.Steps = map[string]any{}
		}
		rec.Steps["source_url"] = rawURL
		if err := p.db.UpdateContentItem(ctx, rec); err != nil {
			return fmt.Errorf("update content item: %w", err)
		}
		if rec.Status != models.StatusQueued && !p.machine.Reset(ctx, rec) {
			return fmt.Errorf("content item %s could not be requeued from %s", rec.ID, rec.Status)
		}
	}

	if _, err := p.obj.UploadFile(ctx, rec.StorageKey, bytes.NewReader(res.Body), res.ContentType); err != nil {
		p.machine.SetStatus(ctx, rec, models.StatusFailed, status.WithError(models.ErrCodeStorage, err.Error()))
		return fmt.Errorf("store fetched content: %w", err)
	}

	if job.Payload == nil {
		job.Payload = map[string]any{}
	}
	job.Payload["file_id"] = rec.ID
	if _, ok := job.Payload["url"]; !ok {
		job.Payload["url"] = rawURL
	}
	job.ContentID = rec.ID
	job.Status = models.JobRunning
	job.Message = fmt.Sprintf("Fetched %s -> %s; indexing queued", rawURL, res.Name)
	// saved before enqueueing so a fast worker's final update is not overwritten
	p.saveJob(ctx, job)

	if err := p.tasks.Enqueue(ctx, queue.Task{Kind: queue.KindProcessItem, ContentID: rec.ID, JobID: job.ID}); err != nil {
		return fmt.Errorf("enqueue processing: %w", err)
	}
	return nil
}

func headersOf(v any) map[string]string {
	if h, ok := v.(map[string]string); ok {
		return h
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s := models.MetaString(val); s != "" {
			out[k] = s
		}
	}
	return out
}
