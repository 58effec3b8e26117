package services

import (
	"context"
	"fmt"

	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/models"
)

// Cleanup actions.
const (
	CleanupClearVectors    = "clear_vectors"
	CleanupDeleteDocuments = "delete_documents"
	CleanupDeleteAll       = "delete_all"
)

func (s *ContentService) ListJobs(ctx context.Context, ownerID string) ([]models.IngestJob, error) {
	jobs, err := s.db.ListJobsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (s *ContentService) GetJob(ctx context.Context, ownerID, id string) (*models.IngestJob, error) {
	job, err := s.db.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	if job == nil || job.OwnerID != ownerID {
		return nil, core.NotFound("job", id)
	}
	return job, nil
}

// CancelJob marks a queued or running job CANCELLED and stops the item it
// is processing. Workers notice the cancel at their next transition.
func (s *ContentService) CancelJob(ctx context.Context, ownerID, id string) (*models.IngestJob, error) {
	job, err := s.GetJob(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobQueued && job.Status != models.JobRunning {
		return nil, core.Validation("job_finished", "job %s is already %s", job.ID, job.Status)
	}

	now := s.now()
	job.Status = models.JobCancelled
	job.Message = "Cancelled by user"
	job.FinishedAt = &now
	if err := s.db.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("cancel job %s: %w", job.ID, err)
	}

	if job.ContentID != "" {
		item, err := s.db.GetContentItem(ctx, job.ContentID)
		if err != nil {
			return nil, fmt.Errorf("load content item %s: %w", job.ContentID, err)
		}
		if item != nil && !isFinished(item.Status) {
			s.machine.SetStatus(ctx, item, models.StatusCancelled)
		}
	}
	s.log.Info("job cancelled", "job_id", job.ID, "content_id", job.ContentID)
	return job, nil
}

// DeleteJob removes a job. Web jobs take the item they fetched, and the
// owner's other jobs for the same url, with them.
func (s *ContentService) DeleteJob(ctx context.Context, ownerID, id string) (*DeleteResult, error) {
	job, err := s.GetJob(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	res := &DeleteResult{}
	if job.Mode == models.JobModeWeb {
		itemID := models.MetaString(job.Payload["file_id"])
		if itemID == "" {
			itemID = job.ContentID
		}
		if itemID != "" {
			item, err := s.db.GetContentItem(ctx, itemID)
			if err != nil {
				return nil, fmt.Errorf("load content item %s: %w", itemID, err)
			}
			if item != nil && item.OwnerID == ownerID {
				if !isFinished(item.Status) && item.Status != models.StatusQueued {
					return nil, core.Validation("in_flight", "content item %s is %s; cancel the job first", item.ID, item.Status)
				}
				if res, err = s.purge(ctx, item); err != nil {
					return nil, err
				}
			}
		}
		if rawURL := models.MetaString(job.Payload["url"]); rawURL != "" {
			jobs, err := s.db.ListJobsByOwner(ctx, ownerID)
			if err != nil {
				return nil, fmt.Errorf("list jobs: %w", err)
			}
			for _, j := range jobs {
				if j.ID == job.ID || j.Mode != models.JobModeWeb || models.MetaString(j.Payload["url"]) != rawURL {
					continue
				}
				if err := s.db.DeleteJob(ctx, j.ID); err != nil {
					return nil, fmt.Errorf("delete job %s: %w", j.ID, err)
				}
				res.JobsDeleted++
			}
		}
	}
	// purge may already have removed it; deleting twice is harmless.
	if err := s.db.DeleteJob(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("delete job %s: %w", job.ID, err)
	}
	s.log.Info("job deleted", "job_id", job.ID, "mode", job.Mode, "cascade_jobs", res.JobsDeleted)
	return res, nil
}

// CleanupResult reports an admin cleanup.
type CleanupResult struct {
	OK             bool `json:"ok"`
	ClearedVectors bool `json:"cleared_vectors"`
	VectorsRemoved int  `json:"vectors_removed"`
	DeletedDocs    int  `json:"deleted_docs"`
	DeletedJobs    int  `json:"deleted_jobs"`
}

// Cleanup bulk-removes the owner's vectors, documents, or both. Only the
// owner's documents are touched; the index is shared between tenants.
func (s *ContentService) Cleanup(ctx context.Context, ownerID, action string) (*CleanupResult, error) {
	switch action {
	case CleanupClearVectors, CleanupDeleteDocuments, CleanupDeleteAll:
	default:
		return nil, core.Validation("invalid_action", "unknown cleanup action %q", action)
	}
	items, err := s.db.ListContentItemsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list content items: %w", err)
	}
	res := &CleanupResult{OK: true}

	if action == CleanupClearVectors || action == CleanupDeleteAll {
		res.ClearedVectors = true
		for _, it := range items {
			n, err := s.indexer.Unindex(ctx, it.ID)
			if err != nil {
				s.log.Warn("unindex failed during cleanup", "content_id", it.ID, "err", err)
				res.ClearedVectors = false
				continue
			}
			res.VectorsRemoved += n
		}
	}

	if action == CleanupDeleteDocuments || action == CleanupDeleteAll {
		for i := range items {
			it := &items[i]
			if !isFinished(it.Status) && it.Status != models.StatusQueued {
				if !s.machine.SetStatus(ctx, it, models.StatusCancelled) {
					s.log.Warn("could not stop item during cleanup", "content_id", it.ID, "status", it.Status)
				}
			}
			d, err := s.purge(ctx, it)
			if err != nil {
				return nil, err
			}
			res.DeletedDocs++
			res.DeletedJobs += d.JobsDeleted
			res.VectorsRemoved += d.VectorsRemoved
		}
	}
	s.log.Info("cleanup done", "owner_id", ownerID, "action", action, "docs", res.DeletedDocs, "vectors", res.VectorsRemoved)
	return res, nil
}

// isFinished reports whether no worker will touch the item again without a reset.
func isFinished(s models.Status) bool {
	switch s {
	case models.StatusReady, models.StatusPartialReady, models.StatusFailed,
		models.StatusCancelled, models.StatusDeleted:
		return true
	}
	return false
}
