package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/core/queue"
	"github.com/markdave123-py/docuiq/internal/core/retrieval"
	"github.com/markdave123-py/docuiq/internal/core/status"
	"github.com/markdave123-py/docuiq/internal/models"
)

// Job progress reported at each stage.
const (
	progressFetching    = 10
	progressNormalizing = 25
	progressChunking    = 40
	progressEmbedding   = 55
	progressIndexing    = 85
	progressDone        = 100
)

// HandleTask dispatches a queued task. It is the queue's handler.
func (p *Pipeline) HandleTask(ctx context.Context, t queue.Task) error {
	switch t.Kind {
	case queue.KindProcessItem:
		return p.ProcessItem(ctx, t.ContentID, t.JobID)
	case queue.KindProcessWebJob:
		return p.ProcessWebJob(ctx, t.JobID)
	}
	p.log.Warn("unknown task kind", "kind", t.Kind)
	return nil
}

// ProcessItem runs one content item through the pipeline. Pipeline failures
// are recorded on the item and its job; only errors loading rows are
// returned, so the queue retries those.
func (p *Pipeline) ProcessItem(ctx context.Context, itemID, jobID string) error {
	item, err := p.db.GetContentItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load content item %s: %w", itemID, err)
	}
	if item == nil {
		p.log.Info("content item gone, skipping", "content_id", itemID)
		return nil
	}
	job, err := p.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job != nil && jobFinished(job.Status) {
		// redelivered task; the first run already settled the job
		p.log.Info("job already finished, skipping", "content_id", itemID, "job_id", jobID, "status", job.Status)
		return nil
	}
	log := p.log.With("content_id", item.ID, "job_id", jobID)

	// FETCHING. The job is only touched once the item accepts the run.
	stageStart := time.Now()
	if !p.advance(ctx, item, models.StatusFetching, nil, 0,
		status.WithMetrics(map[string]any{"fetching": map[string]any{"started_at": p.now().Format(time.RFC3339)}})) {
		return nil
	}
	p.startJob(ctx, job, progressFetching)
	data, err := p.obj.GetFile(ctx, item.StorageKey)
	if err != nil {
		log.Warn("fetch failed", "err", err)
		p.fail(ctx, item, job, models.ErrCodeFetch, err.Error(), err.Error())
		return nil
	}
	p.metrics.ObserveStage("fetch", stageStart)

	// NORMALIZING
	stageStart = time.Now()
	mime := strings.ToLower(item.ContentType)
	if !p.advance(ctx, item, models.StatusNormalizing, job, progressNormalizing,
		status.WithMetrics(map[string]any{"normalizing": map[string]any{"mime": mime, "bytes_in": len(data)}})) {
		return nil
	}
	extracted := p.extractor.Extract(ctx, data, item.ContentType, item.Filename)
	p.metrics.ObserveStage("normalize", stageStart)

	// CHUNKING happens inside the indexer; the stage is recorded for the timeline.
	if !p.advance(ctx, item, models.StatusChunking, job, progressChunking,
		status.WithMetrics(map[string]any{"chunking": map[string]any{"chunk_count": 0, "avg_tokens": 0}})) {
		return nil
	}

	// EMBEDDING
	stageStart = time.Now()
	if !p.advance(ctx, item, models.StatusEmbedding, job, progressEmbedding) {
		return nil
	}
	res, err := p.index(ctx, p.indexRequest(item, extracted))
	if err != nil {
		log.Warn("index failed", "err", err)
		itemText, jobText := err.Error(), err.Error()
		var ie *IndexError
		if errors.As(err, &ie) {
			jobText = "Embed failed: " + ie.Body
		}
		p.fail(ctx, item, job, models.ErrCodeEmbed, itemText, jobText)
		return nil
	}
	p.metrics.ObserveStage("embed", stageStart)

	// INDEXING
	if !p.advance(ctx, item, models.StatusIndexing, job, progressIndexing,
		status.WithMetrics(map[string]any{"indexing": map[string]any{"vectors_written": res.Chunks, "failed_chunks": res.Failed}})) {
		return nil
	}

	switch {
	case res.Chunks > 0 && res.Failed == 0:
		if p.advance(ctx, item, models.StatusReady, nil, 0, status.WithMetrics(map[string]any{"partial": false})) {
			p.succeed(ctx, job, res.Chunks)
		}
	case res.Chunks > 0:
		if p.advance(ctx, item, models.StatusPartialReady, nil, 0, status.WithMetrics(map[string]any{"partial": true})) {
			p.succeed(ctx, job, res.Chunks)
		}
	case p.cfg.AllowEmptyDocuments:
		if p.advance(ctx, item, models.StatusReady, nil, 0, status.WithMetrics(map[string]any{"partial": false, "empty": true})) {
			p.succeed(ctx, job, 0)
		}
	default:
		p.fail(ctx, item, job, models.ErrCodeEmbed, "No chunks embedded", "No chunks embedded")
		return nil
	}
	p.metrics.IngestFinished(item.Status, item.ErrorCode)
	log.Info("content item processed", "status", item.Status, "chunks", res.Chunks, "failed_chunks", res.Failed)
	return nil
}

func (p *Pipeline) indexRequest(item *models.ContentItem, ex core.ExtractedText) retrieval.IndexRequest {
	req := retrieval.IndexRequest{
		DocumentID: item.ID,
		Title:      item.Filename,
		OriginURL:  item.SourceURL(),
	}
	switch {
	case req.OriginURL != "":
		req.SourceType = retrieval.SourceWeb
	case len(ex.Pages) > 0:
		req.SourceType = retrieval.SourcePDF
	default:
		req.SourceType = retrieval.SourceDocument
	}
	if len(ex.Pages) > 0 {
		req.Pages = ex.Pages
	} else {
		req.Text = ex.Text
	}
	return req
}

// index calls the indexer, repeating immediately on transient failures.
func (p *Pipeline) index(ctx context.Context, req retrieval.IndexRequest) (*retrieval.IndexResult, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.IndexAttempts; attempt++ {
		res, err := p.indexer.Index(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		var ie *IndexError
		if !errors.As(err, &ie) || !ie.Transient || ctx.Err() != nil {
			break
		}
		p.log.Warn("index attempt failed", "content_id", req.DocumentID, "attempt", attempt, "err", err)
	}
	return nil, lastErr
}

// advance applies a forward transition and mirrors progress on the job.
// false means the item moved elsewhere and the run must stop.
func (p *Pipeline) advance(ctx context.Context, item *models.ContentItem, next models.Status, job *models.IngestJob, progress int, opts ...status.Option) bool {
	if !p.machine.SetStatus(ctx, item, next, opts...) {
		p.log.Info("transition rejected, stopping run", "content_id", item.ID, "current", item.Status, "wanted", next)
		return false
	}
	if job != nil && progress > job.Progress {
		job.Progress = progress
		p.saveJob(ctx, job)
	}
	return true
}

func (p *Pipeline) fail(ctx context.Context, item *models.ContentItem, job *models.IngestJob, code, itemText, jobText string) {
	p.machine.SetStatus(ctx, item, models.StatusFailed, status.WithError(code, itemText))
	p.metrics.IngestFinished(models.StatusFailed, code)
	p.failJob(ctx, job, jobText)
}

func (p *Pipeline) succeed(ctx context.Context, job *models.IngestJob, chunks int) {
	if job == nil {
		return
	}
	now := p.now()
	job.Status = models.JobSucceeded
	job.Progress = progressDone
	job.FinishedAt = &now
	job.Message = fmt.Sprintf("Indexed %d chunk(s)", chunks)
	p.saveJob(ctx, job)
}

func (p *Pipeline) loadJob(ctx context.Context, jobID string) (*models.IngestJob, error) {
	if jobID == "" {
		return nil, nil
	}
	job, err := p.db.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return job, nil
}

func (p *Pipeline) startJob(ctx context.Context, job *models.IngestJob, progress int) {
	if job == nil {
		return
	}
	job.Status = models.JobRunning
	if progress > job.Progress {
		job.Progress = progress
	}
	if job.StartedAt == nil {
		now := p.now()
		job.StartedAt = &now
	}
	p.saveJob(ctx, job)
}

func jobFinished(s models.JobStatus) bool {
	return s == models.JobSucceeded || s == models.JobFailed || s == models.JobCancelled
}

func (p *Pipeline) failJob(ctx context.Context, job *models.IngestJob, message string) {
	if job == nil {
		return
	}
	now := p.now()
	job.Status = models.JobFailed
	job.FinishedAt = &now
	job.Message = message
	p.saveJob(ctx, job)
}

// saveJob writes job progress. Job rows only mirror item state, so write
// failures are logged rather than failing the run.
func (p *Pipeline) saveJob(ctx context.Context, job *models.IngestJob) {
	if err := p.db.UpdateJob(ctx, job); err != nil {
		p.log.Warn("job update failed", "job_id", job.ID, "err", err)
	}
}

// StorageKey is the object key of a content item's bytes.
func StorageKey(ownerID, contentID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		name = "file"
	}
	return fmt.Sprintf("users/%s/content/%s/%s", ownerID, contentID, name)
}
