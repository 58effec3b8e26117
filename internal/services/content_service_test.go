package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docuiq/internal/core"
	db "github.com/markdave123-py/docuiq/internal/core/database"
	objectclient "github.com/markdave123-py/docuiq/internal/core/object-client"
	"github.com/markdave123-py/docuiq/internal/core/queue"
	"github.com/markdave123-py/docuiq/internal/core/retrieval"
	"github.com/markdave123-py/docuiq/internal/core/status"
	"github.com/markdave123-py/docuiq/internal/models"
	"github.com/markdave123-py/docuiq/internal/pkg/logger"
)

var now = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type fakeIndexer struct {
	mu        sync.Mutex
	unindexed []string
	perDoc    int
}

func (f *fakeIndexer) Index(context.Context, retrieval.IndexRequest) (*retrieval.IndexResult, error) {
	return &retrieval.IndexResult{OK: true}, nil
}

func (f *fakeIndexer) Unindex(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unindexed = append(f.unindexed, id)
	return f.perDoc, nil
}

type fakeAsker struct {
	req retrieval.AskRequest
}

func (f *fakeAsker) Ask(_ context.Context, req retrieval.AskRequest) (*retrieval.AskResponse, error) {
	f.req = req
	return &retrieval.AskResponse{Answer: "ok"}, nil
}

type taskSink struct {
	tasks []queue.Task
}

func (s *taskSink) Enqueue(_ context.Context, t queue.Task) error {
	s.tasks = append(s.tasks, t)
	return nil
}

type fixture struct {
	svc     *ContentService
	db      *db.MemoryClient
	objects *objectclient.LocalClient
	indexer *fakeIndexer
	asker   *fakeAsker
	tasks   *taskSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := db.NewMemoryClient()
	objects, err := objectclient.NewLocalClient(t.TempDir())
	require.NoError(t, err)
	f := &fixture{
		db:      store,
		objects: objects,
		indexer: &fakeIndexer{perDoc: 2},
		asker:   &fakeAsker{},
		tasks:   &taskSink{},
	}
	clock := func() time.Time { return now }
	f.svc = NewContentService(ContentDeps{
		DB:      store,
		Objects: objects,
		Indexer: f.indexer,
		Asker:   f.asker,
		Tasks:   f.tasks,
		Machine: status.NewMachine(store, logger.Nop(), status.WithClock(clock)),
		Log:     logger.Nop(),
		Now:     clock,
	})
	return f
}

func (f *fixture) addItem(t *testing.T, id, owner string, st models.Status, steps map[string]any) *models.ContentItem {
	t.Helper()
	item := &models.ContentItem{
		ID: id, OwnerID: owner, Filename: id + ".txt", ContentType: "text/plain",
		StorageKey: "users/" + owner + "/content/" + id + "/" + id + ".txt",
		Status:     st, Indexed: st == models.StatusReady || st == models.StatusPartialReady,
		Steps: steps, CreatedAt: now,
	}
	require.NoError(t, f.db.CreateContentItem(context.Background(), item))
	_, err := f.objects.UploadFile(context.Background(), item.StorageKey, strings.NewReader("body"), "text/plain")
	require.NoError(t, err)
	return item
}

func (f *fixture) addJob(t *testing.T, job *models.IngestJob) {
	t.Helper()
	require.NoError(t, f.db.CreateJob(context.Background(), job))
}

func TestUpload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Upload(ctx, "u1", "report.pdf", "", []byte("%PDF-1.4"))
	require.NoError(t, err)

	item := res.Item
	assert.Equal(t, models.StatusQueued, item.Status)
	assert.Equal(t, "application/pdf", item.ContentType)
	assert.EqualValues(t, 8, item.Size)
	assert.Len(t, item.Checksum, 64)
	assert.Equal(t, "users/u1/content/"+item.ID+"/report.pdf", item.StorageKey)

	data, err := f.objects.GetFile(ctx, item.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	job, err := f.db.GetJob(ctx, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobModeUpload, job.Mode)
	assert.Equal(t, item.ID, job.ContentID)
	assert.Equal(t, []queue.Task{{Kind: queue.KindProcessItem, ContentID: item.ID, JobID: job.ID}}, f.tasks.tasks)

	_, err = f.svc.Upload(ctx, "u1", "empty.txt", "text/plain", nil)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestSubmitWeb(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, bad := range []string{"", "example.com", "ftp://example.com/x", "http://"} {
		_, err := f.svc.SubmitWeb(ctx, "u1", bad, nil)
		assert.ErrorIs(t, err, core.ErrValidation, bad)
	}

	job, err := f.svc.SubmitWeb(ctx, "u1", " https://example.com/a ", map[string]string{"Cookie": "c=1"})
	require.NoError(t, err)
	assert.Equal(t, models.JobModeWeb, job.Mode)
	assert.Equal(t, models.JobQueued, job.Status)
	assert.Equal(t, map[string]any{"url": "https://example.com/a", "headers": map[string]any{"Cookie": "c=1"}}, job.Payload)
	assert.Equal(t, []queue.Task{{Kind: queue.KindProcessWebJob, JobID: job.ID}}, f.tasks.tasks)
}

func TestListAndStatusAreOwnerScoped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addItem(t, "a", "u1", models.StatusReady, nil)
	f.addItem(t, "b", "u1", models.StatusDeleted, nil)
	f.addItem(t, "c", "u2", models.StatusReady, nil)

	items, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)

	st, err := f.svc.Status(ctx, "u1", "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, st.Status)
	assert.True(t, st.Indexed)

	_, err = f.svc.Status(ctx, "u1", "c")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.svc.Status(ctx, "u1", "b")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := f.addItem(t, "a", "u1", models.StatusFailed, nil)
	require.NoError(t, f.db.CompareAndSetStatus(ctx, &models.ContentItem{ID: "a", Status: models.StatusFailed, ErrorCode: models.ErrCodeEmbed, ErrorText: "boom"}, item.Status))

	job, err := f.svc.Retry(ctx, "u1", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", job.ContentID)
	stored, _ := f.db.GetContentItem(ctx, "a")
	assert.Equal(t, models.StatusQueued, stored.Status)
	assert.Empty(t, stored.ErrorCode)
	assert.Len(t, f.tasks.tasks, 1)

	f.addItem(t, "b", "u1", models.StatusEmbedding, nil)
	_, err = f.svc.Retry(ctx, "u1", "b")
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, "not_retryable", core.Code(err))
}

func TestDeleteReadyLeavesTombstone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := f.addItem(t, "a", "u1", models.StatusReady, nil)
	f.addJob(t, &models.IngestJob{ID: "j1", OwnerID: "u1", Mode: models.JobModeUpload, ContentID: "a", Status: models.JobSucceeded})
	f.addJob(t, &models.IngestJob{ID: "j2", OwnerID: "u1", Mode: models.JobModeUpload, Status: models.JobSucceeded, Payload: map[string]any{"file_ids": []any{"a"}}})
	f.addJob(t, &models.IngestJob{ID: "j3", OwnerID: "u1", Mode: models.JobModeUpload, ContentID: "other", Status: models.JobSucceeded})

	res, err := f.svc.Delete(ctx, "u1", "a")
	require.NoError(t, err)
	assert.Equal(t, &DeleteResult{VectorsRemoved: 2, JobsDeleted: 2}, res)
	assert.Equal(t, []string{"a"}, f.indexer.unindexed)

	stored, _ := f.db.GetContentItem(ctx, "a")
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusDeleted, stored.Status)
	assert.False(t, stored.Indexed)
	_, err = f.objects.GetFile(ctx, item.StorageKey)
	assert.ErrorIs(t, err, core.ErrNotFound)

	jobs, _ := f.db.ListJobsByOwner(ctx, "u1")
	require.Len(t, jobs, 1)
	assert.Equal(t, "j3", jobs[0].ID)

	_, err = f.svc.Delete(ctx, "u1", "a")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDeleteFailedRemovesRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addItem(t, "a", "u1", models.StatusFailed, nil)

	_, err := f.svc.Delete(ctx, "u1", "a")
	require.NoError(t, err)
	stored, _ := f.db.GetContentItem(ctx, "a")
	assert.Nil(t, stored)
}

func TestDeleteRefusesItemInFlight(t *testing.T) {
	f := newFixture(t)
	f.addItem(t, "a", "u1", models.StatusChunking, nil)

	_, err := f.svc.Delete(context.Background(), "u1", "a")
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, "in_flight", core.Code(err))
	assert.Empty(t, f.indexer.unindexed)
}

func TestCancelJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addItem(t, "a", "u1", models.StatusEmbedding, nil)
	f.addJob(t, &models.IngestJob{ID: "j1", OwnerID: "u1", Mode: models.JobModeUpload, ContentID: "a", Status: models.JobRunning, Progress: 55})

	job, err := f.svc.CancelJob(ctx, "u1", "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, job.Status)
	assert.Equal(t, "Cancelled by user", job.Message)
	require.NotNil(t, job.FinishedAt)

	stored, _ := f.db.GetContentItem(ctx, "a")
	assert.Equal(t, models.StatusCancelled, stored.Status)

	// A later mirrored update from a worker does not revive the job.
	late := job.Clone()
	late.Status = models.JobSucceeded
	require.NoError(t, f.db.UpdateJob(ctx, late))
	again, _ := f.db.GetJob(ctx, "j1")
	assert.Equal(t, models.JobCancelled, again.Status)

	_, err = f.svc.CancelJob(ctx, "u1", "j1")
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = f.svc.CancelJob(ctx, "u2", "j1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDeleteWebJobCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addItem(t, "a", "u1", models.StatusReady, map[string]any{"source_url": "https://example.com/a"})
	payload := map[string]any{"url": "https://example.com/a", "file_id": "a"}
	f.addJob(t, &models.IngestJob{ID: "w1", OwnerID: "u1", Mode: models.JobModeWeb, Payload: payload, ContentID: "a", Status: models.JobSucceeded})
	f.addJob(t, &models.IngestJob{ID: "w2", OwnerID: "u1", Mode: models.JobModeWeb, Payload: map[string]any{"url": "https://example.com/a"}, Status: models.JobFailed})
	f.addJob(t, &models.IngestJob{ID: "w3", OwnerID: "u1", Mode: models.JobModeWeb, Payload: map[string]any{"url": "https://example.com/b"}, Status: models.JobFailed})

	_, err := f.svc.DeleteJob(ctx, "u1", "w1")
	require.NoError(t, err)

	stored, _ := f.db.GetContentItem(ctx, "a")
	assert.Nil(t, stored)
	assert.Equal(t, []string{"a"}, f.indexer.unindexed)
	jobs, _ := f.db.ListJobsByOwner(ctx, "u1")
	require.Len(t, jobs, 1)
	assert.Equal(t, "w3", jobs[0].ID)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid action", func(t *testing.T) {
		_, err := newFixture(t).svc.Cleanup(ctx, "u1", "drop_everything")
		assert.ErrorIs(t, err, core.ErrValidation)
		assert.Equal(t, "invalid_action", core.Code(err))
	})

	t.Run("clear vectors keeps documents", func(t *testing.T) {
		f := newFixture(t)
		f.addItem(t, "a", "u1", models.StatusReady, nil)
		f.addItem(t, "b", "u1", models.StatusFailed, nil)
		f.addItem(t, "c", "u2", models.StatusReady, nil)

		res, err := f.svc.Cleanup(ctx, "u1", CleanupClearVectors)
		require.NoError(t, err)
		assert.Equal(t, &CleanupResult{OK: true, ClearedVectors: true, VectorsRemoved: 4}, res)
		assert.ElementsMatch(t, []string{"a", "b"}, f.indexer.unindexed)
		items, _ := f.svc.List(ctx, "u1")
		assert.Len(t, items, 2)
	})

	t.Run("delete all", func(t *testing.T) {
		f := newFixture(t)
		f.addItem(t, "a", "u1", models.StatusReady, nil)
		f.addItem(t, "b", "u1", models.StatusIndexing, nil)
		f.addItem(t, "c", "u2", models.StatusReady, nil)
		f.addJob(t, &models.IngestJob{ID: "j1", OwnerID: "u1", Mode: models.JobModeUpload, ContentID: "b", Status: models.JobRunning})

		res, err := f.svc.Cleanup(ctx, "u1", CleanupDeleteAll)
		require.NoError(t, err)
		assert.Equal(t, 2, res.DeletedDocs)
		assert.Equal(t, 1, res.DeletedJobs)
		assert.True(t, res.ClearedVectors)

		items, _ := f.db.ListContentItemsByOwner(ctx, "u1")
		assert.Empty(t, items)
		other, _ := f.db.ListContentItemsByOwner(ctx, "u2")
		assert.Len(t, other, 1)
	})
}

func TestAskIsScopedToOwnerIndexedItems(t *testing.T) {
	f := newFixture(t)
	f.addItem(t, "mine", "u1", models.StatusReady, nil)
	f.addItem(t, "pending", "u1", models.StatusQueued, nil)
	f.addItem(t, "theirs", "u2", models.StatusReady, nil)

	resp, err := f.svc.Ask(context.Background(), "u1", retrieval.AskRequest{Question: "q", TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Answer)

	allow := f.asker.req.Allow
	require.NotNil(t, allow)
	assert.True(t, allow("mine"))
	assert.False(t, allow("pending"))
	assert.False(t, allow("theirs"))
	assert.Equal(t, 3, f.asker.req.TopK)
}
