package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/models"
)

func TestMemoryCompareAndSetStatus(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	require.NoError(t, c.CreateContentItem(ctx, &models.ContentItem{ID: "c1", OwnerID: "u1", Status: models.StatusQueued}))

	next := &models.ContentItem{ID: "c1", Status: models.StatusFetching, StatusUpdatedAt: time.Now(), Steps: map[string]any{"k": 1}}
	require.NoError(t, c.CompareAndSetStatus(ctx, next, models.StatusQueued))

	err := c.CompareAndSetStatus(ctx, next, models.StatusQueued)
	require.ErrorIs(t, err, core.ErrStatusConflict)

	err = c.CompareAndSetStatus(ctx, &models.ContentItem{ID: "nope"}, models.StatusQueued)
	require.ErrorIs(t, err, core.ErrNotFound)

	got, err := c.GetContentItem(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFetching, got.Status)
	assert.Equal(t, 1, got.Steps["k"])

	// Returned rows are copies.
	got.Steps["k"] = 2
	again, _ := c.GetContentItem(ctx, "c1")
	assert.Equal(t, 1, again.Steps["k"])
}

func TestMemoryFindSkipsDeleted(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	steps := map[string]any{"source_url": "https://example.com/a"}
	require.NoError(t, c.CreateContentItem(ctx, &models.ContentItem{ID: "old", OwnerID: "u1", Checksum: "abc", Status: models.StatusDeleted, Steps: steps}))
	require.NoError(t, c.CreateContentItem(ctx, &models.ContentItem{ID: "other", OwnerID: "u2", Checksum: "abc", Status: models.StatusReady, Steps: steps}))

	got, err := c.FindContentItemBySourceURL(ctx, "u1", "https://example.com/a")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.CreateContentItem(ctx, &models.ContentItem{ID: "live", OwnerID: "u1", Checksum: "abc", Status: models.StatusReady, Steps: steps}))
	got, err = c.FindContentItemByChecksum(ctx, "u1", "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "live", got.ID)
}

func TestMemoryCancelledJobIsSticky(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	require.NoError(t, c.CreateJob(ctx, &models.IngestJob{ID: "j1", OwnerID: "u1", Status: models.JobRunning}))

	require.NoError(t, c.UpdateJob(ctx, &models.IngestJob{ID: "j1", OwnerID: "u1", Status: models.JobCancelled, Message: "Cancelled by user"}))
	require.NoError(t, c.UpdateJob(ctx, &models.IngestJob{ID: "j1", OwnerID: "u1", Status: models.JobSucceeded, Progress: 100}))

	got, err := c.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, got.Status)
	assert.Equal(t, "Cancelled by user", got.Message)
}

func TestMemoryListOrder(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.CreateJob(ctx, &models.IngestJob{ID: id, OwnerID: "u"}))
	}
	jobs, err := c.ListJobsByOwner(ctx, "u")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "c", jobs[0].ID)
	assert.Equal(t, "a", jobs[2].ID)
}
