package vectorstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "vectors.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rec(id, doc, content string, emb ...float32) models.ChunkRecord {
	return models.ChunkRecord{
		ID:        id,
		Content:   content,
		Metadata:  map[string]any{"document_id": doc, "title": "t-" + doc},
		Embedding: emb,
	}
}

func TestQueryReturnsIdenticalEmbeddingFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, []models.ChunkRecord{
		rec("a", "d1", "alpha", 1, 2, 3),
		rec("b", "d1", "beta", 3, 0, -1),
		rec("c", "d2", "gamma", 0, 5, 0),
	}))

	got, err := s.Query(ctx, []float32{1, 2, 3}, 2, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.Equal(t, "alpha", got[0].Content)
	assert.Equal(t, "d1", got[0].Metadata["document_id"])
	assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
}

func TestUpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, []models.ChunkRecord{rec("x", "d1", "first", 1, 1)}))
	n1, err := s.Count(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, []models.ChunkRecord{rec("x", "d1", "second", 1, 1)}))
	n2, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, n1, n2)

	got, err := s.Query(ctx, []float32{1, 1}, 5, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Content)
}

func TestDeleteByDocumentID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Upsert(ctx, []models.ChunkRecord{
		rec("a", "d1", "a", 1, 0),
		rec("b", "d1", "b", 0, 1),
		rec("c", "d2", "c", 1, 1),
	}))

	n, err := s.DeleteByDocumentID(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	total, _ := s.Count(ctx)
	assert.Equal(t, 3, total)

	n, err = s.DeleteByDocumentID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	total, _ = s.Count(ctx)
	assert.Equal(t, 1, total)

	n, err = s.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueryDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Upsert(ctx, []models.ChunkRecord{rec("a", "d1", "a", 1, 0, 0)}))

	_, err := s.Query(ctx, []float32{1, 0}, 3, nil)
	require.ErrorIs(t, err, core.ErrInvalidEmbeddingDimension)
}

func TestQueryTiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Upsert(ctx, []models.ChunkRecord{
		rec("first", "d", "1", 1, 0),
		rec("second", "d", "2", 1, 0),
		rec("third", "d", "3", 1, 0),
	}))
	// Replacing a row keeps its original position.
	require.NoError(t, s.Upsert(ctx, []models.ChunkRecord{rec("first", "d", "1b", 1, 0)}))

	got, err := s.Query(ctx, []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestRowsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "v.sqlite3")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, []models.ChunkRecord{rec("a", "d1", "a", 1, 2)}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Upsert(ctx, []models.ChunkRecord{rec("seed", "d", "seed", 1, 1)}))

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- s.Upsert(ctx, []models.ChunkRecord{rec("seed", "d", "seed", 1, 1)})
		}()
		go func() {
			defer wg.Done()
			got, err := s.Query(ctx, []float32{1, 1}, 1, nil)
			if err == nil && len(got) != 1 {
				err = assert.AnError
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestQueryFiltersBeforeRanking(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	var rows []models.ChunkRecord
	for i := 0; i < 30; i++ {
		rows = append(rows, rec(fmt.Sprintf("f%d", i), fmt.Sprintf("foreign-%d", i), "close", 1, 0))
	}
	rows = append(rows, rec("m1", "mine", "far", 0, 1))
	require.NoError(t, s.Upsert(ctx, rows))

	got, err := s.Query(ctx, []float32{1, 0}, 5, func(id string) bool { return id == "mine" })
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)

	got, err = s.Query(ctx, []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.NotEqual(t, "m1", got[0].ID)
}

func TestQueryFilterSkipsForeignDimensions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Upsert(ctx, []models.ChunkRecord{
		rec("a", "other", "a", 1, 0, 0),
		rec("b", "mine", "b", 1, 0),
	}))
	got, err := s.Query(ctx, []float32{1, 0}, 3, func(id string) bool { return id == "mine" })
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestReplaceDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Upsert(ctx, []models.ChunkRecord{
		rec("d1:c0", "d1", "old 0", 1, 0),
		rec("d1:c1", "d1", "old 1", 1, 0),
		rec("d2:c0", "d2", "keep", 0, 1),
	}))

	removed, err := s.ReplaceDocument(ctx, "d1", []models.ChunkRecord{rec("d1:c0", "d1", "new 0", 1, 0)})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	got, err := s.Query(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new 0", got[0].Content)
	assert.Equal(t, "keep", got[1].Content)
}

func TestReplaceDocumentRollsBackOnBadItem(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Upsert(ctx, []models.ChunkRecord{rec("d1:c0", "d1", "old", 1, 0)}))

	_, err := s.ReplaceDocument(ctx, "d1", []models.ChunkRecord{rec("", "d1", "bad", 1, 0)})
	require.Error(t, err)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the old rows survive a failed replace")
}

func TestReplaceDocumentVisibleAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Upsert(ctx, []models.ChunkRecord{rec("d1:c0", "d1", "v0", 1, 1)}))

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := s.ReplaceDocument(ctx, "d1", []models.ChunkRecord{rec("d1:c0", "d1", fmt.Sprintf("v%d", i), 1, 1)})
			errs <- err
		}(i)
		go func() {
			defer wg.Done()
			got, err := s.Query(ctx, []float32{1, 1}, 5, nil)
			if err == nil && len(got) != 1 {
				err = fmt.Errorf("reader saw %d rows mid-replace", len(got))
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 0.0, Cosine([]float32{0, 0}, []float32{0, 0}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{2, 0}, []float32{-3, 0}), 1e-9)
	// Norms below one are floored, so short vectors are not rescaled up.
	assert.InDelta(t, 0.25, Cosine([]float32{0.5, 0}, []float32{0.5, 0}), 1e-9)
}

func TestRankTopK(t *testing.T) {
	rows := []models.ChunkRecord{rec("a", "d", "", 1, 0), rec("b", "d", "", 0, 1)}
	got, err := Rank([]float32{0, 1}, rows, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = Rank([]float32{0, 1}, rows, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
}
