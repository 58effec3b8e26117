package core

import (
	"context"
	"io"

	"github.com/markdave123-py/docuiq/internal/models"
)

// DbClient defines the persistence operations for content items and jobs.
// Get/Find methods return (nil, nil) when no row matches.
type DbClient interface {
	CreateContentItem(ctx context.Context, item *models.ContentItem) error
	GetContentItem(ctx context.Context, id string) (*models.ContentItem, error)
	ListContentItemsByOwner(ctx context.Context, ownerID string) ([]models.ContentItem, error)
	// FindContentItemBySourceURL and FindContentItemByChecksum ignore DELETED items.
	FindContentItemBySourceURL(ctx context.Context, ownerID, sourceURL string) (*models.ContentItem, error)
	FindContentItemByChecksum(ctx context.Context, ownerID, checksum string) (*models.ContentItem, error)
	// UpdateContentItem writes descriptive fields (filename, type, size, checksum, storage key, steps).
	UpdateContentItem(ctx context.Context, item *models.ContentItem) error
	// CompareAndSetStatus writes status, error fields, steps and indexed only if the stored
	// status still equals prev. Returns ErrNotFound or ErrStatusConflict otherwise.
	CompareAndSetStatus(ctx context.Context, item *models.ContentItem, prev models.Status) error
	DeleteContentItem(ctx context.Context, id string) error

	CreateJob(ctx context.Context, job *models.IngestJob) error
	GetJob(ctx context.Context, id string) (*models.IngestJob, error)
	ListJobsByOwner(ctx context.Context, ownerID string) ([]models.IngestJob, error)
	// UpdateJob is a no-op for jobs already CANCELLED unless job itself is CANCELLED.
	UpdateJob(ctx context.Context, job *models.IngestJob) error
	DeleteJob(ctx context.Context, id string) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, key string) error
	GetFile(ctx context.Context, key string) ([]byte, error)
}

// VectorStore is the shared chunk index. It is tenant-agnostic.
type VectorStore interface {
	Upsert(ctx context.Context, items []models.ChunkRecord) error
	// ReplaceDocument swaps every row of documentID for items in one transaction
	// and returns the number of rows it removed.
	ReplaceDocument(ctx context.Context, documentID string, items []models.ChunkRecord) (int, error)
	// Query ranks the rows whose document id passes allow (nil allows all)
	// and returns the best topK.
	Query(ctx context.Context, embedding []float32, topK int, allow func(documentID string) bool) ([]models.Match, error)
	DeleteByDocumentID(ctx context.Context, documentID string) (int, error)
	ClearAll(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
	Close() error
}
