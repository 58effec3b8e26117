package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/docuiq/internal/config"
	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/models"
)

var _ core.DbClient = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, core.Configuration("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// DB exposes the pool so the pgvector store can share it.
func (c *DatabaseClient) DB() *sql.DB {
	return c.db
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Content items

const contentColumns = `id, owner_id, filename, content_type, size, checksum, storage_key, status,
	status_updated_at, error_code, error_text, steps_json, indexed, created_at, updated_at`

func (c *DatabaseClient) CreateContentItem(ctx context.Context, item *models.ContentItem) error {
	if item == nil {
		return errors.New("nil content item")
	}
	steps, err := marshalMap(item.Steps)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO content_items (` + contentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = c.db.ExecContext(ctx, q,
		item.ID, item.OwnerID, item.Filename, item.ContentType, item.Size, item.Checksum, item.StorageKey,
		string(item.Status), item.StatusUpdatedAt, item.ErrorCode, item.ErrorText, steps, item.Indexed,
		item.CreatedAt, item.UpdatedAt)
	return err
}

func (c *DatabaseClient) GetContentItem(ctx context.Context, id string) (*models.ContentItem, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM content_items WHERE id = $1`, id)
	return scanContentItem(row)
}

func (c *DatabaseClient) ListContentItemsByOwner(ctx context.Context, ownerID string) ([]models.ContentItem, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+contentColumns+`
		FROM content_items
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ContentItem
	for rows.Next() {
		it, err := scanContentItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) FindContentItemBySourceURL(ctx context.Context, ownerID, sourceURL string) (*models.ContentItem, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT `+contentColumns+`
		FROM content_items
		WHERE owner_id = $1 AND steps_json->>'source_url' = $2 AND status <> 'DELETED'
		ORDER BY created_at DESC
		LIMIT 1
	`, ownerID, sourceURL)
	return scanContentItem(row)
}

func (c *DatabaseClient) FindContentItemByChecksum(ctx context.Context, ownerID, checksum string) (*models.ContentItem, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT `+contentColumns+`
		FROM content_items
		WHERE owner_id = $1 AND checksum = $2 AND status <> 'DELETED'
		ORDER BY created_at DESC
		LIMIT 1
	`, ownerID, checksum)
	return scanContentItem(row)
}

func (c *DatabaseClient) UpdateContentItem(ctx context.Context, item *models.ContentItem) error {
	steps, err := marshalMap(item.Steps)
	if err != nil {
		return err
	}
	res, err := c.db.ExecContext(ctx, `
		UPDATE content_items
		SET filename = $2, content_type = $3, size = $4, checksum = $5, storage_key = $6,
		    steps_json = $7, updated_at = now()
		WHERE id = $1
	`, item.ID, item.Filename, item.ContentType, item.Size, item.Checksum, item.StorageKey, steps)
	if err != nil {
		return err
	}
	return expectOneRow(res, "content item", item.ID)
}

// CompareAndSetStatus is the only status writer. The WHERE clause on the
// previous status makes concurrent transitions linearizable.
func (c *DatabaseClient) CompareAndSetStatus(ctx context.Context, item *models.ContentItem, prev models.Status) error {
	steps, err := marshalMap(item.Steps)
	if err != nil {
		return err
	}
	res, err := c.db.ExecContext(ctx, `
		UPDATE content_items
		SET status = $3, status_updated_at = $4, error_code = $5, error_text = $6,
		    steps_json = $7, indexed = $8, updated_at = $4
		WHERE id = $1 AND status = $2
	`, item.ID, string(prev), string(item.Status), item.StatusUpdatedAt, item.ErrorCode, item.ErrorText, steps, item.Indexed)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return nil
	}

	var exists bool
	if err := c.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM content_items WHERE id = $1)`, item.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return core.NotFound("content item", item.ID)
	}
	return core.ErrStatusConflict
}

func (c *DatabaseClient) DeleteContentItem(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM content_items WHERE id = $1`, id)
	return err
}

// Jobs

const jobColumns = `id, owner_id, mode, payload, status, progress, message, content_id, created_at, started_at, finished_at`

func (c *DatabaseClient) CreateJob(ctx context.Context, job *models.IngestJob) error {
	if job == nil {
		return errors.New("nil job")
	}
	payload, err := marshalMap(job.Payload)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO ingest_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()), $10, $11)
	`, job.ID, job.OwnerID, job.Mode, payload, string(job.Status), job.Progress, job.Message, job.ContentID,
		nullTime(job.CreatedAt), job.StartedAt, job.FinishedAt)
	return err
}

func (c *DatabaseClient) GetJob(ctx context.Context, id string) (*models.IngestJob, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM ingest_jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (c *DatabaseClient) ListJobsByOwner(ctx context.Context, ownerID string) ([]models.IngestJob, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM ingest_jobs
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.IngestJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateJob(ctx context.Context, job *models.IngestJob) error {
	payload, err := marshalMap(job.Payload)
	if err != nil {
		return err
	}
	// A cancelled job only accepts another cancellation.
	_, err = c.db.ExecContext(ctx, `
		UPDATE ingest_jobs
		SET payload = $2, status = $3, progress = $4, message = $5, content_id = $6,
		    started_at = $7, finished_at = $8
		WHERE id = $1 AND (status <> 'CANCELLED' OR $3 = 'CANCELLED')
	`, job.ID, payload, string(job.Status), job.Progress, job.Message, job.ContentID, job.StartedAt, job.FinishedAt)
	return err
}

func (c *DatabaseClient) DeleteJob(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM ingest_jobs WHERE id = $1`, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContentItem(s scanner) (*models.ContentItem, error) {
	var (
		it     models.ContentItem
		status string
		steps  []byte
	)
	err := s.Scan(&it.ID, &it.OwnerID, &it.Filename, &it.ContentType, &it.Size, &it.Checksum, &it.StorageKey,
		&status, &it.StatusUpdatedAt, &it.ErrorCode, &it.ErrorText, &steps, &it.Indexed, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	it.Status = models.Status(status)
	if it.Steps, err = unmarshalMap(steps); err != nil {
		return nil, fmt.Errorf("decode steps_json of %s: %w", it.ID, err)
	}
	return &it, nil
}

func scanJob(s scanner) (*models.IngestJob, error) {
	var (
		j       models.IngestJob
		status  string
		payload []byte
		started sql.NullTime
		done    sql.NullTime
	)
	err := s.Scan(&j.ID, &j.OwnerID, &j.Mode, &payload, &status, &j.Progress, &j.Message, &j.ContentID,
		&j.CreatedAt, &started, &done)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	if started.Valid {
		j.StartedAt = &started.Time
	}
	if done.Valid {
		j.FinishedAt = &done.Time
	}
	if j.Payload, err = unmarshalMap(payload); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", j.ID, err)
	}
	return &j, nil
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return b, nil
}

func unmarshalMap(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func expectOneRow(res sql.Result, what, id string) error {
	n, _ := res.RowsAffected()
	if n == 0 {
		return core.NotFound(what, id)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
