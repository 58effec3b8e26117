package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/models"
)

var _ core.VectorStore = (*PgVectorStore)(nil)

// PgVectorStore keeps chunk rows in the chunk_records table of the main
// Postgres database. The table is created by the database bootstrap script.
// Ranking happens in Go (see Rank) so both backends agree on scores.
type PgVectorStore struct {
	db *sql.DB
}

func NewPgVectorStore(db *sql.DB) (*PgVectorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pgvector store: nil database handle")
	}
	return &PgVectorStore{db: db}, nil
}

// Close is a no-op; the handle belongs to the database client.
func (s *PgVectorStore) Close() error { return nil }

// Upsert inserts chunks in a single transaction.
func (s *PgVectorStore) Upsert(ctx context.Context, items []models.ChunkRecord) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := upsertPg(ctx, tx, items); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ReplaceDocument deletes and re-inserts a document's rows in one transaction.
func (s *PgVectorStore) ReplaceDocument(ctx context.Context, documentID string, items []models.ChunkRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chunk_records WHERE document_id = $1`, documentID)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := upsertPg(ctx, tx, items); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(removed), nil
}

func upsertPg(ctx context.Context, tx *sql.Tx, items []models.ChunkRecord) error {
	if len(items) == 0 {
		return nil
	}
	const q = `
		INSERT INTO chunk_records (id, document_id, content, metadata, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			content     = EXCLUDED.content,
			metadata    = EXCLUDED.metadata,
			embedding   = EXCLUDED.embedding,
			updated_at  = now()
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range items {
		it := &items[i]
		meta, err := json.Marshal(nonNilMeta(it.Metadata))
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", it.ID, err)
		}
		vec := pgvector.NewVector(it.Embedding)
		if _, err := stmt.ExecContext(ctx,
			it.ID, models.DocumentIDOf(it.Metadata), it.Content, meta, vec,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", it.ID, err)
		}
	}
	return nil
}

func (s *PgVectorStore) Query(ctx context.Context, embedding []float32, topK int, allow func(documentID string) bool) ([]models.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, content, metadata, embedding
		FROM chunk_records
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []models.ChunkRecord
	for rows.Next() {
		var (
			rec   models.ChunkRecord
			docID string
			meta  []byte
			emb   pgvector.Vector
		)
		if err := rows.Scan(&rec.ID, &docID, &rec.Content, &meta, &emb); err != nil {
			return nil, err
		}
		if allow != nil && !allow(docID) {
			continue
		}
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", rec.ID, err)
		}
		rec.Embedding = emb.Slice()
		all = append(all, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return Rank(embedding, all, topK)
}

func (s *PgVectorStore) DeleteByDocumentID(ctx context.Context, documentID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunk_records WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PgVectorStore) ClearAll(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunk_records`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PgVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_records`).Scan(&n)
	return n, err
}
