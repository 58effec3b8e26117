package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chunk_records (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}',
	embedding   BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunk_records_document ON chunk_records(document_id);
`

var _ core.VectorStore = (*SQLiteStore)(nil)

// SQLiteStore keeps chunk rows in a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	// SQLite allows one writer at a time; queue writers here instead of
	// spinning on SQLITE_BUSY. Readers never take it.
	writeMu sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, core.Configuration("VECTOR_DB_PATH is empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create vector store dir: %w", err)
		}
	}

	// WAL lets similarity scans run while an upsert transaction is open.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create vector schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Path() string {
	return s.path
}

// Upsert inserts or replaces every item in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, items []models.ChunkRecord) error {
	if len(items) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.upsertTx(ctx, tx, items); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ReplaceDocument deletes the rows of documentID and inserts items in the
// same transaction, so readers see either the old rows or the new ones.
func (s *SQLiteStore) ReplaceDocument(ctx context.Context, documentID string, items []models.ChunkRecord) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chunk_records WHERE document_id = ?`, documentID)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := s.upsertTx(ctx, tx, items); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(removed), nil
}

func (s *SQLiteStore) upsertTx(ctx context.Context, tx *sql.Tx, items []models.ChunkRecord) error {
	if len(items) == 0 {
		return nil
	}
	const q = `
		INSERT INTO chunk_records (id, document_id, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			content     = excluded.content,
			metadata    = excluded.metadata,
			embedding   = excluded.embedding
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range items {
		it := &items[i]
		if it.ID == "" {
			return core.Validation("invalid_item", "item %d has no id", i)
		}
		meta, err := json.Marshal(nonNilMeta(it.Metadata))
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", it.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			it.ID, models.DocumentIDOf(it.Metadata), it.Content, string(meta), encodeVector(it.Embedding),
		); err != nil {
			return fmt.Errorf("upsert %s: %w", it.ID, err)
		}
	}
	return nil
}

// Query scans every row in insertion order and ranks the allowed ones
// against embedding. Rows are filtered before ranking, so a narrow filter
// never loses its documents to higher-scoring foreign rows.
func (s *SQLiteStore) Query(ctx context.Context, embedding []float32, topK int, allow func(documentID string) bool) ([]models.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, document_id, content, metadata, embedding FROM chunk_records ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []models.ChunkRecord
	for rows.Next() {
		var (
			rec   models.ChunkRecord
			docID string
			meta  string
			blob  []byte
		)
		if err := rows.Scan(&rec.ID, &docID, &rec.Content, &meta, &blob); err != nil {
			return nil, err
		}
		if allow != nil && !allow(docID) {
			continue
		}
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", rec.ID, err)
		}
		if rec.Embedding, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("decode embedding of %s: %w", rec.ID, err)
		}
		all = append(all, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return Rank(embedding, all, topK)
}

func (s *SQLiteStore) DeleteByDocumentID(ctx context.Context, documentID string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunk_records WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) ClearAll(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunk_records`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_records`).Scan(&n)
	return n, err
}

func nonNilMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
