package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"
)

//go:embed scripts/initdb.sql
var initScript string

// schemaVersion is the docuiq_meta row written by scripts/initdb.sql.
const schemaVersion = 1

// bootstrapLockKey serializes schema setup between processes starting together
// (an API and its workers) through a transaction-scoped advisory lock.
const bootstrapLockKey int64 = 0x646f6375697131

// EnsureBootstrapped applies scripts/initdb.sql once per schema version. The
// check and the script run in one transaction under the advisory lock, so a
// second process waits and then finds the version recorded.
func EnsureBootstrapped(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bootstrap: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, bootstrapLockKey); err != nil {
		return fmt.Errorf("bootstrap lock: %w", err)
	}

	applied, err := schemaApplied(ctx, tx, schemaVersion)
	if err != nil {
		return err
	}
	if applied {
		return tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, initScript); err != nil {
		return fmt.Errorf("apply initdb.sql: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}

// schemaApplied reports whether docuiq_meta exists and records version.
func schemaApplied(ctx context.Context, tx *sql.Tx, version int) (bool, error) {
	var table sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT to_regclass('docuiq_meta')::text`).Scan(&table); err != nil {
		return false, fmt.Errorf("look up docuiq_meta: %w", err)
	}
	if !table.Valid {
		return false, nil
	}
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM docuiq_meta WHERE version = $1`, version).Scan(&n); err != nil {
		return false, fmt.Errorf("read schema version: %w", err)
	}
	return n > 0, nil
}
