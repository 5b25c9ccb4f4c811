package delivery

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/qiwigo/internal/storage"
)

// SQLiteStore keeps delivery keys in a local SQLite database so they survive
// restarts.
type SQLiteStore struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time
}

// OpenSQLiteStore opens the database at path.
func OpenSQLiteStore(ctx context.Context, path string, retention time.Duration) (*SQLiteStore, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("delivery: %w", err)
	}
	return NewSQLiteStore(db, retention), nil
}

// NewSQLiteStore wraps an already bootstrapped database.
func NewSQLiteStore(db *sql.DB, retention time.Duration) *SQLiteStore {
	return &SQLiteStore{db: db, retention: retention, now: time.Now}
}

func (s *SQLiteStore) Claim(ctx context.Context, key string) (bool, error) {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delivery: begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM webhook_deliveries WHERE expires_at <= ?`, now.UnixMilli()); err != nil {
		return false, fmt.Errorf("delivery: prune: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (id, delivery_key, status, created_at, expires_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(delivery_key) DO NOTHING`,
		uuid.NewString(), key, StatusInProgress, now.Format(time.RFC3339Nano), now.Add(InProgressExpiry).UnixMilli())
	if err != nil {
		return false, fmt.Errorf("delivery: claim %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delivery: claim %q: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delivery: commit claim: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Complete(ctx context.Context, key string) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (id, delivery_key, status, created_at, expires_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(delivery_key) DO UPDATE SET status = excluded.status, expires_at = excluded.expires_at`,
		uuid.NewString(), key, StatusCompleted, now.Format(time.RFC3339Nano), now.Add(s.retention).UnixMilli())
	if err != nil {
		return fmt.Errorf("delivery: complete %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
