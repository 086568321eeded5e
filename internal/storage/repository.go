// Package storage persists visitor sessions so that a restart can restore
// them. Only refresh tokens are kept; no financial data is stored here.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Load for unknown visitors.
var ErrNotFound = errors.New("visitor session not found")

// SavedSession is a persisted visitor session.
type SavedSession struct {
	ID           string
	RefreshToken string
	UID          string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SQLiteRepository stores visitor sessions in SQLite.
type SQLiteRepository struct {
	db      *sql.DB
	now     func() time.Time
	version uint
}

// NewSQLiteRepository opens dbPath and migrates it. ":memory:" is accepted
// for tests.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes
	// writes, which SQLite does anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	version, err := RunMigrations(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteRepository{db: db, now: time.Now, version: version}, nil
}

// SchemaVersion is the migration version the database was opened at.
func (r *SQLiteRepository) SchemaVersion() uint {
	return r.version
}

// Close releases the database.
func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Save inserts or replaces the refresh token of a visitor.
func (r *SQLiteRepository) Save(ctx context.Context, id, uid, refreshToken string) error {
	now := r.now().Unix()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO visitor_sessions (id, refresh_token, uid, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			refresh_token = excluded.refresh_token,
			uid = excluded.uid,
			updated_at = excluded.updated_at`,
		id, refreshToken, uid, now, now)
	if err != nil {
		return fmt.Errorf("save visitor session: %w", err)
	}
	return nil
}

// Load returns the session of id or ErrNotFound.
func (r *SQLiteRepository) Load(ctx context.Context, id string) (SavedSession, error) {
	var (
		s                SavedSession
		created, updated int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, refresh_token, uid, created_at, updated_at
		FROM visitor_sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.RefreshToken, &s.UID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return SavedSession{}, ErrNotFound
	}
	if err != nil {
		return SavedSession{}, fmt.Errorf("load visitor session: %w", err)
	}
	s.CreatedAt = time.Unix(created, 0)
	s.UpdatedAt = time.Unix(updated, 0)
	return s, nil
}

// Delete forgets a visitor session. Deleting an unknown id is not an error.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM visitor_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete visitor session: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes sessions not updated since now-age and returns how
// many were removed.
func (r *SQLiteRepository) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := r.now().Add(-age).Unix()
	res, err := r.db.ExecContext(ctx, `DELETE FROM visitor_sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge visitor sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge visitor sessions: %w", err)
	}
	return n, nil
}
