package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/wrenfield/idbridge/pkg/identity"
)

// SQLiteStore is a durable single-file shadow store for single-node
// installs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database file and ensures the
// schema exists.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids busy errors.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	s := &SQLiteStore{db: db}
	if err := s.ensureTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure shadow_users table: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) ensureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS shadow_users (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		subject TEXT NOT NULL,
		email TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		attributes TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (provider, subject)
	);

	CREATE INDEX IF NOT EXISTS idx_shadow_users_updated_at ON shadow_users(updated_at DESC);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return err
	}
	return nil
}

// Upsert inserts or replaces the row for the identity's key. The single
// write connection serializes concurrent upserts.
func (s *SQLiteStore) Upsert(ctx context.Context, id identity.Identity, attributes map[string]string) (*identity.ShadowUser, error) {
	if id.Provider == "" || id.Subject == "" {
		return nil, ErrInvalidIdentity
	}

	attrs, err := json.Marshal(copyAttributes(attributes))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO shadow_users (id, provider, subject, email, name, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			attributes = excluded.attributes,
			updated_at = excluded.updated_at
		RETURNING id, provider, subject, email, name, attributes, created_at, updated_at
	`, identity.ShadowID(id.Provider, id.Subject), id.Provider, id.Subject, id.Email, id.Name, attrs,
		now, now)

	user, err := scanShadowUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert shadow user: %w", err)
	}
	return user, nil
}

// List returns the most recently updated users, capped at ListLimit.
func (s *SQLiteStore) List(ctx context.Context) ([]*identity.ShadowUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider, subject, email, name, attributes, created_at, updated_at
		FROM shadow_users
		ORDER BY updated_at DESC
		LIMIT ?
	`, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list shadow users: %w", err)
	}
	defer rows.Close()

	var users []*identity.ShadowUser
	for rows.Next() {
		user, err := scanShadowUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shadow user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shadow users: %w", err)
	}
	return users, nil
}

// HealthCheck pings the database, bounded by its own short timeout.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := s.db.PingContext(probeCtx); err != nil {
		return fmt.Errorf("sqlite unreachable: %w", err)
	}
	return nil
}

// Backend identifies this implementation in logs and metrics.
func (s *SQLiteStore) Backend() string {
	return "sqlite"
}

// Close releases the database handle; repeated calls are safe.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
