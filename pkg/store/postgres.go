package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/wrenfield/idbridge/pkg/identity"
)

const (
	postgresMaxConns    = 20
	postgresMinConns    = 2
	postgresConnTimeout = 10 * time.Second
)

// PostgresStore is the durable shadow store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool, verifies connectivity, and
// creates the schema if it does not exist yet.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(postgresMaxConns)
	db.SetMaxIdleConns(postgresMinConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, postgresConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.ensureTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure shadow_users table: %w", err)
	}
	return s, nil
}

// ensureTable creates the shadow_users table if it doesn't exist
func (s *PostgresStore) ensureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS shadow_users (
		id VARCHAR(64) PRIMARY KEY,
		provider VARCHAR(100) NOT NULL,
		subject VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		attributes JSONB,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
		UNIQUE (provider, subject)
	);

	CREATE INDEX IF NOT EXISTS idx_shadow_users_updated_at ON shadow_users(updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_shadow_users_email ON shadow_users(email);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return err
	}
	return nil
}

// Upsert inserts or replaces the row for the identity's key in a single
// statement, so concurrent calls for the same key serialize on the row
// without losing updates.
func (s *PostgresStore) Upsert(ctx context.Context, id identity.Identity, attributes map[string]string) (*identity.ShadowUser, error) {
	if id.Provider == "" || id.Subject == "" {
		return nil, ErrInvalidIdentity
	}

	attrs, err := json.Marshal(copyAttributes(attributes))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO shadow_users (id, provider, subject, email, name, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			attributes = EXCLUDED.attributes,
			updated_at = EXCLUDED.updated_at
		RETURNING id, provider, subject, email, name, attributes, created_at, updated_at
	`, identity.ShadowID(id.Provider, id.Subject), id.Provider, id.Subject, id.Email, id.Name, attrs, time.Now().UTC())

	user, err := scanShadowUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert shadow user: %w", err)
	}
	return user, nil
}

// List returns the most recently updated users, capped at ListLimit.
func (s *PostgresStore) List(ctx context.Context) ([]*identity.ShadowUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider, subject, email, name, attributes, created_at, updated_at
		FROM shadow_users
		ORDER BY updated_at DESC
		LIMIT $1
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
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := s.db.PingContext(probeCtx); err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}
	return nil
}

// Backend identifies this implementation in logs and metrics.
func (s *PostgresStore) Backend() string {
	return "postgres"
}

// Close releases the connection pool; repeated calls are safe.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanShadowUser(row rowScanner) (*identity.ShadowUser, error) {
	var (
		user  identity.ShadowUser
		attrs []byte
	)
	err := row.Scan(
		&user.ID,
		&user.Identity.Provider,
		&user.Identity.Subject,
		&user.Identity.Email,
		&user.Identity.Name,
		&attrs,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &user.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
		}
	}
	return &user, nil
}
