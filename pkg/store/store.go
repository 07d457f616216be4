package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wrenfield/idbridge/pkg/identity"
)

const (
	// ListLimit bounds the rows returned by durable implementations.
	ListLimit = 500

	// healthCheckTimeout bounds the backend probe independently of the
	// caller's deadline.
	healthCheckTimeout = 2 * time.Second
)

// ErrInvalidIdentity is returned when an upsert lacks the natural key.
var ErrInvalidIdentity = errors.New("identity must carry provider and subject")

// Store is the shadow identity persistence contract. Upsert must be atomic
// per (provider, subject) key: concurrent calls for different keys may
// interleave freely, concurrent calls for the same key must not lose
// updates. List returns the most recently updated rows first. Close is
// idempotent.
type Store interface {
	Upsert(ctx context.Context, id identity.Identity, attributes map[string]string) (*identity.ShadowUser, error)
	List(ctx context.Context) ([]*identity.ShadowUser, error)
	HealthCheck(ctx context.Context) error
	Backend() string
	Close() error
}

// Open selects a backend from the connection string: postgres URLs open
// PostgreSQL, an empty string selects the in-memory store, anything else
// is a SQLite database path.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "":
		return NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn)
	default:
		return NewSQLiteStore(ctx, dsn)
	}
}
