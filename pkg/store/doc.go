// Package store persists shadow identities.
//
// # Overview
//
// A ShadowUser row exists for every identity the service has ever observed,
// keyed by the deterministic id derived from (provider, subject). Upserts
// are idempotent and replace the whole row atomically; nothing is deleted
// automatically.
//
// Three implementations share the Store interface:
//
//   - PostgresStore: the durable backend for multi-node installs
//   - SQLiteStore: a durable single-file backend for single-node installs
//   - MemoryStore: process-local fallback when no database is configured
//
// Open selects the backend from the connection string: postgres:// and
// postgresql:// URLs open PostgreSQL, an empty string opens the in-memory
// store, and anything else is treated as a SQLite file path. Durable
// backends create their schema lazily on first connection.
//
// CachedStore optionally decorates any Store with a Redis read cache for
// the list operation; cache failures fall back to the underlying store and
// are never fatal.
//
// # Usage Example
//
//	st, err := store.Open(ctx, cfg.DatabaseURL)
//	if err != nil {
//		return err
//	}
//	defer st.Close()
//
//	user, err := st.Upsert(ctx, id, map[string]string{"mattermost_id": acct.ID})
package store
