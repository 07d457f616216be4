package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wrenfield/idbridge/pkg/identity"
)

// MemoryStore keeps shadow users in process memory. It is the fallback
// when no database is configured; contents are lost on restart.
type MemoryStore struct {
	mutex sync.RWMutex
	users map[string]*identity.ShadowUser

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*identity.ShadowUser),
		now:   time.Now,
	}
}

// Upsert inserts or replaces the row for the identity's key under one lock,
// preserving CreatedAt and advancing UpdatedAt.
func (s *MemoryStore) Upsert(ctx context.Context, id identity.Identity, attributes map[string]string) (*identity.ShadowUser, error) {
	if id.Provider == "" || id.Subject == "" {
		return nil, ErrInvalidIdentity
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := identity.ShadowID(id.Provider, id.Subject)
	now := s.now().UTC()

	createdAt := now
	if existing, ok := s.users[key]; ok {
		createdAt = existing.CreatedAt
		// Guarantee UpdatedAt advances even inside one clock tick.
		if !now.After(existing.UpdatedAt) {
			now = existing.UpdatedAt.Add(time.Nanosecond)
		}
	}

	user := &identity.ShadowUser{
		ID:         key,
		Identity:   id,
		Attributes: copyAttributes(attributes),
		CreatedAt:  createdAt,
		UpdatedAt:  now,
	}
	s.users[key] = user
	return snapshotUser(user), nil
}

// List returns every stored user, most recently updated first.
func (s *MemoryStore) List(ctx context.Context) ([]*identity.ShadowUser, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	users := make([]*identity.ShadowUser, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, snapshotUser(u))
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].UpdatedAt.After(users[j].UpdatedAt)
	})
	return users, nil
}

// HealthCheck always succeeds; there is no backend to probe.
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

// Backend identifies this implementation in logs and metrics.
func (s *MemoryStore) Backend() string {
	return "memory"
}

// Close is a no-op and safe to call repeatedly.
func (s *MemoryStore) Close() error {
	return nil
}

func copyAttributes(attributes map[string]string) map[string]string {
	if len(attributes) == 0 {
		return nil
	}
	copied := make(map[string]string, len(attributes))
	for k, v := range attributes {
		copied[k] = v
	}
	return copied
}

// snapshotUser returns a copy so callers never share mutable state with
// the store.
func snapshotUser(u *identity.ShadowUser) *identity.ShadowUser {
	copied := *u
	copied.Attributes = copyAttributes(u.Attributes)
	return &copied
}
