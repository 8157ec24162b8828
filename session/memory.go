package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	session Session
	expires time.Time
}

// MemoryStore keeps sessions in process memory with TTL expiry
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an in-memory session store
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Create persists a copy of s under a fresh id
func (m *MemoryStore) Create(_ context.Context, s *Session) (string, error) {
	id := uuid.NewString()
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(now)
	entry := memoryEntry{session: *s, expires: now.Add(m.ttl)}
	entry.session.CreatedAt = now
	m.entries[id] = entry
	return id, nil
}

// Get returns a copy of the session stored under id
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !m.now().Before(entry.expires) {
		delete(m.entries, id)
		return nil, ErrNotFound
	}
	s := entry.session
	return &s, nil
}

// Update replaces the session stored under id
func (m *MemoryStore) Update(_ context.Context, id string, s *Session) error {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok || !now.Before(entry.expires) {
		delete(m.entries, id)
		return ErrNotFound
	}
	entry.session = *s
	entry.expires = now.Add(m.ttl)
	m.entries[id] = entry
	return nil
}

// Delete removes the session stored under id
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

// sweep drops expired entries. Callers hold mu.
func (m *MemoryStore) sweep(now time.Time) {
	for id, entry := range m.entries {
		if !now.Before(entry.expires) {
			delete(m.entries, id)
		}
	}
}
