package session

import (
	"context"
	"sync"
	"time"

	"slotbook/internal/models"
)

type memoryEntry struct {
	session   *models.Session
	expiresAt time.Time
}

// MemorySessionStore is the in-process fallback used when redis is down
// or not configured. Expiry is checked lazily on read.
type MemorySessionStore struct {
	sessions sync.Map
	ttl      time.Duration
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{ttl: ttl}
}

func (m *MemorySessionStore) SetSession(ctx context.Context, session *models.Session) error {
	m.sessions.Store(session.Token, &memoryEntry{
		session:   session,
		expiresAt: time.Now().Add(m.ttl),
	})
	return nil
}

func (m *MemorySessionStore) GetSession(ctx context.Context, token string) (*models.Session, error) {
	val, ok := m.sessions.Load(token)
	if !ok {
		return nil, nil
	}
	entry := val.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		m.sessions.Delete(token)
		return nil, nil
	}
	return entry.session, nil
}

func (m *MemorySessionStore) DeleteSession(ctx context.Context, token string) error {
	m.sessions.Delete(token)
	return nil
}
