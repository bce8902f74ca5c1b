package waitlist

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory waitlist for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	byEmail map[string]*Entry
}

// NewMemoryStore creates a new in-memory waitlist store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byEmail: make(map[string]*Entry)}
}

func (m *MemoryStore) Add(_ context.Context, e *Entry) (bool, error) {
	email := NormalizeEmail(e.Email)
	if email == "" {
		return false, ErrInvalidEmail
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[email]; ok {
		return false, nil
	}
	e.ID = uuid.NewString()
	e.Email = email
	e.Status = StatusPending
	e.CreatedAt = time.Now().UTC()
	cp := *e
	m.byEmail[email] = &cp
	return true, nil
}

// Len returns the number of entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byEmail)
}

var _ Store = (*MemoryStore)(nil)
