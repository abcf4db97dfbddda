// Package lock serializes generations per thread. Only one generation may be in
// flight for a thread; a second submission fails fast with ErrLocked instead of
// racing the first one.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrLocked is returned when another generation holds the lock
var ErrLocked = errors.New("a generation is already running for this thread")

// Release gives a lock back. Calling it more than once is harmless.
type Release func()

// Locker hands out exclusive, expiring locks by key
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// ThreadKey is the lock key of a thread
func ThreadKey(threadID uuid.UUID) string {
	return "generation:" + threadID.String()
}

type memoryEntry struct {
	token   string
	expires time.Time
}

// Memory is a process-local Locker
type Memory struct {
	ttl   time.Duration
	mu    sync.Mutex
	locks map[string]memoryEntry
}

// NewMemory creates a process-local locker. Locks that are never released
// expire after ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, locks: map[string]memoryEntry{}}
}

// Acquire takes the lock for key or returns ErrLocked
func (m *Memory) Acquire(_ context.Context, key string) (Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if entry, ok := m.locks[key]; ok && now.Before(entry.expires) {
		return nil, ErrLocked
	}
	token := uuid.NewString()
	m.locks[key] = memoryEntry{token: token, expires: now.Add(m.ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if entry, ok := m.locks[key]; ok && entry.token == token {
				delete(m.locks, key)
			}
		})
	}, nil
}
