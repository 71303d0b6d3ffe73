// Package lock provides short-lived named locks used to serialize campaign
// launches.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned when the lock is held by someone else.
var ErrLocked = errors.New("lock is held")

// Locker hands out exclusive, expiring locks.
type Locker interface {
	// Acquire takes the named lock for at most ttl. The returned function
	// releases it and is safe to call more than once.
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error)
}

// Memory is an in-process Locker.
type Memory struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewMemory() *Memory {
	return &Memory{held: map[string]time.Time{}, clock: time.Now}
}

func (m *Memory) Acquire(_ context.Context, name string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if exp, ok := m.held[name]; ok && now.Before(exp) {
		return nil, ErrLocked
	}
	exp := now.Add(ttl)
	m.held[name] = exp

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.held[name].Equal(exp) {
				delete(m.held, name)
			}
		})
	}, nil
}
