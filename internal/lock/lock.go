// Package lock provides the named mutual-exclusion locks the pools use to
// serialize allocation: one per requirement fingerprint for get-or-create,
// acquired with a TTL so a crashed holder cannot wedge the pool.
package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

type Locker interface {
	// Acquire takes the named lock for owner. Returns false without error
	// when another owner holds it.
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	// Release frees the named lock if owner still holds it.
	Release(ctx context.Context, name, owner string) error
}

type memoryHold struct {
	owner     string
	expiresAt time.Time
}

type MemoryLocker struct {
	mu    sync.Mutex
	holds map[string]memoryHold
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{holds: make(map[string]memoryHold)}
}

func (l *MemoryLocker) Acquire(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	name = strings.TrimSpace(name)
	owner = strings.TrimSpace(owner)
	if name == "" {
		return false, errors.New("lock name is required")
	}
	if owner == "" {
		return false, errors.New("owner is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	now := time.Now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()

	hold, ok := l.holds[name]
	if ok && now.Before(hold.expiresAt) && hold.owner != owner {
		return false, nil
	}
	l.holds[name] = memoryHold{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, name, owner string) error {
	name = strings.TrimSpace(name)
	owner = strings.TrimSpace(owner)
	if name == "" {
		return errors.New("lock name is required")
	}
	if owner == "" {
		return errors.New("owner is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if hold, ok := l.holds[name]; ok && hold.owner == owner {
		delete(l.holds, name)
	}
	return nil
}
