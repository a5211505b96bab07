package patch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/couchcryptid/grid-patch-service/internal/domain"
)

// KeyedLock serializes work per chunk. Patches to different chunks never
// contend; there is no lock spanning keys.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewKeyedLock returns an empty KeyedLock.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is held or ctx is done. On success the returned
// function releases the key; it must be called exactly once. If ctx ends
// first the error wraps domain.ErrConcurrencyConflict.
func (k *KeyedLock) Lock(ctx context.Context, key domain.ChunkKey) (func(), error) {
	name := key.String()

	k.mu.Lock()
	l, ok := k.locks[name]
	if !ok {
		l = &keyLock{sem: semaphore.NewWeighted(1)}
		k.locks[name] = l
	}
	l.refs++
	k.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		k.release(name, l)
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrConcurrencyConflict, name, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.sem.Release(1)
			k.release(name, l)
		})
	}, nil
}

func (k *KeyedLock) release(name string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, name)
	}
}

// active returns the number of keys currently held or waited on.
func (k *KeyedLock) active() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
