package reservation

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// keyedMutex serializes writers per service id. Entries are reference counted
// and dropped when the last holder or waiter leaves.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*keyedLock)}
}

// Lock blocks until the lock for id is held or ctx is done. The returned
// function releases it and must be called exactly once.
func (k *keyedMutex) Lock(ctx context.Context, id uuid.UUID) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(id, l)
		return nil, ctx.Err()
	}

	return func() {
		<-l.ch
		k.release(id, l)
	}, nil
}

func (k *keyedMutex) release(id uuid.UUID, l *keyedLock) {
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, id)
	}
	k.mu.Unlock()
}

// Len returns the number of ids currently held or awaited.
func (k *keyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
