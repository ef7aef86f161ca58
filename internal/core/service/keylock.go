package service

import (
	"context"
	"slices"
	"sync"
)

// keyLocks hands out one lock per store key. Entries are dropped once no
// caller holds or waits on them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// acquire locks every key in ascending order and returns the release func.
// Waiting stops when ctx is done; keys taken so far are released.
func (k *keyLocks) acquire(ctx context.Context, keys []string) (func(), error) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	for i, key := range keys {
		if err := k.lock(ctx, key); err != nil {
			k.unlockAll(keys[:i])
			return nil, err
		}
	}
	return func() { k.unlockAll(keys) }, nil
}

func (k *keyLocks) lock(ctx context.Context, key string) error {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.mu.Lock()
		k.drop(key, l)
		k.mu.Unlock()
		return ctx.Err()
	}
}

func (k *keyLocks) unlockAll(keys []string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i := len(keys) - 1; i >= 0; i-- {
		l := k.locks[keys[i]]
		<-l.sem
		k.drop(keys[i], l)
	}
}

func (k *keyLocks) drop(key string, l *keyLock) {
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
