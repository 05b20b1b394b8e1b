// Package lock provides mutual exclusion keyed by bill number, serializing
// the engine's fetch-diff-write sequence per bill.
package lock

import (
	"context"
	"sync"
)

// KeyedLocker serializes critical sections per key. Acquire blocks until the
// key's lock is held (or ctx is done) and returns the release function.
type KeyedLocker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedMutex is the in-process implementation. Entries are refcounted so the
// map does not grow with the number of bills ever touched.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyEntry
}

type keyEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyEntry)}
}

func (m *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &keyEntry{ch: make(chan struct{}, 1)}
		m.entries[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		m.put(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-entry.ch
			m.put(key, entry)
		})
	}
	return release, nil
}

func (m *KeyedMutex) put(key string, entry *keyEntry) {
	m.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(m.entries, key)
	}
	m.mu.Unlock()
}
