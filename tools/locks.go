package tools

import (
	"sync"
)

// KeyedMutex hands out one lock per key, entries are dropped once nobody holds or waits for them.
type KeyedMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*lockEntry
}

type lockEntry struct {
	mu       sync.Mutex
	refCount int
}

func NewKeyedMutex[K comparable]() *KeyedMutex[K] {
	return &KeyedMutex[K]{
		locks: make(map[K]*lockEntry),
	}
}

// TryLock acquires the key without waiting. The returned release func must be
// called exactly once when ok is true.
func (km *KeyedMutex[K]) TryLock(key K) (release func(), ok bool) {
	km.mu.Lock()
	defer km.mu.Unlock()
	le, exists := km.locks[key]
	if exists && le.refCount > 0 {
		return func() {}, false
	}
	if !exists {
		le = &lockEntry{}
		km.locks[key] = le
	}
	le.refCount++
	le.mu.Lock()

	var once sync.Once
	return func() { once.Do(func() { km.unlock(key) }) }, true
}

func (km *KeyedMutex[K]) unlock(key K) {
	km.mu.Lock()
	defer km.mu.Unlock()

	le, exists := km.locks[key]
	if !exists {
		panic("unlock of unlocked lock")
	}
	le.refCount--
	if le.refCount == 0 {
		delete(km.locks, key)
	}
	le.mu.Unlock()
}
