package keylock

import "sync"

// KeyedMutex serializes work per key without a lock across keys. Entries are
// reference-counted and removed when the last holder releases, so the map
// does not grow with the customer population.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func New() *KeyedMutex {
	return &KeyedMutex{locks: map[string]*lockEntry{}}
}

// Lock blocks until the key is held and returns the release function.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	entry := k.locks[key]
	if entry == nil {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
