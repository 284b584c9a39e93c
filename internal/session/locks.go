package session

import "sync"

// KeyedMutex serializes operations per key (here: per user). A refresh
// triggered by a command and one triggered by a job tick for the same user
// must not interleave around the upstream fetch, or the job-carry-forward
// merge could run against a stale list. Different keys never contend.
//
// Entries are refcounted and removed once no goroutine holds or waits for
// them, so a logged-out user leaves nothing behind.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: map[string]*lockEntry{}}
}

func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	e := k.entries[key]
	if e == nil {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	e := k.entries[key]
	if e == nil {
		k.mu.Unlock()
		panic("session: unlock of unheld key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}
