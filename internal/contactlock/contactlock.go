// Package contactlock serializes mutation for a single contact.
//
// Trigger cooldowns are enforced by a check-then-insert against the
// execution history; two concurrent evaluations for the same contact could
// both read "no recent execution" and double-fire a non-idempotent action.
// Callers hold the contact's lock across the evaluate→execute window to
// close that race. Locks for different contacts never contend.
package contactlock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed is a set of per-key mutexes. Entries are created on first Lock and
// dropped when the last holder unlocks, so the map stays bounded by the
// number of in-flight contacts.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Lock acquires the mutex for key, blocking while another goroutine holds it.
func (k *Keyed) Lock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for key. Must pair with a prior Lock.
func (k *Keyed) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if ok {
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
	}
	k.mu.Unlock()

	if ok {
		e.mu.Unlock()
	}
}
