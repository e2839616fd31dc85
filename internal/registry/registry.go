// Package registry keeps the identity → session map of the party line.
package registry

import (
	"sort"
	"sync"

	"partyline/internal/session"
)

// Registry maps identities to sessions.  Each operation is atomic on
// its own; enumeration returns a snapshot so no lock is held while the
// caller does I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*session.Session)}
}

// Register stores s under identity, replacing and returning any
// previous entry.
func (r *Registry) Register(identity string, s *session.Session) (previous *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous = r.sessions[identity]
	r.sessions[identity] = s
	if previous == s {
		return nil
	}
	return previous
}

// Remove deletes the entry for identity.  Absent identities are a
// no-op.
func (r *Registry) Remove(identity string) {
	r.mu.Lock()
	delete(r.sessions, identity)
	r.mu.Unlock()
}

// RemoveSession deletes s only if it is still the entry for its
// identity.  It reports whether an entry was deleted.
func (r *Registry) RemoveSession(s *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := s.Identity()
	if cur, ok := r.sessions[id]; ok && cur == s {
		delete(r.sessions, id)
		return true
	}
	return false
}

// Lookup returns the session registered for identity.
func (r *Registry) Lookup(identity string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[identity]
	return s, ok
}

// All returns a snapshot of every registered session.
func (r *Registry) All() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// ActiveOnly returns a snapshot of the connected sessions.
func (r *Registry) ActiveOnly() []*session.Session {
	all := r.All()
	out := all[:0]
	for _, s := range all {
		if s.IsActive() {
			out = append(out, s)
		}
	}
	return out
}

// Identities returns the sorted identities of the connected sessions.
func (r *Registry) Identities() []string {
	active := r.ActiveOnly()
	ids := make([]string, 0, len(active))
	for _, s := range active {
		ids = append(ids, s.Identity())
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
