// Package identity correlates display names seen in the log with stable user ids.
package identity

import "sync"

// Map resolves player display names to user ids. It is safe for concurrent use.
type Map struct {
	mu  sync.Mutex
	ids map[string]string
}

// New returns an empty map.
func New() *Map {
	return &Map{ids: make(map[string]string)}
}

// Put records name -> id, replacing any stale entry for name.
func (m *Map) Put(name, id string) {
	m.mu.Lock()
	m.ids[name] = id
	m.mu.Unlock()
}

// Remove forgets name.
func (m *Map) Remove(name string) {
	m.mu.Lock()
	delete(m.ids, name)
	m.mu.Unlock()
}

// Lookup returns the id recorded for name.
func (m *Map) Lookup(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.ids[name]
	return id, ok
}

// Len returns the number of known players.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids)
}
