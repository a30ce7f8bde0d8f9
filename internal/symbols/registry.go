package symbols

import "sync"

// Registry interns names to stable int32 identifiers.
// Params: none; zero value is not usable, use NewRegistry.
// Returns: concurrency-safe bidirectional name/ID table.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]int32
	names  []string
}

// Symbol is one interned name with its identifier.
type Symbol struct {
	ID   int32  `json:"id"`
	Name string `json:"name"`
}

// NewRegistry creates an empty symbol registry.
// Params: none.
// Returns: registry whose first allocated ID is 1.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]int32),
		names:  []string{""},
	}
}

// Intern returns the ID for name, allocating the next unused ID on first sight.
// Params: name any string, including empty.
// Returns: stable ID, never reused for another name.
func (r *Registry) Intern(name string) int32 {
	r.mu.RLock()
	id, ok := r.byName[name]
	r.mu.RUnlock()
	if ok {
		return id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byName[name]; ok {
		return id
	}
	id = int32(len(r.names))
	r.names = append(r.names, name)
	r.byName[name] = id
	return id
}

// Lookup returns ID for an already interned name without allocating.
// Params: name to look up.
// Returns: ID and true when present.
func (r *Registry) Lookup(name string) (int32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// Name resolves an ID back to its name.
// Params: id previously returned by Intern.
// Returns: name and true when ID is allocated.
func (r *Registry) Name(id int32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id <= 0 || int(id) >= len(r.names) {
		return "", false
	}
	return r.names[id], true
}

// Len returns the number of interned names.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names) - 1
}

// Snapshot copies all symbols ordered by ID.
// Params: none.
// Returns: detached symbol list.
func (r *Registry) Snapshot() []Symbol {
	r.mu.RLock()
	out := make([]Symbol, 0, len(r.names)-1)
	for id := 1; id < len(r.names); id++ {
		out = append(out, Symbol{ID: int32(id), Name: r.names[id]})
	}
	r.mu.RUnlock()
	return out
}
