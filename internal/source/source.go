package source

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"perfagent/internal/match"
)

// MaxPayloadBytes is the maximum accepted size for one external JSON or text payload.
const MaxPayloadBytes = 16 << 20

// Object is one named attribute container exposed by a source.
// Params: object name and attribute tree; nested maps form dotted attribute paths.
// Returns: one listing entry.
type Object struct {
	Name  match.ObjectName
	Attrs map[string]any
}

// Source exposes named objects with numeric and non-numeric attributes.
// Params: context for cancellation and deadlines.
// Returns: ordered object list or read error.
type Source interface {
	Name() string
	Objects(ctx context.Context) ([]Object, error)
}

// Registry maps source names to sources.
// Params: none; use NewRegistry.
// Returns: concurrency-safe source lookup table.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	order   []string
}

// NewRegistry creates an empty source registry.
// Params: none.
// Returns: registry instance.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds one source under its own name.
// Params: src with non-empty unique name.
// Returns: error on nil source, empty name or duplicate.
func (r *Registry) Register(src Source) error {
	if src == nil {
		return fmt.Errorf("register source: nil source")
	}
	name := strings.TrimSpace(src.Name())
	if name == "" {
		return fmt.Errorf("register source: empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("register source %q: already registered", name)
	}
	r.sources[name] = src
	r.order = append(r.order, name)
	return nil
}

// Get returns a source by name.
// Params: name registered source name.
// Returns: source and true when found.
func (r *Registry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// Names returns registered source names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// SortedKeys returns attribute map keys in ascending order.
// Params: attrs attribute map.
// Returns: sorted key list.
func SortedKeys(attrs map[string]any) []string {
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// counterValue converts an unsigned kernel counter to int64, saturating at MaxInt64.
// Params: value raw counter.
// Returns: int64 attribute value.
func counterValue(value uint64) int64 {
	if value > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(value)
}
