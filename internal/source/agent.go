package source

import (
	"context"
	"runtime"
	"sort"

	"perfagent/internal/match"
)

// AgentDomain is the object-name domain of agent self-monitoring objects.
const AgentDomain = "agent"

// AgentState reports internal agent state for self-monitoring.
type AgentState interface {
	// RegistryAttrs returns symbol, template and metric counts.
	RegistryAttrs() map[string]any
	// ScannerAttrs returns per-scanner counters keyed by scanner name.
	ScannerAttrs() map[string]map[string]any
}

// AgentSource exposes the agent's own runtime, registry and scanner state.
// Params: source name and state.
// Returns: self-monitoring attribute source.
type AgentSource struct {
	name  string
	state AgentState
}

// NewAgentSource creates a self-monitoring source.
// Params: name registered source name; state may be nil until the engine binds it.
// Returns: agent source.
func NewAgentSource(name string, state AgentState) *AgentSource {
	return &AgentSource{name: name, state: state}
}

// Bind sets the state after the engine is assembled.
// Params: state engine state reporter.
// Returns: none.
func (s *AgentSource) Bind(state AgentState) {
	s.state = state
}

// Name returns the registered source name.
// Params: none.
// Returns: source name.
func (s *AgentSource) Name() string {
	return s.name
}

// Objects builds Runtime, Registry and Scanner objects.
// Params: ctx unused.
// Returns: objects with scanners sorted by name.
func (s *AgentSource) Objects(context.Context) ([]Object, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	runtimeAttrs := map[string]any{
		"goroutines":     int64(runtime.NumGoroutine()),
		"heap_alloc":     counterValue(mem.HeapAlloc),
		"heap_objects":   counterValue(mem.HeapObjects),
		"sys":            counterValue(mem.Sys),
		"total_alloc":    counterValue(mem.TotalAlloc),
		"gc_count":       int64(mem.NumGC),
		"gc_pause_total": counterValue(mem.PauseTotalNs),
	}
	for key, value := range processUsage() {
		runtimeAttrs[key] = value
	}

	objects := []Object{{
		Name:  match.NewObjectName(AgentDomain, "type", "Runtime"),
		Attrs: runtimeAttrs,
	}}
	if s.state == nil {
		return objects, nil
	}

	objects = append(objects, Object{
		Name:  match.NewObjectName(AgentDomain, "type", "Registry"),
		Attrs: s.state.RegistryAttrs(),
	})

	scanners := s.state.ScannerAttrs()
	names := make([]string, 0, len(scanners))
	for name := range scanners {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		objects = append(objects, Object{
			Name:  match.NewObjectName(AgentDomain, "type", "Scanner", "name", name),
			Attrs: scanners[name],
		})
	}
	return objects, nil
}
