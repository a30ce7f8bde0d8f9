package perfmon

import (
	"os"
	"sync"
	"sync/atomic"
)

// Metric is one derived series of a template, identified by its derived key.
// Params: none; created by the scanner through MetricTemplate.ResolveOrCreate.
// Returns: stateful deriver with stable ID.
type Metric struct {
	id       atomic.Int32
	template *MetricTemplate
	key      string
	name     string
	attrs    map[string]string
	attrIDs  map[string]int32

	mu      sync.Mutex
	deriver deriver
}

// newMetric builds a metric with fresh derivation state.
// Params: template owner; key derived key; attrs dynamic attribute values; attrIDs name->symbol IDs.
// Returns: metric with ID 0 until registered.
func newMetric(template *MetricTemplate, key string, attrs map[string]string, attrIDs map[string]int32) *Metric {
	return &Metric{
		template: template,
		key:      key,
		name:     renderTitle(template.spec, attrs),
		attrs:    attrs,
		attrIDs:  attrIDs,
		deriver:  newDeriver(template.spec),
	}
}

// ID returns the metric ID, 0 until registered.
func (m *Metric) ID() int32 {
	return m.id.Load()
}

// Template returns the owning template.
func (m *Metric) Template() *MetricTemplate {
	return m.template
}

// Key returns the derived key.
func (m *Metric) Key() string {
	return m.key
}

// Name returns the title rendered with this metric's dynamic attributes.
func (m *Metric) Name() string {
	return m.name
}

// Attrs returns a copy of the dynamic attribute values.
func (m *Metric) Attrs() map[string]string {
	out := make(map[string]string, len(m.attrs))
	for key, value := range m.attrs {
		out[key] = value
	}
	return out
}

// Derive feeds one raw reading into the metric's derivation state.
// Params: timestampMillis reading clock; raw reading value.
// Returns: derived value and false when absent for this reading.
func (m *Metric) Derive(timestampMillis int64, raw Number) (Number, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deriver.derive(timestampMillis, raw)
}

// sampleAttrs maps symbol IDs of dynamic attribute names to the values observed by one reading.
// Params: observed reading dynamic attributes.
// Returns: fresh map or nil when the template declares no dynamic attributes.
func (m *Metric) sampleAttrs(observed map[string]string) map[int32]string {
	if len(m.attrIDs) == 0 {
		return nil
	}
	out := make(map[int32]string, len(m.attrIDs))
	for name, id := range m.attrIDs {
		out[id] = observed[name]
	}
	return out
}

// renderTitle expands ${attr} placeholders of the template title.
// Params: spec template declaration; attrs dynamic attribute values.
// Returns: rendered name, or the template name when no title is set.
func renderTitle(spec TemplateSpec, attrs map[string]string) string {
	if spec.Title == "" {
		return spec.Name
	}
	return os.Expand(spec.Title, func(name string) string {
		return attrs[name]
	})
}
