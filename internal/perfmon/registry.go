package perfmon

import "sync"

// Registry assigns stable IDs to templates and metrics on first use.
// Params: none; build with NewRegistry.
// Returns: concurrency-safe registry shared by all scanners.
type Registry struct {
	mu        sync.Mutex
	templates []*MetricTemplate
	metrics   []*Metric
}

// TemplateInfo describes one registered template for export.
type TemplateInfo struct {
	ID          int32    `json:"id"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Dynamic     []string `json:"dynamic,omitempty"`
	Multiplier  float64  `json:"multiplier"`
	Metrics     int      `json:"metrics"`
}

// MetricInfo describes one registered metric for export.
type MetricInfo struct {
	ID         int32             `json:"id"`
	TemplateID int32             `json:"template_id"`
	Template   string            `json:"template"`
	Name       string            `json:"name"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// NewRegistry creates an empty metric registry.
// Params: none.
// Returns: registry whose first template and metric IDs are 1.
func NewRegistry() *Registry {
	return &Registry{}
}

// registerTemplate assigns the next template ID when the template has none yet.
// Params: template to register.
// Returns: template ID.
func (r *Registry) registerTemplate(template *MetricTemplate) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id := template.id.Load(); id != 0 {
		return id
	}
	r.templates = append(r.templates, template)
	id := int32(len(r.templates))
	template.id.Store(id)
	return id
}

// registerMetric assigns the next metric ID.
// Params: metric to register; called once per metric.
// Returns: metric ID.
func (r *Registry) registerMetric(metric *Metric) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id := metric.id.Load(); id != 0 {
		return id
	}
	r.metrics = append(r.metrics, metric)
	id := int32(len(r.metrics))
	metric.id.Store(id)
	return id
}

// Templates lists registered templates ordered by ID.
// Params: none.
// Returns: template descriptors.
func (r *Registry) Templates() []TemplateInfo {
	r.mu.Lock()
	templates := append([]*MetricTemplate(nil), r.templates...)
	r.mu.Unlock()

	out := make([]TemplateInfo, 0, len(templates))
	for _, template := range templates {
		spec := template.Spec()
		out = append(out, TemplateInfo{
			ID:          template.ID(),
			Name:        spec.Name,
			Kind:        spec.Kind.String(),
			Title:       spec.Title,
			Description: spec.Description,
			Unit:        spec.Unit,
			Dynamic:     spec.Dynamic,
			Multiplier:  spec.Multiplier,
			Metrics:     template.Len(),
		})
	}
	return out
}

// Metrics lists registered metrics ordered by ID.
// Params: none.
// Returns: metric descriptors.
func (r *Registry) Metrics() []MetricInfo {
	r.mu.Lock()
	metrics := append([]*Metric(nil), r.metrics...)
	r.mu.Unlock()

	out := make([]MetricInfo, 0, len(metrics))
	for _, metric := range metrics {
		out = append(out, MetricInfo{
			ID:         metric.ID(),
			TemplateID: metric.template.ID(),
			Template:   metric.template.Name(),
			Name:       metric.Name(),
			Attrs:      metric.Attrs(),
		})
	}
	return out
}

// Metric returns the registered metric with id.
func (r *Registry) Metric(id int32) (*Metric, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 1 || int(id) > len(r.metrics) {
		return nil, false
	}
	return r.metrics[id-1], true
}

// Counts returns the number of registered templates and metrics.
func (r *Registry) Counts() (templates int, metrics int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.templates), len(r.metrics)
}
