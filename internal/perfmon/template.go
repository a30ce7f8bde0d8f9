package perfmon

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnknownKind is returned for metric kinds outside raw, delta, rate and windowed_rate.
var ErrUnknownKind = errors.New("unknown metric kind")

// Kind selects how a metric derives output values from raw readings.
type Kind uint8

const (
	// KindRaw passes raw readings through.
	KindRaw Kind = iota + 1
	// KindDelta emits the difference from the previous reading.
	KindDelta
	// KindRate emits the difference per elapsed time unit.
	KindRate
	// KindWindowedRate emits the rate across a rolling window of readings.
	KindWindowedRate
)

// ParseKind maps a config kind name to Kind.
// Params: name raw, delta, rate or windowed_rate (case-insensitive).
// Returns: kind or ErrUnknownKind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "raw":
		return KindRaw, nil
	case "delta":
		return KindDelta, nil
	case "rate":
		return KindRate, nil
	case "windowed_rate":
		return KindWindowedRate, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
}

// String returns the config name of the kind.
func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindDelta:
		return "delta"
	case KindRate:
		return "rate"
	case KindWindowedRate:
		return "windowed_rate"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// DefaultRateUnit is the time unit rates are normalized to when none is set.
const DefaultRateUnit = time.Second

// DefaultWindow is the windowed rate size when none is set.
const DefaultWindow = 5

// keySeparator ends the length prefix of each value in a multi-attribute derived key.
const keySeparator = ":"

// TemplateSpec declares one metric template.
// Params: name and kind are required; Dynamic lists attribute names in key order;
// Multiplier 0 means 1; RateUnit 0 means DefaultRateUnit; Window 0 means DefaultWindow.
// Returns: declarative template settings.
type TemplateSpec struct {
	Name        string
	Kind        Kind
	Title       string
	Description string
	Unit        string
	Dynamic     []string
	Multiplier  float64
	RateUnit    time.Duration
	Window      int
}

// MetricTemplate describes a family of metrics and caches them by derived key.
// Params: none; build with NewMetricTemplate.
// Returns: template shared by all scanners that reference it.
type MetricTemplate struct {
	id   atomic.Int32
	spec TemplateSpec

	mu      sync.Mutex
	metrics map[string]*Metric
	order   []*Metric
}

// NewMetricTemplate validates a spec and builds a template with ID 0.
// Params: spec template declaration.
// Returns: template or validation error.
func NewMetricTemplate(spec TemplateSpec) (*MetricTemplate, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return nil, fmt.Errorf("template name is required")
	}
	if spec.Kind < KindRaw || spec.Kind > KindWindowedRate {
		return nil, fmt.Errorf("template %q: %w: %s", spec.Name, ErrUnknownKind, spec.Kind)
	}
	if spec.Multiplier == 0 {
		spec.Multiplier = 1
	}
	if math.IsNaN(spec.Multiplier) || math.IsInf(spec.Multiplier, 0) {
		return nil, fmt.Errorf("template %q: multiplier must be finite", spec.Name)
	}
	if spec.RateUnit == 0 {
		spec.RateUnit = DefaultRateUnit
	}
	if spec.RateUnit < time.Millisecond {
		return nil, fmt.Errorf("template %q: rate unit must be at least 1ms", spec.Name)
	}
	if spec.Window == 0 {
		spec.Window = DefaultWindow
	}
	if spec.Kind == KindWindowedRate && spec.Window < 2 {
		return nil, fmt.Errorf("template %q: window must be at least 2", spec.Name)
	}

	seen := make(map[string]struct{}, len(spec.Dynamic))
	dynamic := make([]string, 0, len(spec.Dynamic))
	for _, attr := range spec.Dynamic {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			return nil, fmt.Errorf("template %q: empty dynamic attribute", spec.Name)
		}
		if _, dup := seen[attr]; dup {
			return nil, fmt.Errorf("template %q: duplicate dynamic attribute %q", spec.Name, attr)
		}
		seen[attr] = struct{}{}
		dynamic = append(dynamic, attr)
	}
	spec.Dynamic = dynamic

	return &MetricTemplate{
		spec:    spec,
		metrics: make(map[string]*Metric),
	}, nil
}

// ID returns the template ID, 0 until the first metric is created.
func (t *MetricTemplate) ID() int32 {
	return t.id.Load()
}

// Name returns the template name.
func (t *MetricTemplate) Name() string {
	return t.spec.Name
}

// Kind returns the derivation kind.
func (t *MetricTemplate) Kind() Kind {
	return t.spec.Kind
}

// Spec returns a copy of the normalized template declaration.
func (t *MetricTemplate) Spec() TemplateSpec {
	spec := t.spec
	spec.Dynamic = append([]string(nil), t.spec.Dynamic...)
	return spec
}

// Dynamic returns dynamic attribute names in key order.
func (t *MetricTemplate) Dynamic() []string {
	return append([]string(nil), t.spec.Dynamic...)
}

// Key derives the metric key of one reading.
// Params: attrs reading dynamic attributes; missing names contribute empty values.
// Returns: the single value, or length-prefixed values in template order, empty when the
// template declares none.
func (t *MetricTemplate) Key(attrs map[string]string) string {
	switch len(t.spec.Dynamic) {
	case 0:
		return ""
	case 1:
		return attrs[t.spec.Dynamic[0]]
	}

	var builder strings.Builder
	for _, attr := range t.spec.Dynamic {
		value := attrs[attr]
		builder.WriteString(strconv.Itoa(len(value)))
		builder.WriteString(keySeparator)
		builder.WriteString(value)
	}
	return builder.String()
}

// Resolve looks up an existing metric by derived key.
// Params: key derived key.
// Returns: metric and true when cached.
func (t *MetricTemplate) Resolve(key string) (*Metric, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	metric, ok := t.metrics[key]
	return metric, ok
}

// ResolveOrCreate returns the cached metric for key or stores the one built by create.
// Lookup and insert happen under one lock, so concurrent callers get a single instance.
// Params: key derived key; create builds a new metric and is called at most once per key.
// Returns: metric and true when it was created by this call.
func (t *MetricTemplate) ResolveOrCreate(key string, create func() *Metric) (*Metric, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if metric, ok := t.metrics[key]; ok {
		return metric, false
	}
	metric := create()
	t.metrics[key] = metric
	t.order = append(t.order, metric)
	return metric, true
}

// Metrics returns the template's metrics in creation order.
func (t *MetricTemplate) Metrics() []*Metric {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Metric(nil), t.order...)
}

// Len returns the number of cached metrics.
func (t *MetricTemplate) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.metrics)
}
