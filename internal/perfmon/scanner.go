package perfmon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"

	"perfagent/internal/symbols"
)

// PerfSample is one derived value of one metric.
// Params: MetricID registry ID; Value int64 or float64; Attrs symbol ID -> dynamic attribute value.
// Returns: sample inside a PerfRecord.
type PerfSample struct {
	MetricID int32            `json:"metric_id"`
	Value    Number           `json:"value"`
	Attrs    map[int32]string `json:"attrs,omitempty"`
}

// PerfRecord is the batch one scanner emits for one non-empty cycle.
// Params: Clock cycle time in ms since epoch; ScannerID interned scanner name; Samples in listing order.
// Returns: record handed to Output.
type PerfRecord struct {
	Clock     int64        `json:"clock"`
	ScannerID int32        `json:"scanner_id"`
	Samples   []PerfSample `json:"samples"`
}

// Output receives emitted records.
// Params: context for cancellation; one record.
// Returns: delivery error, not retried by the scanner.
type Output interface {
	Submit(ctx context.Context, record PerfRecord) error
}

// ScannerConfig wires one scanner.
// Params: Name interned into the scanner ID; Symbols and Metrics shared registries; Listers in
// cycle order; Output receives records; Logger defaults to slog.Default.
// Returns: scanner construction settings.
type ScannerConfig struct {
	Name    string
	Symbols *symbols.Registry
	Metrics *Registry
	Listers []QueryLister
	Output  Output
	Logger  *slog.Logger
}

// ScannerStats are cumulative cycle counters.
type ScannerStats struct {
	Cycles     uint64 `json:"cycles"`
	Records    uint64 `json:"records"`
	Samples    uint64 `json:"samples"`
	NonNumeric uint64 `json:"non_numeric"`
	Failures   uint64 `json:"failures"`
	LastCycle  int64  `json:"last_cycle_ms"`
}

// Scanner reads its listers, derives metrics and emits one record per non-empty cycle.
// Params: none; build with NewScanner.
// Returns: scanner whose cycles are triggered externally.
type Scanner struct {
	name    string
	id      int32
	symbols *symbols.Registry
	metrics *Registry
	listers []QueryLister
	output  Output
	logger  *slog.Logger
	now     func() time.Time

	cycles     atomic.Uint64
	records    atomic.Uint64
	samples    atomic.Uint64
	nonNumeric atomic.Uint64
	failures   atomic.Uint64
	lastCycle  atomic.Int64
}

// NewScanner validates wiring and interns the scanner name.
// Params: cfg scanner settings.
// Returns: scanner or construction error.
func NewScanner(cfg ScannerConfig) (*Scanner, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("scanner name is required")
	}
	if cfg.Symbols == nil {
		return nil, fmt.Errorf("scanner %q: symbol registry is required", name)
	}
	if cfg.Metrics == nil {
		return nil, fmt.Errorf("scanner %q: metric registry is required", name)
	}
	if cfg.Output == nil {
		return nil, fmt.Errorf("scanner %q: output is required", name)
	}
	for idx, lister := range cfg.Listers {
		if lister == nil {
			return nil, fmt.Errorf("scanner %q: lister %d is nil", name, idx)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scanner{
		name:    name,
		id:      cfg.Symbols.Intern(name),
		symbols: cfg.Symbols,
		metrics: cfg.Metrics,
		listers: append([]QueryLister(nil), cfg.Listers...),
		output:  cfg.Output,
		logger:  logger.With(slog.String("scanner", name)),
		now:     time.Now,
	}, nil
}

// Name returns the scanner name.
func (s *Scanner) Name() string {
	return s.name
}

// ID returns the interned scanner name.
func (s *Scanner) ID() int32 {
	return s.id
}

// RunCycle executes one scan cycle synchronously.
// Params: ctx passed to listers and output; clock cycle timestamp in ms since epoch.
// Returns: wrapped listing or submit error; nothing is emitted when listing fails.
func (s *Scanner) RunCycle(ctx context.Context, clock int64) error {
	s.cycles.Add(1)
	s.lastCycle.Store(clock)

	var samples []PerfSample
	for idx, lister := range s.listers {
		template := lister.Template()
		if template == nil {
			continue
		}

		results, err := lister.List(ctx)
		if err != nil {
			s.failures.Add(1)
			return fmt.Errorf("scanner %q lister %d (template %q): %w", s.name, idx, template.Name(), err)
		}

		for _, result := range results {
			raw, ok := ToNumber(result.Value)
			if !ok {
				s.nonNumeric.Add(1)
				s.logger.Debug("skip non-numeric reading",
					slog.String("template", template.Name()),
					slog.String("attr", result.Path),
					slog.String("type", fmt.Sprintf("%T", result.Value)),
				)
				continue
			}

			metric := s.resolveMetric(template, result.Attrs)
			value, ok := metric.Derive(clock, raw)
			if !ok {
				continue
			}
			samples = append(samples, PerfSample{
				MetricID: metric.ID(),
				Value:    value,
				Attrs:    metric.sampleAttrs(result.Attrs),
			})
		}
	}

	if len(samples) == 0 {
		return nil
	}

	record := PerfRecord{Clock: clock, ScannerID: s.id, Samples: samples}
	if err := s.output.Submit(ctx, record); err != nil {
		s.failures.Add(1)
		return fmt.Errorf("scanner %q submit: %w", s.name, err)
	}
	s.records.Add(1)
	s.samples.Add(uint64(len(samples)))
	return nil
}

// Run executes one cycle at the wall clock and contains errors and panics.
// Params: ctx passed to the cycle.
// Returns: none; failures are logged and counted.
func (s *Scanner) Run(ctx context.Context) {
	var err error
	var catcher panics.Catcher
	catcher.Try(func() {
		err = s.RunCycle(ctx, s.now().UnixMilli())
	})

	if recovered := catcher.Recovered(); recovered != nil {
		s.failures.Add(1)
		s.logger.Error("scan cycle panicked",
			slog.String("panic", fmt.Sprint(recovered.Value)),
			slog.String("stack", string(recovered.Stack)),
		)
		return
	}
	if err != nil {
		s.logger.Warn("scan cycle failed", slog.String("error", err.Error()))
	}
}

// Stats returns a snapshot of cycle counters.
func (s *Scanner) Stats() ScannerStats {
	return ScannerStats{
		Cycles:     s.cycles.Load(),
		Records:    s.records.Load(),
		Samples:    s.samples.Load(),
		NonNumeric: s.nonNumeric.Load(),
		Failures:   s.failures.Load(),
		LastCycle:  s.lastCycle.Load(),
	}
}

// resolveMetric returns the template's metric for a reading, creating and registering it once.
// Params: template owning template; attrs reading dynamic attributes.
// Returns: metric with IDs assigned.
func (s *Scanner) resolveMetric(template *MetricTemplate, attrs map[string]string) *Metric {
	key := template.Key(attrs)
	if metric, ok := template.Resolve(key); ok {
		return metric
	}

	metric, _ := template.ResolveOrCreate(key, func() *Metric {
		dynamic := template.spec.Dynamic
		var values map[string]string
		var ids map[string]int32
		if len(dynamic) > 0 {
			values = make(map[string]string, len(dynamic))
			ids = make(map[string]int32, len(dynamic))
			for _, name := range dynamic {
				values[name] = attrs[name]
				ids[name] = s.symbols.Intern(name)
			}
		}

		created := newMetric(template, key, values, ids)
		s.metrics.registerTemplate(template)
		s.metrics.registerMetric(created)
		return created
	})
	return metric
}
