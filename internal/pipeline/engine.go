package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc"

	"perfagent/internal/config"
	"perfagent/internal/logging"
	"perfagent/internal/perfmon"
	"perfagent/internal/source"
	"perfagent/internal/symbols"
)

// Engine owns the registries, sources, scanners and outputs of one agent runtime.
// Params: none; build with NewFromConfig.
// Returns: pipeline runtime engine.
type Engine struct {
	symbols  *symbols.Registry
	metrics  *perfmon.Registry
	sources  *source.Registry
	scanners []scheduledScanner
	output   *MultiOutput

	collector     *CollectorOutput
	stopCollector context.CancelFunc
	closers       []namedCloser
	logger        *slog.Logger
}

type scheduledScanner struct {
	scanner  *perfmon.Scanner
	interval time.Duration
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// NewFromConfig builds registries, sources, templates, scanners and outputs.
// Params: ctx lifecycle of background output workers; cfg validated config; logger root logger.
// Returns: engine ready to Run or build error; resources opened before the error are released.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine *Engine, err error) {
	engine = &Engine{
		symbols: symbols.NewRegistry(),
		metrics: perfmon.NewRegistry(),
		sources: source.NewRegistry(),
		logger:  logger,
	}
	defer func() {
		if err != nil {
			engine.closeResources()
			engine = nil
		}
	}()

	if err := engine.buildSources(cfg.Source); err != nil {
		return engine, err
	}

	templates, err := buildTemplates(cfg.Template)
	if err != nil {
		return engine, err
	}

	if err := engine.buildOutputs(ctx, cfg); err != nil {
		return engine, err
	}

	for idx, scannerCfg := range cfg.Scanner {
		scheduled, err := engine.buildScanner(scannerCfg, templates)
		if err != nil {
			return engine, fmt.Errorf("build scanner[%d] %q: %w", idx, scannerCfg.Name, err)
		}
		engine.scanners = append(engine.scanners, scheduled)
	}

	return engine, nil
}

// buildSources registers configured sources and binds agent sources to the engine.
func (e *Engine) buildSources(configs []config.SourceConfig) error {
	for idx, sourceCfg := range configs {
		src, err := e.newSource(sourceCfg)
		if err != nil {
			return fmt.Errorf("build source[%d]: %w", idx, err)
		}
		if closer, ok := src.(io.Closer); ok {
			e.closers = append(e.closers, namedCloser{name: "source " + sourceCfg.Name, closer: closer})
		}
		if err := e.sources.Register(src); err != nil {
			return err
		}
	}
	return nil
}

// newSource creates one source for its configured type.
func (e *Engine) newSource(cfg config.SourceConfig) (source.Source, error) {
	switch cfg.Type {
	case config.SourceHost:
		return source.NewHostSource(cfg.Name), nil
	case config.SourceHTTP:
		return source.NewHTTPSource(cfg.Name, source.HTTPSourceOptions{
			URL:     cfg.URL,
			Timeout: cfg.Timeout.Duration,
			Format:  cfg.Format,
			Domain:  cfg.Domain,
		})
	case config.SourceScript:
		return source.NewScriptSource(cfg.Name, source.ScriptSourceOptions{
			Path:    cfg.Path,
			Timeout: cfg.Timeout.Duration,
			Env:     cfg.Env,
			Format:  cfg.Format,
			Domain:  cfg.Domain,
		})
	case config.SourceRedis:
		return source.NewRedisSource(cfg.Name, source.RedisSourceOptions{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			Timeout:  cfg.Timeout.Duration,
			Domain:   cfg.Domain,
		})
	case config.SourceAgent:
		return source.NewAgentSource(cfg.Name, e), nil
	default:
		return nil, fmt.Errorf("source %q: unsupported type %q", cfg.Name, cfg.Type)
	}
}

// buildTemplates creates templates shared by every scanner that references them.
// Params: configs template sections.
// Returns: templates by name or the first validation error.
func buildTemplates(configs []config.TemplateConfig) (map[string]*perfmon.MetricTemplate, error) {
	templates := make(map[string]*perfmon.MetricTemplate, len(configs))
	for idx, templateCfg := range configs {
		kind, err := perfmon.ParseKind(templateCfg.Kind)
		if err != nil {
			return nil, fmt.Errorf("build template[%d]: %w", idx, err)
		}
		template, err := perfmon.NewMetricTemplate(perfmon.TemplateSpec{
			Name:        templateCfg.Name,
			Kind:        kind,
			Title:       templateCfg.Title,
			Description: templateCfg.Description,
			Unit:        templateCfg.Unit,
			Dynamic:     templateCfg.Dynamic,
			Multiplier:  templateCfg.Multiplier,
			RateUnit:    templateCfg.RateUnit.Duration,
			Window:      templateCfg.Window,
		})
		if err != nil {
			return nil, fmt.Errorf("build template[%d]: %w", idx, err)
		}
		templates[template.Name()] = template
	}
	return templates, nil
}

// buildOutputs assembles enabled outputs behind one MultiOutput.
func (e *Engine) buildOutputs(ctx context.Context, cfg *config.Config) error {
	identity := Identity{Agent: cfg.Global.Agent, Host: cfg.Global.Host}
	var outputs []perfmon.Output

	if cfg.Output.Log.Enabled {
		outputs = append(outputs, NewLogOutput(e.logger.With(slog.String("output", "log"))))
	}

	if len(cfg.Output.Collector) > 0 {
		collectorCtx, cancel := context.WithCancel(ctx)
		collector, err := NewCollectorOutput(collectorCtx, cfg.Output.Collector, e.logger, NewGRPCSender(identity))
		if err != nil {
			cancel()
			return fmt.Errorf("init collector output: %w", err)
		}
		e.collector = collector
		e.stopCollector = cancel
		outputs = append(outputs, collector)
	}

	if cfg.Output.AMQP.Enabled {
		amqpOutput := NewAMQPOutput(cfg.Output.AMQP, identity, e.logger)
		e.closers = append(e.closers, namedCloser{name: "amqp output", closer: amqpOutput})
		outputs = append(outputs, amqpOutput)
	}

	if cfg.Output.Parquet.Enabled {
		parquetOutput, err := NewParquetOutput(cfg.Output.Parquet, identity, e.symbols, e.metrics, e.logger)
		if err != nil {
			return fmt.Errorf("init parquet output: %w", err)
		}
		e.closers = append(e.closers, namedCloser{name: "parquet output", closer: parquetOutput})
		outputs = append(outputs, parquetOutput)
	}

	e.output = NewMultiOutput(outputs...)
	if e.output.Len() == 0 {
		return fmt.Errorf("no outputs enabled")
	}
	return nil
}

// buildScanner binds one scanner's queries to sources and templates.
// Params: cfg scanner section; templates by name.
// Returns: scanner with its cycle interval.
func (e *Engine) buildScanner(cfg config.ScannerConfig, templates map[string]*perfmon.MetricTemplate) (scheduledScanner, error) {
	listers := make([]perfmon.QueryLister, 0, len(cfg.Query))
	for idx, queryCfg := range cfg.Query {
		var template *perfmon.MetricTemplate
		if queryCfg.Template != "" {
			found, ok := templates[queryCfg.Template]
			if !ok {
				return scheduledScanner{}, fmt.Errorf("query[%d]: unknown template %q", idx, queryCfg.Template)
			}
			template = found
		}

		var src source.Source
		if found, ok := e.sources.Get(queryCfg.Source); ok {
			src = found
		}

		lister, err := perfmon.NewQueryLister(perfmon.QueryDef{
			Source:   queryCfg.Source,
			Object:   queryCfg.Object,
			Attrs:    queryCfg.Attrs,
			Dynamic:  queryCfg.Dynamic,
			Template: queryCfg.Template,
		}, src, template)
		if err != nil {
			return scheduledScanner{}, fmt.Errorf("query[%d]: %w", idx, err)
		}
		listers = append(listers, lister)
	}

	scanner, err := perfmon.NewScanner(perfmon.ScannerConfig{
		Name:    cfg.Name,
		Symbols: e.symbols,
		Metrics: e.metrics,
		Listers: listers,
		Output:  e.output,
		Logger:  e.logger,
	})
	if err != nil {
		return scheduledScanner{}, err
	}
	return scheduledScanner{scanner: scanner, interval: cfg.Interval.Duration}, nil
}

// Run starts one worker per scanner and waits for context cancellation.
// Params: ctx lifecycle context.
// Returns: nil on graceful stop.
func (e *Engine) Run(ctx context.Context) error {
	if len(e.scanners) == 0 {
		e.logger.Warn("no scanners configured")
		<-ctx.Done()
		e.closeResources()
		return nil
	}

	var wg conc.WaitGroup
	for _, scheduled := range e.scanners {
		wg.Go(func() {
			e.runScanner(ctx, scheduled)
		})
	}

	<-ctx.Done()
	wg.Wait()
	e.closeResources()
	return nil
}

// runScanner runs a warm-up cycle, then one cycle per interval tick.
func (e *Engine) runScanner(ctx context.Context, scheduled scheduledScanner) {
	started := time.Now()
	scheduled.scanner.Run(ctx)
	e.logger.Info(
		"scanner started",
		slog.String("scanner", scheduled.scanner.Name()),
		slog.Duration("interval", scheduled.interval),
		logging.Since(started),
	)

	ticker := time.NewTicker(scheduled.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scheduled.scanner.Run(ctx)
		}
	}
}

// closeResources closes outputs and sources, then stops collector workers and waits for their drain.
func (e *Engine) closeResources() {
	for _, item := range e.closers {
		if err := item.closer.Close(); err != nil {
			e.logger.Error("close failed", slog.String("component", item.name), slog.String("error", err.Error()))
		}
	}
	e.closers = nil

	if e.collector != nil {
		e.stopCollector()
		<-e.collector.Done()
		e.collector = nil
	}
}

// Symbols returns the shared symbol registry.
func (e *Engine) Symbols() *symbols.Registry {
	return e.symbols
}

// Metrics returns the shared metric registry.
func (e *Engine) Metrics() *perfmon.Registry {
	return e.metrics
}

// ScannerStats returns counters of every scanner keyed by name.
func (e *Engine) ScannerStats() map[string]perfmon.ScannerStats {
	out := make(map[string]perfmon.ScannerStats, len(e.scanners))
	for _, scheduled := range e.scanners {
		out[scheduled.scanner.Name()] = scheduled.scanner.Stats()
	}
	return out
}

// RegistryAttrs reports registry sizes for the agent source.
func (e *Engine) RegistryAttrs() map[string]any {
	templates, metrics := e.metrics.Counts()
	return map[string]any{
		"symbols":   int64(e.symbols.Len()),
		"templates": int64(templates),
		"metrics":   int64(metrics),
		"sources":   int64(len(e.sources.Names())),
		"scanners":  int64(len(e.scanners)),
	}
}

// ScannerAttrs reports scanner counters for the agent source.
func (e *Engine) ScannerAttrs() map[string]map[string]any {
	stats := e.ScannerStats()
	out := make(map[string]map[string]any, len(stats))
	for name, stat := range stats {
		out[name] = map[string]any{
			"cycles":        int64(stat.Cycles),
			"records":       int64(stat.Records),
			"samples":       int64(stat.Samples),
			"non_numeric":   int64(stat.NonNumeric),
			"failures":      int64(stat.Failures),
			"last_cycle_ms": stat.LastCycle,
		}
	}
	return out
}

var _ source.AgentState = (*Engine)(nil)
