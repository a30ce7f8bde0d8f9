package config

import (
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
)

const (
	defaultAgentName        = "perfagent"
	defaultLogLevel         = "info"
	defaultLogFormat        = "line"
	defaultDebugListen      = "127.0.0.1:6060"
	defaultSourceTimeout    = 5 * time.Second
	defaultSourceFormat     = "json"
	defaultScanInterval     = 10 * time.Second
	defaultCollectorTO      = 5 * time.Second
	defaultCollectorRetry   = 3 * time.Second
	defaultCollectorBatchN  = 1000
	defaultCollectorBatchA  = 5 * time.Second
	defaultAMQPTimeout      = 5 * time.Second
	defaultAMQPRoutingKey   = "perfagent.records"
	defaultParquetFlushRows = 1024
	configGlob              = "**/*.toml"
)

// Source types accepted by [[source]].type.
const (
	SourceHost   = "host"
	SourceHTTP   = "http"
	SourceScript = "script"
	SourceRedis  = "redis"
	SourceAgent  = "agent"
)

// Duration wraps time.Duration for TOML parsing.
// Params: text duration string (e.g. "5s", "1m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses TOML duration values.
// Params: text is raw duration bytes from TOML.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// Config represents the root agent configuration.
// Params: TOML document sections.
// Returns: validated runtime configuration.
type Config struct {
	Global   GlobalConfig     `toml:"global"`
	Log      LogConfig        `toml:"log"`
	Debug    DebugConfig      `toml:"debug"`
	Source   []SourceConfig   `toml:"source"`
	Template []TemplateConfig `toml:"template"`
	Scanner  []ScannerConfig  `toml:"scanner"`
	Output   OutputConfig     `toml:"output"`
}

// GlobalConfig identifies this agent instance.
// Params: agent name and host name.
// Returns: identity attached to emitted batches.
type GlobalConfig struct {
	Agent string `toml:"agent"`
	Host  string `toml:"host"`
}

// LogConfig contains console/file logging configuration.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options from TOML.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// DebugConfig defines the optional pprof and registry introspection endpoint.
// Params: enabled flag and listen address in host:port format.
// Returns: debug server settings.
type DebugConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// SourceConfig declares one attribute source.
// Params: name and type plus the fields used by that type.
// Returns: one source definition.
type SourceConfig struct {
	Name     string            `toml:"name"`
	Type     string            `toml:"type"`
	URL      string            `toml:"url"`
	Format   string            `toml:"format"`
	Timeout  Duration          `toml:"timeout"`
	Path     string            `toml:"path"`
	Env      map[string]string `toml:"env"`
	Addr     string            `toml:"addr"`
	Password string            `toml:"password"`
	DB       int               `toml:"db"`
	Domain   string            `toml:"domain"`
}

// TemplateConfig declares one metric template.
// Params: name, kind and derivation options.
// Returns: one template definition.
type TemplateConfig struct {
	Name        string   `toml:"name"`
	Kind        string   `toml:"kind"`
	Title       string   `toml:"title"`
	Description string   `toml:"description"`
	Unit        string   `toml:"unit"`
	Dynamic     []string `toml:"dynamic"`
	Multiplier  float64  `toml:"multiplier"`
	RateUnit    Duration `toml:"rate_unit"`
	Window      int      `toml:"window"`
}

// ScannerConfig declares one scanner and its queries.
// Params: name, cycle interval and ordered queries.
// Returns: one scanner definition.
type ScannerConfig struct {
	Name     string        `toml:"name"`
	Interval Duration      `toml:"interval"`
	Query    []QueryConfig `toml:"query"`
}

// QueryConfig declares one query of a scanner.
// Params: source name, object pattern, attribute selectors, dynamic attrs, template name.
// Returns: one query definition; an empty template disables it.
type QueryConfig struct {
	Source   string   `toml:"source"`
	Object   string   `toml:"object"`
	Attrs    []string `toml:"attrs"`
	Dynamic  []string `toml:"dynamic"`
	Template string   `toml:"template"`
}

// OutputConfig groups record outputs.
// Params: output sections from TOML.
// Returns: output settings.
type OutputConfig struct {
	Log       LogOutputConfig   `toml:"log"`
	Collector []CollectorConfig `toml:"collector"`
	AMQP      AMQPConfig        `toml:"amqp"`
	Parquet   ParquetConfig     `toml:"parquet"`
}

// LogOutputConfig enables logging every record at debug level.
type LogOutputConfig struct {
	Enabled bool `toml:"enabled"`
}

// CollectorConfig defines collector target and delivery behavior.
// Params: collector endpoints, retry/batch/queue settings.
// Returns: one collector runtime config.
type CollectorConfig struct {
	Name          string               `toml:"name"`
	Addr          []string             `toml:"addr"`
	Timeout       Duration             `toml:"timeout"`
	RetryInterval Duration             `toml:"retry_interval"`
	Queue         CollectorQueueConfig `toml:"queue"`
	Batch         CollectorBatchConfig `toml:"batch"`
}

// CollectorQueueConfig defines disk queue limits.
// Params: queue controls from TOML.
// Returns: per-collector queue settings.
type CollectorQueueConfig struct {
	Enabled    bool     `toml:"enabled"`
	Dir        string   `toml:"dir"`
	MaxRecords uint64   `toml:"max_records"`
	MaxAge     Duration `toml:"max_age"`
}

// CollectorBatchConfig defines in-memory batch limits.
// Params: batch controls from TOML; max_samples counts samples across buffered records.
// Returns: per-collector batch settings.
type CollectorBatchConfig struct {
	MaxSamples uint64   `toml:"max_samples"`
	MaxAge     Duration `toml:"max_age"`
}

// AMQPConfig defines the AMQP publisher output.
// Params: broker URL, exchange, routing key and publish timeout.
// Returns: AMQP output settings.
type AMQPConfig struct {
	Enabled    bool     `toml:"enabled"`
	URL        string   `toml:"url"`
	Exchange   string   `toml:"exchange"`
	RoutingKey string   `toml:"routing_key"`
	Timeout    Duration `toml:"timeout"`
}

// ParquetConfig defines the parquet file output.
// Params: target directory and rows buffered between flushes.
// Returns: parquet output settings.
type ParquetConfig struct {
	Enabled   bool   `toml:"enabled"`
	Dir       string `toml:"dir"`
	FlushRows int    `toml:"flush_rows"`
}

// Load reads, expands, validates, and returns config from path.
// Params: path to TOML config file or directory with *.toml files.
// Returns: validated config pointer or error.
func Load(path string) (*Config, error) {
	raw, err := readConfigSource(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("decode TOML %q: %w", path, err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Files lists the config files Load reads for path.
// Params: path to TOML config file or directory.
// Returns: file paths in load order.
func Files(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config %q: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	matches, err := doublestar.Glob(os.DirFS(path), configGlob, doublestar.WithFilesOnly(), doublestar.WithCaseInsensitive())
	if err != nil {
		return nil, fmt.Errorf("glob config dir %q: %w", path, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("read config dir %q: no *.toml files", path)
	}

	sort.Strings(matches)
	files := make([]string, 0, len(matches))
	for _, match := range matches {
		files = append(files, filepath.Join(path, filepath.FromSlash(match)))
	}
	return files, nil
}

// readConfigSource reads one TOML file or concatenates *.toml files found under a directory.
// Params: path to config file or directory.
// Returns: raw TOML bytes or error.
func readConfigSource(path string) ([]byte, error) {
	files, err := Files(path)
	if err != nil {
		return nil, err
	}

	var builder strings.Builder
	for _, filePath := range files {
		raw, readErr := os.ReadFile(filePath)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", filePath, readErr)
		}
		builder.Write(raw)
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			builder.WriteByte('\n')
		}
		builder.WriteByte('\n')
	}

	return []byte(builder.String()), nil
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer.
// Returns: error if defaulting needs host lookup and it fails.
func (c *Config) applyDefaults() error {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}

	if strings.TrimSpace(c.Global.Agent) == "" {
		c.Global.Agent = defaultAgentName
	}
	if strings.TrimSpace(c.Global.Host) == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolve hostname: %w", err)
		}
		c.Global.Host = host
	}

	if c.Debug.Enabled && strings.TrimSpace(c.Debug.Listen) == "" {
		c.Debug.Listen = defaultDebugListen
	}

	for idx := range c.Source {
		src := &c.Source[idx]
		src.Type = strings.ToLower(strings.TrimSpace(src.Type))
		if src.Timeout.Duration == 0 {
			src.Timeout.Duration = defaultSourceTimeout
		}
		if src.Type == SourceHTTP || src.Type == SourceScript {
			src.Format = lowerOrDefault(src.Format, defaultSourceFormat)
		}
	}

	for idx := range c.Template {
		tpl := &c.Template[idx]
		tpl.Kind = strings.ToLower(strings.TrimSpace(tpl.Kind))
		if tpl.Multiplier == 0 {
			tpl.Multiplier = 1
		}
	}

	for idx := range c.Scanner {
		if c.Scanner[idx].Interval.Duration == 0 {
			c.Scanner[idx].Interval.Duration = defaultScanInterval
		}
	}

	for idx := range c.Output.Collector {
		collector := &c.Output.Collector[idx]
		if strings.TrimSpace(collector.Name) == "" {
			collector.Name = fmt.Sprintf("collector-%d", idx)
		}
		if collector.Timeout.Duration <= 0 {
			collector.Timeout.Duration = defaultCollectorTO
		}
		if collector.RetryInterval.Duration <= 0 {
			collector.RetryInterval.Duration = defaultCollectorRetry
		}
		if collector.Batch.MaxSamples == 0 {
			collector.Batch.MaxSamples = defaultCollectorBatchN
		}
		if collector.Batch.MaxAge.Duration <= 0 {
			collector.Batch.MaxAge.Duration = defaultCollectorBatchA
		}
	}

	if c.Output.AMQP.Timeout.Duration <= 0 {
		c.Output.AMQP.Timeout.Duration = defaultAMQPTimeout
	}
	if strings.TrimSpace(c.Output.AMQP.RoutingKey) == "" {
		c.Output.AMQP.RoutingKey = defaultAMQPRoutingKey
	}
	if c.Output.Parquet.FlushRows <= 0 {
		c.Output.Parquet.FlushRows = defaultParquetFlushRows
	}

	return nil
}

// validate checks config consistency and required fields.
// Params: receiver config pointer.
// Returns: validation error for invalid or incomplete config.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Global.Host) == "" {
		return fmt.Errorf("global.host resolved to empty value")
	}

	if err := validateSink("log.console", c.Log.Console, false); err != nil {
		return err
	}
	if err := validateSink("log.file", c.Log.File, true); err != nil {
		return err
	}
	if err := validateDebugConfig("debug", c.Debug); err != nil {
		return err
	}

	sources, err := validateSources("source", c.Source)
	if err != nil {
		return err
	}
	templates, err := validateTemplates("template", c.Template)
	if err != nil {
		return err
	}
	if err := validateScanners("scanner", c.Scanner, sources, templates); err != nil {
		return err
	}

	return validateOutputs("output", c.Output)
}

// validateSources checks source definitions and indexes them by name.
// Params: path config path prefix; sources declared sources.
// Returns: name set or validation error.
func validateSources(path string, sources []SourceConfig) (map[string]struct{}, error) {
	names := make(map[string]struct{}, len(sources))
	for idx, src := range sources {
		srcPath := fmt.Sprintf("%s[%d]", path, idx)
		name := strings.TrimSpace(src.Name)
		if name == "" {
			return nil, fmt.Errorf("%s.name is required", srcPath)
		}
		if _, dup := names[name]; dup {
			return nil, fmt.Errorf("%s.name %q is duplicated", srcPath, name)
		}
		names[name] = struct{}{}

		if src.Timeout.Duration < 0 {
			return nil, fmt.Errorf("%s.timeout cannot be negative", srcPath)
		}

		switch src.Type {
		case SourceHost, SourceAgent:
		case SourceHTTP:
			if strings.TrimSpace(src.URL) == "" {
				return nil, fmt.Errorf("%s.url is required", srcPath)
			}
			if err := validateSourceFormat(srcPath, src.Format); err != nil {
				return nil, err
			}
		case SourceScript:
			if strings.TrimSpace(src.Path) == "" {
				return nil, fmt.Errorf("%s.path is required", srcPath)
			}
			if err := validateSourceFormat(srcPath, src.Format); err != nil {
				return nil, err
			}
			for envKey := range src.Env {
				if strings.TrimSpace(envKey) == "" {
					return nil, fmt.Errorf("%s.env contains empty key", srcPath)
				}
			}
		case SourceRedis:
			if strings.TrimSpace(src.Addr) == "" {
				return nil, fmt.Errorf("%s.addr is required", srcPath)
			}
			if src.DB < 0 {
				return nil, fmt.Errorf("%s.db cannot be negative", srcPath)
			}
		default:
			return nil, fmt.Errorf("%s.type must be one of: host, http, script, redis, agent", srcPath)
		}
	}
	return names, nil
}

// validateSourceFormat validates shared json/prometheus payload formats.
// Params: path source path for errors; format normalized format.
// Returns: validation error when format is unsupported.
func validateSourceFormat(path string, format string) error {
	switch format {
	case "json", "prometheus":
		return nil
	default:
		return fmt.Errorf("%s.format must be one of: json, prometheus", path)
	}
}

// validateTemplates checks template definitions and indexes their dynamic attributes by name.
// Params: path config path prefix; templates declared templates.
// Returns: name -> dynamic attributes or validation error.
func validateTemplates(path string, templates []TemplateConfig) (map[string][]string, error) {
	byName := make(map[string][]string, len(templates))
	for idx, tpl := range templates {
		tplPath := fmt.Sprintf("%s[%d]", path, idx)
		name := strings.TrimSpace(tpl.Name)
		if name == "" {
			return nil, fmt.Errorf("%s.name is required", tplPath)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("%s.name %q is duplicated", tplPath, name)
		}

		switch tpl.Kind {
		case "raw", "delta", "rate":
		case "windowed_rate":
			if tpl.Window != 0 && tpl.Window < 2 {
				return nil, fmt.Errorf("%s.window must be >= 2", tplPath)
			}
		default:
			return nil, fmt.Errorf("%s.kind must be one of: raw, delta, rate, windowed_rate", tplPath)
		}

		if math.IsNaN(tpl.Multiplier) || math.IsInf(tpl.Multiplier, 0) {
			return nil, fmt.Errorf("%s.multiplier must be finite", tplPath)
		}
		if tpl.RateUnit.Duration < 0 {
			return nil, fmt.Errorf("%s.rate_unit cannot be negative", tplPath)
		}
		if tpl.Window < 0 {
			return nil, fmt.Errorf("%s.window cannot be negative", tplPath)
		}
		if err := validateAttrNames(tplPath+".dynamic", tpl.Dynamic); err != nil {
			return nil, err
		}
		byName[name] = tpl.Dynamic
	}
	return byName, nil
}

// validateScanners checks scanner definitions and their query references.
// Params: path config path prefix; scanners declared scanners; sources/templates known names.
// Returns: validation error or nil.
func validateScanners(
	path string,
	scanners []ScannerConfig,
	sources map[string]struct{},
	templates map[string][]string,
) error {
	if len(scanners) == 0 {
		return fmt.Errorf("at least one [[%s]] section is required", path)
	}

	names := make(map[string]struct{}, len(scanners))
	for idx, scanner := range scanners {
		scannerPath := fmt.Sprintf("%s[%d]", path, idx)
		name := strings.TrimSpace(scanner.Name)
		if name == "" {
			return fmt.Errorf("%s.name is required", scannerPath)
		}
		if _, dup := names[name]; dup {
			return fmt.Errorf("%s.name %q is duplicated", scannerPath, name)
		}
		names[name] = struct{}{}

		if scanner.Interval.Duration <= 0 {
			return fmt.Errorf("%s.interval must be > 0", scannerPath)
		}

		for queryIdx, query := range scanner.Query {
			queryPath := fmt.Sprintf("%s.query[%d]", scannerPath, queryIdx)
			if err := validateQuery(queryPath, query, sources, templates); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateQuery checks one query's references and attribute names.
// Params: path query path; query definition; sources/templates known names.
// Returns: validation error or nil.
func validateQuery(path string, query QueryConfig, sources map[string]struct{}, templates map[string][]string) error {
	if strings.TrimSpace(query.Object) == "" {
		return fmt.Errorf("%s.object is required", path)
	}
	if err := validateAttrNames(path+".dynamic", query.Dynamic); err != nil {
		return err
	}
	for attrIdx, attr := range query.Attrs {
		if strings.TrimSpace(attr) == "" {
			return fmt.Errorf("%s.attrs[%d] cannot be empty", path, attrIdx)
		}
	}

	template := strings.TrimSpace(query.Template)
	if template == "" {
		return nil
	}

	if _, ok := sources[strings.TrimSpace(query.Source)]; !ok {
		return fmt.Errorf("%s.source %q is not declared", path, query.Source)
	}
	dynamic, ok := templates[template]
	if !ok {
		return fmt.Errorf("%s.template %q is not declared", path, query.Template)
	}

	provided := make(map[string]struct{}, len(query.Dynamic))
	for _, attr := range query.Dynamic {
		provided[attr] = struct{}{}
	}
	for _, attr := range dynamic {
		if _, ok := provided[attr]; !ok {
			return fmt.Errorf("%s.dynamic must include %q required by template %q", path, attr, template)
		}
	}
	return nil
}

// validateAttrNames checks a list of dynamic attribute names.
// Params: path list path; names attribute names.
// Returns: error on empty or duplicated entries.
func validateAttrNames(path string, names []string) error {
	seen := make(map[string]struct{}, len(names))
	for idx, name := range names {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%s[%d] cannot be empty", path, idx)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%s[%d] %q is duplicated", path, idx, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// validateOutputs checks output sections and requires at least one enabled output.
// Params: path config path prefix; out output sections.
// Returns: validation error or nil.
func validateOutputs(path string, out OutputConfig) error {
	enabled := out.Log.Enabled || len(out.Collector) > 0 || out.AMQP.Enabled || out.Parquet.Enabled
	if !enabled {
		return fmt.Errorf("%s: at least one output must be enabled", path)
	}

	names := make(map[string]struct{}, len(out.Collector))
	for idx, collector := range out.Collector {
		collectorPath := fmt.Sprintf("%s.collector[%d]", path, idx)
		if _, dup := names[collector.Name]; dup {
			return fmt.Errorf("%s.name %q is duplicated", collectorPath, collector.Name)
		}
		names[collector.Name] = struct{}{}

		if len(collector.Addr) == 0 {
			return fmt.Errorf("%s.addr must contain at least one host:port", collectorPath)
		}
		for addrIdx, addr := range collector.Addr {
			if strings.TrimSpace(addr) == "" {
				return fmt.Errorf("%s.addr[%d] cannot be empty", collectorPath, addrIdx)
			}
		}
		if collector.Timeout.Duration <= 0 {
			return fmt.Errorf("%s.timeout must be > 0", collectorPath)
		}
		if collector.RetryInterval.Duration <= 0 {
			return fmt.Errorf("%s.retry_interval must be > 0", collectorPath)
		}
		if collector.Queue.Enabled {
			if strings.TrimSpace(collector.Queue.Dir) == "" {
				return fmt.Errorf("%s.queue.dir is required when queue is enabled", collectorPath)
			}
			if collector.Queue.MaxRecords == 0 && collector.Queue.MaxAge.Duration <= 0 {
				return fmt.Errorf("%s.queue requires max_records > 0 or max_age > 0", collectorPath)
			}
		}
	}

	if out.AMQP.Enabled {
		if strings.TrimSpace(out.AMQP.URL) == "" {
			return fmt.Errorf("%s.amqp.url is required when enabled", path)
		}
		if !strings.HasPrefix(out.AMQP.URL, "amqp://") && !strings.HasPrefix(out.AMQP.URL, "amqps://") {
			return fmt.Errorf("%s.amqp.url must use amqp:// or amqps://", path)
		}
	}
	if out.Parquet.Enabled && strings.TrimSpace(out.Parquet.Dir) == "" {
		return fmt.Errorf("%s.parquet.dir is required when enabled", path)
	}
	return nil
}

// validateSink validates one logging sink configuration.
// Params: name is sink path for errors; sink is sink config; requirePath means path required when enabled.
// Returns: validation error or nil.
func validateSink(name string, sink LogSinkConfig, requirePath bool) error {
	if sink.Enabled && requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when sink is enabled", name)
	}

	if err := validateLogLevel(sink.Level); err != nil {
		return fmt.Errorf("%s.level: %w", name, err)
	}
	if err := validateLogFormat(sink.Format); err != nil {
		return fmt.Errorf("%s.format: %w", name, err)
	}

	return nil
}

// validateLogLevel validates known log levels.
// Params: level is lower-case level name.
// Returns: error when level is unsupported.
func validateLogLevel(level string) error {
	switch strings.TrimSpace(strings.ToLower(level)) {
	case "info", "warn", "error", "debug":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", level)
	}
}

// validateLogFormat validates supported sink formats.
// Params: format is lower-case format name.
// Returns: error when format is unsupported.
func validateLogFormat(format string) error {
	switch strings.TrimSpace(strings.ToLower(format)) {
	case "line", "json":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", format)
	}
}

// validateDebugConfig validates optional debug endpoint settings.
// Params: path is config path prefix; cfg debug section.
// Returns: validation error for invalid listen endpoint.
func validateDebugConfig(path string, cfg DebugConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("%s.listen must be host:port: %w", path, err)
	}
	return nil
}

// lowerOrDefault returns a trimmed lower-case value or default fallback.
// Params: value to normalize; fallback value when empty.
// Returns: normalized value.
func lowerOrDefault(value, fallback string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return fallback
	}
	return normalized
}
