package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"perfagent/internal/config"
)

const minimalScanner = `
[[source]]
name = "host"
type = "host"

[[template]]
name = "mem_used"
kind = "raw"

[[scanner]]
name = "host"

[[scanner.query]]
source = "host"
object = "host:type=Memory"
attrs = ["used"]
template = "mem_used"

[output.log]
enabled = true
`

// TestLoad_ExpandsEnvAndAppliesDefaults verifies env expansion and defaulting.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "127.0.0.1:6379")

	path := writeConfig(t, `
[global]
host = ""

[[source]]
name = "cache"
type = "REDIS"
addr = "${TEST_REDIS_ADDR}"

[[source]]
name = "app"
type = "http"
url = "http://127.0.0.1:9100/metrics"

[[template]]
name = "ops"
kind = "Rate"
dynamic = ["section"]

[[scanner]]
name = "cache"

[[scanner.query]]
source = "cache"
object = "redis:section=stats"
dynamic = ["section"]
template = "ops"

[[output.collector]]
addr = ["127.0.0.1:6000"]
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Global.Agent != "perfagent" {
		t.Fatalf("unexpected agent default: %q", cfg.Global.Agent)
	}
	if cfg.Global.Host == "" {
		t.Fatalf("expected host default")
	}
	if !cfg.Log.Console.Enabled || cfg.Log.Console.Format != "line" || cfg.Log.Console.Level != "info" {
		t.Fatalf("unexpected console defaults: %#v", cfg.Log.Console)
	}
	if got := cfg.Source[0]; got.Addr != "127.0.0.1:6379" || got.Type != "redis" || got.Timeout.Duration != 5*time.Second {
		t.Fatalf("unexpected redis source: %#v", got)
	}
	if got := cfg.Source[1].Format; got != "json" {
		t.Fatalf("unexpected http format default: %q", got)
	}
	if got := cfg.Template[0]; got.Kind != "rate" || got.Multiplier != 1 {
		t.Fatalf("unexpected template defaults: %#v", got)
	}
	if got := cfg.Scanner[0].Interval.Duration; got != 10*time.Second {
		t.Fatalf("unexpected scanner interval default: %v", got)
	}
	collector := cfg.Output.Collector[0]
	if collector.Name != "collector-0" || collector.Timeout.Duration != 5*time.Second || collector.Batch.MaxSamples != 1000 {
		t.Fatalf("unexpected collector defaults: %#v", collector)
	}
}

// TestLoad_ConfigDirMergesTomlFiles verifies recursive config directory loading and file-order merge.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirMergesTomlFiles(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"00-base.toml": minimalScanner,
		"10-template-z.toml": `
[[template]]
name = "z"
kind = "delta"
`,
		"conf.d/05-template-a.toml": `
[[template]]
name = "a"
kind = "windowed_rate"
window = 4
`,
		"notes.md": "ignored",
	})

	files, err := config.Files(dir)
	if err != nil {
		t.Fatalf("list config files: %v", err)
	}
	if len(files) != 3 || !strings.HasSuffix(files[2], filepath.Join("conf.d", "05-template-a.toml")) {
		t.Fatalf("unexpected file order: %v", files)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load config dir: %v", err)
	}
	if len(cfg.Template) != 3 {
		t.Fatalf("unexpected template count: %d", len(cfg.Template))
	}
	if cfg.Template[1].Name != "z" || cfg.Template[2].Name != "a" || cfg.Template[2].Window != 4 {
		t.Fatalf("unexpected template order: %#v", cfg.Template)
	}
}

// TestLoad_ConfigDirRejectsWithoutToml verifies config dir validation on non-toml-only directories.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirRejectsWithoutToml(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not a config"), 0o644); err != nil {
		t.Fatalf("write non-toml file: %v", err)
	}

	_, err := config.Load(dir)
	if err == nil {
		t.Fatalf("expected error for config dir without *.toml")
	}
	if !strings.Contains(err.Error(), "no *.toml files") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoad_RejectsInvalidConfig verifies validation errors carry dotted field paths.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "no scanners",
			body: `
[output.log]
enabled = true
`,
			want: "[[scanner]]",
		},
		{
			name: "no outputs",
			body: strings.Replace(minimalScanner, "[output.log]\nenabled = true", "", 1),
			want: "at least one output",
		},
		{
			name: "unknown source type",
			body: minimalScanner + `
[[source]]
name = "jmx"
type = "jmx"
`,
			want: "source[1].type",
		},
		{
			name: "duplicate template",
			body: minimalScanner + `
[[template]]
name = "mem_used"
kind = "raw"
`,
			want: `template[1].name "mem_used" is duplicated`,
		},
		{
			name: "unknown kind",
			body: strings.Replace(minimalScanner, `kind = "raw"`, `kind = "average"`, 1),
			want: "template[0].kind",
		},
		{
			name: "small window",
			body: strings.Replace(minimalScanner, `kind = "raw"`, "kind = \"windowed_rate\"\nwindow = 1", 1),
			want: "template[0].window",
		},
		{
			name: "missing template reference",
			body: strings.Replace(minimalScanner, `template = "mem_used"`, `template = "nope"`, 1),
			want: "scanner[0].query[0].template",
		},
		{
			name: "missing source reference",
			body: strings.Replace(minimalScanner, `source = "host"`, `source = "nope"`, 1),
			want: "scanner[0].query[0].source",
		},
		{
			name: "template dynamic not provided",
			body: strings.Replace(minimalScanner, `kind = "raw"`, "kind = \"raw\"\ndynamic = [\"name\"]", 1),
			want: `scanner[0].query[0].dynamic must include "name"`,
		},
		{
			name: "http without url",
			body: minimalScanner + `
[[source]]
name = "web"
type = "http"
`,
			want: "source[1].url",
		},
		{
			name: "bad script format",
			body: minimalScanner + `
[[source]]
name = "s"
type = "script"
path = "/bin/true"
format = "xml"
`,
			want: "source[1].format",
		},
		{
			name: "collector without addr",
			body: minimalScanner + `
[[output.collector]]
name = "main"
`,
			want: "output.collector[0].addr",
		},
		{
			name: "queue without dir",
			body: minimalScanner + `
[[output.collector]]
addr = ["127.0.0.1:6000"]

[output.collector.queue]
enabled = true
max_records = 10
`,
			want: "output.collector[0].queue.dir",
		},
		{
			name: "amqp bad url",
			body: minimalScanner + `
[output.amqp]
enabled = true
url = "http://broker"
`,
			want: "output.amqp.url",
		},
		{
			name: "parquet without dir",
			body: minimalScanner + `
[output.parquet]
enabled = true
`,
			want: "output.parquet.dir",
		},
		{
			name: "file log without path",
			body: minimalScanner + `
[log.file]
enabled = true
`,
			want: "log.file.path",
		},
		{
			name: "bad debug listen",
			body: minimalScanner + `
[debug]
enabled = true
listen = "invalid"
`,
			want: "debug.listen",
		},
	}

	for _, tc := range cases {
		_, err := config.Load(writeConfig(t, tc.body))
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q does not mention %q", tc.name, err.Error(), tc.want)
		}
	}
}

// TestLoad_DisabledQueryNeedsNoReferences verifies queries without template skip reference checks.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_DisabledQueryNeedsNoReferences(t *testing.T) {
	body := minimalScanner + `
[[scanner.query]]
source = "unknown"
object = "jvm:type=Memory"
`
	cfg, err := config.Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.Scanner[0].Query) != 2 || cfg.Scanner[0].Query[1].Template != "" {
		t.Fatalf("unexpected queries: %#v", cfg.Scanner[0].Query)
	}
}

// TestLoad_InvalidDuration verifies duration parse errors are reported.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_InvalidDuration(t *testing.T) {
	body := strings.Replace(minimalScanner, "name = \"host\"\n\n[[scanner.query]]", "name = \"host\"\ninterval = \"often\"\n\n[[scanner.query]]", 1)
	_, err := config.Load(writeConfig(t, body))
	if err == nil || !strings.Contains(err.Error(), "often") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

// writeConfig creates a temp TOML config for tests.
// Params: t test handle; body TOML content.
// Returns: absolute path to temp config.
func writeConfig(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return path
}

// writeConfigDir creates a temp config directory populated with provided files.
// Params: t test handle; files map[relative path]body.
// Returns: absolute directory path.
func writeConfigDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("create config dir for %q: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config file %q: %v", name, err)
		}
	}

	return dir
}
