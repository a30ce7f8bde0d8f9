package pipeline

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"perfagent/internal/config"
)

func selfMonitoringConfig() *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{Agent: "perfagent", Host: "db-1"},
		Source: []config.SourceConfig{
			{Name: "self", Type: config.SourceAgent},
		},
		Template: []config.TemplateConfig{
			{Name: "registry_size", Kind: "raw", Title: "registry ${attr}", Dynamic: []string{"attr"}},
			{Name: "unused", Kind: "delta"},
		},
		Scanner: []config.ScannerConfig{{
			Name:     "self",
			Interval: config.Duration{Duration: time.Hour},
			Query: []config.QueryConfig{
				{
					Source:   "self",
					Object:   "agent:type=Registry",
					Attrs:    []string{"scanners", "sources"},
					Dynamic:  []string{"attr"},
					Template: "registry_size",
				},
				{Source: "missing", Object: "agent:type=Runtime"},
			},
		}},
		Output: config.OutputConfig{Log: config.LogOutputConfig{Enabled: true}},
	}
}

// TestNewFromConfig_BuildsSelfMonitoringScanner verifies sources, templates and disabled queries wire up.
// Params: testing.T for assertions.
// Returns: none.
func TestNewFromConfig_BuildsSelfMonitoringScanner(t *testing.T) {
	engine, err := NewFromConfig(context.Background(), selfMonitoringConfig(), discardLogger())
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}

	attrs := engine.RegistryAttrs()
	if attrs["sources"] != int64(1) || attrs["scanners"] != int64(1) || attrs["metrics"] != int64(0) {
		t.Fatalf("unexpected registry attrs: %#v", attrs)
	}
	if _, ok := engine.ScannerStats()["self"]; !ok {
		t.Fatalf("scanner stats missing: %#v", engine.ScannerStats())
	}
	if engine.output.Len() != 1 {
		t.Fatalf("expected log output only, got %d outputs", engine.output.Len())
	}
}

// TestEngineRun_WarmupCycle verifies Run scans once before the first tick and stops on cancel.
// Params: testing.T for assertions.
// Returns: none.
func TestEngineRun_WarmupCycle(t *testing.T) {
	engine, err := NewFromConfig(context.Background(), selfMonitoringConfig(), discardLogger())
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- engine.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for engine.ScannerStats()["self"].Cycles == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("warm-up cycle did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}

	stats := engine.ScannerStats()["self"]
	if stats.Cycles != 1 || stats.Records != 1 || stats.Samples != 2 || stats.Failures != 0 {
		t.Fatalf("unexpected stats after warm-up: %#v", stats)
	}

	var names []string
	for _, metric := range engine.Metrics().Metrics() {
		names = append(names, metric.Name)
	}
	sort.Strings(names)
	if strings.Join(names, ",") != "registry scanners,registry sources" {
		t.Fatalf("unexpected metric names: %v", names)
	}
	if engine.Symbols().Len() == 0 {
		t.Fatalf("expected interned symbols")
	}
}

// TestNewFromConfig_Errors verifies build failures and release of opened outputs.
// Params: testing.T for assertions.
// Returns: none.
func TestNewFromConfig_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(cfg *config.Config)
		want   string
	}{
		{
			name: "unsupported source type",
			mutate: func(cfg *config.Config) {
				cfg.Source = append(cfg.Source, config.SourceConfig{Name: "x", Type: "snmp"})
			},
			want: "unsupported type",
		},
		{
			name: "duplicate source",
			mutate: func(cfg *config.Config) {
				cfg.Source = append(cfg.Source, config.SourceConfig{Name: "self", Type: config.SourceAgent})
			},
			want: "already registered",
		},
		{
			name: "unknown kind",
			mutate: func(cfg *config.Config) {
				cfg.Template[1].Kind = "gauge"
			},
			want: "build template[1]",
		},
		{
			name: "unknown template with collector output",
			mutate: func(cfg *config.Config) {
				cfg.Scanner[0].Query[0].Template = "nope"
				cfg.Output.Collector = []config.CollectorConfig{{
					Name:          "primary",
					Addr:          []string{"127.0.0.1:1"},
					Timeout:       config.Duration{Duration: 50 * time.Millisecond},
					RetryInterval: config.Duration{Duration: time.Second},
					Batch:         config.CollectorBatchConfig{MaxSamples: 10, MaxAge: config.Duration{Duration: time.Second}},
				}}
			},
			want: `unknown template "nope"`,
		},
		{
			name: "no outputs",
			mutate: func(cfg *config.Config) {
				cfg.Output.Log.Enabled = false
			},
			want: "no outputs enabled",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := selfMonitoringConfig()
			tc.mutate(cfg)

			done := make(chan error, 1)
			go func() {
				engine, err := NewFromConfig(context.Background(), cfg, discardLogger())
				if engine != nil {
					t.Errorf("expected nil engine on error")
				}
				done <- err
			}()

			select {
			case err := <-done:
				if err == nil || !strings.Contains(err.Error(), tc.want) {
					t.Fatalf("expected error containing %q, got %v", tc.want, err)
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("NewFromConfig did not release resources")
			}
		})
	}
}
