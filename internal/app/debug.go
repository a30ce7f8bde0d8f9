package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	pprofhttp "net/http/pprof"
	"sync"
	"time"

	"perfagent/internal/config"
	"perfagent/internal/perfmon"
	"perfagent/internal/symbols"
)

const (
	debugShutdownTimeout = 3 * time.Second
	debugReadHeaderTO    = 2 * time.Second
)

// registryView exposes the engine registries to the debug endpoint.
type registryView interface {
	Symbols() *symbols.Registry
	Metrics() *perfmon.Registry
	ScannerStats() map[string]perfmon.ScannerStats
}

// metricsDump is the /debug/perfmon/metrics response body.
type metricsDump struct {
	Templates []perfmon.TemplateInfo          `json:"templates"`
	Metrics   []perfmon.MetricInfo            `json:"metrics"`
	Scanners  map[string]perfmon.ScannerStats `json:"scanners"`
}

// startDebugServer starts optional pprof and registry introspection endpoint and wires graceful shutdown.
// Params: ctx controls lifecycle; cfg provides enabled/listen options; engine is dumped when it exposes
// its registries; logger reports runtime events.
// Returns: stop function (idempotent) and startup error.
func startDebugServer(ctx context.Context, cfg config.DebugConfig, engine engineRunner, logger *slog.Logger) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", cfg.Listen, err)
	}

	view, _ := engine.(registryView)
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newDebugMux(view, logger),
		ReadHeaderTimeout: debugReadHeaderTO,
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), debugShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("debug server shutdown error", slog.String("error", err.Error()))
			}
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("debug server failed", slog.String("addr", cfg.Listen), slog.String("error", err.Error()))
		}
	}()

	logger.Info("debug server started", slog.String("addr", listener.Addr().String()))
	return stop, nil
}

// newDebugMux registers pprof handlers and, when view is set, registry dumps.
func newDebugMux(view registryView, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprofhttp.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprofhttp.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprofhttp.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprofhttp.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprofhttp.Trace)

	if view == nil {
		return mux
	}

	mux.HandleFunc("GET /debug/perfmon/symbols", func(w http.ResponseWriter, _ *http.Request) {
		writeDebugJSON(w, logger, view.Symbols().Snapshot())
	})
	mux.HandleFunc("GET /debug/perfmon/metrics", func(w http.ResponseWriter, _ *http.Request) {
		writeDebugJSON(w, logger, metricsDump{
			Templates: view.Metrics().Templates(),
			Metrics:   view.Metrics().Metrics(),
			Scanners:  view.ScannerStats(),
		})
	})
	return mux
}

func writeDebugJSON(w http.ResponseWriter, logger *slog.Logger, body any) {
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(body); err != nil {
		logger.Warn("debug response write failed", slog.String("error", err.Error()))
	}
}
