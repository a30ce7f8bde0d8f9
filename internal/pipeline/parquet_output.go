package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"perfagent/internal/config"
	"perfagent/internal/perfmon"
	"perfagent/internal/symbols"
)

// sampleRow is one sample flattened with its record header and resolved names.
type sampleRow struct {
	Clock    int64             `parquet:"clock"`
	Agent    string            `parquet:"agent"`
	Host     string            `parquet:"host"`
	Scanner  string            `parquet:"scanner"`
	MetricID int32             `parquet:"metric_id"`
	Template string            `parquet:"template"`
	Metric   string            `parquet:"metric"`
	Value    float64           `parquet:"value"`
	IntValue int64             `parquet:"int_value"`
	IsFloat  bool              `parquet:"is_float"`
	Attrs    map[string]string `parquet:"attrs"`
}

// ParquetOutput appends one row per sample to a parquet file created for this agent run.
// Params: target directory, row buffer size and registries used to resolve names.
// Returns: output writing <dir>/<agent>-<uuid>.parquet.
type ParquetOutput struct {
	identity Identity
	symbols  *symbols.Registry
	metrics  *perfmon.Registry
	logger   *slog.Logger

	mu        sync.Mutex
	path      string
	file      *os.File
	writer    *parquet.GenericWriter[sampleRow]
	pending   []sampleRow
	flushRows int
	rows      int64
}

// NewParquetOutput creates the run file and its writer.
// Params: cfg parquet section; identity stamped per row; syms/metrics registries; logger root logger.
// Returns: output or file creation error.
func NewParquetOutput(
	cfg config.ParquetConfig,
	identity Identity,
	syms *symbols.Registry,
	metrics *perfmon.Registry,
	logger *slog.Logger,
) (*ParquetOutput, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create parquet dir %q: %w", cfg.Dir, err)
	}

	path := filepath.Join(cfg.Dir, fmt.Sprintf("%s-%s.parquet", identity.Agent, uuid.NewString()))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create parquet file: %w", err)
	}

	flushRows := max(cfg.FlushRows, 1)
	return &ParquetOutput{
		identity:  identity,
		symbols:   syms,
		metrics:   metrics,
		logger:    logger.With(slog.String("output", "parquet"), slog.String("path", path)),
		path:      path,
		file:      file,
		writer:    parquet.NewGenericWriter[sampleRow](file),
		pending:   make([]sampleRow, 0, flushRows),
		flushRows: flushRows,
	}, nil
}

// Path returns the file written by this output.
func (o *ParquetOutput) Path() string {
	return o.path
}

// Submit buffers the record's samples and writes a row group when the buffer is full.
// Params: ctx unused; record payload.
// Returns: write error, or an error after Close.
func (o *ParquetOutput) Submit(_ context.Context, record perfmon.PerfRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.writer == nil {
		return fmt.Errorf("parquet output is closed")
	}

	scanner := o.symbolName(record.ScannerID)
	for _, sample := range record.Samples {
		o.pending = append(o.pending, o.row(record.Clock, scanner, sample))
	}
	if len(o.pending) < o.flushRows {
		return nil
	}
	return o.flushLocked()
}

func (o *ParquetOutput) row(clock int64, scanner string, sample perfmon.PerfSample) sampleRow {
	row := sampleRow{
		Clock:    clock,
		Agent:    o.identity.Agent,
		Host:     o.identity.Host,
		Scanner:  scanner,
		MetricID: sample.MetricID,
		Value:    sample.Value.Float64(),
		IntValue: sample.Value.Int64(),
		IsFloat:  sample.Value.IsFloat(),
	}
	if metric, ok := o.metrics.Metric(sample.MetricID); ok {
		row.Template = metric.Template().Name()
		row.Metric = metric.Name()
	}
	if len(sample.Attrs) > 0 {
		row.Attrs = make(map[string]string, len(sample.Attrs))
		for id, value := range sample.Attrs {
			row.Attrs[o.symbolName(id)] = value
		}
	}
	return row
}

// symbolName resolves an interned ID, falling back to its decimal form.
func (o *ParquetOutput) symbolName(id int32) string {
	if name, ok := o.symbols.Name(id); ok {
		return name
	}
	return strconv.Itoa(int(id))
}

// flushLocked writes buffered rows as a row group, caller must hold the lock.
func (o *ParquetOutput) flushLocked() error {
	if len(o.pending) == 0 {
		return nil
	}
	if _, err := o.writer.Write(o.pending); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := o.writer.Flush(); err != nil {
		return fmt.Errorf("flush parquet row group: %w", err)
	}
	o.rows += int64(len(o.pending))
	o.pending = o.pending[:0]
	return nil
}

// Close writes buffered rows and the file footer.
// Params: none.
// Returns: first write or close error.
func (o *ParquetOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.writer == nil {
		return nil
	}

	flushErr := o.flushLocked()
	closeErr := o.writer.Close()
	fileErr := o.file.Close()
	o.writer = nil
	o.file = nil

	for _, err := range []error{flushErr, closeErr, fileErr} {
		if err != nil {
			return fmt.Errorf("close parquet output: %w", err)
		}
	}
	o.logger.Info("parquet output closed", slog.Int64("rows", o.rows))
	return nil
}
