package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"perfagent/internal/perfmon"
)

// Identity is the agent identity attached to outbound batches.
type Identity struct {
	Agent string `json:"agent"`
	Host  string `json:"host"`
}

// LogOutput writes records into debug logs.
// Params: logger used for output.
// Returns: debug output instance.
type LogOutput struct {
	logger *slog.Logger
}

// NewLogOutput creates a debug output.
// Params: logger instance.
// Returns: record output implementation.
func NewLogOutput(logger *slog.Logger) *LogOutput {
	return &LogOutput{logger: logger}
}

// Submit logs one record as compact JSON.
// Params: ctx used for level check; record payload to log.
// Returns: marshal error when payload cannot be encoded.
func (o *LogOutput) Submit(ctx context.Context, record perfmon.PerfRecord) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !o.logger.Enabled(ctx, slog.LevelDebug) {
		return nil
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	o.logger.Debug(
		"perf record",
		slog.Int("scanner_id", int(record.ScannerID)),
		slog.Int64("clock", record.Clock),
		slog.Int("samples", len(record.Samples)),
		slog.String("payload", string(payload)),
	)
	return nil
}

// MultiOutput dispatches one record to multiple outputs.
// Params: output list.
// Returns: composite output.
type MultiOutput struct {
	outputs []perfmon.Output
}

// NewMultiOutput builds composite output from output list, skipping nil entries.
// Params: outputs target list.
// Returns: multi output implementation.
func NewMultiOutput(outputs ...perfmon.Output) *MultiOutput {
	out := make([]perfmon.Output, 0, len(outputs))
	for _, output := range outputs {
		if output == nil {
			continue
		}
		out = append(out, output)
	}
	return &MultiOutput{outputs: out}
}

// Submit forwards record to each child output.
// Params: ctx submit context; record payload.
// Returns: first error from downstream outputs, if any.
func (m *MultiOutput) Submit(ctx context.Context, record perfmon.PerfRecord) error {
	var firstErr error
	for _, output := range m.outputs {
		if err := output.Submit(ctx, record); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len returns the number of child outputs.
func (m *MultiOutput) Len() int {
	return len(m.outputs)
}
