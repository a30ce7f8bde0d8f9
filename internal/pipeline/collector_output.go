package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"perfagent/internal/config"
	"perfagent/internal/perfmon"
)

const (
	defaultCollectorInputBuffer = 1024
)

// CollectorSender encodes record batches and sends prepared payloads.
// Params: batch of records and destination address.
// Returns: encoded payload and send status.
type CollectorSender interface {
	Encode(records []perfmon.PerfRecord) ([]byte, error)
	SendBatch(ctx context.Context, address string, records []perfmon.PerfRecord, timeout time.Duration) error
	Send(ctx context.Context, address string, payload []byte, timeout time.Duration) error
}

// CollectorOutput fans out records to per-collector workers.
// Params: collector worker list.
// Returns: output implementation with lifecycle goroutines.
type CollectorOutput struct {
	workers []*collectorWorker
	logger  *slog.Logger
	sender  CollectorSender

	workersWG sync.WaitGroup
	closeOnce sync.Once
	stopped   chan struct{}
}

type collectorWorker struct {
	name   string
	cfg    config.CollectorConfig
	logger *slog.Logger
	sender CollectorSender
	queue  *DiskQueue

	input chan perfmon.PerfRecord

	batch        []perfmon.PerfRecord
	batchSamples uint64
	batchStart   time.Time
}

type senderCloser interface {
	Close() error
}

// NewCollectorOutput creates collector workers and starts their loops.
// Params: ctx lifecycle context; collectors config list; logger root logger; sender transport implementation.
// Returns: collector output or error.
func NewCollectorOutput(
	ctx context.Context,
	collectors []config.CollectorConfig,
	logger *slog.Logger,
	sender CollectorSender,
) (*CollectorOutput, error) {
	if len(collectors) == 0 {
		return nil, fmt.Errorf("collector list is empty")
	}
	if sender == nil {
		return nil, fmt.Errorf("collector sender is nil")
	}

	out := &CollectorOutput{
		workers: make([]*collectorWorker, 0, len(collectors)),
		logger:  logger,
		sender:  sender,
		stopped: make(chan struct{}),
	}
	cleanupQueues := func() {
		for _, worker := range out.workers {
			if worker.queue == nil {
				continue
			}
			_ = worker.queue.Close()
		}
	}

	for idx, cfg := range collectors {
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			name = fmt.Sprintf("collector-%d", idx)
		}

		var queue *DiskQueue
		if cfg.Queue.Enabled {
			var err error
			queue, err = OpenDiskQueue(cfg.Queue.Dir, cfg.Queue.MaxRecords, cfg.Queue.MaxAge.Duration)
			if err != nil {
				cleanupQueues()
				return nil, fmt.Errorf("init queue for %s: %w", name, err)
			}
		}

		out.workers = append(out.workers, &collectorWorker{
			name:   name,
			cfg:    cfg,
			logger: logger.With(slog.String("collector", name)),
			sender: sender,
			queue:  queue,
			input:  make(chan perfmon.PerfRecord, defaultCollectorInputBuffer),
		})
	}

	out.workersWG.Add(len(out.workers))
	for _, worker := range out.workers {
		go func(active *collectorWorker) {
			defer out.workersWG.Done()
			active.run(ctx)
		}(worker)
	}
	go func() {
		out.workersWG.Wait()
		out.closeSender()
		close(out.stopped)
	}()

	return out, nil
}

// Submit enqueues record for all collectors (fan-out).
// Params: ctx submit context; record payload.
// Returns: context error when submit is canceled while waiting for backpressure release.
func (o *CollectorOutput) Submit(ctx context.Context, record perfmon.PerfRecord) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for _, worker := range o.workers {
		select {
		case worker.input <- record:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Done is closed after every worker stopped and the sender was closed.
func (o *CollectorOutput) Done() <-chan struct{} {
	return o.stopped
}

// closeSender closes sender resources once after worker shutdown.
func (o *CollectorOutput) closeSender() {
	o.closeOnce.Do(func() {
		closer, ok := o.sender.(senderCloser)
		if !ok {
			return
		}
		if err := closer.Close(); err != nil && o.logger != nil {
			o.logger.Error("close collector sender failed", slog.String("error", err.Error()))
		}
	})
}

// run executes collector worker loop: batching, sending, and queue draining.
// Params: ctx worker lifecycle context.
// Returns: none.
func (w *collectorWorker) run(ctx context.Context) {
	defer func() {
		if w.queue == nil {
			return
		}
		if err := w.queue.Close(); err != nil {
			w.logger.Error("close queue failed", slog.String("error", err.Error()))
		}
	}()

	flushTicker := time.NewTicker(time.Second)
	retryTicker := time.NewTicker(w.cfg.RetryInterval.Duration)
	defer flushTicker.Stop()
	defer retryTicker.Stop()

	_ = w.drainQueue(ctx)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), w.shutdownDrainTimeout())
			w.drainInput()
			w.flushBatch(shutdownCtx)
			_ = w.drainQueue(shutdownCtx)
			cancel()
			return
		case record := <-w.input:
			w.appendBatch(record)
			if w.batchSamples >= w.cfg.Batch.MaxSamples {
				w.flushBatch(ctx)
			}
		case <-flushTicker.C:
			w.flushByAge(ctx)
		case <-retryTicker.C:
			_ = w.drainQueue(ctx)
		}
	}
}

// drainInput moves already buffered records into the batch before the final flush.
func (w *collectorWorker) drainInput() {
	for {
		select {
		case record := <-w.input:
			w.appendBatch(record)
		default:
			return
		}
	}
}

// shutdownDrainTimeout bounds the final flush after the root context is canceled.
// Params: none.
// Returns: timeout scaled by the number of addresses.
func (w *collectorWorker) shutdownDrainTimeout() time.Duration {
	base := w.cfg.Timeout.Duration
	if base <= 0 {
		base = 5 * time.Second
	}

	addresses := 0
	for _, address := range w.cfg.Addr {
		if strings.TrimSpace(address) != "" {
			addresses++
		}
	}
	addresses = max(addresses, 1)

	timeout := time.Duration(addresses)*base + 2*time.Second
	return min(max(timeout, 3*time.Second), time.Minute)
}

// appendBatch buffers one record and adds its samples to the batch size.
func (w *collectorWorker) appendBatch(record perfmon.PerfRecord) {
	if len(w.batch) == 0 {
		w.batchStart = time.Now()
	}
	w.batch = append(w.batch, record)
	w.batchSamples += uint64(len(record.Samples))
}

// flushByAge flushes batch when max_age threshold is reached.
func (w *collectorWorker) flushByAge(ctx context.Context) {
	if len(w.batch) == 0 || w.cfg.Batch.MaxAge.Duration <= 0 {
		return
	}
	if time.Since(w.batchStart) < w.cfg.Batch.MaxAge.Duration {
		return
	}
	w.flushBatch(ctx)
}

// flushBatch tries to send current batch and persists it to the queue on failure.
// Params: ctx lifecycle context.
// Returns: none.
func (w *collectorWorker) flushBatch(ctx context.Context) {
	if len(w.batch) == 0 {
		return
	}
	defer func() {
		w.batch = w.batch[:0]
		w.batchSamples = 0
	}()

	err := w.sendWithFailoverFunc(ctx, func(sendCtx context.Context, address string) error {
		return w.sender.SendBatch(sendCtx, address, w.batch, w.cfg.Timeout.Duration)
	})
	if err == nil {
		_ = w.drainQueue(ctx)
		return
	}

	if w.queue == nil {
		w.logger.Error(
			"collector unavailable, dropping batch (queue disabled)",
			slog.Int("records", len(w.batch)),
			slog.Uint64("samples", w.batchSamples),
			slog.String("error", err.Error()),
		)
		return
	}

	payload, encodeErr := w.sender.Encode(w.batch)
	if encodeErr != nil {
		w.logger.Error("encode collector batch failed", slog.String("error", encodeErr.Error()))
		return
	}
	if queueErr := w.queue.Enqueue(payload); queueErr != nil {
		w.logger.Error("enqueue failed", slog.Int("records", len(w.batch)), slog.String("error", queueErr.Error()))
		return
	}
	w.logger.Warn(
		"collector unavailable, batch queued",
		slog.Int("records", len(w.batch)),
		slog.Uint64("samples", w.batchSamples),
		slog.Int("bytes", len(payload)),
	)
}

// sendWithFailover attempts payload delivery to collector addresses in order.
// Params: ctx lifecycle context; payload encoded batch.
// Returns: nil on first successful send, error when all addresses fail.
func (w *collectorWorker) sendWithFailover(ctx context.Context, payload []byte) error {
	return w.sendWithFailoverFunc(ctx, func(sendCtx context.Context, address string) error {
		return w.sender.Send(sendCtx, address, payload, w.cfg.Timeout.Duration)
	})
}

// sendWithFailoverFunc attempts delivery to collector addresses in order via provided callback.
// Params: ctx lifecycle context; sendOne callback for one address.
// Returns: nil on first successful send, error when all addresses fail.
func (w *collectorWorker) sendWithFailoverFunc(ctx context.Context, sendOne func(context.Context, string) error) error {
	var lastErr error

	for _, address := range w.cfg.Addr {
		addressValue := strings.TrimSpace(address)
		if addressValue == "" {
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout.Duration)
		err := sendOne(sendCtx, addressValue)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		w.logger.Warn("send attempt failed", slog.String("address", addressValue), slog.String("error", err.Error()))
	}

	if lastErr == nil {
		return fmt.Errorf("no collector addresses configured")
	}
	return lastErr
}

// drainQueue sends queued payloads while collector is reachable.
// Params: ctx lifecycle context.
// Returns: nil when queue is empty or drained, error on send failure.
func (w *collectorWorker) drainQueue(ctx context.Context) error {
	if w.queue == nil {
		return nil
	}

	for {
		entry, err := w.queue.Peek()
		if err != nil {
			if errors.Is(err, errQueueEmpty) {
				return nil
			}
			w.logger.Error("peek queue failed", slog.String("error", err.Error()))
			return err
		}

		if err := w.sendWithFailover(ctx, entry.payload); err != nil {
			return err
		}
		if err := w.queue.Ack(entry); err != nil {
			w.logger.Error("ack queue entry failed", slog.String("error", err.Error()))
			return err
		}
	}
}
