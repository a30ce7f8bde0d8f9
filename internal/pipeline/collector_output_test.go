package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"perfagent/internal/config"
	"perfagent/internal/perfmon"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRecord(clock int64) perfmon.PerfRecord {
	return perfmon.PerfRecord{
		Clock:     clock,
		ScannerID: 1,
		Samples:   []perfmon.PerfSample{{MetricID: 1, Value: perfmon.Int(clock)}},
	}
}

type fakeSender struct {
	encodedPayload []byte
	sendCalls      []string
	sendTimeouts   []time.Duration
	sendDeadlines  []bool
	failMap        map[string]error
}

func (s *fakeSender) Encode(_ []perfmon.PerfRecord) ([]byte, error) {
	return s.encodedPayload, nil
}

func (s *fakeSender) SendBatch(ctx context.Context, address string, _ []perfmon.PerfRecord, timeout time.Duration) error {
	return s.recordSend(ctx, address, timeout)
}

func (s *fakeSender) Send(ctx context.Context, address string, _ []byte, timeout time.Duration) error {
	return s.recordSend(ctx, address, timeout)
}

func (s *fakeSender) recordSend(ctx context.Context, address string, timeout time.Duration) error {
	s.sendCalls = append(s.sendCalls, address)
	s.sendTimeouts = append(s.sendTimeouts, timeout)
	_, hasDeadline := ctx.Deadline()
	s.sendDeadlines = append(s.sendDeadlines, hasDeadline)
	if err, ok := s.failMap[address]; ok {
		return err
	}
	return nil
}

// TestCollectorWorker_SendWithFailover verifies address failover order and timeout propagation.
// Params: testing.T for assertions.
// Returns: none.
func TestCollectorWorker_SendWithFailover(t *testing.T) {
	sender := &fakeSender{failMap: map[string]error{"127.0.0.1:1": errors.New("down")}}
	worker := &collectorWorker{
		name: "c1",
		cfg: config.CollectorConfig{
			Addr:    []string{"127.0.0.1:1", " ", "127.0.0.1:2"},
			Timeout: config.Duration{Duration: 250 * time.Millisecond},
		},
		logger: discardLogger(),
		sender: sender,
	}

	if err := worker.sendWithFailover(context.Background(), []byte("x")); err != nil {
		t.Fatalf("sendWithFailover: %v", err)
	}
	if len(sender.sendCalls) != 2 || sender.sendCalls[0] != "127.0.0.1:1" || sender.sendCalls[1] != "127.0.0.1:2" {
		t.Fatalf("unexpected failover order: %#v", sender.sendCalls)
	}
	for idx := range sender.sendCalls {
		if sender.sendTimeouts[idx] != 250*time.Millisecond || !sender.sendDeadlines[idx] {
			t.Fatalf("send[%d] timeout=%v deadline=%v", idx, sender.sendTimeouts[idx], sender.sendDeadlines[idx])
		}
	}

	worker.cfg.Addr = nil
	if err := worker.sendWithFailover(context.Background(), []byte("x")); err == nil {
		t.Fatalf("expected error without addresses")
	}
}

// TestCollectorWorker_QueueOnFailure verifies the enqueue path when all addresses fail.
// Params: testing.T for assertions.
// Returns: none.
func TestCollectorWorker_QueueOnFailure(t *testing.T) {
	queue, err := OpenDiskQueue(t.TempDir(), 10, 0)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() {
		_ = queue.Close()
	})

	worker := &collectorWorker{
		name: "c1",
		cfg: config.CollectorConfig{
			Addr:    []string{"127.0.0.1:1"},
			Timeout: config.Duration{Duration: time.Second},
		},
		logger: discardLogger(),
		sender: &fakeSender{
			encodedPayload: []byte("payload"),
			failMap:        map[string]error{"127.0.0.1:1": errors.New("down")},
		},
		queue: queue,
		batch: []perfmon.PerfRecord{testRecord(1)},
	}

	worker.flushBatch(context.Background())

	if got := queue.Pending(); got != 1 {
		t.Fatalf("expected one queued payload, got %d", got)
	}
	if len(worker.batch) != 0 {
		t.Fatalf("batch must be reset after flush, got %d", len(worker.batch))
	}
	entry, err := queue.Peek()
	if err != nil || string(entry.payload) != "payload" {
		t.Fatalf("unexpected queued entry: %q %v", entry.payload, err)
	}
}

// TestCollectorOutput_SubmitBackpressure verifies submit blocks until the worker channel has space.
// Params: testing.T for assertions.
// Returns: none.
func TestCollectorOutput_SubmitBackpressure(t *testing.T) {
	worker := &collectorWorker{name: "c1", logger: discardLogger(), input: make(chan perfmon.PerfRecord, 1)}
	worker.input <- testRecord(1)
	output := &CollectorOutput{workers: []*collectorWorker{worker}, logger: discardLogger()}

	done := make(chan error, 1)
	go func() {
		done <- output.Submit(context.Background(), testRecord(2))
	}()

	select {
	case err := <-done:
		t.Fatalf("submit must block on full channel, got err=%v", err)
	case <-time.After(50 * time.Millisecond):
	}

	<-worker.input

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("submit after backpressure release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("submit did not finish after channel release")
	}

	if got := <-worker.input; got.Clock != 2 {
		t.Fatalf("unexpected enqueued record clock: %d", got.Clock)
	}
}

// TestCollectorOutput_SubmitCanceled verifies submit returns the context error under backpressure.
// Params: testing.T for assertions.
// Returns: none.
func TestCollectorOutput_SubmitCanceled(t *testing.T) {
	worker := &collectorWorker{name: "c1", logger: discardLogger(), input: make(chan perfmon.PerfRecord, 1)}
	worker.input <- testRecord(1)
	output := &CollectorOutput{workers: []*collectorWorker{worker}, logger: discardLogger()}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := output.Submit(ctx, testRecord(2)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline exceeded, got %v", err)
	}
}

// TestCollectorOutput_SubmitFanout verifies record fan-out to all collector workers.
// Params: testing.T for assertions.
// Returns: none.
func TestCollectorOutput_SubmitFanout(t *testing.T) {
	workerA := &collectorWorker{name: "a", logger: discardLogger(), input: make(chan perfmon.PerfRecord, 1)}
	workerB := &collectorWorker{name: "b", logger: discardLogger(), input: make(chan perfmon.PerfRecord, 1)}
	output := &CollectorOutput{workers: []*collectorWorker{workerA, workerB}, logger: discardLogger()}

	if err := output.Submit(context.Background(), testRecord(7)); err != nil {
		t.Fatalf("submit fanout: %v", err)
	}

	for _, worker := range []*collectorWorker{workerA, workerB} {
		select {
		case got := <-worker.input:
			if got.Clock != 7 {
				t.Fatalf("worker %s: unexpected clock %d", worker.name, got.Clock)
			}
		default:
			t.Fatalf("worker %s did not receive record", worker.name)
		}
	}
}

type retrySender struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (s *retrySender) Encode(_ []perfmon.PerfRecord) ([]byte, error) {
	return []byte("payload"), nil
}

func (s *retrySender) SendBatch(_ context.Context, _ string, _ []perfmon.PerfRecord, _ time.Duration) error {
	return s.nextResult()
}

func (s *retrySender) Send(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return s.nextResult()
}

func (s *retrySender) nextResult() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	callIdx := s.calls
	s.calls++
	if callIdx < len(s.results) {
		return s.results[callIdx]
	}
	return nil
}

func (s *retrySender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// TestCollectorWorker_RetryDrainsQueue verifies queued payload is retried and acked by the retry ticker.
// Params: testing.T for assertions.
// Returns: none.
func TestCollectorWorker_RetryDrainsQueue(t *testing.T) {
	queue, err := OpenDiskQueue(t.TempDir(), 10, 0)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() {
		_ = queue.Close()
	})

	sender := &retrySender{
		results: []error{
			errors.New("down-now"),
			errors.New("down-drain-initial"),
			nil,
		},
	}

	worker := &collectorWorker{
		name: "c1",
		cfg: config.CollectorConfig{
			Addr:          []string{"127.0.0.1:1"},
			Timeout:       config.Duration{Duration: 50 * time.Millisecond},
			RetryInterval: config.Duration{Duration: 40 * time.Millisecond},
			Batch: config.CollectorBatchConfig{
				MaxSamples: 1,
				MaxAge:     config.Duration{Duration: time.Second},
			},
		},
		logger: discardLogger(),
		sender: sender,
		queue:  queue,
		input:  make(chan perfmon.PerfRecord, 1),
		batch:  []perfmon.PerfRecord{testRecord(1)},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.flushBatch(ctx)
	if got := queue.Pending(); got != 1 {
		t.Fatalf("expected one queued payload after initial send failure, got %d", got)
	}

	done := make(chan struct{})
	go func() {
		worker.run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(800 * time.Millisecond)
	for time.Now().Before(deadline) {
		if queue.Pending() == 0 && sender.Calls() >= 3 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop after cancel")
	}

	if sender.Calls() < 3 {
		t.Fatalf("expected at least three send attempts, got %d", sender.Calls())
	}
}

type lifecycleSender struct {
	mu       sync.Mutex
	batches  [][]perfmon.PerfRecord
	closeCnt int
}

func (s *lifecycleSender) Encode(_ []perfmon.PerfRecord) ([]byte, error) {
	return []byte("payload"), nil
}

// SendBatch succeeds only with non-canceled contexts and keeps a copy of the batch.
func (s *lifecycleSender) SendBatch(ctx context.Context, _ string, records []perfmon.PerfRecord, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.batches = append(s.batches, append([]perfmon.PerfRecord(nil), records...))
	s.mu.Unlock()
	return nil
}

func (s *lifecycleSender) Send(ctx context.Context, _ string, _ []byte, _ time.Duration) error {
	return ctx.Err()
}

func (s *lifecycleSender) Close() error {
	s.mu.Lock()
	s.closeCnt++
	s.mu.Unlock()
	return nil
}

func (s *lifecycleSender) snapshot() (records int, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, batch := range s.batches {
		records += len(batch)
	}
	return records, s.closeCnt
}

// TestCollectorOutput_FlushesOnShutdownAndClosesSender verifies buffered records survive cancellation
// and the sender is closed exactly once after all workers stop.
// Params: testing.T for assertions.
// Returns: none.
func TestCollectorOutput_FlushesOnShutdownAndClosesSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := func(name, addr string) config.CollectorConfig {
		return config.CollectorConfig{
			Name:          name,
			Addr:          []string{addr},
			Timeout:       config.Duration{Duration: 100 * time.Millisecond},
			RetryInterval: config.Duration{Duration: time.Hour},
			Batch: config.CollectorBatchConfig{
				MaxSamples: 100,
				MaxAge:     config.Duration{Duration: time.Hour},
			},
		}
	}

	sender := &lifecycleSender{}
	output, err := NewCollectorOutput(ctx, []config.CollectorConfig{
		collector("c1", "127.0.0.1:6000"),
		collector("c2", "127.0.0.1:6001"),
	}, discardLogger(), sender)
	if err != nil {
		t.Fatalf("NewCollectorOutput: %v", err)
	}

	for clock := int64(1); clock <= 3; clock++ {
		if err := output.Submit(context.Background(), testRecord(clock)); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	cancel()

	select {
	case <-output.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("collector output did not stop after cancel")
	}

	records, closes := sender.snapshot()
	if records != 6 {
		t.Fatalf("expected 3 records per collector to be flushed, got %d", records)
	}
	if closes != 1 {
		t.Fatalf("expected sender Close() once, got %d", closes)
	}
}

// TestNewCollectorOutput_Validation verifies constructor argument checks.
// Params: testing.T for assertions.
// Returns: none.
func TestNewCollectorOutput_Validation(t *testing.T) {
	if _, err := NewCollectorOutput(context.Background(), nil, discardLogger(), &fakeSender{}); err == nil {
		t.Fatalf("expected error for empty collector list")
	}
	collectors := []config.CollectorConfig{{Name: "c1", Addr: []string{"127.0.0.1:1"}}}
	if _, err := NewCollectorOutput(context.Background(), collectors, discardLogger(), nil); err == nil {
		t.Fatalf("expected error for nil sender")
	}
}

func multiSampleRecord(clock int64, samples int) perfmon.PerfRecord {
	record := perfmon.PerfRecord{Clock: clock, ScannerID: 1}
	for idx := range samples {
		record.Samples = append(record.Samples, perfmon.PerfSample{MetricID: int32(idx + 1), Value: perfmon.Int(clock)})
	}
	return record
}

// TestCollectorOutput_BatchLimitCountsSamples verifies batches flush once buffered samples reach max_samples.
// Params: testing.T for assertions.
// Returns: none.
func TestCollectorOutput_BatchLimitCountsSamples(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &lifecycleSender{}
	output, err := NewCollectorOutput(ctx, []config.CollectorConfig{{
		Name:          "c1",
		Addr:          []string{"127.0.0.1:6000"},
		Timeout:       config.Duration{Duration: 100 * time.Millisecond},
		RetryInterval: config.Duration{Duration: time.Hour},
		Batch: config.CollectorBatchConfig{
			MaxSamples: 4,
			MaxAge:     config.Duration{Duration: time.Hour},
		},
	}}, discardLogger(), sender)
	if err != nil {
		t.Fatalf("NewCollectorOutput: %v", err)
	}

	batchCount := func() int {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.batches)
	}

	if err := output.Submit(ctx, multiSampleRecord(1, 2)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := batchCount(); got != 0 {
		t.Fatalf("two samples must stay buffered, got %d batches", got)
	}

	if err := output.Submit(ctx, multiSampleRecord(2, 3)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for batchCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected flush after five buffered samples")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := output.Submit(ctx, multiSampleRecord(3, 5)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for batchCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected a single record with five samples to flush alone")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sender.mu.Lock()
	first, second := len(sender.batches[0]), len(sender.batches[1])
	sender.mu.Unlock()
	if first != 2 || second != 1 {
		t.Fatalf("unexpected batch sizes in records: %d, %d", first, second)
	}

	cancel()
	select {
	case <-output.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("collector output did not stop")
	}
}
