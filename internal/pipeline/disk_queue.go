package pipeline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// payload length, payload CRC32-C, created unix seconds
	queueHeaderSize    = 4 + 4 + 8
	queueDataFile      = "records.bin"
	queueOffsetFile    = "offset.bin"
	offsetSyncAckBatch = 128
	offsetSyncInterval = 2 * time.Second
)

var (
	errQueueEmpty = errors.New("queue is empty")
	errQueueFull  = errors.New("queue limits reached; rejecting new payload")

	queueChecksum = crc32.MakeTable(crc32.Castagnoli)
)

type queueHeader struct {
	length  uint32
	sum     uint32
	created int64
}

func (h queueHeader) encode() [queueHeaderSize]byte {
	var buf [queueHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.length)
	binary.LittleEndian.PutUint32(buf[4:8], h.sum)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.created))
	return buf
}

func decodeQueueHeader(buf [queueHeaderSize]byte) queueHeader {
	return queueHeader{
		length:  binary.LittleEndian.Uint32(buf[0:4]),
		sum:     binary.LittleEndian.Uint32(buf[4:8]),
		created: int64(binary.LittleEndian.Uint64(buf[8:16])),
	}
}

// queueEntry is one pending encoded batch read from the queue head.
type queueEntry struct {
	payload []byte
	size    int64
	created int64
}

// DiskQueue persists encoded record batches that could not be delivered.
// Params: directory and queue limits.
// Returns: append-only queue with a persisted read offset.
type DiskQueue struct {
	mu sync.Mutex

	data   *os.File
	offset *os.File

	maxBatches uint64
	maxAge     time.Duration

	head     int64
	tail     int64
	pending  uint64
	oldest   int64
	now      func() time.Time
	dirty    bool
	acked    uint64
	lastSync time.Time
}

// OpenDiskQueue opens or creates the queue files and restores pending entries.
// Params: dir queue directory; maxBatches/maxAge limits, zero disables a limit.
// Returns: initialized queue or error.
func OpenDiskQueue(dir string, maxBatches uint64, maxAge time.Duration) (*DiskQueue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir %q: %w", dir, err)
	}

	data, err := os.OpenFile(filepath.Join(dir, queueDataFile), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open queue data file: %w", err)
	}
	offset, err := os.OpenFile(filepath.Join(dir, queueOffsetFile), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		_ = data.Close()
		return nil, fmt.Errorf("open queue offset file: %w", err)
	}

	queue := &DiskQueue{
		data:       data,
		offset:     offset,
		maxBatches: maxBatches,
		maxAge:     maxAge,
		now:        time.Now,
	}
	if err := queue.restore(); err != nil {
		_ = queue.closeFiles()
		return nil, err
	}
	queue.lastSync = queue.now()
	return queue, nil
}

// Enqueue appends one payload to the queue tail if limits allow.
// Params: payload encoded batch.
// Returns: nil on append, errQueueFull when limits are reached, or IO error.
func (q *DiskQueue) Enqueue(payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.data == nil {
		return fmt.Errorf("queue is closed")
	}

	now := q.now().Unix()
	if err := q.checkLimits(now); err != nil {
		return err
	}

	header := queueHeader{
		length:  uint32(len(payload)),
		sum:     crc32.Checksum(payload, queueChecksum),
		created: now,
	}.encode()

	record := make([]byte, 0, queueHeaderSize+len(payload))
	record = append(record, header[:]...)
	record = append(record, payload...)
	if _, err := q.data.WriteAt(record, q.tail); err != nil {
		return fmt.Errorf("write queue record: %w", err)
	}

	q.tail += int64(len(record))
	q.pending++
	if q.pending == 1 {
		q.oldest = now
	}
	return nil
}

// Peek reads the entry at the queue head.
// Params: none.
// Returns: entry, errQueueEmpty when nothing is pending.
func (q *DiskQueue) Peek() (queueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readAt(q.head)
}

// Ack consumes the head entry and advances the read offset.
// Params: consumed entry returned by Peek.
// Returns: nil or persistence error.
func (q *DiskQueue) Ack(consumed queueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if consumed.size <= 0 {
		return fmt.Errorf("ack requires positive entry size")
	}
	if q.pending == 0 {
		return fmt.Errorf("ack on empty queue")
	}

	q.head = min(q.head+consumed.size, q.tail)
	q.pending--
	q.dirty = true
	q.acked++

	if q.pending == 0 {
		return q.reset()
	}
	if next, err := q.readAt(q.head); err == nil {
		q.oldest = next.created
	}
	return q.syncOffset(false)
}

// Pending returns the number of queued batches.
func (q *DiskQueue) Pending() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Close persists the read offset and closes queue files.
// Params: none.
// Returns: nil or flush/close error.
func (q *DiskQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.data == nil && q.offset == nil {
		return nil
	}
	if err := q.syncOffset(true); err != nil {
		_ = q.closeFiles()
		return err
	}
	return q.closeFiles()
}

// restore loads the persisted offset and rescans entries up to the first damaged one.
// Params: none.
// Returns: nil or IO error.
func (q *DiskQueue) restore() error {
	var buf [8]byte
	n, err := q.offset.ReadAt(buf[:], 0)
	switch {
	case n == 0 && errors.Is(err, io.EOF):
		q.head = 0
	case err != nil && !errors.Is(err, io.EOF):
		return fmt.Errorf("read queue offset: %w", err)
	case n < len(buf):
		return fmt.Errorf("invalid queue offset file size %d", n)
	default:
		q.head = max(int64(binary.LittleEndian.Uint64(buf[:])), 0)
	}

	info, err := q.data.Stat()
	if err != nil {
		return fmt.Errorf("stat queue data: %w", err)
	}
	q.tail = info.Size()
	if q.head > q.tail {
		q.head = 0
		q.dirty = true
	}

	position := q.head
	q.pending = 0
	q.oldest = 0
	for position < q.tail {
		entry, err := q.readAt(position)
		if err != nil {
			// a torn or corrupted write ends the usable log
			if truncErr := q.data.Truncate(position); truncErr != nil {
				return fmt.Errorf("truncate damaged queue tail at %d: %w", position, truncErr)
			}
			q.tail = position
			break
		}
		if q.pending == 0 {
			q.oldest = entry.created
		}
		q.pending++
		position += entry.size
	}

	if q.dirty {
		return q.syncOffset(true)
	}
	return nil
}

// readAt decodes and verifies one entry, caller must hold the lock.
// Params: position byte offset of the entry header.
// Returns: entry or errQueueEmpty/format error.
func (q *DiskQueue) readAt(position int64) (queueEntry, error) {
	if q.data == nil {
		return queueEntry{}, fmt.Errorf("queue is closed")
	}
	if position >= q.tail {
		return queueEntry{}, errQueueEmpty
	}

	var raw [queueHeaderSize]byte
	if _, err := q.data.ReadAt(raw[:], position); err != nil {
		return queueEntry{}, fmt.Errorf("read queue header at %d: %w", position, err)
	}
	header := decodeQueueHeader(raw)

	size := int64(queueHeaderSize) + int64(header.length)
	if position+size > q.tail {
		return queueEntry{}, fmt.Errorf("queue entry at %d exceeds data size", position)
	}

	payload := make([]byte, header.length)
	if _, err := q.data.ReadAt(payload, position+queueHeaderSize); err != nil {
		return queueEntry{}, fmt.Errorf("read queue payload at %d: %w", position, err)
	}
	if crc32.Checksum(payload, queueChecksum) != header.sum {
		return queueEntry{}, fmt.Errorf("queue entry at %d: checksum mismatch", position)
	}

	return queueEntry{payload: payload, size: size, created: header.created}, nil
}

// checkLimits rejects appends beyond the batch count or age limits.
func (q *DiskQueue) checkLimits(now int64) error {
	if q.maxBatches > 0 && q.pending >= q.maxBatches {
		return errQueueFull
	}
	if q.maxAge > 0 && q.pending > 0 && q.oldest > 0 {
		if time.Duration(now-q.oldest)*time.Second >= q.maxAge {
			return errQueueFull
		}
	}
	return nil
}

// reset truncates both files after the queue fully drains.
func (q *DiskQueue) reset() error {
	if err := q.data.Truncate(0); err != nil {
		return fmt.Errorf("truncate queue data: %w", err)
	}
	q.head, q.tail = 0, 0
	q.pending = 0
	q.oldest = 0
	q.dirty = true
	return q.syncOffset(true)
}

// syncOffset persists the read offset every offsetSyncAckBatch acks or offsetSyncInterval.
// Params: force writes regardless of thresholds.
// Returns: nil or IO error.
func (q *DiskQueue) syncOffset(force bool) error {
	if !q.dirty || q.offset == nil {
		return nil
	}
	if !force && q.acked < offsetSyncAckBatch && q.now().Sub(q.lastSync) < offsetSyncInterval {
		return nil
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(q.head))
	if _, err := q.offset.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("write queue offset: %w", err)
	}
	if err := q.offset.Truncate(int64(len(buf))); err != nil {
		return fmt.Errorf("truncate queue offset: %w", err)
	}
	if err := q.offset.Sync(); err != nil {
		return fmt.Errorf("sync queue offset: %w", err)
	}
	q.dirty = false
	q.acked = 0
	q.lastSync = q.now()
	return nil
}

// closeFiles closes open descriptors.
// Params: none.
// Returns: first close error.
func (q *DiskQueue) closeFiles() error {
	var firstErr error
	if q.data != nil {
		if err := q.data.Close(); err != nil {
			firstErr = fmt.Errorf("close queue data file: %w", err)
		}
		q.data = nil
	}
	if q.offset != nil {
		if err := q.offset.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close queue offset file: %w", err)
		}
		q.offset = nil
	}
	return firstErr
}
