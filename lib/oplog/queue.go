// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/runlog-project/runlog/lib/clock"
)

// Default queue tunables. MaxFileSize bounds a single segment file;
// MaxBatchBytes bounds the cumulative serialized size of one batch
// returned by GetBatch, independent of segment size.
const (
	DefaultMaxFileSize   int64 = 64 << 20
	DefaultMaxBatchBytes int64 = 100 << 20
)

// Element is one dequeued record: the decoded object, the version
// assigned at Put time, the record's serialized byte size (used for
// batch accounting), and the enqueue timestamp if one was recorded.
type Element[T any] struct {
	Obj        T
	Version    uint64
	Size       uint64
	EnqueuedAt time.Time
}

// diskRecord is the on-disk line format: one JSON object per line.
// The "at" field is epoch seconds with fraction, or null.
type diskRecord struct {
	Obj     json.RawMessage `json:"obj"`
	Version uint64          `json:"version"`
	At      *float64        `json:"at"`
}

// MalformedRecordError reports a segment record that failed to parse.
// It is fatal for the read call that hit it; the reader never skips
// past undecodable data silently.
type MalformedRecordError struct {
	Segment string
	Err     error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed operation record in %s: %v", e.Segment, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// Config carries the construction parameters for Open.
type Config[T any] struct {
	// Dir is the queue directory. Created if it does not exist.
	Dir string

	// Encode serializes an object for storage; Decode reverses it.
	// Both are required.
	Encode func(T) (json.RawMessage, error)
	Decode func(json.RawMessage) (T, error)

	// MaxFileSize bounds a single segment file. Defaults to 64 MiB.
	MaxFileSize int64

	// MaxBatchBytes bounds the cumulative serialized size of a batch.
	// Defaults to 100 MiB.
	MaxBatchBytes int64

	// Clock defaults to clock.Real(). Logger defaults to slog.Default().
	Clock  clock.Clock
	Logger *slog.Logger
}

// Queue is a durable FIFO of serialized objects backed by append-only
// segment files plus two offset counters. Safe for exactly one
// producer goroutine and one consumer goroutine; it is not designed
// for multiple concurrent producers or consumers.
type Queue[T any] struct {
	dir           string
	encode        func(T) (json.RawMessage, error)
	decode        func(json.RawMessage) (T, error)
	maxFileSize   int64
	maxBatchBytes int64
	clk           clock.Clock
	logger        *slog.Logger

	// mu guards every field below. All cross-goroutine state funnels
	// through it, so Size and IsEmpty are always consistent with the
	// latest Put and Ack.
	mu        sync.Mutex
	lastPut   *offsetFile
	lastAck   *offsetFile
	writer    *segmentWriter
	reader    *segmentReader
	peeked    *Element[T]
	skipToAck bool

	// emptyWait is non-nil while at least one goroutine is blocked in
	// WaitForEmpty on a non-empty queue; Ack closes it on drain.
	emptyWait chan struct{}
}

// Open creates or resumes the queue at cfg.Dir. Existing segment and
// offset files are picked up where a previous process left off; a
// fresh directory starts with segment data-1.log and both offsets at
// zero.
func Open[T any](cfg Config[T]) (*Queue[T], error) {
	if cfg.Dir == "" {
		return nil, errors.New("oplog: Config.Dir is required")
	}
	if cfg.Encode == nil || cfg.Decode == nil {
		return nil, errors.New("oplog: Config.Encode and Config.Decode are required")
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("oplog: creating queue directory: %w", err)
	}

	lastAck, err := openOffsetFile(filepath.Join(cfg.Dir, "last_ack_version"))
	if err != nil {
		return nil, fmt.Errorf("oplog: %w", err)
	}
	lastPut, err := openOffsetFile(filepath.Join(cfg.Dir, "last_put_version"))
	if err != nil {
		lastAck.Close()
		return nil, fmt.Errorf("oplog: %w", err)
	}

	versions, err := listSegmentVersions(cfg.Dir)
	if err != nil {
		lastAck.Close()
		lastPut.Close()
		return nil, fmt.Errorf("oplog: %w", err)
	}
	readVersion, writeVersion := uint64(1), uint64(1)
	if len(versions) > 0 {
		readVersion, writeVersion = versions[0], versions[len(versions)-1]
	}

	writer, err := openSegmentWriter(cfg.Dir, writeVersion)
	if err != nil {
		lastAck.Close()
		lastPut.Close()
		return nil, fmt.Errorf("oplog: %w", err)
	}
	reader, err := openSegmentReader(cfg.Dir, readVersion)
	if err != nil {
		writer.close()
		lastAck.Close()
		lastPut.Close()
		return nil, fmt.Errorf("oplog: %w", err)
	}

	return &Queue[T]{
		dir:           cfg.Dir,
		encode:        cfg.Encode,
		decode:        cfg.Decode,
		maxFileSize:   cfg.MaxFileSize,
		maxBatchBytes: cfg.MaxBatchBytes,
		clk:           cfg.Clock,
		logger:        cfg.Logger,
		lastPut:       lastPut,
		lastAck:       lastAck,
		writer:        writer,
		reader:        reader,
		skipToAck:     true,
	}, nil
}

// Put serializes obj, appends it to the active segment (rotating first
// if the projected size would exceed MaxFileSize), durably advances
// the put-offset, and returns the assigned version. Versions are
// strictly increasing from 1 with no gaps.
func (q *Queue[T]) Put(obj T) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	version := q.lastPut.Local() + 1
	raw, err := q.encode(obj)
	if err != nil {
		return 0, fmt.Errorf("oplog: encoding operation: %w", err)
	}
	at := float64(q.clk.Now().UnixNano()) / 1e9
	line, err := json.Marshal(diskRecord{Obj: raw, Version: version, At: &at})
	if err != nil {
		return 0, fmt.Errorf("oplog: encoding record: %w", err)
	}

	if q.writer.size+int64(len(line))+1 > q.maxFileSize {
		if err := q.rotateLocked(version); err != nil {
			return 0, err
		}
	}
	if err := q.writer.append(line); err != nil {
		return 0, fmt.Errorf("oplog: %w", err)
	}
	if err := q.lastPut.Write(version); err != nil {
		return 0, fmt.Errorf("oplog: %w", err)
	}
	return version, nil
}

// rotateLocked closes the active segment and opens a new one whose
// minVersion is the version about to be written.
func (q *Queue[T]) rotateLocked(newMinVersion uint64) error {
	old := q.writer
	writer, err := openSegmentWriter(q.dir, newMinVersion)
	if err != nil {
		return fmt.Errorf("oplog: rotating segment: %w", err)
	}
	q.writer = writer
	if err := old.close(); err != nil {
		return fmt.Errorf("oplog: closing rotated segment: %w", err)
	}
	return nil
}

// Get returns the next unread record in version order, or nil if the
// reader has caught up with the writer. The first call after process
// start skips records already acknowledged on disk and logs a warning
// if a gap past the ack-offset is detected.
func (q *Queue[T]) Get() (*Element[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.skipToAck {
		return q.skipAndGetLocked()
	}
	return q.getLocked()
}

func (q *Queue[T]) skipAndGetLocked() (*Element[T], error) {
	ackVersion := q.lastAck.Local()
	for {
		element, err := q.getLocked()
		if err != nil || element == nil {
			return element, err
		}
		if element.Version > ackVersion {
			q.skipToAck = false
			if element.Version > ackVersion+1 {
				q.logger.Warn("possible data loss: gap after last acknowledged operation",
					"last_ack_version", ackVersion,
					"next_version", element.Version,
				)
			}
			return element, nil
		}
	}
}

func (q *Queue[T]) getLocked() (*Element[T], error) {
	if q.peeked != nil {
		element := q.peeked
		q.peeked = nil
		return element, nil
	}
	for {
		line, size, err := q.reader.next()
		if errors.Is(err, io.EOF) {
			if q.reader.minVersion >= q.writer.minVersion {
				return nil, nil
			}
			next, err := nextSegmentVersion(q.dir, q.reader.minVersion)
			if err != nil {
				return nil, fmt.Errorf("oplog: %w", err)
			}
			q.reader.close()
			reader, err := openSegmentReader(q.dir, next)
			if err != nil {
				return nil, fmt.Errorf("oplog: %w", err)
			}
			q.reader = reader
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("oplog: %w", err)
		}

		var rec diskRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, &MalformedRecordError{Segment: q.reader.path, Err: err}
		}
		obj, err := q.decode(rec.Obj)
		if err != nil {
			return nil, &MalformedRecordError{Segment: q.reader.path, Err: err}
		}
		element := &Element[T]{Obj: obj, Version: rec.Version, Size: uint64(size)}
		if rec.At != nil {
			seconds := int64(*rec.At)
			nanos := int64((*rec.At - float64(seconds)) * 1e9)
			element.EnqueuedAt = time.Unix(seconds, nanos)
		}
		return element, nil
	}
}

// GetBatch collects up to maxCount pending records, stopping early
// when adding the next record would push the cumulative serialized
// size past MaxBatchBytes (the first record is always included, even
// if it alone exceeds the budget) or when the log is exhausted.
// Returns an empty batch if nothing is pending.
func (q *Queue[T]) GetBatch(maxCount int) ([]Element[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var first *Element[T]
	var err error
	if q.skipToAck {
		first, err = q.skipAndGetLocked()
	} else {
		first, err = q.getLocked()
	}
	if err != nil {
		return nil, err
	}
	if first == nil {
		return nil, nil
	}

	batch := []Element[T]{*first}
	batchBytes := int64(first.Size)
	for len(batch) < maxCount {
		next, err := q.getLocked()
		if err != nil {
			return nil, err
		}
		if next == nil {
			break
		}
		if batchBytes+int64(next.Size) > q.maxBatchBytes {
			q.peeked = next
			break
		}
		batchBytes += int64(next.Size)
		batch = append(batch, *next)
	}
	return batch, nil
}

// Ack durably records that every operation up to and including version
// has been shipped, deletes fully-superseded segments from the front
// (always leaving at least one), and wakes any goroutine blocked in
// WaitForEmpty if the queue is now empty.
func (q *Queue[T]) Ack(version uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.lastAck.Write(version); err != nil {
		return fmt.Errorf("oplog: %w", err)
	}
	if q.peeked != nil && q.peeked.Version <= version {
		q.peeked = nil
	}

	versions, err := listSegmentVersions(q.dir)
	if err != nil {
		return fmt.Errorf("oplog: %w", err)
	}
	for i := 0; i+1 < len(versions); i++ {
		if versions[i+1] > version {
			break
		}
		path := filepath.Join(q.dir, segmentName(versions[i]))
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			q.logger.Warn("cannot remove acknowledged segment", "segment", path, "error", err)
		}
	}

	q.notifyIfEmptyLocked()
	return nil
}

func (q *Queue[T]) notifyIfEmptyLocked() {
	if q.sizeLocked() == 0 && q.emptyWait != nil {
		close(q.emptyWait)
		q.emptyWait = nil
	}
}

func (q *Queue[T]) sizeLocked() uint64 {
	return q.lastPut.Local() - q.lastAck.Local()
}

// Size returns the number of pending (put but not acknowledged)
// operations. This is a record count, not a byte count.
func (q *Queue[T]) Size() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sizeLocked()
}

// IsEmpty reports whether every put operation has been acknowledged.
func (q *Queue[T]) IsEmpty() bool { return q.Size() == 0 }

// WaitForEmpty blocks until the queue drains or timeout elapses, and
// reports whether it became empty. A timeout <= 0 waits indefinitely.
func (q *Queue[T]) WaitForEmpty(timeout time.Duration) bool {
	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = q.clk.After(timeout)
	}
	for {
		q.mu.Lock()
		if q.sizeLocked() == 0 {
			q.mu.Unlock()
			return true
		}
		if q.emptyWait == nil {
			q.emptyWait = make(chan struct{})
		}
		wait := q.emptyWait
		q.mu.Unlock()

		select {
		case <-wait:
		case <-deadline:
			return q.IsEmpty()
		}
	}
}

// Flush pushes buffered segment writes to the operating system so the
// reader side can observe them.
func (q *Queue[T]) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.writer.flush(); err != nil {
		return fmt.Errorf("oplog: %w", err)
	}
	return nil
}

// Close flushes and closes the segment and offset files. On-disk state
// is left intact; call CleanupIfEmpty afterwards to delete the
// directory of a fully drained queue.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var firstErr error
	if err := q.writer.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := q.reader.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := q.lastPut.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := q.lastAck.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return fmt.Errorf("oplog: closing queue: %w", firstErr)
	}
	return nil
}

// CleanupIfEmpty deletes the queue directory iff the queue is empty.
// A non-empty queue's files are preserved for later reconciliation.
func (q *Queue[T]) CleanupIfEmpty() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sizeLocked() != 0 {
		return nil
	}
	if err := os.RemoveAll(q.dir); err != nil {
		return fmt.Errorf("oplog: removing queue directory: %w", err)
	}
	return nil
}

// Dir returns the queue directory.
func (q *Queue[T]) Dir() string { return q.dir }
