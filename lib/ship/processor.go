// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package ship moves operations from the local disk log to the
// backend. A Processor owns a consumer goroutine that batches pending
// operations, ships them, and acknowledges exactly what the server
// processed; anything unacknowledged survives a crash and is replayed
// on the next start or by the sync command.
package ship

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/runlog-project/runlog/lib/backend"
	"github.com/runlog-project/runlog/lib/clock"
	"github.com/runlog-project/runlog/lib/diskguard"
	"github.com/runlog-project/runlog/lib/oplog"
	"github.com/runlog-project/runlog/lib/record"
)

// ErrSyncStopped is returned by Wait and Enqueue(wait=true) when the
// consumer goroutine has terminated while operations were still
// pending.
var ErrSyncStopped = errors.New("ship: synchronization stopped")

// Default processor tunables.
const (
	DefaultBatchSize      = 1000
	DefaultFlushPeriod    = 5 * time.Second
	DefaultBackoffInitial = 2 * time.Second
	DefaultBackoffMax     = 120 * time.Second
)

// Config carries the construction parameters for New.
type Config struct {
	// Queue is the durable operation log to drain. Required.
	Queue *oplog.AggregatingQueue[record.Operation]

	// Backend receives the batches. Required.
	Backend backend.Backend

	// RunID identifies the destination run on the server.
	RunID string

	// Guard gates Enqueue on disk space. Optional; nil admits all.
	Guard *diskguard.Guard

	// BatchSize caps the operation count per Execute call and is the
	// queue depth at which Enqueue wakes the consumer early.
	BatchSize int

	// FlushPeriod is the consumer's sleep between drain passes.
	FlushPeriod time.Duration

	// RetryTimeout bounds the total time spent retrying one batch
	// through transient failures. Zero retries forever.
	RetryTimeout time.Duration

	// BackoffInitial and BackoffMax bound the delay between retries.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Clock defaults to clock.Real(). Logger defaults to slog.Default().
	Clock  clock.Clock
	Logger *slog.Logger
}

// Processor is the background shipper for one run. Producer methods
// (Enqueue, Flush) are called by the run owner; the consumer loop runs
// on its own goroutine between Start and Stop.
type Processor struct {
	queue          *oplog.AggregatingQueue[record.Operation]
	backend        backend.Backend
	runID          string
	guard          *diskguard.Guard
	batchSize      int
	retryTimeout   time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration
	clk            clock.Clock
	logger         *slog.Logger

	worker   *worker
	progress *notifier
	errCh    chan error

	mu       sync.Mutex
	terminal error
}

// New builds a Processor. Start must be called before any operation is
// shipped.
func New(cfg Config) (*Processor, error) {
	if cfg.Queue == nil {
		return nil, errors.New("ship: Config.Queue is required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("ship: Config.Backend is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushPeriod <= 0 {
		cfg.FlushPeriod = DefaultFlushPeriod
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = DefaultBackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Processor{
		queue:          cfg.Queue,
		backend:        cfg.Backend,
		runID:          cfg.RunID,
		guard:          cfg.Guard,
		batchSize:      cfg.BatchSize,
		retryTimeout:   cfg.RetryTimeout,
		backoffInitial: cfg.BackoffInitial,
		backoffMax:     cfg.BackoffMax,
		clk:            cfg.Clock,
		logger:         cfg.Logger.With("run_id", cfg.RunID),
		progress:       newNotifier(),
		errCh:          make(chan error, 1),
	}
	p.worker = newWorker(cfg.FlushPeriod, cfg.Clock, p.drain)
	return p, nil
}

// Start launches the consumer goroutine.
func (p *Processor) Start() { p.worker.Start() }

// Enqueue appends op to the log. A nil category joins any shipped
// batch; a non-nil category keeps the batch homogeneous. When wait is
// true, Enqueue blocks until the whole log has been shipped.
//
// If the disk guard refuses admission the operation is dropped and
// Enqueue returns nil; the guard has already warned.
func (p *Processor) Enqueue(op record.Operation, category *int64, wait bool) error {
	if p.guard != nil && !p.guard.Allow() {
		return nil
	}
	if _, err := p.queue.Put(op, category); err != nil {
		return err
	}
	if p.queue.Size() >= uint64(p.batchSize) {
		p.worker.WakeUp()
	}
	if wait {
		p.worker.WakeUp()
		return p.Wait()
	}
	return nil
}

// Wait blocks until every pending operation has been acknowledged.
// Returns ErrSyncStopped if the consumer terminates first; the
// underlying cause is available on Err.
func (p *Processor) Wait() error {
	for {
		waitCh := p.progress.Wait()
		if p.queue.IsEmpty() {
			if !p.worker.Alive() {
				return ErrSyncStopped
			}
			return nil
		}
		if p.terminalError() != nil {
			return ErrSyncStopped
		}
		select {
		case <-waitCh:
		case <-p.worker.Done():
			if p.queue.IsEmpty() && p.terminalError() == nil {
				return nil
			}
			return ErrSyncStopped
		}
	}
}

// Flush pushes buffered log writes to disk and wakes the consumer.
func (p *Processor) Flush() error {
	if err := p.queue.Flush(); err != nil {
		return err
	}
	p.worker.WakeUp()
	return nil
}

// Pause flushes and parks the consumer between drain passes. Blocks
// until the consumer is parked.
func (p *Processor) Pause() error {
	if err := p.queue.Flush(); err != nil {
		return err
	}
	p.worker.Pause()
	return nil
}

// Resume releases a paused consumer.
func (p *Processor) Resume() { p.worker.Resume() }

// Err delivers the consumer's terminal error, if any. The channel
// receives at most one value.
func (p *Processor) Err() <-chan error { return p.errCh }

// Stop drains the queue for up to timeout, then shuts the consumer
// down and closes the log. A timeout <= 0 waits for a full drain. The
// queue directory is removed iff nothing is left pending; otherwise
// the data stays on disk for a later "runlog sync".
func (p *Processor) Stop(timeout time.Duration) error {
	if err := p.queue.Flush(); err != nil {
		p.logger.Warn("cannot flush operation log during shutdown", "error", err)
	}
	p.worker.DisableSleep()
	p.worker.WakeUp()

	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = p.clk.After(timeout)
	}
	if pending := p.queue.Size(); pending > 0 {
		p.logger.Info("waiting for remaining operations to be synchronized", "pending", pending)
	}
drain:
	for !p.queue.IsEmpty() && p.terminalError() == nil && p.worker.Alive() {
		waitCh := p.progress.Wait()
		select {
		case <-waitCh:
			p.logger.Debug("synchronization progress", "pending", p.queue.Size())
		case <-p.worker.Done():
			break drain
		case <-deadline:
			break drain
		}
	}
	if pending := p.queue.Size(); pending > 0 {
		p.logger.Warn("not all operations were synchronized; run `runlog sync` to finish",
			"pending", pending,
		)
	}

	p.worker.Interrupt()
	p.worker.Join(0)

	if err := p.queue.Close(); err != nil {
		return err
	}
	return p.queue.CleanupIfEmpty()
}

// drain is one consumer pass: flush, then ship batches until the log
// is empty or the worker is told to stop.
func (p *Processor) drain() {
	if err := p.queue.Flush(); err != nil {
		p.logger.Warn("cannot flush operation log", "error", err)
	}
	for {
		select {
		case <-p.worker.Stopping():
			return
		default:
		}
		batch, err := p.queue.GetBatch(p.batchSize)
		if err != nil {
			p.terminate(fmt.Errorf("reading operation log: %w", err))
			return
		}
		if len(batch) == 0 {
			return
		}
		if !p.ship(batch) {
			return
		}
	}
}

// ship delivers one batch, acknowledging the processed prefix after
// every attempt and retrying the remainder through transient failures
// with exponential backoff. Reports whether the whole batch was
// delivered.
func (p *Processor) ship(batch []oplog.Element[oplog.CategoryElement[record.Operation]]) bool {
	var deadline time.Time
	if p.retryTimeout > 0 {
		deadline = p.clk.Now().Add(p.retryTimeout)
	}
	backoff := p.backoffInitial
	offset := 0
	for {
		ops := make([]record.Operation, 0, len(batch)-offset)
		for _, element := range batch[offset:] {
			ops = append(ops, element.Obj.Obj)
		}
		processed, opErrors, err := p.backend.Execute(context.Background(), p.runID, ops)
		for _, opErr := range opErrors {
			if opErr != nil {
				p.logger.Error("operation rejected by server", "error", opErr)
			}
		}
		if processed > 0 {
			if processed > len(ops) {
				processed = len(ops)
			}
			offset += processed
			if ackErr := p.queue.Ack(batch[offset-1].Version); ackErr != nil {
				p.terminate(fmt.Errorf("acknowledging operations: %w", ackErr))
				return false
			}
			p.progress.Broadcast()
			backoff = p.backoffInitial
		}
		if err == nil {
			if offset >= len(batch) {
				return true
			}
			continue
		}
		if !backend.IsTransient(err) {
			p.terminate(fmt.Errorf("shipping operations: %w", err))
			return false
		}
		if !deadline.IsZero() && !p.clk.Now().Before(deadline) {
			p.terminate(fmt.Errorf("retry timeout elapsed while shipping operations: %w", err))
			return false
		}
		p.logger.Warn("experiencing connection interruptions, retrying",
			"error", err,
			"backoff", backoff,
		)
		select {
		case <-p.clk.After(backoff):
		case <-p.worker.Stopping():
			return false
		}
		backoff *= 2
		if backoff > p.backoffMax {
			backoff = p.backoffMax
		}
	}
}

// terminate records the consumer's fatal error, wakes every waiter,
// and stops the worker. Pending data stays on disk.
func (p *Processor) terminate(err error) {
	p.mu.Lock()
	if p.terminal == nil {
		p.terminal = err
	}
	p.mu.Unlock()

	p.logger.Error("synchronization stopped", "error", err)
	select {
	case p.errCh <- err:
	default:
	}
	p.progress.Broadcast()
	p.worker.Interrupt()
}

func (p *Processor) terminalError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminal
}
