// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package reconcile replays operation logs left on disk by previous
// processes. Async containers already have a server identity and just
// need their pending operations shipped. Offline containers are first
// registered through the backend, atomically moved into the async
// namespace under the server-assigned ID, and then replayed the same
// way. Fully synchronized execution directories are removed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/runlog-project/runlog/lib/backend"
	"github.com/runlog-project/runlog/lib/clock"
	"github.com/runlog-project/runlog/lib/oplog"
	"github.com/runlog-project/runlog/lib/record"
	"github.com/runlog-project/runlog/lib/runstore"
)

// Default replay tunables. The retry timeout is generous because sync
// is an interactive command the user ran on purpose.
const (
	DefaultRetryTimeout   = time.Hour
	DefaultBatchSize      = 1000
	DefaultBackoffInitial = 2 * time.Second
	DefaultBackoffMax     = 120 * time.Second
)

// Config carries the construction parameters for New.
type Config struct {
	// Store is the data root to reconcile. Required.
	Store *runstore.Store

	// Backend ships the batches and registers offline runs. Required.
	Backend backend.Backend

	// RetryTimeout bounds the total retry time for one execution's
	// replay. Defaults to an hour.
	RetryTimeout time.Duration

	// BatchSize caps operations per Execute call.
	BatchSize int

	// BackoffInitial and BackoffMax bound the delay between retries.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Clock defaults to clock.Real(). Logger defaults to slog.Default().
	Clock  clock.Clock
	Logger *slog.Logger
}

// Reconciler replays pending operation logs through a Backend.
type Reconciler struct {
	store          *runstore.Store
	backend        backend.Backend
	retryTimeout   time.Duration
	batchSize      int
	backoffInitial time.Duration
	backoffMax     time.Duration
	clk            clock.Clock
	logger         *slog.Logger
}

// New builds a Reconciler.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, errors.New("reconcile: Config.Store is required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("reconcile: Config.Backend is required")
	}
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = DefaultRetryTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
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
	return &Reconciler{
		store:          cfg.Store,
		backend:        cfg.Backend,
		retryTimeout:   cfg.RetryTimeout,
		batchSize:      cfg.BatchSize,
		backoffInitial: cfg.BackoffInitial,
		backoffMax:     cfg.BackoffMax,
		clk:            cfg.Clock,
		logger:         cfg.Logger,
	}, nil
}

// SyncAll replays every container with pending operations: async
// containers first, then offline ones (which are registered under
// projectID). Individual container failures are logged and do not
// abort the rest; the first failure is returned at the end.
func (r *Reconciler) SyncAll(ctx context.Context, projectID string) error {
	async, err := r.store.Discover(runstore.ModeAsync)
	if err != nil {
		return err
	}
	var firstErr error
	for i := range async {
		if err := r.syncAsync(ctx, &async[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.SyncOffline(ctx, projectID); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// SyncOffline registers and replays every offline container under
// projectID.
func (r *Reconciler) SyncOffline(ctx context.Context, projectID string) error {
	offline, err := r.store.Discover(runstore.ModeOffline)
	if err != nil {
		return err
	}
	var firstErr error
	for i := range offline {
		if err := r.syncOffline(ctx, &offline[i], projectID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SyncSelected replays only the containers whose IDs appear in ids,
// looking in both namespaces. IDs that match nothing on disk are
// reported and skipped.
func (r *Reconciler) SyncSelected(ctx context.Context, projectID string, ids []string) error {
	containers, err := r.store.DiscoverAll()
	if err != nil {
		return err
	}
	byID := make(map[string]*runstore.Container, len(containers))
	for i := range containers {
		byID[containers[i].ID] = &containers[i]
	}

	var firstErr error
	for _, id := range ids {
		container, ok := byID[id]
		if !ok {
			r.logger.Warn("container not found on disk, skipping", "container_id", id)
			continue
		}
		var err error
		if container.Mode == runstore.ModeOffline {
			err = r.syncOffline(ctx, container, projectID)
		} else {
			err = r.syncAsync(ctx, container)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Reconciler) syncAsync(ctx context.Context, container *runstore.Container) error {
	if container.Pending() == 0 {
		return nil
	}
	r.logger.Info("synchronizing container",
		"container_id", container.ID,
		"pending", container.Pending(),
	)
	return r.replayContainer(ctx, container, container.ID)
}

// syncOffline registers the container as a new run, moves it into the
// async namespace, and replays it. A registration failure leaves the
// container untouched on disk.
func (r *Reconciler) syncOffline(ctx context.Context, container *runstore.Container, projectID string) error {
	if container.Type != runstore.TypeRun {
		r.logger.Warn("only runs can be synchronized from offline mode, skipping",
			"container_type", string(container.Type),
			"container_id", container.ID,
		)
		return nil
	}
	run, err := r.backend.CreateRun(ctx, projectID)
	if err != nil {
		r.logger.Error("cannot register offline run, leaving it on disk",
			"container_id", container.ID,
			"error", err,
		)
		return fmt.Errorf("registering offline run %s: %w", container.ID, err)
	}
	newPath, err := r.store.Move(container, run.ID)
	if err != nil {
		return err
	}
	r.logger.Info("registered offline run",
		"container_id", container.ID,
		"run_id", run.ID,
	)
	moved := *container
	moved.Mode = runstore.ModeAsync
	moved.Path = newPath
	for i := range moved.Executions {
		moved.Executions[i].Path = filepath.Join(newPath, moved.Executions[i].Name)
	}
	return r.replayContainer(ctx, &moved, run.ID)
}

func (r *Reconciler) replayContainer(ctx context.Context, container *runstore.Container, runID string) error {
	var firstErr error
	for _, execution := range container.Executions {
		if err := r.replayExecution(ctx, runID, execution); err != nil {
			r.logger.Error("cannot synchronize execution",
				"container_id", container.ID,
				"execution", execution.Name,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// replayExecution drains one execution's log into the backend with the
// same prefix-ack contract the live shipper uses, then removes the
// directory if nothing is left.
func (r *Reconciler) replayExecution(ctx context.Context, runID string, execution runstore.Execution) error {
	queue, err := oplog.OpenAggregating(oplog.Config[record.Operation]{
		Dir:           execution.Path,
		Encode:        record.Encode,
		Decode:        record.Decode,
		MaxBatchBytes: oplog.DefaultMaxBatchBytes,
		Clock:         r.clk,
		Logger:        r.logger,
	})
	if err != nil {
		return err
	}

	drainErr := r.drain(ctx, runID, queue)
	if closeErr := queue.Close(); closeErr != nil && drainErr == nil {
		drainErr = closeErr
	}
	if drainErr != nil {
		return drainErr
	}
	// A clean drain leaves the offsets equal; drop the directory,
	// metadata file included.
	return queue.CleanupIfEmpty()
}

func (r *Reconciler) drain(ctx context.Context, runID string, queue *oplog.AggregatingQueue[record.Operation]) error {
	deadline := r.clk.Now().Add(r.retryTimeout)
	backoff := r.backoffInitial
	for {
		batch, err := queue.GetBatch(r.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		offset := 0
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			ops := make([]record.Operation, 0, len(batch)-offset)
			for _, element := range batch[offset:] {
				ops = append(ops, element.Obj.Obj)
			}
			processed, opErrors, err := r.backend.Execute(ctx, runID, ops)
			for _, opErr := range opErrors {
				if opErr != nil {
					r.logger.Error("operation rejected by server", "error", opErr)
				}
			}
			if processed > 0 {
				if processed > len(ops) {
					processed = len(ops)
				}
				offset += processed
				if ackErr := queue.Ack(batch[offset-1].Version); ackErr != nil {
					return ackErr
				}
				backoff = r.backoffInitial
			}
			if err == nil {
				if offset >= len(batch) {
					break
				}
				continue
			}
			if !backend.IsTransient(err) {
				return fmt.Errorf("shipping operations: %w", err)
			}
			if !r.clk.Now().Before(deadline) {
				return fmt.Errorf("retry timeout elapsed while synchronizing: %w", err)
			}
			r.logger.Warn("experiencing connection interruptions, retrying",
				"error", err,
				"backoff", backoff,
			)
			select {
			case <-r.clk.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > r.backoffMax {
				backoff = r.backoffMax
			}
		}
	}
}
