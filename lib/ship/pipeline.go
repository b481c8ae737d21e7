// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

package ship

import (
	"fmt"
	"log/slog"

	"github.com/runlog-project/runlog/lib/backend"
	"github.com/runlog-project/runlog/lib/config"
	"github.com/runlog-project/runlog/lib/diskguard"
	"github.com/runlog-project/runlog/lib/oplog"
	"github.com/runlog-project/runlog/lib/record"
)

// FromConfig assembles the full shipping pipeline for one execution
// directory from file configuration: the durable operation queue, the
// disk utilization guard, and the Processor draining into b. cfg must
// have passed Validate; malformed durations panic.
//
// The returned Processor owns the queue and closes it on Stop.
func FromConfig(cfg *config.Config, dir, runID string, b backend.Backend, logger *slog.Logger) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	queue, err := oplog.OpenAggregating(oplog.Config[record.Operation]{
		Dir:           dir,
		Encode:        record.Encode,
		Decode:        record.Decode,
		MaxFileSize:   cfg.Queue.MaxFileSizeBytes,
		MaxBatchBytes: cfg.Queue.MaxBatchBytes,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("ship: open queue: %w", err)
	}
	guard := diskguard.New(diskguard.Config{
		Path:       dir,
		MaxPercent: cfg.Disk.MaxUtilizationPercent,
		Logger:     logger,
	})
	p, err := New(Config{
		Queue:          queue,
		Backend:        b,
		RunID:          runID,
		Guard:          guard,
		BatchSize:      cfg.Queue.BatchSize,
		FlushPeriod:    config.Duration(cfg.Shipper.FlushPeriod),
		RetryTimeout:   config.Duration(cfg.Shipper.RetryTimeout),
		BackoffInitial: config.Duration(cfg.Shipper.BackoffInitial),
		BackoffMax:     config.Duration(cfg.Shipper.BackoffMax),
		Logger:         logger,
	})
	if err != nil {
		queue.Close()
		return nil, err
	}
	return p, nil
}
