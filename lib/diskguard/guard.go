// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package diskguard gates writes to the operation log on free disk
// space. When the filesystem holding the log exceeds a configured
// utilization percentage, new operations are dropped at admission
// instead of filling the disk; the guard warns once per process so a
// long outage does not flood the logs.
package diskguard

import (
	"log/slog"
	"sync"
)

// UsageFunc reports the utilization of the filesystem containing path
// as a percentage in [0, 100].
type UsageFunc func(path string) (float64, error)

// Guard is an admission check for queue writes. A zero MaxPercent
// disables the check entirely. Safe for concurrent use.
type Guard struct {
	path       string
	maxPercent float64
	usage      UsageFunc
	logger     *slog.Logger

	fullOnce  sync.Once
	errorOnce sync.Once
}

// Config carries the construction parameters for New.
type Config struct {
	// Path is any path on the filesystem to watch, normally the
	// operation log directory.
	Path string

	// MaxPercent is the utilization threshold above which writes are
	// refused. Zero or negative disables the guard.
	MaxPercent float64

	// Usage overrides the utilization probe. Defaults to a statfs
	// against Path.
	Usage UsageFunc

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// New returns a Guard for cfg.Path.
func New(cfg Config) *Guard {
	if cfg.Usage == nil {
		cfg.Usage = filesystemUsage
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Guard{
		path:       cfg.Path,
		maxPercent: cfg.MaxPercent,
		usage:      cfg.Usage,
		logger:     cfg.Logger,
	}
}

// Allow reports whether a write should be admitted. The guard fails
// open: if utilization cannot be determined, the write proceeds and a
// single warning is logged.
func (g *Guard) Allow() bool {
	if g.maxPercent <= 0 {
		return true
	}
	percent, err := g.usage(g.path)
	if err != nil {
		g.errorOnce.Do(func() {
			g.logger.Warn("cannot determine disk utilization, admitting writes",
				"path", g.path,
				"error", err,
			)
		})
		return true
	}
	if percent >= g.maxPercent {
		g.fullOnce.Do(func() {
			g.logger.Warn("disk utilization above limit, dropping operations",
				"path", g.path,
				"utilization_percent", percent,
				"max_percent", g.maxPercent,
			)
		})
		return false
	}
	return true
}
