// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for runlog.
//
// Configuration is loaded from a single file specified by:
//   - RUNLOG_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There is no automatic discovery. When neither is given, the built-in
// defaults apply, so the tool works out of the box with a ".runlog"
// data root in the working directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for runlog.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Queue configures the on-disk operation log.
	Queue QueueConfig `yaml:"queue"`

	// Shipper configures the background consumer.
	Shipper ShipperConfig `yaml:"shipper"`

	// Sync configures the reconciliation command.
	Sync SyncConfig `yaml:"sync"`

	// Disk configures the admission guard.
	Disk DiskConfig `yaml:"disk"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for run data. Everything runlog
	// writes lives under it, split into async/ and offline/.
	Root string `yaml:"root"`
}

// QueueConfig configures the on-disk operation log.
type QueueConfig struct {
	// MaxFileSizeBytes bounds a single segment file.
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes"`

	// MaxBatchBytes bounds the cumulative serialized size of one
	// shipped batch.
	MaxBatchBytes int64 `yaml:"max_batch_bytes"`

	// BatchSize caps the operation count per shipped batch.
	BatchSize int `yaml:"batch_size"`
}

// ShipperConfig configures the background consumer. Durations are
// strings in time.ParseDuration syntax.
type ShipperConfig struct {
	// FlushPeriod is the consumer's sleep between drain passes.
	FlushPeriod string `yaml:"flush_period"`

	// StopTimeout bounds the drain on shutdown. "0s" waits for a
	// full drain.
	StopTimeout string `yaml:"stop_timeout"`

	// RetryTimeout bounds the total retry time for one batch. "0s"
	// retries forever.
	RetryTimeout string `yaml:"retry_timeout"`

	// BackoffInitial and BackoffMax bound the delay between retries.
	BackoffInitial string `yaml:"backoff_initial"`
	BackoffMax     string `yaml:"backoff_max"`
}

// SyncConfig configures the reconciliation command.
type SyncConfig struct {
	// RetryTimeout bounds the total retry time for one execution's
	// replay.
	RetryTimeout string `yaml:"retry_timeout"`
}

// DiskConfig configures the admission guard.
type DiskConfig struct {
	// MaxUtilizationPercent refuses new operations once the
	// filesystem holding the data root is this full. 0 disables the
	// guard.
	MaxUtilizationPercent float64 `yaml:"max_utilization_percent"`
}

// Default returns the default configuration. All fields carry usable
// values; a config file only overrides them.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Root: ".runlog",
		},
		Queue: QueueConfig{
			MaxFileSizeBytes: 64 << 20,
			MaxBatchBytes:    100 << 20,
			BatchSize:        1000,
		},
		Shipper: ShipperConfig{
			FlushPeriod:    "5s",
			StopTimeout:    "0s",
			RetryTimeout:   "0s",
			BackoffInitial: "2s",
			BackoffMax:     "120s",
		},
		Sync: SyncConfig{
			RetryTimeout: "1h",
		},
		Disk: DiskConfig{
			MaxUtilizationPercent: 0,
		},
	}
}

// Load loads configuration from the RUNLOG_CONFIG environment
// variable, or returns the defaults when it is not set.
func Load() (*Config, error) {
	path := os.Getenv("RUNLOG_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merged over
// the defaults. The file is the single source of truth; environment
// variables do not override its values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors. Every reported error
// names the offending field.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Queue.MaxFileSizeBytes <= 0 {
		errs = append(errs, fmt.Errorf("queue.max_file_size_bytes must be positive"))
	}
	if c.Queue.MaxBatchBytes <= 0 {
		errs = append(errs, fmt.Errorf("queue.max_batch_bytes must be positive"))
	}
	if c.Queue.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("queue.batch_size must be positive"))
	}

	durations := []struct {
		field string
		value string
	}{
		{"shipper.flush_period", c.Shipper.FlushPeriod},
		{"shipper.stop_timeout", c.Shipper.StopTimeout},
		{"shipper.retry_timeout", c.Shipper.RetryTimeout},
		{"shipper.backoff_initial", c.Shipper.BackoffInitial},
		{"shipper.backoff_max", c.Shipper.BackoffMax},
		{"sync.retry_timeout", c.Sync.RetryTimeout},
	}
	for _, d := range durations {
		if _, err := time.ParseDuration(d.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a duration", d.field, d.value))
		}
	}

	if c.Disk.MaxUtilizationPercent < 0 || c.Disk.MaxUtilizationPercent > 100 {
		errs = append(errs, fmt.Errorf("disk.max_utilization_percent must be between 0 and 100"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Duration parses one of the duration fields. Call Validate first;
// Duration panics on malformed values so misuse fails loudly.
func Duration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("config: %q is not a duration", value))
	}
	return d
}
