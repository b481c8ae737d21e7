// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runlog.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
paths:
  root: /var/lib/runlog
shipper:
  flush_period: 10s
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.Root != "/var/lib/runlog" {
		t.Fatalf("Paths.Root = %q", cfg.Paths.Root)
	}
	if cfg.Shipper.FlushPeriod != "10s" {
		t.Fatalf("Shipper.FlushPeriod = %q", cfg.Shipper.FlushPeriod)
	}
	// Untouched fields keep their defaults.
	if cfg.Queue.BatchSize != 1000 {
		t.Fatalf("Queue.BatchSize = %d, want default 1000", cfg.Queue.BatchSize)
	}
	if Duration(cfg.Sync.RetryTimeout) != time.Hour {
		t.Fatalf("Sync.RetryTimeout = %q, want default 1h", cfg.Sync.RetryTimeout)
	}
}

func TestLoadFileRejectsBadDuration(t *testing.T) {
	path := writeConfigFile(t, `
shipper:
  flush_period: quickly
`)
	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("LoadFile accepted a malformed duration")
	}
	if !strings.Contains(err.Error(), "shipper.flush_period") {
		t.Fatalf("error %v does not name the field", err)
	}
}

func TestValidateNamesEveryBadField(t *testing.T) {
	cfg := Default()
	cfg.Paths.Root = ""
	cfg.Queue.BatchSize = -1
	cfg.Disk.MaxUtilizationPercent = 150

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid configuration")
	}
	for _, field := range []string{"paths.root", "queue.batch_size", "disk.max_utilization_percent"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("error %v does not name %s", err, field)
		}
	}
}

func TestLoadUsesEnvironmentVariable(t *testing.T) {
	path := writeConfigFile(t, `
paths:
  root: /data/runlog
`)
	t.Setenv("RUNLOG_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.Root != "/data/runlog" {
		t.Fatalf("Paths.Root = %q", cfg.Paths.Root)
	}
}

func TestLoadWithoutEnvironmentIsDefault(t *testing.T) {
	t.Setenv("RUNLOG_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.Root != ".runlog" {
		t.Fatalf("Paths.Root = %q, want default .runlog", cfg.Paths.Root)
	}
}
