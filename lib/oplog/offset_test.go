// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOffsetFileStartsAtZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_put_version")
	offset, err := openOffsetFile(path)
	if err != nil {
		t.Fatalf("openOffsetFile: %v", err)
	}
	defer offset.Close()

	if got := offset.Local(); got != 0 {
		t.Fatalf("Local() on fresh file = %d, want 0", got)
	}
	value, err := offset.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if value != 0 {
		t.Fatalf("Read on fresh file = %d, want 0", value)
	}
}

func TestOffsetFilePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_ack_version")
	offset, err := openOffsetFile(path)
	if err != nil {
		t.Fatalf("openOffsetFile: %v", err)
	}
	if err := offset.Write(1000); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := offset.Write(42); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := offset.Local(); got != 42 {
		t.Fatalf("Local() = %d, want 42", got)
	}
	if err := offset.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The shorter second value must fully replace the first, not leave
	// trailing bytes behind.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "42" {
		t.Fatalf("on-disk content %q, want %q", data, "42")
	}

	reopened, err := openOffsetFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got := reopened.Local(); got != 42 {
		t.Fatalf("Local() after reopen = %d, want 42", got)
	}
}
