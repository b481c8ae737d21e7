// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

package runstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/runlog-project/runlog/lib/oplog"
	"github.com/runlog-project/runlog/lib/record"
)

var testCreatedAt = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

func TestCreateExecutionNumbersSequentially(t *testing.T) {
	store := New(t.TempDir())

	first, err := store.CreateExecution(ModeAsync, TypeRun, "RUN-1", testCreatedAt)
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if first.Name != "exec-1" {
		t.Fatalf("first execution name %q, want exec-1", first.Name)
	}
	second, err := store.CreateExecution(ModeAsync, TypeRun, "RUN-1", testCreatedAt)
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if second.Name != "exec-2" {
		t.Fatalf("second execution name %q, want exec-2", second.Name)
	}
	if filepath.Dir(first.Path) != store.ContainerDir(ModeAsync, TypeRun, "RUN-1") {
		t.Fatalf("execution %q outside its container directory", first.Path)
	}
}

func TestOfflineExecutionsCarryTheSuffix(t *testing.T) {
	store := New(t.TempDir())
	id := NewOfflineRunID()

	execution, err := store.CreateExecution(ModeOffline, TypeRun, id, testCreatedAt)
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if execution.Name != "exec-1-offline" {
		t.Fatalf("offline execution name %q, want exec-1-offline", execution.Name)
	}
	if !execution.Offline {
		t.Fatal("offline execution not flagged")
	}
}

func TestMetadataRoundTripsThroughDiscovery(t *testing.T) {
	store := New(t.TempDir())
	if _, err := store.CreateExecution(ModeAsync, TypeRun, "RUN-1", testCreatedAt); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	containers, err := store.Discover(ModeAsync)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(containers) != 1 {
		t.Fatalf("discovered %d containers, want 1", len(containers))
	}
	container := containers[0]
	if container.Type != TypeRun || container.ID != "RUN-1" {
		t.Fatalf("container = %s__%s, want run__RUN-1", container.Type, container.ID)
	}
	if len(container.Executions) != 1 {
		t.Fatalf("discovered %d executions, want 1", len(container.Executions))
	}
	meta := container.Executions[0].Metadata
	if meta == nil {
		t.Fatal("execution metadata not read back")
	}
	if meta.ContainerID != "RUN-1" || meta.Mode != ModeAsync || meta.Execution != "exec-1" {
		t.Fatalf("metadata = %+v", meta)
	}
	if !meta.CreatedAt.Equal(testCreatedAt) {
		t.Fatalf("CreatedAt = %v, want %v", meta.CreatedAt, testCreatedAt)
	}
}

func TestDiscoveryToleratesMissingMetadata(t *testing.T) {
	store := New(t.TempDir())
	execution, err := store.CreateExecution(ModeAsync, TypeRun, "RUN-1", testCreatedAt)
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if err := os.Remove(filepath.Join(execution.Path, MetadataFile)); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	containers, err := store.Discover(ModeAsync)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(containers) != 1 || len(containers[0].Executions) != 1 {
		t.Fatal("execution without metadata must still be discovered")
	}
	if containers[0].Executions[0].Metadata != nil {
		t.Fatal("missing metadata should read as nil")
	}
}

func TestDiscoveryReportsPendingOperations(t *testing.T) {
	store := New(t.TempDir())
	execution, err := store.CreateExecution(ModeAsync, TypeRun, "RUN-1", testCreatedAt)
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	queue, err := oplog.OpenAggregating(oplog.Config[record.Operation]{
		Dir:    execution.Path,
		Encode: record.Encode,
		Decode: record.Decode,
	})
	if err != nil {
		t.Fatalf("OpenAggregating: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := queue.Put(record.AssignFloat{Path: record.Path{"x"}, Value: 1}, nil); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := queue.Ack(2); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	containers, err := store.Discover(ModeAsync)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if got := containers[0].Pending(); got != 3 {
		t.Fatalf("Pending() = %d, want 3", got)
	}
}

func TestDiscoverMissingRootIsEmpty(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "never-created"))
	containers, err := store.Discover(ModeAsync)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if containers != nil {
		t.Fatalf("Discover on missing root = %v, want nil", containers)
	}
}

func TestMoveRenamesOfflineContainerIntoAsync(t *testing.T) {
	store := New(t.TempDir())
	id := NewOfflineRunID()
	execution, err := store.CreateExecution(ModeOffline, TypeRun, id, testCreatedAt)
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	containers, err := store.Discover(ModeOffline)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	target, err := store.Move(&containers[0], "RUN-42")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if target != store.ContainerDir(ModeAsync, TypeRun, "RUN-42") {
		t.Fatalf("moved to %q", target)
	}
	if _, err := os.Stat(filepath.Join(target, execution.Name)); err != nil {
		t.Fatal("execution directory did not move with its container")
	}
	if _, err := os.Stat(containers[0].Path); !os.IsNotExist(err) {
		t.Fatal("offline directory should be gone after the move")
	}

	// A second container must not silently overwrite the first.
	if _, err := store.CreateExecution(ModeOffline, TypeRun, NewOfflineRunID(), testCreatedAt); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	offline, err := store.Discover(ModeOffline)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if _, err := store.Move(&offline[0], "RUN-42"); err == nil {
		t.Fatal("Move onto an existing async container must fail")
	}
}

func TestMoveRejectsAsyncContainers(t *testing.T) {
	store := New(t.TempDir())
	if _, err := store.CreateExecution(ModeAsync, TypeRun, "RUN-1", testCreatedAt); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	containers, err := store.Discover(ModeAsync)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if _, err := store.Move(&containers[0], "RUN-2"); err == nil {
		t.Fatal("Move must reject containers already in the async namespace")
	}
}
