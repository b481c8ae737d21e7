// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

package ship

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/runlog-project/runlog/lib/backend"
	"github.com/runlog-project/runlog/lib/backend/backendtest"
	"github.com/runlog-project/runlog/lib/clock"
	"github.com/runlog-project/runlog/lib/diskguard"
	"github.com/runlog-project/runlog/lib/oplog"
	"github.com/runlog-project/runlog/lib/record"
)

func alwaysFullGuard() *diskguard.Guard {
	return diskguard.New(diskguard.Config{
		Path:       "/",
		MaxPercent: 50,
		Usage:      func(string) (float64, error) { return 100, nil },
	})
}

func newTestQueue(t *testing.T, clk clock.Clock) *oplog.AggregatingQueue[record.Operation] {
	t.Helper()
	queue, err := oplog.OpenAggregating(oplog.Config[record.Operation]{
		Dir:    t.TempDir(),
		Encode: record.Encode,
		Decode: record.Decode,
		Clock:  clk,
	})
	if err != nil {
		t.Fatalf("OpenAggregating: %v", err)
	}
	return queue
}

func newTestProcessor(t *testing.T, fake *backendtest.Fake, clk clock.Clock, retryTimeout time.Duration) *Processor {
	t.Helper()
	processor, err := New(Config{
		Queue:        newTestQueue(t, clk),
		Backend:      fake,
		RunID:        "RUN-1",
		RetryTimeout: retryTimeout,
		Clock:        clk,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return processor
}

func testOperation(name string) record.Operation {
	return record.AssignFloat{Path: record.Path{"metrics", name}, Value: 1}
}

func requireExecuteCall(t *testing.T, fake *backendtest.Fake) backendtest.ExecuteCall {
	t.Helper()
	select {
	case call := <-fake.Executed:
		return call
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an Execute call")
	}
	panic("unreachable")
}

func TestProcessorShipsEnqueuedOperations(t *testing.T) {
	fake := backendtest.NewFake()
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	processor := newTestProcessor(t, fake, clk, 0)

	for _, name := range []string{"loss", "accuracy", "lr"} {
		if err := processor.Enqueue(testOperation(name), nil, false); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	processor.Start()
	defer processor.Stop(0)

	call := requireExecuteCall(t, fake)
	if call.RunID != "RUN-1" {
		t.Fatalf("Execute run ID %q, want RUN-1", call.RunID)
	}
	if len(call.Ops) != 3 {
		t.Fatalf("Execute received %d operations, want 3", len(call.Ops))
	}
	if err := processor.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestEnqueueWaitBlocksUntilShipped(t *testing.T) {
	fake := backendtest.NewFake()
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	processor := newTestProcessor(t, fake, clk, 0)
	processor.Start()
	defer processor.Stop(0)

	if err := processor.Enqueue(testOperation("loss"), nil, true); err != nil {
		t.Fatalf("Enqueue(wait): %v", err)
	}
	if got := len(fake.ExecuteCalls()); got != 1 {
		t.Fatalf("recorded %d Execute calls, want 1", got)
	}
}

func TestPartialSuccessAcksPrefixAndRetriesRemainder(t *testing.T) {
	fake := backendtest.NewFake()
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	processor := newTestProcessor(t, fake, clk, 0)

	// First call: one of three processed, then the connection drops.
	fake.QueueExecuteResult(backendtest.ExecuteResult{
		Processed: 1,
		OpErrors:  []error{nil},
		Err:       backend.Transient(errors.New("connection reset")),
	})

	for _, name := range []string{"a", "b", "c"} {
		if err := processor.Enqueue(testOperation(name), nil, false); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	processor.Start()
	defer processor.Stop(0)

	first := requireExecuteCall(t, fake)
	if len(first.Ops) != 3 {
		t.Fatalf("first Execute received %d operations, want 3", len(first.Ops))
	}

	// The consumer backs off before retrying the unprocessed tail.
	clk.WaitForTimers(1)
	clk.Advance(DefaultBackoffInitial)

	second := requireExecuteCall(t, fake)
	if len(second.Ops) != 2 {
		t.Fatalf("retry Execute received %d operations, want the 2 unprocessed", len(second.Ops))
	}
	if second.Ops[0].Target().String() != "metrics/b" {
		t.Fatalf("retry starts at %q, want metrics/b", second.Ops[0].Target().String())
	}
	if err := processor.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestNonTransientErrorStopsSynchronization(t *testing.T) {
	fake := backendtest.NewFake()
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	processor := newTestProcessor(t, fake, clk, 0)

	fake.QueueExecuteResult(backendtest.ExecuteResult{
		Err: errors.New("run deleted on server"),
	})

	if err := processor.Enqueue(testOperation("loss"), nil, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	processor.Start()

	if err := processor.Wait(); !errors.Is(err, ErrSyncStopped) {
		t.Fatalf("Wait = %v, want ErrSyncStopped", err)
	}
	select {
	case err := <-processor.Err():
		if !strings.Contains(err.Error(), "run deleted on server") {
			t.Fatalf("terminal error %v does not name the cause", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal error delivered")
	}
}

func TestRetryTimeoutStopsSynchronization(t *testing.T) {
	fake := backendtest.NewFake()
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	processor := newTestProcessor(t, fake, clk, 10*time.Second)

	for i := 0; i < 10; i++ {
		fake.QueueExecuteResult(backendtest.ExecuteResult{
			Err: backend.Transient(errors.New("connection refused")),
		})
	}

	if err := processor.Enqueue(testOperation("loss"), nil, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	processor.Start()

	// Attempts at t=0s, 2s, 6s, 14s; the deadline (10s) has passed by
	// the fourth attempt.
	requireExecuteCall(t, fake)
	for _, backoff := range []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second} {
		clk.WaitForTimers(1)
		clk.Advance(backoff)
		requireExecuteCall(t, fake)
	}

	if err := processor.Wait(); !errors.Is(err, ErrSyncStopped) {
		t.Fatalf("Wait = %v, want ErrSyncStopped", err)
	}
	select {
	case err := <-processor.Err():
		if !strings.Contains(err.Error(), "retry timeout") {
			t.Fatalf("terminal error %v does not name the retry timeout", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal error delivered")
	}
}

func TestStopDrainsAndRemovesEmptyQueue(t *testing.T) {
	fake := backendtest.NewFake()
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	queue, err := oplog.OpenAggregating(oplog.Config[record.Operation]{
		Dir:    t.TempDir() + "/queue",
		Encode: record.Encode,
		Decode: record.Decode,
		Clock:  clk,
	})
	if err != nil {
		t.Fatalf("OpenAggregating: %v", err)
	}
	processor, err := New(Config{Queue: queue, Backend: fake, RunID: "RUN-1", Clock: clk})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := processor.Enqueue(testOperation("loss"), nil, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	processor.Start()

	if err := processor.Stop(0); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(queue.Dir()); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("drained queue directory should have been removed")
	}
}

func TestStopTimeoutPreservesPendingData(t *testing.T) {
	fake := backendtest.NewFake()
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	queue, err := oplog.OpenAggregating(oplog.Config[record.Operation]{
		Dir:    t.TempDir() + "/queue",
		Encode: record.Encode,
		Decode: record.Decode,
		Clock:  clk,
	})
	if err != nil {
		t.Fatalf("OpenAggregating: %v", err)
	}
	processor, err := New(Config{Queue: queue, Backend: fake, RunID: "RUN-1", Clock: clk})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 10; i++ {
		fake.QueueExecuteResult(backendtest.ExecuteResult{
			Err: backend.Transient(errors.New("connection refused")),
		})
	}
	if err := processor.Enqueue(testOperation("loss"), nil, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	processor.Start()

	// Let the first attempt fail and the consumer enter backoff.
	requireExecuteCall(t, fake)
	clk.WaitForTimers(1)

	stopDone := make(chan error, 1)
	go func() { stopDone <- processor.Stop(time.Second) }()

	// Backoff timer plus Stop's drain deadline are now pending.
	clk.WaitForTimers(2)
	clk.Advance(time.Second)

	select {
	case err := <-stopDone:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after its drain timeout")
	}
	if _, err := os.Stat(queue.Dir()); err != nil {
		t.Fatal("unshipped operations must stay on disk for runlog sync")
	}
}

func TestPauseParksConsumerUntilResume(t *testing.T) {
	fake := backendtest.NewFake()
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	processor := newTestProcessor(t, fake, clk, 0)
	processor.Start()
	defer processor.Stop(0)

	if err := processor.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := processor.Enqueue(testOperation("loss"), nil, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := processor.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := len(fake.ExecuteCalls()); got != 0 {
		t.Fatalf("paused consumer made %d Execute calls", got)
	}

	processor.Resume()
	requireExecuteCall(t, fake)
	if err := processor.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestGuardDropRefusesNothingFatal(t *testing.T) {
	fake := backendtest.NewFake()
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	queue := newTestQueue(t, clk)
	processor, err := New(Config{
		Queue:   queue,
		Backend: fake,
		RunID:   "RUN-1",
		Clock:   clk,
		Guard:   alwaysFullGuard(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer queue.Close()

	if err := processor.Enqueue(testOperation("loss"), nil, false); err != nil {
		t.Fatalf("Enqueue under full disk: %v", err)
	}
	if got := queue.Size(); got != 0 {
		t.Fatalf("dropped operation still enqueued, size %d", got)
	}
}
