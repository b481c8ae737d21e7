// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

package ship

import (
	"testing"
	"time"

	"github.com/runlog-project/runlog/lib/clock"
	"github.com/runlog-project/runlog/lib/testutil"
)

func TestWorkerIterationsFollowTheClock(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ran := make(chan struct{}, 16)
	w := newWorker(time.Second, clk, func() { ran <- struct{}{} })

	w.Start()
	testutil.RequireReceive(t, ran, 5*time.Second, "first iteration")

	clk.WaitForTimers(1)
	clk.Advance(time.Second)
	testutil.RequireReceive(t, ran, 5*time.Second, "second iteration after one period")

	w.Interrupt()
	if !w.Join(0) {
		t.Fatal("Join after Interrupt")
	}
	if w.Alive() {
		t.Fatal("stopped worker reports Alive")
	}
}

func TestWorkerWakeUpCutsSleepShort(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ran := make(chan struct{}, 16)
	w := newWorker(time.Hour, clk, func() { ran <- struct{}{} })

	w.Start()
	testutil.RequireReceive(t, ran, 5*time.Second, "first iteration")

	// No clock advance: only the doorbell can trigger the next pass.
	clk.WaitForTimers(1)
	w.WakeUp()
	testutil.RequireReceive(t, ran, 5*time.Second, "iteration after WakeUp")

	w.Interrupt()
	w.Join(0)
}

func TestInterruptBeforeStart(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	w := newWorker(time.Second, clk, func() {})
	w.Interrupt()
	if !w.Join(0) {
		t.Fatal("Join must not hang for a never-started worker")
	}
}
