// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

package ship

import (
	"sync"
	"time"

	"github.com/runlog-project/runlog/lib/clock"
)

// workerState is the lifecycle of a background worker goroutine.
type workerState int

const (
	workerIdle workerState = iota
	workerRunning
	workerPaused
	workerStopping
	workerStopped
)

// worker runs a work function in a loop on its own goroutine, sleeping
// between iterations. It supports waking early, a pause handshake that
// blocks until the loop is actually parked, and a cooperative stop.
//
// Transitions: Idle -> Running -> (Paused <-> Running) -> Stopping ->
// Stopped. Interrupt is legal from any state.
type worker struct {
	period time.Duration
	clk    clock.Clock
	work   func()

	// wake is a capacity-1 doorbell; WakeUp never blocks.
	wake chan struct{}
	// stop is closed exactly once by Interrupt.
	stop     chan struct{}
	stopOnce sync.Once
	// done is closed when the goroutine exits.
	done chan struct{}

	mu            sync.Mutex
	cond          *sync.Cond
	state         workerState
	pauseWanted   bool
	sleepDisabled bool
}

func newWorker(period time.Duration, clk clock.Clock, work func()) *worker {
	w := &worker{
		period: period,
		clk:    clk,
		work:   work,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Start launches the loop. Calling Start twice panics, matching the
// single-owner contract.
func (w *worker) Start() {
	w.mu.Lock()
	if w.state != workerIdle {
		w.mu.Unlock()
		panic("ship: worker started twice")
	}
	w.state = workerRunning
	w.mu.Unlock()
	go w.run()
}

func (w *worker) run() {
	defer func() {
		w.mu.Lock()
		w.state = workerStopped
		w.cond.Broadcast()
		w.mu.Unlock()
		close(w.done)
	}()
	for {
		if !w.parkWhilePaused() {
			return
		}
		w.work()
		if !w.sleepBetweenIterations() {
			return
		}
	}
}

// parkWhilePaused blocks while a pause is requested and reports
// whether the loop should keep running.
func (w *worker) parkWhilePaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.pauseWanted && w.state != workerStopping {
		w.state = workerPaused
		w.cond.Broadcast()
		w.cond.Wait()
	}
	if w.state == workerStopping {
		return false
	}
	w.state = workerRunning
	w.cond.Broadcast()
	return true
}

func (w *worker) sleepBetweenIterations() bool {
	w.mu.Lock()
	disabled := w.sleepDisabled
	stopping := w.state == workerStopping
	w.mu.Unlock()
	if stopping {
		return false
	}
	if disabled || w.period <= 0 {
		return true
	}
	select {
	case <-w.wake:
	case <-w.clk.After(w.period):
	case <-w.stop:
		return false
	}
	w.mu.Lock()
	stopping = w.state == workerStopping
	w.mu.Unlock()
	return !stopping
}

// WakeUp cuts the current inter-iteration sleep short. Never blocks.
func (w *worker) WakeUp() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Pause requests a pause and blocks until the loop is parked between
// iterations. No-op once the worker is stopping.
func (w *worker) Pause() {
	w.mu.Lock()
	w.pauseWanted = true
	w.mu.Unlock()
	w.WakeUp()
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.state == workerRunning {
		w.cond.Wait()
	}
}

// Resume releases a paused loop.
func (w *worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pauseWanted = false
	w.cond.Broadcast()
}

// DisableSleep makes the loop run back-to-back iterations, used while
// draining the queue during shutdown.
func (w *worker) DisableSleep() {
	w.mu.Lock()
	w.sleepDisabled = true
	w.mu.Unlock()
	w.WakeUp()
}

// Interrupt requests the loop to stop after the current iteration and
// unblocks any pause or sleep. Safe to call more than once and from
// any goroutine.
func (w *worker) Interrupt() {
	w.mu.Lock()
	if w.state == workerIdle {
		// Never started; mark terminal so Join does not hang.
		w.state = workerStopped
		w.cond.Broadcast()
		w.mu.Unlock()
		w.stopOnce.Do(func() { close(w.stop) })
		close(w.done)
		return
	}
	if w.state != workerStopped {
		w.state = workerStopping
	}
	w.cond.Broadcast()
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.stop) })
	w.WakeUp()
}

// Join waits for the goroutine to exit and reports whether it did
// within timeout. A timeout <= 0 waits indefinitely.
func (w *worker) Join(timeout time.Duration) bool {
	if timeout <= 0 {
		<-w.done
		return true
	}
	select {
	case <-w.done:
		return true
	case <-w.clk.After(timeout):
		return false
	}
}

// Alive reports whether the loop is still willing to process work.
func (w *worker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == workerRunning || w.state == workerPaused
}

// Stopping returns a channel closed once a stop has been requested.
func (w *worker) Stopping() <-chan struct{} { return w.stop }

// Done returns a channel closed once the goroutine has exited.
func (w *worker) Done() <-chan struct{} { return w.done }
