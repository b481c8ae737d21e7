// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package backendtest provides a scriptable in-memory Backend for
// shipper and reconciler tests.
package backendtest

import (
	"context"
	"sync"

	"github.com/runlog-project/runlog/lib/backend"
	"github.com/runlog-project/runlog/lib/record"
	"github.com/runlog-project/runlog/lib/testutil"
)

// ExecuteCall records one Execute invocation.
type ExecuteCall struct {
	RunID string
	Ops   []record.Operation
}

// ExecuteResult scripts the outcome of one Execute invocation.
type ExecuteResult struct {
	Processed int
	OpErrors  []error
	Err       error
}

// Fake is a recording Backend. Unscripted Execute calls succeed and
// process every operation; unscripted CreateRun calls return a run
// with a fresh unique ID. Scripted results are consumed in FIFO order.
//
// Executed receives every Execute call as it happens, so tests can
// synchronize with a shipper goroutine without sleeping.
type Fake struct {
	Executed chan ExecuteCall

	mu             sync.Mutex
	executeResults []ExecuteResult
	executeCalls   []ExecuteCall
	createRunRuns  []backend.Run
	createRunErrs  []error
	createRunCalls []string
}

// NewFake returns a Fake with a generously buffered Executed channel.
func NewFake() *Fake {
	return &Fake{Executed: make(chan ExecuteCall, 256)}
}

// QueueExecuteResult scripts the outcome of the next unscripted
// Execute call.
func (f *Fake) QueueExecuteResult(result ExecuteResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executeResults = append(f.executeResults, result)
}

// QueueCreateRun scripts the next CreateRun to return run.
func (f *Fake) QueueCreateRun(run backend.Run) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createRunRuns = append(f.createRunRuns, run)
	f.createRunErrs = append(f.createRunErrs, nil)
}

// QueueCreateRunError scripts the next CreateRun to fail with err.
func (f *Fake) QueueCreateRunError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createRunRuns = append(f.createRunRuns, backend.Run{})
	f.createRunErrs = append(f.createRunErrs, err)
}

// Execute implements backend.Backend.
func (f *Fake) Execute(_ context.Context, runID string, ops []record.Operation) (int, []error, error) {
	call := ExecuteCall{RunID: runID, Ops: append([]record.Operation(nil), ops...)}

	f.mu.Lock()
	f.executeCalls = append(f.executeCalls, call)
	var result ExecuteResult
	if len(f.executeResults) > 0 {
		result = f.executeResults[0]
		f.executeResults = f.executeResults[1:]
	} else {
		result = ExecuteResult{Processed: len(ops), OpErrors: make([]error, len(ops))}
	}
	f.mu.Unlock()

	select {
	case f.Executed <- call:
	default:
	}
	return result.Processed, result.OpErrors, result.Err
}

// CreateRun implements backend.Backend.
func (f *Fake) CreateRun(_ context.Context, projectID string) (backend.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createRunCalls = append(f.createRunCalls, projectID)
	if len(f.createRunRuns) > 0 {
		run, err := f.createRunRuns[0], f.createRunErrs[0]
		f.createRunRuns = f.createRunRuns[1:]
		f.createRunErrs = f.createRunErrs[1:]
		return run, err
	}
	id := testutil.UniqueID("RUN")
	return backend.Run{ID: id, Name: id}, nil
}

// ExecuteCalls returns a copy of every recorded Execute call.
func (f *Fake) ExecuteCalls() []ExecuteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExecuteCall(nil), f.executeCalls...)
}

// CreateRunCalls returns the project IDs passed to CreateRun.
func (f *Fake) CreateRunCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.createRunCalls...)
}
