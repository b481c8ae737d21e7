// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the contract between the local operation
// pipeline and the remote ingestion service. The pipeline never talks
// to the network itself; it hands ordered operation batches to a
// Backend and interprets the split error result: per-operation
// failures are final and logged, while call-level failures may be
// transient and are retried.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/runlog-project/runlog/lib/record"
)

// Run identifies a container on the server side after registration.
type Run struct {
	// ID is the server-assigned identity, used as the directory key
	// once an offline container moves into the async namespace.
	ID string

	// Name is the human-readable name within the project.
	Name string
}

// Backend is the remote ingestion service as seen by the shipper and
// the reconciler. Implementations must be safe for use from a single
// goroutine at a time per method; the pipeline never calls Execute
// concurrently for the same run.
type Backend interface {
	// Execute applies ops to the run in order. It returns the number
	// of operations processed from the front of the slice, the final
	// per-operation errors for those processed (nil entries mean
	// success), and a call-level error. A call-level error means the
	// batch beyond the processed prefix was not attempted; if it is
	// transient the caller retries the remainder.
	Execute(ctx context.Context, runID string, ops []record.Operation) (processed int, opErrors []error, err error)

	// CreateRun registers a new run under projectID and returns its
	// server identity.
	CreateRun(ctx context.Context, projectID string) (Run, error)
}

// TransientError marks a call-level failure worth retrying, such as a
// connection reset or a 5xx response.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient backend error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Returns nil if err is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is a retryable call-level failure.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
