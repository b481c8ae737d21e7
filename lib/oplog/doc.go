// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package oplog implements the durable local operation log: an
// append-only on-disk queue of serialized operations with crash
// recovery, bounded segment files, and acknowledgment-driven
// reclamation.
//
// Layout of a queue directory:
//
//	data-<minVersion>.log   one or more append-only segments
//	last_put_version        highest enqueued version, plain integer
//	last_ack_version        highest acknowledged version, plain integer
//
// Segment files hold one JSON object per line, each
// {"obj": <operation>, "version": N, "at": <epoch seconds>|null}.
// Versions increase strictly from 1 with no gaps. A segment may be
// deleted only once the following segment's minVersion is at or below
// the ack-offset, so at least one segment always remains.
//
// On resume, the reader skips records already covered by the on-disk
// ack-offset; a gap past the ack-offset (possible because segment
// appends are buffered while the put-offset is durable) is logged as
// possible data loss and reading continues.
//
// [Queue] is the core; [AggregatingQueue] decorates it with category
// tags so a batch never mixes logically distinct streams.
//
// Both types support exactly one producer goroutine and one consumer
// goroutine per instance.
package oplog
