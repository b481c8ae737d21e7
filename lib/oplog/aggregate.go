// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// CategoryElement pairs an object with an optional category tag. A nil
// category means the element belongs to any batch; a non-nil category
// fixes the batch it joins, so one shipped batch never mixes two
// different categories.
type CategoryElement[T any] struct {
	Obj      T
	Category *int64
}

// categoryRecord is the stored form: {"obj": <operation>, "cat": N|null}.
type categoryRecord struct {
	Obj json.RawMessage `json:"obj"`
	Cat *int64          `json:"cat"`
}

// AggregatingQueue decorates a Queue with category tags. GetBatch
// stops a batch at the first element whose category differs from the
// batch's, buffering that element in memory for the next call rather
// than re-queuing it on disk, preserving the original sequence.
//
// Same concurrency contract as Queue: one producer, one consumer.
type AggregatingQueue[T any] struct {
	queue *Queue[CategoryElement[T]]

	// mu guards stored, the element pulled ahead of its batch.
	mu     sync.Mutex
	stored *Element[CategoryElement[T]]
}

// OpenAggregating creates or resumes a category-aware queue at
// cfg.Dir. The cfg codec handles the inner object; the category tag
// wrapper is added here.
func OpenAggregating[T any](cfg Config[T]) (*AggregatingQueue[T], error) {
	encode := cfg.Encode
	decode := cfg.Decode
	if encode == nil || decode == nil {
		return nil, fmt.Errorf("oplog: Config.Encode and Config.Decode are required")
	}

	inner := Config[CategoryElement[T]]{
		Dir:           cfg.Dir,
		MaxFileSize:   cfg.MaxFileSize,
		MaxBatchBytes: cfg.MaxBatchBytes,
		Clock:         cfg.Clock,
		Logger:        cfg.Logger,
		Encode: func(element CategoryElement[T]) (json.RawMessage, error) {
			raw, err := encode(element.Obj)
			if err != nil {
				return nil, err
			}
			return json.Marshal(categoryRecord{Obj: raw, Cat: element.Category})
		},
		Decode: func(data json.RawMessage) (CategoryElement[T], error) {
			var rec categoryRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return CategoryElement[T]{}, err
			}
			obj, err := decode(rec.Obj)
			if err != nil {
				return CategoryElement[T]{}, err
			}
			return CategoryElement[T]{Obj: obj, Category: rec.Cat}, nil
		},
	}

	queue, err := Open(inner)
	if err != nil {
		return nil, err
	}
	return &AggregatingQueue[T]{queue: queue}, nil
}

// Put enqueues obj tagged with category (nil joins any batch) and
// returns the assigned version.
func (a *AggregatingQueue[T]) Put(obj T, category *int64) (uint64, error) {
	return a.queue.Put(CategoryElement[T]{Obj: obj, Category: category})
}

// Get returns the buffered first-of-next-category element if one is
// pending, otherwise the next record from disk.
func (a *AggregatingQueue[T]) Get() (*Element[CategoryElement[T]], error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stored != nil {
		element := a.stored
		a.stored = nil
		return element, nil
	}
	return a.queue.Get()
}

// GetBatch collects up to maxCount records of at most one non-nil
// category, within the byte budget. When an element of a different
// category is pulled, the batch stops and that element is buffered
// for the next call.
func (a *AggregatingQueue[T]) GetBatch(maxCount int) ([]Element[CategoryElement[T]], error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var first *Element[CategoryElement[T]]
	if a.stored != nil {
		first = a.stored
		a.stored = nil
	} else {
		element, err := a.queue.Get()
		if err != nil {
			return nil, err
		}
		if element == nil {
			return nil, nil
		}
		first = element
	}

	batch := []Element[CategoryElement[T]]{*first}
	category := first.Obj.Category
	batchBytes := int64(first.Size)
	for len(batch) < maxCount {
		next, err := a.queue.Get()
		if err != nil {
			return nil, err
		}
		if next == nil {
			break
		}
		if next.Obj.Category != nil {
			if category == nil {
				category = next.Obj.Category
			} else if *category != *next.Obj.Category {
				a.stored = next
				break
			}
		}
		if batchBytes+int64(next.Size) > a.queue.maxBatchBytes {
			a.stored = next
			break
		}
		batchBytes += int64(next.Size)
		batch = append(batch, *next)
	}
	return batch, nil
}

// Ack forwards to the underlying queue, first discarding the buffered
// element if the acknowledgment covers it.
func (a *AggregatingQueue[T]) Ack(version uint64) error {
	a.mu.Lock()
	if a.stored != nil && a.stored.Version <= version {
		a.stored = nil
	}
	a.mu.Unlock()
	return a.queue.Ack(version)
}

// Size returns the number of pending operations.
func (a *AggregatingQueue[T]) Size() uint64 { return a.queue.Size() }

// IsEmpty reports whether the queue and the pulled-ahead buffer are
// both drained.
func (a *AggregatingQueue[T]) IsEmpty() bool {
	a.mu.Lock()
	storedEmpty := a.stored == nil
	a.mu.Unlock()
	return storedEmpty && a.queue.IsEmpty()
}

// WaitForEmpty blocks until the queue drains or timeout elapses. A
// timeout <= 0 waits indefinitely.
func (a *AggregatingQueue[T]) WaitForEmpty(timeout time.Duration) bool {
	return a.queue.WaitForEmpty(timeout)
}

// Flush pushes buffered segment writes to the operating system.
func (a *AggregatingQueue[T]) Flush() error { return a.queue.Flush() }

// Close closes the underlying queue, leaving on-disk state intact.
func (a *AggregatingQueue[T]) Close() error { return a.queue.Close() }

// CleanupIfEmpty deletes the queue directory iff the queue is empty.
func (a *AggregatingQueue[T]) CleanupIfEmpty() error { return a.queue.CleanupIfEmpty() }

// Dir returns the queue directory.
func (a *AggregatingQueue[T]) Dir() string { return a.queue.Dir() }
