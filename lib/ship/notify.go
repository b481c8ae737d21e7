// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

package ship

import "sync"

// notifier is a broadcast pulse: Wait returns a channel that is closed
// by the next Broadcast. Waiters re-check their condition after every
// pulse, so a missed state change only costs one extra loop.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) Wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *notifier) Broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	close(n.ch)
	n.ch = make(chan struct{})
}
