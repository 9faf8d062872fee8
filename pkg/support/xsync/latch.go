// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync holds synchronization primitives missing from the sync package.
package xsync

import "sync"

// Latch is a one-shot broadcast: it starts closed (not triggered) and once triggered it
// stays triggered forever. Any number of goroutines can wait on it, before or after the
// trigger.
type Latch struct {
	once sync.Once
	done chan struct{}
}

// NewLatch creates a new, untriggered Latch.
func NewLatch() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Trigger fires the latch, releasing all current and future waiters.
// It is safe to call multiple times and from multiple goroutines.
func (l *Latch) Trigger() {
	l.once.Do(func() { close(l.done) })
}

// Test returns whether the latch has been triggered, without blocking.
func (l *Latch) Test() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the latch is triggered.
func (l *Latch) Wait() {
	<-l.done
}

// WaitChan returns a channel that is closed when the latch triggers, for use in select statements.
func (l *Latch) WaitChan() <-chan struct{} {
	return l.done
}
