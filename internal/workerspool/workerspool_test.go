// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/simdgemm/pkg/support/xsync"
	"github.com/stretchr/testify/assert"
)

func TestPool_Saturate(t *testing.T) {
	// Test saturation.
	pool := New()
	wantTasks := 5
	pool.SetMaxParallelism(wantTasks)
	assert.Equal(t, wantTasks, pool.AdjustedMaxParallelism())

	var count atomic.Int32
	doneNewTasks := xsync.NewLatch()
	doneTest := xsync.NewLatch()

	go func() {
		pool.Saturate(func() {
			got := count.Add(1)
			runtime.Gosched()
			if int(got) == wantTasks {
				doneNewTasks.Trigger()
				return
			}
			doneNewTasks.Wait()
		})
		doneTest.Trigger()
	}()

	select {
	case <-doneTest.WaitChan():
		// Success
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout before all tasks were executed.")
	}
	if int(count.Load()) != wantTasks {
		t.Fatalf("Expected %d tasks, got %d", wantTasks, count.Load())
	}

	// Test No Parallelism
	pool.SetMaxParallelism(0)
	count.Store(0)
	pool.Saturate(func() { count.Add(1) })
	assert.Equal(t, int32(1), count.Load())

	// Test Unlimited
	pool.SetMaxParallelism(-1)
	count.Store(0)
	var started atomic.Int32
	pool.Saturate(func() {
		started.Add(1)
		runtime.Gosched()
		count.Add(1)
	})
	assert.Greater(t, int(started.Load()), 1)
	assert.Equal(t, count.Load(), started.Load())
}

func TestPool_WaitToStart(t *testing.T) {
	// Disabled parallelism runs the task inline and returns when it finishes.
	pool := New()
	pool.SetMaxParallelism(0)
	ran := false
	pool.WaitToStart(func() { ran = true })
	assert.True(t, ran)

	// When the pool is full, WaitToStart blocks until a running task finishes.
	pool.SetMaxParallelism(1)
	release := xsync.NewLatch()
	for pool.StartIfAvailable(func() { release.Wait() }) {
	}
	startedLate := xsync.NewLatch()
	go func() {
		pool.WaitToStart(func() {})
		startedLate.Trigger()
	}()
	select {
	case <-startedLate.WaitChan():
		t.Fatal("WaitToStart returned while the pool was still full")
	case <-time.After(10 * time.Millisecond):
		// Still blocked.
	}
	release.Trigger()
	select {
	case <-startedLate.WaitChan():
		// Success.
	case <-time.After(100 * time.Millisecond):
		t.Fatal("WaitToStart did not resume after workers freed up")
	}
}

func TestPool_StartIfAvailable(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(1)

	// Fill the pool: with maxParallelism=1 it accepts up to
	// goroutineToParallelismRatio tasks before reporting full.
	release := xsync.NewLatch()
	started := 0
	for pool.StartIfAvailable(func() { release.Wait() }) {
		started++
		if started > 100 {
			t.Fatal("pool never reported full")
		}
	}
	assert.Equal(t, goroutineToParallelismRatio, started)

	// A sleeping worker opens one extra slot.
	pool.WorkerIsAsleep()
	assert.True(t, pool.StartIfAvailable(func() { release.Wait() }))
	assert.False(t, pool.StartIfAvailable(func() { release.Wait() }))
	pool.WorkerRestarted()

	release.Trigger()

	// Disabled pool never starts tasks.
	pool.SetMaxParallelism(0)
	assert.False(t, pool.IsEnabled())
	assert.False(t, pool.StartIfAvailable(func() {}))
}
