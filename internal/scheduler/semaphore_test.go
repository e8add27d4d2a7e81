package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSemaphore_LimitsConcurrency(t *testing.T) {
	sem := NewSemaphore(3)

	var maxConcurrent int32
	var current int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !sem.Acquire(context.Background()) {
				t.Error("Acquire failed unexpectedly")
				return
			}

			c := atomic.AddInt32(&current, 1)
			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if c <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, c) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			sem.Release()
		}()
	}
	wg.Wait()

	if maxConcurrent > 3 {
		t.Errorf("Max concurrent %d exceeded semaphore limit 3", maxConcurrent)
	}
}

func TestSemaphore_Nil(t *testing.T) {
	var sem *Semaphore

	if !sem.Acquire(context.Background()) {
		t.Error("nil semaphore Acquire should return true")
	}
	if !sem.TryAcquire() {
		t.Error("nil semaphore TryAcquire should return true")
	}
	sem.Release()

	if sem.Capacity() != 0 {
		t.Errorf("nil semaphore capacity should be 0, got %d", sem.Capacity())
	}
}

func TestSemaphore_TryAcquire(t *testing.T) {
	sem := NewSemaphore(1)
	if !sem.TryAcquire() {
		t.Fatal("first TryAcquire should succeed")
	}
	if sem.TryAcquire() {
		t.Error("TryAcquire on a full semaphore should fail")
	}
	sem.Release()
	if !sem.TryAcquire() {
		t.Error("TryAcquire after Release should succeed")
	}
}

func TestSemaphore_ContextCancellation(t *testing.T) {
	sem := NewSemaphore(1)
	sem.Acquire(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if sem.Acquire(ctx) {
		t.Error("Acquire should return false when context is cancelled")
		sem.Release()
	}
	sem.Release()
}

func TestNewSemaphore_ZeroOrNegative(t *testing.T) {
	if NewSemaphore(0) != nil {
		t.Error("NewSemaphore(0) should return nil")
	}
	if NewSemaphore(-1) != nil {
		t.Error("NewSemaphore(-1) should return nil")
	}
}
