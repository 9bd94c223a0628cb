package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatchWorkerRunsSubmittedJobs(t *testing.T) {
	worker := NewDispatchWorker(2)
	worker.Start()

	var ran int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		worker.Submit("count", func(ctx context.Context) error {
			defer wg.Done()
			atomic.AddInt64(&ran, 1)
			return nil
		})
	}
	wg.Wait()
	worker.Stop()

	assert.Equal(t, int64(20), atomic.LoadInt64(&ran))
}

func TestDispatchWorkerStopDrainsInFlight(t *testing.T) {
	worker := NewDispatchWorker(1)
	worker.Start()

	var ran int64
	worker.Submit("slow", func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	})
	worker.Stop()

	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
}

func TestDispatchWorkerDropsAfterStop(t *testing.T) {
	worker := NewDispatchWorker(1)
	worker.Start()
	worker.Stop()

	// Must not panic or block.
	worker.Submit("late", func(ctx context.Context) error {
		t.Fatal("job submitted after stop must not run")
		return nil
	})
}

func TestDispatchWorkerSubmitDuringStopIsSafe(t *testing.T) {
	worker := NewDispatchWorker(2)
	worker.Start()

	// Hammer Submit from several goroutines while Stop runs. Any ordering
	// must end with a drop or a run, never a panic.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				worker.Submit("racing", func(ctx context.Context) error { return nil })
			}
		}()
	}
	worker.Stop()
	wg.Wait()
}

func TestDispatchWorkerFailuresDoNotPropagate(t *testing.T) {
	worker := NewDispatchWorker(1)
	worker.Start()

	var wg sync.WaitGroup
	wg.Add(2)
	worker.Submit("failing", func(ctx context.Context) error {
		defer wg.Done()
		return assert.AnError
	})
	worker.Submit("following", func(ctx context.Context) error {
		defer wg.Done()
		return nil
	})
	wg.Wait()
	worker.Stop()
}
