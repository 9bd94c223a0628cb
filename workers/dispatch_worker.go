package workers

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	dispatchQueueSize  = 1024
	dispatchJobTimeout = 10 * time.Second
)

type dispatchJob struct {
	name string
	fn   func(ctx context.Context) error
}

// DispatchWorker runs fire-and-forget jobs off the request path. Secondary
// writes (notification log appends, roster flag mirrors, push delivery) go
// through here so a slow or failing side effect never delays a lifecycle
// transition. Failures are logged and dropped; everything submitted must be
// safe to lose.
type DispatchWorker struct {
	jobs    chan dispatchJob
	workers int

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

func NewDispatchWorker(workers int) *DispatchWorker {
	if workers <= 0 {
		workers = 4
	}
	return &DispatchWorker{
		jobs:    make(chan dispatchJob, dispatchQueueSize),
		workers: workers,
		stopped: make(chan struct{}),
	}
}

// Start spins up the worker pool. Workers drain until Stop closes the
// queue.
func (dw *DispatchWorker) Start() {
	for i := 0; i < dw.workers; i++ {
		dw.wg.Add(1)
		go dw.run()
	}
	logrus.Infof("Dispatch worker started with %d workers", dw.workers)
}

// Stop signals shutdown and waits for the workers to drain the queue. The
// jobs channel is never closed, so a Submit racing Stop cannot panic; at
// worst its job stays queued and unread.
func (dw *DispatchWorker) Stop() {
	dw.stopOnce.Do(func() {
		close(dw.stopped)
	})
	dw.wg.Wait()
	logrus.Info("Dispatch worker stopped")
}

// Submit queues a job without blocking. When the queue is full or the pool
// is stopping the job is dropped with a log line.
func (dw *DispatchWorker) Submit(name string, fn func(ctx context.Context) error) {
	select {
	case <-dw.stopped:
		logrus.Warnf("Dispatch job %s dropped: pool stopping", name)
		return
	default:
	}

	select {
	case dw.jobs <- dispatchJob{name: name, fn: fn}:
	case <-dw.stopped:
		logrus.Warnf("Dispatch job %s dropped: pool stopping", name)
	default:
		logrus.Warnf("Dispatch job %s dropped: queue full", name)
	}
}

func (dw *DispatchWorker) run() {
	defer dw.wg.Done()
	for {
		select {
		case job := <-dw.jobs:
			dw.execute(job)
		case <-dw.stopped:
			for {
				select {
				case job := <-dw.jobs:
					dw.execute(job)
				default:
					return
				}
			}
		}
	}
}

func (dw *DispatchWorker) execute(job dispatchJob) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchJobTimeout)
	defer cancel()
	if err := job.fn(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"job":   job.name,
			"error": err.Error(),
		}).Warn("Dispatch job failed")
	}
}
