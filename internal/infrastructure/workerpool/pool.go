// Package workerpool runs blocking jobs on a fixed set of goroutines.
// Submissions never block: jobs beyond the pool size wait in an unbounded FIFO backlog.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/turtacn/certforge/internal/domain/service"
	"github.com/turtacn/certforge/pkg/errors"
	"github.com/turtacn/certforge/pkg/logger"
)

// Job is one unit of work. Run executes on a worker goroutine. Drop, when set, is called
// instead of (or after a panicking) Run with the reason the job did not complete.
type Job struct {
	Run  func()
	Drop func(err error)
}

// Pool is a fixed-size worker pool.
type Pool struct {
	size    int
	logger  logger.Logger
	metrics service.Metrics

	mu      sync.Mutex
	cond    *sync.Cond
	backlog *linkedlistqueue.Queue
	closed  bool

	busy    atomic.Int64
	workers *conc.WaitGroup
}

// New starts a pool of size workers.
func New(size int, metrics service.Metrics, log logger.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	p := &Pool{
		size:    size,
		logger:  log.WithComponent("workerpool"),
		metrics: metrics,
		backlog: linkedlistqueue.New(),
		workers: conc.NewWaitGroup(),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < size; i++ {
		p.workers.Go(p.work)
	}

	p.logger.Info(context.Background(), "Worker pool started", logger.Int("size", size))
	return p
}

// Submit enqueues job and returns immediately.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.ErrPoolClosed
	}
	p.backlog.Enqueue(job)
	p.metrics.SetPoolBacklog(p.backlog.Size())
	p.cond.Signal()
	return nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Backlog returns the number of jobs waiting for a worker.
func (p *Pool) Backlog() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backlog.Size()
}

// Busy returns the number of workers currently running a job.
func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

// Close stops accepting jobs, drops the backlog and waits for running jobs to finish.
// Dropped jobs have Drop called with errors.ErrPoolClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	dropped := make([]Job, 0, p.backlog.Size())
	for {
		v, ok := p.backlog.Dequeue()
		if !ok {
			break
		}
		dropped = append(dropped, v.(Job))
	}
	p.metrics.SetPoolBacklog(0)
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, job := range dropped {
		if job.Drop != nil {
			job.Drop(errors.ErrPoolClosed)
		}
	}

	p.workers.Wait()
	p.logger.Info(context.Background(), "Worker pool stopped", logger.Int("dropped_jobs", len(dropped)))
}

func (p *Pool) work() {
	for {
		job, ok := p.next()
		if !ok {
			return
		}
		p.run(job)
	}
}

func (p *Pool) next() (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.backlog.Empty() && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return Job{}, false
	}
	v, _ := p.backlog.Dequeue()
	p.metrics.SetPoolBacklog(p.backlog.Size())
	return v.(Job), true
}

func (p *Pool) run(job Job) {
	p.busy.Add(1)
	defer p.busy.Add(-1)

	var pc panics.Catcher
	pc.Try(job.Run)
	if r := pc.Recovered(); r != nil {
		err := errors.Wrap(r.AsError(), errors.CodeIssuanceFailed, "job panicked")
		p.logger.Error(context.Background(), "Worker job panicked", err)
		if job.Drop != nil {
			job.Drop(err)
		}
	}
}
