package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

var ErrClosed = errors.New("worker pool is closed")

// Pool runs CPU-bound jobs on a fixed set of goroutines, separate from
// the goroutines serving network I/O.
type Pool struct {
	workers   int
	jobQueue  chan func()
	quit      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once

	totalJobs     atomic.Int64
	completedJobs atomic.Int64
	activeWorkers atomic.Int64
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Workers       int
	TotalJobs     int64
	CompletedJobs int64
	ActiveWorkers int64
	Queued        int
}

// New creates a pool; workers <= 0 means one per CPU.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Pool{
		workers:  workers,
		jobQueue: make(chan func(), workers*2),
		quit:     make(chan struct{}),
	}
}

// Start launches the workers. Calling it more than once is a no-op.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobQueue:
			p.activeWorkers.Add(1)
			job()
			p.activeWorkers.Add(-1)
			p.completedJobs.Add(1)
		case <-p.quit:
			return
		}
	}
}

// Submit enqueues job, blocking while the queue is full until ctx is done.
func (p *Pool) Submit(ctx context.Context, job func()) error {
	select {
	case <-p.quit:
		return ErrClosed
	default:
	}

	select {
	case p.jobQueue <- job:
		p.totalJobs.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrClosed
	}
}

// Close stops the workers and waits for running jobs to return.
// Jobs still queued are dropped.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:       p.workers,
		TotalJobs:     p.totalJobs.Load(),
		CompletedJobs: p.completedJobs.Load(),
		ActiveWorkers: p.activeWorkers.Load(),
		Queued:        len(p.jobQueue),
	}
}

type result[T any] struct {
	value T
	err   error
}

// Do runs fn on the pool and waits for its result, for ctx to end or for
// the pool to close.
// A panic inside fn is returned as an error. If ctx ends first the job
// still completes in the background and its result is discarded.
func Do[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	done := make(chan result[T], 1)

	job := func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result[T]{err: fmt.Errorf("worker panic: %v", r)}
			}
		}()
		v, err := fn()
		done <- result[T]{value: v, err: err}
	}

	if err := p.Submit(ctx, job); err != nil {
		return zero, err
	}

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-p.quit:
		// a job running at close still delivers; a queued one never will
		p.wg.Wait()
		select {
		case res := <-done:
			return res.value, res.err
		default:
			return zero, ErrClosed
		}
	}
}
