package engine

import (
	"context"
	"sync"

	"github.com/sagaforge/sagaforge/pkg/logger"
)

// Pool is a fixed-size worker pool with a bounded queue. When the queue is
// full the submitting goroutine runs the task itself, so load sheds onto
// callers instead of growing unbounded.
type Pool struct {
	name    string
	tasks   chan func()
	wg      sync.WaitGroup
	stopped chan struct{}
	once    sync.Once
}

// NewPool creates and starts a pool of workers draining a queue of the
// given capacity.
func NewPool(name string, workers, queue int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = workers
	}
	p := &Pool{
		name:    name,
		tasks:   make(chan func(), queue),
		stopped: make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopped:
			return
		case task := <-p.tasks:
			task()
		}
	}
}

// Submit enqueues the task. It returns false when the queue is full or the
// pool is shut down; the caller is then expected to run the task itself.
func (p *Pool) Submit(task func()) bool {
	select {
	case <-p.stopped:
		return false
	default:
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Do runs the task on the pool, falling back to the calling goroutine when
// the queue is saturated.
func (p *Pool) Do(task func()) {
	if !p.Submit(task) {
		logger.Debug("pool saturated, running on caller", "pool", p.name)
		task()
	}
}

// Run executes the task on the pool and blocks until it finishes or ctx
// ends. The task keeps running even if the caller gives up waiting.
func (p *Pool) Run(ctx context.Context, task func()) error {
	done := make(chan struct{})
	p.Do(func() {
		defer close(done)
		task()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Shutdown stops the workers after the in-flight tasks finish. Queued tasks
// that no worker picked up are dropped.
func (p *Pool) Shutdown() {
	p.once.Do(func() {
		close(p.stopped)
	})
	p.wg.Wait()
}
