package bridge

import (
	"sync"
	"sync/atomic"
)

// Pool queue sizing.
const (
	// defaultWorkerCount is the number of concurrent workers when the
	// configuration leaves it unset.
	defaultWorkerCount = 2

	// taskQueueSize is the buffer size for pending units of work.
	taskQueueSize = 64
)

// Pool is a bounded worker pool. Scan and device-command units of work run
// here so the bus's message-delivery callback never blocks on device I/O.
type Pool struct {
	tasks chan func()

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	dropped atomic.Uint64
}

// NewPool creates and starts a pool with the given number of workers.
// A count ≤ 0 falls back to the default.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = defaultWorkerCount
	}

	p := &Pool{
		tasks: make(chan func(), taskQueueSize),
		done:  make(chan struct{}),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

// Submit queues a unit of work. Returns ErrQueueFull when the pending
// queue is at capacity and ErrStopped after Stop — the caller publishes
// the error rather than blocking the delivery path.
func (p *Pool) Submit(task func()) error {
	select {
	case <-p.done:
		return ErrStopped
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// Stop shuts the pool down. In-flight tasks run to completion; queued
// tasks not yet started are discarded. Safe to call multiple times.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

// Dropped returns the number of tasks rejected because the queue was full.
func (p *Pool) Dropped() uint64 {
	return p.dropped.Load()
}

// worker executes queued tasks until shutdown.
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case task := <-p.tasks:
			task()
		}
	}
}
