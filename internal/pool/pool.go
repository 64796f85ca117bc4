// Package pool implements the worker pool behind the disassembly
// pipeline: a fixed set of workers consuming one growable FIFO queue,
// with drain and shutdown barriers for quiescence and teardown.
package pool

import (
	"errors"
	"sync"
)

// ErrShutdown is returned by Submit once Shutdown has been requested.
var ErrShutdown = errors.New("pool: shutting down")

// Fn is the body of a job. It receives the worker's local slot so that
// jobs can cache expensive state across runs on the same worker.
type Fn func(tl *Local)

// Local is a per-worker storage slot, owned by exactly one worker
// goroutine and never shared. A cleanup hook registered with Store runs
// when the worker exits.
type Local struct {
	value   any
	cleanup func()
}

// Value returns the stored value, or nil if none.
func (tl *Local) Value() any { return tl.value }

// Store replaces the slot's value and cleanup hook. The previous hook
// is not invoked; callers releasing a prior value do so themselves.
func (tl *Local) Store(value any, cleanup func()) {
	tl.value = value
	tl.cleanup = cleanup
}

func (tl *Local) release() {
	if tl.cleanup != nil {
		tl.cleanup()
		tl.cleanup = nil
	}
	tl.value = nil
}

// Pool runs submitted jobs on a fixed set of workers. Submissions never
// block on capacity; the queue grows instead. The zero value is not
// usable; use New.
type Pool struct {
	mu      sync.Mutex
	hasWork sync.Cond
	idle    sync.Cond

	jobs *Ring[Fn]

	// inflight counts jobs accepted by Submit and not yet completed,
	// queued or executing. Drain waits for it to reach zero.
	inflight int

	shutdown bool
	workers  int
	wg       sync.WaitGroup
}

// New creates a pool with n workers. n is clamped to at least 1.
func New(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{
		jobs:    NewRing[Fn](),
		workers: n,
	}
	p.hasWork.L = &p.mu
	p.idle.L = &p.mu
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

// Workers reports the worker count the pool was created with.
func (p *Pool) Workers() int { return p.workers }

func (p *Pool) worker() {
	defer p.wg.Done()
	tl := &Local{}
	defer tl.release()

	for {
		p.mu.Lock()
		for p.jobs.Len() == 0 && !p.shutdown {
			p.hasWork.Wait()
		}
		if p.shutdown && p.jobs.Len() == 0 {
			p.mu.Unlock()
			return
		}
		fn, _ := p.jobs.Pop()
		p.mu.Unlock()

		// Run outside the lock.
		if fn != nil {
			fn(tl)
		}

		p.mu.Lock()
		p.inflight--
		if p.inflight == 0 {
			p.idle.Broadcast()
		}
		p.mu.Unlock()
	}
}

// Submit enqueues a job and wakes one waiting worker. It fails with
// ErrShutdown once Shutdown has been requested and never blocks on
// queue capacity.
func (p *Pool) Submit(fn Fn) error {
	if fn == nil {
		return errors.New("pool: nil job")
	}
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return ErrShutdown
	}
	p.jobs.Push(fn)
	p.inflight++
	p.hasWork.Signal()
	p.mu.Unlock()
	return nil
}

// Drain blocks until no job is queued or executing. It is a
// point-in-time barrier: submissions racing with a drain extend it.
func (p *Pool) Drain() {
	p.mu.Lock()
	for p.inflight != 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

// Shutdown stops accepting new work, wakes all workers, and blocks
// until they exit. Workers finish any queued jobs first; shutdown
// rejects new submissions, it does not discard pending ones. Safe to
// call more than once.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.shutdown {
		p.shutdown = true
		p.hasWork.Broadcast()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Close shuts the pool down and discards anything still queued. After
// a clean Shutdown the queue is already empty; this is a safety net.
func (p *Pool) Close() {
	p.Shutdown()
	p.mu.Lock()
	p.jobs.Reset()
	p.mu.Unlock()
}
