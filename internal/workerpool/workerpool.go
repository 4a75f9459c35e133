// Package workerpool implements the bounded thread pool (C3) that every
// short-lived task in the core routes through. Detached goroutines are
// forbidden in the core; this is the one place fire-and-forget work is
// allowed to live, and even there it is owned and drained on shutdown.
package workerpool

import (
	"context"
	"sync"

	"github.com/edgevision/aibox/internal/apperrors"
)

// Future is the handle returned by Submit; call Wait to block for the result.
type Future[T any] struct {
	done   chan struct{}
	result T
	err    error
}

// Wait blocks until the task completes or ctx is done, whichever comes
// first. If ctx is nil, it blocks unconditionally.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	if ctx == nil {
		<-f.done
		return f.result, f.err
	}
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

type job struct {
	run func()
}

// Pool is a fixed-size worker pool with a bounded job queue.
type Pool struct {
	jobs    chan job
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// New starts a Pool with the given worker count and job queue capacity.
func New(workers, queueCap int) *Pool {
	p := &Pool{jobs: make(chan job, queueCap)}
	p.wg.Add(workers)
	for range workers {
		go p.loop()
	}
	return p
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for j := range p.jobs {
		j.run()
	}
}

// Submit enqueues fn, returning its Future. Returns ResourceExhausted
// immediately (does not block) if the queue is saturated or the pool is
// shut down.
func Submit[T any](p *Pool, fn func() (T, error)) (*Future[T], error) {
	fut := &Future[T]{done: make(chan struct{})}

	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil, apperrors.New(apperrors.ResourceExhausted, "workerpool.Submit", nil)
	}

	j := job{run: func() {
		fut.result, fut.err = fn()
		close(fut.done)
	}}

	select {
	case p.jobs <- j:
		p.closeMu.Unlock()
		return fut, nil
	default:
		p.closeMu.Unlock()
		return nil, apperrors.New(apperrors.ResourceExhausted, "workerpool.Submit", nil)
	}
}

// Shutdown closes the job queue and blocks until all in-flight and queued
// jobs have drained. After Shutdown, Submit always returns ResourceExhausted.
func (p *Pool) Shutdown() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.closeMu.Unlock()

	p.wg.Wait()
}
