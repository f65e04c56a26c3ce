// Package pool runs encoded tasks across a fixed set of worker goroutines,
// each owning one isolated runtime for its entire life. A worker that fails
// to initialize breaks the whole pool: pending work is failed fast and
// further submissions are refused until a new pool is built.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/seantiz/enclave/internal/channel"
	"github.com/seantiz/enclave/internal/sandbox"
	"github.com/seantiz/enclave/internal/task"
	"github.com/seantiz/enclave/internal/worker"
)

// ErrClosed is returned by Submit after Shutdown has been called.
var ErrClosed = errors.New("pool is shut down")

// BrokenPoolError signals that a worker context could not be initialized
// and the pool is permanently unusable.
type BrokenPoolError struct {
	Cause error
}

func (e *BrokenPoolError) Error() string {
	return fmt.Sprintf("pool is broken: %v", e.Cause)
}

func (e *BrokenPoolError) Unwrap() error { return e.Cause }

// Config parameterizes a pool. Size defaults to 1 worker and QueueDepth to
// twice the worker count.
type Config struct {
	Size       int
	QueueDepth int

	// Initializer runs once in every worker context before it accepts
	// tasks. Shared is injected into every context as restricted bindings.
	Initializer any
	InitArgs    []any
	Shared      map[string]any
}

// Future is the pool's handle to one submitted task.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(value any, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the task has finished or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return f.value, f.err
	}
}

type item struct {
	blob task.Encoded
	fut  *Future
}

// Pool executes tasks on a fixed number of isolated worker contexts.
type Pool struct {
	factory worker.Factory
	encode  worker.EncodeFunc

	tasks chan item
	quit  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	cause  error // non-nil once broken
	closed bool
}

// New builds and starts a pool. The initializer and shared mapping are
// validated and encoded up front, so a bad initializer fails here rather
// than inside every worker.
func New(sb sandbox.Service, ch *channel.Service, cfg Config) (*Pool, error) {
	size := cfg.Size
	if size <= 0 {
		size = 1
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = size * 2
	}

	factory, encode, err := worker.Prepare(sb, ch, cfg.Initializer, cfg.InitArgs, cfg.Shared)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		factory: factory,
		encode:  encode,
		tasks:   make(chan item, depth),
		quit:    make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.work()
		}()
	}
	return p, nil
}

func (p *Pool) work() {
	activeWorkers.Inc()
	defer activeWorkers.Dec()

	c := p.factory()
	if err := c.Initialize(); err != nil {
		contextsInitialized.WithLabelValues(statusFailed).Inc()
		p.markBroken(err)
		return
	}
	contextsInitialized.WithLabelValues(statusReady).Inc()
	defer c.Finalize()

	for {
		select {
		case <-p.quit:
			return
		case it, ok := <-p.tasks:
			if !ok {
				return
			}
			start := time.Now()
			value, err := c.Run(it.blob)
			taskDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				tasksTotal.WithLabelValues(outcomeFailed).Inc()
			} else {
				tasksTotal.WithLabelValues(outcomeCompleted).Inc()
			}
			it.fut.resolve(value, err)
		}
	}
}

// markBroken records the first initialization failure, stops every worker,
// and fails all queued futures.
func (p *Pool) markBroken(cause error) {
	p.mu.Lock()
	if p.cause != nil {
		p.mu.Unlock()
		return
	}
	p.cause = cause
	close(p.quit)
	p.mu.Unlock()

	poolBreaks.Inc()
	broken := &BrokenPoolError{Cause: cause}
	for {
		select {
		case it, ok := <-p.tasks:
			if !ok {
				return
			}
			it.fut.resolve(nil, broken)
		default:
			return
		}
	}
}

// Submit encodes one task and queues it for execution. Encoding failures
// surface here, synchronously, before any worker is involved.
func (p *Pool) Submit(fn any, args []any, kwargs map[string]any) (*Future, error) {
	blob, err := p.encode(fn, args, kwargs)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.cause != nil {
		err := &BrokenPoolError{Cause: p.cause}
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()

	fut := newFuture()
	select {
	case p.tasks <- item{blob: blob, fut: fut}:
		// The queue drain in markBroken may already have run; a break
		// observed now must still fail this future.
		p.mu.Lock()
		cause := p.cause
		p.mu.Unlock()
		if cause != nil {
			fut.resolve(nil, &BrokenPoolError{Cause: cause})
		}
	case <-p.quit:
		p.mu.Lock()
		cause := p.cause
		p.mu.Unlock()
		fut.resolve(nil, &BrokenPoolError{Cause: cause})
	}
	return fut, nil
}

// Broken reports the initialization failure that broke the pool, or nil.
func (p *Pool) Broken() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cause == nil {
		return nil
	}
	return &BrokenPoolError{Cause: p.cause}
}

// Shutdown stops accepting submissions. Queued tasks still run; when wait
// is true Shutdown blocks until every worker has drained and finalized its
// context.
func (p *Pool) Shutdown(wait bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if wait {
			p.wg.Wait()
		}
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	if wait {
		p.wg.Wait()
	}
}
