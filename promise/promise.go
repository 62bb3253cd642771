// Package promise implements the core's single-shot and streamed future
// primitives: Promise[T] and StreamedPromise[T]/StreamAppender[T].
// Both memoize their outcome and run their producer at most
// once regardless of how many callers await or iterate them.
//
// Neither type enforces "active Runtime Context" bookkeeping itself — that
// policy belongs to the runtime package, which supplies a Scheduler so every
// producer task it starts can be joined at finalize().
package promise

import (
	"context"
	"sync"

	"github.com/goadesign/agentcore/agenterror"
)

// Scheduler starts a background task and is responsible for tracking it to
// completion. A Runtime Context is the canonical Scheduler: it joins every
// task it started during Context.Finalize.
type Scheduler interface {
	Go(fn func())
}

// Resolver produces the value or error a Promise resolves to.
type Resolver[T any] func(ctx context.Context) (T, error)

// Setter resolves a deferred Promise exactly once. A second call returns
// agenterror.ErrInvariantViolation and is otherwise ignored:
// "a Promise resolves at most once".
type Setter[T any] func(value T, err error) error

type options struct {
	scheduler Scheduler
	startSoon bool
}

// Option configures Promise/StreamedPromise construction.
type Option func(*options)

// WithScheduler supplies the Scheduler used to run the producer in the
// background, whether it starts eagerly (WithStartSoon(true)) or on first
// access.
func WithScheduler(s Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithStartSoon controls eager ("start-soon") scheduling: when true, the
// producer is dispatched to the Scheduler immediately at construction rather
// than waiting for first access. This is the start_soon_default policy,
// applied per-call.
func WithStartSoon(b bool) Option {
	return func(o *options) { o.startSoon = b }
}

// SchedulerFrom applies opts and returns the Scheduler they configure, or nil
// if none was set. Lets package-internal code that spawns further
// Promises/StreamedPromises on behalf of a caller forward the same Scheduler
// without needing the caller to pass it twice.
func SchedulerFrom(opts ...Option) Scheduler {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o.scheduler
}

// Promise is a single-value future with memoized resolution and exception
// capture. The zero value is not usable; construct with New,
// Resolved, Failed, or NewDeferred.
type Promise[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	started  bool
	resolved bool
	value    T
	err      error
	resolver Resolver[T]
	ctx      context.Context
	sched    Scheduler
}

// New constructs a Promise backed by resolver. Unless WithStartSoon(true) is
// given, resolver runs lazily on first Await.
func New[T any](ctx context.Context, resolver Resolver[T], opts ...Option) *Promise[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	p := &Promise[T]{
		done:     make(chan struct{}),
		resolver: resolver,
		ctx:      ctx,
		sched:    o.scheduler,
	}
	if o.startSoon {
		p.ensureStarted()
	}
	return p
}

// Resolved returns a Promise that is already resolved to value.
func Resolved[T any](value T) *Promise[T] {
	p, set := NewDeferred[T](context.Background())
	_ = set(value, nil)
	return p
}

// Failed returns a Promise that is already resolved to err.
func Failed[T any](err error) *Promise[T] {
	var zero T
	p, set := NewDeferred[T](context.Background())
	_ = set(zero, err)
	return p
}

// NewDeferred returns a Promise with no resolver and the Setter used to
// resolve it externally — the NO_VALUE placeholder pattern.
func NewDeferred[T any](ctx context.Context) (*Promise[T], Setter[T]) {
	p := &Promise[T]{done: make(chan struct{}), ctx: ctx, started: true}
	set := func(value T, err error) error {
		p.mu.Lock()
		if p.resolved {
			p.mu.Unlock()
			return agenterror.Wrapf(agenterror.ErrInvariantViolation, "promise already resolved")
		}
		p.value, p.err, p.resolved = value, err, true
		p.mu.Unlock()
		close(p.done)
		return nil
	}
	return p, set
}

// ensureStarted dispatches the resolver exactly once, on the Scheduler if one
// was configured, otherwise on an ordinary goroutine.
func (p *Promise[T]) ensureStarted() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	run := p.run
	if p.sched != nil {
		p.sched.Go(run)
		return
	}
	go run()
}

func (p *Promise[T]) run() {
	value, err := p.callResolver()
	p.mu.Lock()
	p.value, p.err, p.resolved = value, err, true
	p.mu.Unlock()
	close(p.done)
}

func (p *Promise[T]) callResolver() (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = agenterror.Errorf("promise resolver panicked: %v", r)
		}
	}()
	return p.resolver(p.ctx)
}

// Await blocks until the Promise resolves, returning its memoized value or
// re-raising its memoized error. Concurrent awaiters share the same outcome.
// If ctx is cancelled before resolution, Await returns ctx.Err() without
// affecting the Promise's own resolution.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	p.ensureStarted()
	select {
	case <-p.done:
		p.mu.Lock()
		value, err := p.value, p.err
		p.mu.Unlock()
		return value, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel closed once the Promise has resolved, for use in
// select statements alongside other readiness signals.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}
