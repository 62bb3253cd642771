package promise

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/goadesign/agentcore/agenterror"
)

// Producer emits pieces through a into a StreamedPromise and terminates,
// normally or by returning an error. A producer must not be called more than
// once; the StreamedPromise guarantees this.
type Producer[T any] func(ctx context.Context, a *StreamAppender[T]) error

// StreamedPromise is a lazily-produced, replayable sequence of pieces.
// Every independent Iter() call observes the full piece sequence from
// the beginning, even if obtained after the producer has already completed.
// The producer runs at most once across all consumers.
type StreamedPromise[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pieces   []T
	closed   bool
	err      error
	started  bool
	producer Producer[T]
	ctx      context.Context
	sched    Scheduler
}

// NewStreamed constructs a StreamedPromise backed by producer. Unless
// WithStartSoon(true) is given, the producer runs lazily, starting on the
// first Iter or Await call.
func NewStreamed[T any](ctx context.Context, producer Producer[T], opts ...Option) *StreamedPromise[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	sp := &StreamedPromise[T]{producer: producer, ctx: ctx, sched: o.scheduler}
	sp.cond = sync.NewCond(&sp.mu)
	if o.startSoon {
		sp.ensureStarted()
	}
	return sp
}

func (sp *StreamedPromise[T]) ensureStarted() {
	sp.mu.Lock()
	if sp.started {
		sp.mu.Unlock()
		return
	}
	sp.started = true
	sp.mu.Unlock()

	run := sp.runProducer
	if sp.sched != nil {
		sp.sched.Go(run)
		return
	}
	go run()
}

// runProducer is the single entry point that ever invokes the producer. It
// captures every exception the producer raises — including a panic — and
// converts it into a terminal error append, per the critical
// handling rule: a missed terminator would strand iterators blocked on the
// condition variable forever.
func (sp *StreamedPromise[T]) runProducer() {
	appender := &StreamAppender[T]{sp: sp}
	err := sp.callProducer(appender)

	sp.mu.Lock()
	closed := sp.closed
	sp.mu.Unlock()
	if closed {
		return
	}
	if err != nil {
		// A producer stopped by the cancellation of its own context (Runtime
		// Context teardown) ends with ErrStreamCancelled, still wrapping the
		// context error.
		if errors.Is(err, context.Canceled) && sp.ctx != nil && sp.ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", agenterror.ErrStreamCancelled, err)
		}
		appender.AppendError(err)
		return
	}
	appender.Close()
}

func (sp *StreamedPromise[T]) callProducer(a *StreamAppender[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = agenterror.Errorf("stream producer panicked: %v", r)
		}
	}()
	if sp.producer == nil {
		return nil
	}
	return sp.producer(sp.ctx, a)
}

// Iter returns a fresh iterator over the piece sequence, starting the
// producer if it has not already started. Each iterator tracks its own
// cursor; slow iterators never block the producer or other iterators.
func (sp *StreamedPromise[T]) Iter() *Iterator[T] {
	sp.ensureStarted()
	return &Iterator[T]{sp: sp}
}

// Await drains the producer to completion and returns every piece it
// emitted, or the terminal error if one was appended.
func (sp *StreamedPromise[T]) Await(ctx context.Context) ([]T, error) {
	it := sp.Iter()
	var out []T
	for {
		v, ok, err := it.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}

// All returns a range-over-func sequence over the pieces, for
// `for piece, err := range sp.All(ctx)` call sites.
func (sp *StreamedPromise[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		it := sp.Iter()
		for {
			v, ok, err := it.Next(ctx)
			if err != nil {
				yield(v, err)
				return
			}
			if !ok {
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Iterator walks a StreamedPromise's piece log from its own cursor. Iterators
// obtained at different times, or advanced at different rates, never
// interfere with one another.
type Iterator[T any] struct {
	sp  *StreamedPromise[T]
	pos int
}

// Next blocks until a piece is available at the iterator's cursor, the
// stream terminates, or ctx is cancelled. ok is false at normal end of
// stream (err is nil) or when err is the terminal stream error.
func (it *Iterator[T]) Next(ctx context.Context) (piece T, ok bool, err error) {
	sp := it.sp

	if done := ctx.Done(); done != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-done:
				sp.mu.Lock()
				sp.cond.Broadcast()
				sp.mu.Unlock()
			case <-stop:
			}
		}()
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()
	for it.pos >= len(sp.pieces) && !sp.closed {
		if cerr := ctx.Err(); cerr != nil {
			var zero T
			return zero, false, cerr
		}
		sp.cond.Wait()
	}
	if it.pos < len(sp.pieces) {
		v := sp.pieces[it.pos]
		it.pos++
		return v, true, nil
	}
	var zero T
	return zero, false, sp.err
}

// StreamAppender is the push handle a producer uses to feed a StreamedPromise
// one piece at a time. Append never blocks; Close and
// AppendError are terminal and idempotent — calls after the first terminal
// event are ignored.
type StreamAppender[T any] struct {
	sp *StreamedPromise[T]
}

// Append schedules piece for delivery to every iterator. It never blocks and
// is a no-op after a terminal event.
func (a *StreamAppender[T]) Append(piece T) {
	sp := a.sp
	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return
	}
	sp.pieces = append(sp.pieces, piece)
	sp.mu.Unlock()
	sp.cond.Broadcast()
}

// AppendError terminates the stream with a terminal error, re-raised by every
// iterator once it reaches this position. A no-op after the first terminal
// event.
func (a *StreamAppender[T]) AppendError(err error) {
	sp := a.sp
	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return
	}
	sp.err = err
	sp.closed = true
	sp.mu.Unlock()
	sp.cond.Broadcast()
}

// Close terminates the stream normally. A no-op after the first terminal
// event.
func (a *StreamAppender[T]) Close() {
	sp := a.sp
	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return
	}
	sp.closed = true
	sp.mu.Unlock()
	sp.cond.Broadcast()
}
