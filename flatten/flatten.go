// Package flatten implements the FlatteningSequence a
// StreamedPromise of MessagePromise values built by walking a heterogeneous,
// possibly-nested input and resolving sub-structures concurrently in the
// background.
//
// Accepted input items (recursively): nil (skipped), *message.Message,
// string, *message.MessagePromise, *message.MessageSequencePromise, a
// *flatten.Sequence (transparent splicing), a []any (a synchronous nested
// list, itself recursively flattened), a *promise.Promise[any] resolving to
// any of the above, and the sentinel.AWAIT/sentinel.CLEAR markers.
package flatten

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/goadesign/agentcore/agenterror"
	"github.com/goadesign/agentcore/message"
	"github.com/goadesign/agentcore/promise"
	"github.com/goadesign/agentcore/sentinel"
)

type declKind int

const (
	declItem declKind = iota
	declAwait
	declClear
	declFail
)

type declaration struct {
	kind       declKind
	item       any
	err        error
	outOfOrder bool
}

// Sequence is a FlatteningSequence: a StreamedPromise of MessagePromise
// values produced by flattening a declared input.
//
// Flush granularity (documented design decision, see DESIGN.md): flattened
// output is handed to the underlying StreamedPromise at each AWAIT
// checkpoint and at end-of-input, not piece by piece as items are declared.
// Background resolution of every declared item still starts immediately on
// declaration, so parallelism is exposed eagerly, at declaration time;
// only the point at which a position's already-resolved pieces become
// visible to the outer stream's iterators is checkpointed. CLEAR drops the
// pending batch: every item declared since the last checkpoint is discarded,
// none of it having reached the output yet. Items already handed over at an
// earlier AWAIT checkpoint stay in the output.
type Sequence struct {
	*promise.StreamedPromise[*message.MessagePromise]
	decls chan declaration
	sched promise.Scheduler
}

// New constructs a Sequence whose producer walks items left to right,
// declaring every item as a strict-order position.
// Sentinel values (sentinel.AWAIT, sentinel.CLEAR) may appear directly in
// items and are honored as declaration-order barriers/resets.
func New(ctx context.Context, items []any, opts ...promise.Option) *Sequence {
	seq := newSequence(ctx, opts...)
	go func() {
		for _, it := range items {
			seq.declare(it, false)
		}
		close(seq.decls)
	}()
	return seq
}

// NewOpen constructs a Sequence fed incrementally through the returned
// Appender, for callers assembling input over time (AgentCall.send_message,
// InteractionContext.reply/reply_out_of_order).
func NewOpen(ctx context.Context, opts ...promise.Option) (*Sequence, *Appender) {
	seq := newSequence(ctx, opts...)
	return seq, &Appender{seq: seq}
}

func newSequence(ctx context.Context, opts ...promise.Option) *Sequence {
	decls := make(chan declaration, 64)
	seq := &Sequence{decls: decls, sched: promise.SchedulerFrom(opts...)}
	seq.StreamedPromise = promise.NewStreamed(ctx, seq.run, opts...)
	return seq
}

func (seq *Sequence) declare(item any, outOfOrder bool) {
	kind := declItem
	if s, ok := item.(sentinel.Sentinel); ok {
		switch s.Kind() {
		case sentinel.KindAwait:
			kind = declAwait
		case sentinel.KindClear:
			kind = declClear
		}
	}
	seq.decls <- declaration{kind: kind, item: item, outOfOrder: outOfOrder}
}

// fail abruptly terminates the sequence with err, bypassing whatever is
// pending since the last checkpoint. Used by agent producer error routing
// to turn an uncaught producer
// error into the output stream's terminal error marker.
func (seq *Sequence) fail(err error) {
	seq.decls <- declaration{kind: declFail, err: err}
}

// group is a maximal run of positions sharing an emission mode: a strict
// group always holds exactly one position; a race group holds one or more
// consecutive out-of-order positions that interleave freely among
// themselves.
type group struct {
	race    bool
	sources []*promise.StreamedPromise[*message.MessagePromise]
}

// run is the Sequence's StreamedPromise producer.
func (seq *Sequence) run(ctx context.Context, appender *promise.StreamAppender[*message.MessagePromise]) error {
	var wg sync.WaitGroup
	var pending []*group

	flush := func() error {
		for _, g := range pending {
			if err := drainGroup(ctx, g, appender); err != nil {
				return err
			}
		}
		pending = pending[:0]
		return nil
	}

	for decl := range seq.decls {
		switch decl.kind {
		case declAwait:
			wg.Wait()
			if err := flush(); err != nil {
				return err
			}
		case declClear:
			pending = pending[:0]
		case declFail:
			return decl.err
		default:
			src, settle := toSpawnedItem(ctx, decl.item, seq.sched)
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = settle(ctx)
			}()
			if decl.outOfOrder && len(pending) > 0 && pending[len(pending)-1].race {
				pending[len(pending)-1].sources = append(pending[len(pending)-1].sources, src)
			} else if decl.outOfOrder {
				pending = append(pending, &group{race: true, sources: []*promise.StreamedPromise[*message.MessagePromise]{src}})
			} else {
				pending = append(pending, &group{sources: []*promise.StreamedPromise[*message.MessagePromise]{src}})
			}
		}
	}
	// No wg.Wait() here: draining a group already blocks until every source
	// in it has produced its terminal event (see drainGroup/drainOne), which
	// is sufficient to guarantee termination. Waiting on settle() first would
	// force every race-group member to finish before ANY of its pieces
	// became visible, defeating true as-ready delivery. settle()/wg are only needed to implement the AWAIT barrier above.
	return flush()
}

// drainGroup delivers a group's pieces to appender. A strict group's single
// source is drained start to finish; a race group interleaves its sources as
// pieces become available, preserving each source's own internal order.
func drainGroup(ctx context.Context, g *group, appender *promise.StreamAppender[*message.MessagePromise]) error {
	if !g.race {
		return drainOne(ctx, g.sources[0], appender)
	}
	// A race group interleaves its sources freely, so the first one to fail
	// should abort the whole group instead of waiting out its slower
	// siblings; errgroup.WithContext gives us that cancellation-on-first-error
	// behavior for free.
	eg, egCtx := errgroup.WithContext(ctx)
	for _, src := range g.sources {
		src := src
		eg.Go(func() error {
			return drainOne(egCtx, src, appender)
		})
	}
	return eg.Wait()
}

func drainOne(ctx context.Context, src *promise.StreamedPromise[*message.MessagePromise], appender *promise.StreamAppender[*message.MessagePromise]) error {
	it := src.Iter()
	for {
		mp, ok, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		appender.Append(mp)
	}
}

// toSpawnedItem classifies item and returns a source stream (used to deliver
// its MessagePromises to the output) and a settle function that blocks until
// the item's own background resolution has fully terminated (used to
// implement the AWAIT barrier; the Sequence does not wait on it at
// end-of-input). sched
// is forwarded to every stream this spawns, so its background goroutine is
// tracked by the same Scheduler as the rest of the Sequence.
func toSpawnedItem(ctx context.Context, item any, sched promise.Scheduler) (*promise.StreamedPromise[*message.MessagePromise], func(context.Context) error) {
	switch v := item.(type) {
	case nil:
		return emptyStream(ctx, sched), noopSettle

	case *message.Message:
		mp := message.Ready(v)
		return singleStream(ctx, sched, mp), settleMessagePromise(mp)

	case string:
		m, err := message.FromString(v)
		if err != nil {
			return errorStream(ctx, sched, err), settleErr(err)
		}
		mp := message.Ready(m)
		return singleStream(ctx, sched, mp), settleMessagePromise(mp)

	case *message.MessagePromise:
		return singleStream(ctx, sched, v), settleMessagePromise(v)

	case *message.MessageSequencePromise:
		return v.StreamedPromise, settleStream(v.StreamedPromise)

	case *Sequence:
		return v.StreamedPromise, settleStream(v.StreamedPromise)

	case []any:
		nested := New(ctx, v, promise.WithScheduler(sched), promise.WithStartSoon(true))
		return nested.StreamedPromise, settleStream(nested.StreamedPromise)

	case *promise.Promise[any]:
		return spliceDeferredPromise(ctx, sched, v)

	case sentinel.Sentinel:
		// Sentinels are only meaningful at declaration level; encountering
		// one nested inside another item is a no-op.
		return emptyStream(ctx, sched), noopSettle

	default:
		err := agenterror.Errorf("flatten: unsupported input item of type %T", v)
		return errorStream(ctx, sched, err), settleErr(err)
	}
}

func noopSettle(context.Context) error { return nil }

func settleErr(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func settleMessagePromise(mp *message.MessagePromise) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := mp.Await(ctx)
		return err
	}
}

func settleStream(sp *promise.StreamedPromise[*message.MessagePromise]) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := sp.Await(ctx)
		return err
	}
}

func emptyStream(ctx context.Context, sched promise.Scheduler) *promise.StreamedPromise[*message.MessagePromise] {
	return promise.NewStreamed(ctx, func(context.Context, *promise.StreamAppender[*message.MessagePromise]) error {
		return nil
	}, promise.WithScheduler(sched), promise.WithStartSoon(true))
}

func errorStream(ctx context.Context, sched promise.Scheduler, err error) *promise.StreamedPromise[*message.MessagePromise] {
	return promise.NewStreamed(ctx, func(context.Context, *promise.StreamAppender[*message.MessagePromise]) error {
		return err
	}, promise.WithScheduler(sched), promise.WithStartSoon(true))
}

func singleStream(ctx context.Context, sched promise.Scheduler, mp *message.MessagePromise) *promise.StreamedPromise[*message.MessagePromise] {
	return promise.NewStreamed(ctx, func(_ context.Context, a *promise.StreamAppender[*message.MessagePromise]) error {
		a.Append(mp)
		return nil
	}, promise.WithScheduler(sched), promise.WithStartSoon(true))
}

// spliceDeferredPromise awaits p in the background and, once it resolves,
// flattens its resolved value in place — transparent splicing, so a Promise
// resolving to another FlatteningSequence incurs no double-flattening
// overhead.
func spliceDeferredPromise(ctx context.Context, sched promise.Scheduler, p *promise.Promise[any]) (*promise.StreamedPromise[*message.MessagePromise], func(context.Context) error) {
	settleCh := make(chan error, 1)
	sp := promise.NewStreamed(ctx, func(ctx context.Context, a *promise.StreamAppender[*message.MessagePromise]) error {
		v, err := p.Await(ctx)
		if err != nil {
			settleCh <- err
			return err
		}
		inner, innerSettle := toSpawnedItem(ctx, v, sched)
		it := inner.Iter()
		for {
			mp, ok, err := it.Next(ctx)
			if err != nil {
				settleCh <- err
				return err
			}
			if !ok {
				break
			}
			a.Append(mp)
		}
		err = innerSettle(ctx)
		settleCh <- err
		return err
	}, promise.WithScheduler(sched), promise.WithStartSoon(true))
	settle := func(ctx context.Context) error {
		select {
		case err := <-settleCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return sp, settle
}
