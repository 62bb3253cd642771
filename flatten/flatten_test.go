package flatten_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goadesign/agentcore/flatten"
	"github.com/goadesign/agentcore/message"
	"github.com/goadesign/agentcore/promise"
	"github.com/goadesign/agentcore/sentinel"
)

func mustText(payload string) *message.Message {
	m, err := message.NewText(message.RoleAssistant, payload)
	if err != nil {
		panic(err)
	}
	return m
}

func gatedMessagePromise(gate <-chan struct{}, payload string) *message.MessagePromise {
	resolver := func(ctx context.Context) (*message.Message, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return message.NewText(message.RoleAssistant, payload)
	}
	return message.NewMessagePromise(context.Background(), resolver, nil, nil, promise.WithStartSoon(true))
}

func readyMessagePromise(payload string) *message.MessagePromise {
	return message.Ready(mustText(payload))
}

func payloadsOf(t *testing.T, ctx context.Context, mps []*message.MessagePromise) []string {
	t.Helper()
	out := make([]string, 0, len(mps))
	for _, mp := range mps {
		m, err := mp.Await(ctx)
		require.NoError(t, err)
		out = append(out, m.Payload())
	}
	return out
}

func TestSequenceStrictOrderPreservesDeclarationOrder(t *testing.T) {
	ctx := context.Background()
	seq := flatten.New(ctx, []any{"one", "two", "three"})

	mps, err := seq.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two", "three"}, payloadsOf(t, ctx, mps))
}

func TestSequenceAwaitIgnoresEarlierItemsAfterClear(t *testing.T) {
	ctx := context.Background()
	seq, a := flatten.NewOpen(ctx)
	a.ReplyStrict("discarded-one")
	a.ReplyStrict("discarded-two")
	a.ReplyStrict(sentinel.CLEAR)
	a.ReplyStrict("kept")
	a.Close()

	mps, err := seq.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"kept"}, payloadsOf(t, ctx, mps))
}

func TestSequenceAwaitBarrierOrdersBeforeLaterItem(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	slow := gatedMessagePromise(gate, "slow")

	seq, a := flatten.NewOpen(ctx)
	a.ReplyStrict(slow)
	a.ReplyStrict(sentinel.AWAIT)
	a.ReplyStrict("marker")
	a.Close()

	done := make(chan struct{})
	var mps []*message.MessagePromise
	var err error
	go func() {
		mps, err = seq.Await(ctx)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("sequence completed before the gated item was released")
	case <-time.After(20 * time.Millisecond):
	}

	close(gate)
	<-done

	require.NoError(t, err)
	require.Equal(t, []string{"slow", "marker"}, payloadsOf(t, ctx, mps))
}

func TestSequenceOutOfOrderRacesWithinBracket(t *testing.T) {
	ctx := context.Background()
	gateSlow := make(chan struct{})
	slow := gatedMessagePromise(gateSlow, "slow")
	fast := readyMessagePromise("fast")

	seq, a := flatten.NewOpen(ctx)
	a.ReplyOutOfOrder(slow)
	a.ReplyOutOfOrder(fast)
	a.Close()

	close(gateSlow) // let slow proceed; fast was already resolved

	mps, err := seq.Await(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"slow", "fast"}, payloadsOf(t, ctx, mps))
}

func TestSequenceSplicesNestedListsAndPromises(t *testing.T) {
	ctx := context.Background()
	inner := []any{"a", "b"}
	deferredMsg := promise.New[any](ctx, func(ctx context.Context) (any, error) {
		return mustText("c"), nil
	})

	seq := flatten.New(ctx, []any{inner, deferredMsg})

	mps, err := seq.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, payloadsOf(t, ctx, mps))
}

func TestSequencePropagatesNestedSequenceError(t *testing.T) {
	ctx := context.Background()
	boom := errBoom{}
	failing := promise.NewStreamed(ctx, func(ctx context.Context, a *promise.StreamAppender[*message.MessagePromise]) error {
		return boom
	})
	nested := message.NewMessageSequencePromise(failing)

	seq := flatten.New(ctx, []any{"ok", nested})

	_, err := seq.Await(ctx)
	require.ErrorIs(t, err, boom)
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
