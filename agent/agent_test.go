package agent_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goadesign/agentcore/agent"
	"github.com/goadesign/agentcore/message"
	"github.com/goadesign/agentcore/runtime"
)

func activated(t *testing.T) (context.Context, *runtime.Context) {
	t.Helper()
	rc := runtime.New()
	ctx, err := rc.Activate(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Finalize(ctx) })
	return ctx, rc
}

func payloads(t *testing.T, ctx context.Context, msgs []*message.Message) []string {
	t.Helper()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Payload()
	}
	return out
}

func TestEchoAgentRepliesInInputOrder(t *testing.T) {
	ctx, _ := activated(t)

	echo := agent.New(func(ctx context.Context, ic *agent.InteractionContext, _ map[string]any) error {
		for mp, err := range ic.MessagePromises().All(ctx) {
			if err != nil {
				return err
			}
			m, err := mp.Await(ctx)
			if err != nil {
				return err
			}
			ic.Reply(fmt.Sprintf("You said: %s", m.Payload()))
		}
		return nil
	})

	out, err := echo.Trigger(ctx, []any{"Hello", "World"})
	require.NoError(t, err)

	msgs, err := out.AwaitMessages(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"You said: Hello", "You said: World"}, payloads(t, ctx, msgs))
}

func TestAggregatorRunsSubAgentsConcurrentlyInStrictOrder(t *testing.T) {
	ctx, _ := activated(t)

	a1 := agent.New(func(_ context.Context, ic *agent.InteractionContext, _ map[string]any) error {
		ic.Reply("M1")
		return nil
	})
	a2 := agent.New(func(_ context.Context, ic *agent.InteractionContext, _ map[string]any) error {
		ic.Reply("M2")
		return nil
	})
	agg := agent.New(func(ctx context.Context, ic *agent.InteractionContext, _ map[string]any) error {
		a1out, err := a1.Trigger(ctx, nil)
		if err != nil {
			return err
		}
		a2out, err := a2.Trigger(ctx, nil)
		if err != nil {
			return err
		}
		ic.Reply([]any{a1out, a2out, "M3"})
		ic.Reply("M4")
		return nil
	})

	out, err := agg.Trigger(ctx, nil)
	require.NoError(t, err)

	msgs, err := out.AwaitMessages(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"M1", "M2", "M3", "M4"}, payloads(t, ctx, msgs))
}

func TestReplayYieldsSameMessagesWithoutRerunningProducer(t *testing.T) {
	ctx, _ := activated(t)

	var runs int
	counting := agent.New(func(_ context.Context, ic *agent.InteractionContext, _ map[string]any) error {
		runs++
		ic.Reply("one")
		ic.Reply("two")
		return nil
	})

	out, err := counting.Trigger(ctx, nil)
	require.NoError(t, err)

	firstMps, err := out.Await(ctx)
	require.NoError(t, err)
	first := make([]string, len(firstMps))
	for i, mp := range firstMps {
		m, err := mp.Await(ctx)
		require.NoError(t, err)
		first[i] = m.Payload()
	}

	it := out.Iter()
	var second []string
	for {
		mp, ok, err := it.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		m, err := mp.Await(ctx)
		require.NoError(t, err)
		second = append(second, m.Payload())
	}

	require.Equal(t, []string{"one", "two"}, first)
	require.Equal(t, first, second)
	require.Equal(t, 1, runs)
}

func TestOutOfOrderReplyDeliversFasterSubAgentFirst(t *testing.T) {
	ctx, _ := activated(t)

	gate := make(chan struct{})
	a1 := agent.New(func(ctx context.Context, ic *agent.InteractionContext, _ map[string]any) error {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
		ic.Reply("slow")
		return nil
	})
	a2 := agent.New(func(_ context.Context, ic *agent.InteractionContext, _ map[string]any) error {
		ic.Reply("fast")
		return nil
	})

	agg := agent.New(func(ctx context.Context, ic *agent.InteractionContext, _ map[string]any) error {
		a1out, err := a1.Trigger(ctx, nil)
		if err != nil {
			return err
		}
		a2out, err := a2.Trigger(ctx, nil)
		if err != nil {
			return err
		}
		ic.ReplyOutOfOrder(a1out)
		ic.ReplyOutOfOrder(a2out)
		return nil
	})

	out, err := agg.Trigger(ctx, nil)
	require.NoError(t, err)

	it := out.Iter()
	firstMp, ok, err := it.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	firstMsg, err := firstMp.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, "fast", firstMsg.Payload())

	close(gate)
	secondMp, ok, err := it.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	secondMsg, err := secondMp.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, "slow", secondMsg.Payload())
}

func TestErrorsAsMessagesConvertsUncaughtErrorToMessage(t *testing.T) {
	rc := runtime.New(runtime.WithErrorsAsMessages(true))
	ctx, err := rc.Activate(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Finalize(ctx) })

	boom := errors.New("boom")
	flaky := agent.New(func(_ context.Context, ic *agent.InteractionContext, _ map[string]any) error {
		ic.Reply("ok")
		return boom
	})

	out, err := flaky.Trigger(ctx, nil)
	require.NoError(t, err)

	msgs, err := out.AwaitMessages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "ok", msgs[0].Payload())
	require.Equal(t, "*errors.errorString: boom", msgs[1].Payload())
}
