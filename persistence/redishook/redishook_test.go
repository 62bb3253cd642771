package redishook_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/goadesign/agentcore/message"
	"github.com/goadesign/agentcore/persistence/redishook"
	"github.com/goadesign/agentcore/runtime"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestPublishAndTailRoundTrips(t *testing.T) {
	ctx := context.Background()
	rdb := setupRedis(t)
	sink := redishook.New(rdb, redishook.Options{StreamKey: "test:messages"})

	m, err := message.NewText(message.RoleUser, "hello there")
	require.NoError(t, err)
	require.NoError(t, sink.Publish(ctx, m))

	reg := message.NewTypeRegistry()
	msgs, lastID, err := redishook.Tail(ctx, rdb, sink.StreamKey(), "0", 0, reg)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello there", msgs[0].Payload())
	require.NotEqual(t, "0", lastID)
}

func TestTailResumesFromLastID(t *testing.T) {
	ctx := context.Background()
	rdb := setupRedis(t)
	sink := redishook.New(rdb, redishook.Options{StreamKey: "test:resume"})
	reg := message.NewTypeRegistry()

	first, err := message.NewText(message.RoleUser, "first")
	require.NoError(t, err)
	require.NoError(t, sink.Publish(ctx, first))

	msgs, lastID, err := redishook.Tail(ctx, rdb, sink.StreamKey(), "0", 0, reg)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	second, err := message.NewText(message.RoleUser, "second")
	require.NoError(t, err)
	require.NoError(t, sink.Publish(ctx, second))

	msgs, _, err = redishook.Tail(ctx, rdb, sink.StreamKey(), lastID, 0, reg)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "second", msgs[0].Payload())
}

func TestHookFeedsRuntimePersistenceHook(t *testing.T) {
	ctx := context.Background()
	rdb := setupRedis(t)
	sink := redishook.New(rdb, redishook.Options{StreamKey: "test:hook", TTL: time.Minute})

	rc := runtime.New(runtime.WithLLMLoggerAgent(true))
	activeCtx, err := rc.Activate(ctx)
	require.NoError(t, err)
	rc.RegisterPersistenceHook(sink.Hook(rc))

	m, err := message.NewText(message.RoleUser, "observed")
	require.NoError(t, err)
	rc.NotifyMessage(activeCtx, m)

	require.NoError(t, rc.Finalize(activeCtx))

	reg := message.NewTypeRegistry()
	msgs, _, err := redishook.Tail(ctx, rdb, sink.StreamKey(), "0", 0, reg)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "observed", msgs[0].Payload())
}

func TestPublishErrorOnUnreachableRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	sink := redishook.New(rdb, redishook.Options{StreamKey: "test:unreachable"})

	m, err := message.NewText(message.RoleUser, "unreachable")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.Error(t, sink.Publish(ctx, m))
}
