package runtime_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goadesign/agentcore/agenterror"
	"github.com/goadesign/agentcore/message"
	"github.com/goadesign/agentcore/runtime"
)

func TestActivateInstallsAmbientContext(t *testing.T) {
	c := runtime.New()
	ctx, err := c.Activate(context.Background())
	require.NoError(t, err)
	require.Same(t, c, runtime.FromContext(ctx))
}

func TestNestedActivationFails(t *testing.T) {
	outer := runtime.New()
	ctx, err := outer.Activate(context.Background())
	require.NoError(t, err)

	inner := runtime.New()
	_, err = inner.Activate(ctx)
	require.ErrorIs(t, err, agenterror.ErrNestedContext)
}

func TestFinalizeJoinsScheduledTasks(t *testing.T) {
	c := runtime.New()
	ctx, err := c.Activate(context.Background())
	require.NoError(t, err)

	ran := make(chan struct{})
	c.Go(func() { close(ran) })

	require.NoError(t, c.Finalize(ctx))
	select {
	case <-ran:
	default:
		t.Fatal("task was not joined by Finalize")
	}
}

func TestFinalizeOnNonActiveContextFails(t *testing.T) {
	c := runtime.New()
	err := c.Finalize(context.Background())
	require.ErrorIs(t, err, agenterror.ErrContextClosed)
}

func TestRunActivatesRunsAndFinalizes(t *testing.T) {
	c := runtime.New()
	var observedActive bool
	err := c.Run(context.Background(), func(ctx context.Context) error {
		observedActive = runtime.FromContext(ctx) == c
		return nil
	})
	require.NoError(t, err)
	require.True(t, observedActive)
	require.False(t, c.CanTrigger())
}

func TestPersistenceHookFiresOncePerHashKey(t *testing.T) {
	c := runtime.New()
	ctx, err := c.Activate(context.Background())
	require.NoError(t, err)

	m, err := message.NewText(message.RoleUser, "hello")
	require.NoError(t, err)

	var calls int
	c.RegisterPersistenceHook(func(context.Context, *message.Message) { calls++ })
	c.NotifyMessage(ctx, m)
	c.NotifyMessage(ctx, m)

	require.Equal(t, 1, calls)
	require.NoError(t, c.Finalize(ctx))
}

var errRunFailed = errors.New("entry failed")

func TestRunPropagatesEntryError(t *testing.T) {
	c := runtime.New()
	err := c.Run(context.Background(), func(ctx context.Context) error {
		return errRunFailed
	})
	require.ErrorIs(t, err, errRunFailed)
}
