package promise_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goadesign/agentcore/agenterror"
	"github.com/goadesign/agentcore/promise"
)

func TestPromiseMemoizesResolution(t *testing.T) {
	var calls int32
	p := promise.New(context.Background(), func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 42, nil
	})

	v1, err1 := p.Await(context.Background())
	v2, err2 := p.Await(context.Background())

	require.NoError(t, err1)
	require.NoError(t, err2)
	require.Equal(t, 42, v1)
	require.Equal(t, 42, v2)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPromiseConcurrentAwaitersShareOutcome(t *testing.T) {
	var calls int32
	p := promise.New(context.Background(), func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return "done", nil
	})

	results := make(chan string, 8)
	for i := 0; i < 8; i++ {
		go func() {
			v, err := p.Await(context.Background())
			require.NoError(t, err)
			results <- v
		}()
	}
	for i := 0; i < 8; i++ {
		require.Equal(t, "done", <-results)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPromiseCapturesResolverError(t *testing.T) {
	boom := errors.New("boom")
	p := promise.New(context.Background(), func(ctx context.Context) (int, error) {
		return 0, boom
	})

	_, err := p.Await(context.Background())
	require.ErrorIs(t, err, boom)

	// Re-await re-raises the memoized error deterministically.
	_, err = p.Await(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestPromiseCapturesResolverPanic(t *testing.T) {
	p := promise.New(context.Background(), func(ctx context.Context) (int, error) {
		panic("unexpected")
	})

	_, err := p.Await(context.Background())
	require.Error(t, err)
}

func TestPromiseDeferredSetter(t *testing.T) {
	p, set := promise.NewDeferred[int](context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := p.Await(context.Background())
		require.NoError(t, err)
		require.Equal(t, 7, v)
	}()

	require.NoError(t, set(7, nil))
	<-done

	// Resolving twice is an invariant violation.
	err := set(8, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, agenterror.ErrInvariantViolation)
}

func TestPromiseStartSoonRunsEagerly(t *testing.T) {
	started := make(chan struct{})
	p := promise.New(context.Background(), func(ctx context.Context) (int, error) {
		close(started)
		return 1, nil
	}, promise.WithStartSoon(true))

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("resolver did not start eagerly")
	}
	_, err := p.Await(context.Background())
	require.NoError(t, err)
}

func TestPromiseAwaitRespectsCallerContext(t *testing.T) {
	release := make(chan struct{})
	p := promise.New(context.Background(), func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

type trackingScheduler struct {
	ran int32
}

func (s *trackingScheduler) Go(fn func()) {
	atomic.AddInt32(&s.ran, 1)
	go fn()
}

func TestPromiseUsesScheduler(t *testing.T) {
	sched := &trackingScheduler{}
	p := promise.New(context.Background(), func(ctx context.Context) (int, error) {
		return 5, nil
	}, promise.WithScheduler(sched), promise.WithStartSoon(true))

	_, err := p.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&sched.ran))
}
