package apiclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, time.Millisecond)
}

func TestRefreshState_ConcurrentCallersShareOneRefresh(t *testing.T) {
	const n = 10
	s := NewRefreshState(0)
	release := make(chan struct{})
	var calls atomic.Int32

	fn := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "tok-2", nil
	}

	var g errgroup.Group
	tokens := make([]string, n)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			tok, err := s.Refresh(context.Background(), time.Second, fn)
			tokens[i] = tok
			return err
		})
	}

	waitFor(t, func() bool { return s.Waiting() == n })
	assert.Equal(t, PhaseRefreshInFlight, s.Phase())
	close(release)

	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, calls.Load())
	for _, tok := range tokens {
		assert.Equal(t, "tok-2", tok)
	}
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.Zero(t, s.Waiting())
}

func TestRefreshState_FailureIsShared(t *testing.T) {
	s := NewRefreshState(0)
	cause := errors.New("refresh token revoked")

	_, err := s.Refresh(context.Background(), 0, func(context.Context) (string, error) {
		return "", cause
	})

	var rf *RefreshFailedError
	require.True(t, errors.As(err, &rf))
	assert.Equal(t, cause, rf.Cause)
	assert.True(t, errors.Is(err, ErrRefreshFailed))
	assert.Nil(t, rf.Request)
}

func TestRefreshState_QueueFull(t *testing.T) {
	s := NewRefreshState(1)
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := s.Refresh(context.Background(), 0, func(context.Context) (string, error) {
			<-release
			return "tok", nil
		})
		done <- err
	}()
	waitFor(t, func() bool { return s.Phase() == PhaseRefreshInFlight })

	_, err := s.Refresh(context.Background(), 0, func(context.Context) (string, error) {
		t.Fatal("second refresh must not run")
		return "", nil
	})
	assert.Equal(t, ErrRefreshQueueFull, err)

	close(release)
	assert.NoError(t, <-done)
}

func TestRefreshState_CallerCancellationDoesNotAbortRefresh(t *testing.T) {
	s := NewRefreshState(0)
	release := make(chan struct{})
	finished := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.Refresh(ctx, time.Minute, func(rctx context.Context) (string, error) {
			<-release
			finished <- rctx.Err()
			return "tok", nil
		})
		errc <- err
	}()
	waitFor(t, func() bool { return s.Phase() == PhaseRefreshInFlight })

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	assert.NoError(t, <-finished, "refresh context must survive the caller")
}

func TestRefreshState_TimeoutBoundsRefresh(t *testing.T) {
	s := NewRefreshState(0)
	_, err := s.Refresh(context.Background(), 20*time.Millisecond, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	assert.True(t, errors.Is(err, ErrRefreshFailed))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRefreshState_TearDownOnce(t *testing.T) {
	s := NewRefreshState(0)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TearDown() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.True(t, s.TornDown())
	assert.Equal(t, PhaseTornDown, s.Phase())
	assert.Equal(t, "torn_down", s.Phase().String())

	s.Reset()
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.True(t, s.TearDown(), "guard must be armed again after reset")
}
