package apiclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Phase is the observable state of a RefreshState.
type Phase int

const (
	// PhaseIdle means no refresh is running and 401s may start one.
	PhaseIdle Phase = iota
	// PhaseRefreshInFlight means one refresh is running; every caller shares its result.
	PhaseRefreshInFlight
	// PhaseTornDown means the session was torn down; 401s fail immediately
	// until Reset is called after a fresh authentication.
	PhaseTornDown
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRefreshInFlight:
		return "refresh_in_flight"
	case PhaseTornDown:
		return "torn_down"
	}
	return "unknown"
}

const refreshKey = "refresh"

// RefreshFunc performs one refresh call and returns the new access credential.
type RefreshFunc func(ctx context.Context) (string, error)

// RefreshState is the shared state behind credential renewal: the in-flight
// refresh every concurrent caller joins, and the teardown guard. It is owned by
// whoever builds the client and injected into both the Coordinator and the
// session store.
type RefreshState struct {
	group singleflight.Group

	mu       sync.Mutex
	inFlight bool
	tornDown bool

	waiting    atomic.Int32
	maxWaiters int32
}

// NewRefreshState constructor. maxWaiters <= 0 means unbounded.
func NewRefreshState(maxWaiters int) *RefreshState {
	return &RefreshState{maxWaiters: int32(maxWaiters)}
}

// Phase reports the current state.
func (s *RefreshState) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.tornDown:
		return PhaseTornDown
	case s.inFlight:
		return PhaseRefreshInFlight
	}
	return PhaseIdle
}

// Waiting returns how many callers are currently inside Refresh.
func (s *RefreshState) Waiting() int {
	return int(s.waiting.Load())
}

// Refresh runs fn unless a refresh is already in flight, in which case it waits
// for that one. fn runs detached from ctx so a caller giving up does not abort
// the shared refresh; timeout bounds it instead. Failures come back as
// *RefreshFailedError.
func (s *RefreshState) Refresh(ctx context.Context, timeout time.Duration, fn RefreshFunc) (string, error) {
	n := s.waiting.Add(1)
	defer s.waiting.Add(-1)
	if s.maxWaiters > 0 && n > s.maxWaiters {
		return "", ErrRefreshQueueFull
	}

	ch := s.group.DoChan(refreshKey, func() (interface{}, error) {
		s.setInFlight(true)
		defer s.setInFlight(false)

		rctx := context.WithoutCancel(ctx)
		if timeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(rctx, timeout)
			defer cancel()
		}
		token, err := fn(rctx)
		if err != nil {
			return "", &RefreshFailedError{Cause: err}
		}
		return token, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// TornDown reports whether the teardown guard is set.
func (s *RefreshState) TornDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tornDown
}

// TearDown sets the guard. It returns true only for the one caller that flipped
// it; everyone else must skip the logout cascade.
func (s *RefreshState) TearDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tornDown {
		return false
	}
	s.tornDown = true
	return true
}

// Reset clears the guard after a fresh, successful authentication.
func (s *RefreshState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tornDown = false
}

func (s *RefreshState) setInFlight(v bool) {
	s.mu.Lock()
	s.inFlight = v
	s.mu.Unlock()
}
