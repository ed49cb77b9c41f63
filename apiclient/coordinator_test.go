package apiclient

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/norun9/shopclient/models"
	"github.com/norun9/shopclient/shopapitest"
)

const (
	testEmail    = "ada@example.com"
	testPassword = "correct-horse"
)

// memCreds is a minimal CredentialSource.
type memCreds struct {
	mu      sync.Mutex
	token   string
	logouts atomic.Int32
}

func (m *memCreds) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *memCreds) SetAccessToken(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

func (m *memCreds) Expire(context.Context) {
	m.logouts.Add(1)
	m.SetAccessToken("")
}

type fixture struct {
	srv      *shopapitest.Server
	creds    *memCreds
	coord    *Coordinator
	auth     *AuthAPI
	cart     *CartAPI
	expired  atomic.Int32
	lastPath atomic.Value
}

func newFixture(t *testing.T, maxWaiters int) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &fixture{srv: shopapitest.NewServer(), creds: &memCreds{}}
	t.Cleanup(f.srv.Close)
	f.srv.AddUser(testEmail, testPassword, "Ada Lovelace")

	f.coord = NewCoordinator(Options{
		BaseURL:        f.srv.BaseURL(),
		HTTPClient:     NewHTTPClient(5 * time.Second),
		RefreshTimeout: 5 * time.Second,
		OnSessionExpired: func(path string) {
			f.expired.Add(1)
			f.lastPath.Store(path)
		},
		Logger: logger,
	}, f.creds, NewRefreshState(maxWaiters))
	f.auth = NewAuthAPI(f.coord)
	f.cart = NewCartAPI(f.coord)
	return f
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	tokens, err := f.auth.Login(context.Background(), LoginInput{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)
	f.creds.SetAccessToken(tokens.AccessToken)
}

// holdRefreshUntil blocks the fake refresh endpoint until n callers wait on it.
func (f *fixture) holdRefreshUntil(t *testing.T, n int) {
	f.srv.BeforeRefresh = func() {
		deadline := time.Now().Add(5 * time.Second)
		for f.coord.State().Waiting() < n && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
}

func TestCoordinator_AttachesBearerToken(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.cart.List(context.Background())
	assert.True(t, errors.Is(err, ErrUnauthorized), "anonymous call must be rejected, got %v", err)

	f.login(t)
	me, err := f.auth.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testEmail, me.Email)
}

func TestCoordinator_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const n = 8
	f := newFixture(t, 0)
	f.login(t)
	before := f.creds.AccessToken()

	f.srv.ExpireAccessTokens()
	f.holdRefreshUntil(t, n)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := f.cart.List(context.Background())
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, f.srv.Calls(shopapitest.RouteRefresh))
	assert.Equal(t, 2*n, f.srv.Calls(shopapitest.RouteCartList))
	assert.NotEqual(t, before, f.creds.AccessToken())
	assert.Equal(t, PhaseIdle, f.coord.State().Phase())
	assert.Zero(t, f.expired.Load())
}

func TestCoordinator_RetriesOnlyOnce(t *testing.T) {
	f := newFixture(t, 0)
	f.login(t)
	f.srv.Fail(shopapitest.RouteCartList, http.StatusUnauthorized, -1)

	_, err := f.cart.List(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, 2, f.srv.Calls(shopapitest.RouteCartList))
	assert.Equal(t, 1, f.srv.Calls(shopapitest.RouteRefresh))
	assert.False(t, f.coord.State().TornDown())
}

func TestCoordinator_AuthEndpointsAreNotRetried(t *testing.T) {
	f := newFixture(t, 0)
	f.login(t)
	f.srv.Fail(shopapitest.RouteLogout, http.StatusUnauthorized, 1)

	err := f.auth.Logout(context.Background())
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Zero(t, f.srv.Calls(shopapitest.RouteRefresh))
	assert.Equal(t, 1, f.srv.Calls(shopapitest.RouteLogout))
}

func TestCoordinator_RefreshFailureTearsDownOnce(t *testing.T) {
	const n = 6
	f := newFixture(t, 0)
	f.login(t)

	f.srv.ExpireAccessTokens()
	f.srv.RevokeRefreshTokens()
	f.holdRefreshUntil(t, n)

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.cart.List(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.True(t, errors.Is(err, ErrRefreshFailed), "got %v", err)
		assert.True(t, errors.Is(err, ErrUnauthorized), "original 401 must be reachable")
	}
	assert.Equal(t, 1, f.srv.Calls(shopapitest.RouteRefresh))
	assert.EqualValues(t, 1, f.expired.Load())
	assert.Equal(t, "/login", f.lastPath.Load())
	assert.EqualValues(t, 1, f.creds.logouts.Load())
	assert.Empty(t, f.creds.AccessToken())
	assert.Equal(t, PhaseTornDown, f.coord.State().Phase())

	// While torn down, a 401 fails straight away.
	_, err := f.cart.List(context.Background())
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.False(t, errors.Is(err, ErrRefreshFailed))
	assert.Equal(t, 1, f.srv.Calls(shopapitest.RouteRefresh))
	assert.EqualValues(t, 1, f.expired.Load())
}

func TestCoordinator_ResetAllowsRefreshAgain(t *testing.T) {
	f := newFixture(t, 0)
	f.login(t)
	f.coord.State().TearDown()

	f.login(t)
	f.coord.State().Reset()
	f.srv.ExpireAccessTokens()

	_, err := f.cart.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.srv.Calls(shopapitest.RouteRefresh))
}

func TestCoordinator_ErrorClassification(t *testing.T) {
	f := newFixture(t, 0)
	f.login(t)
	ctx := context.Background()

	f.srv.Fail(shopapitest.RouteCartAdd, http.StatusBadRequest, 1)
	_, err := f.cart.Add(ctx, 3, 1)
	assert.True(t, errors.Is(err, ErrValidation))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)

	f.srv.Fail(shopapitest.RouteCartAdd, http.StatusInternalServerError, 1)
	_, err = f.cart.Add(ctx, 3, 1)
	assert.True(t, errors.Is(err, ErrServer))
	assert.False(t, errors.Is(err, ErrValidation))

	line, err := f.cart.Add(ctx, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, "60", line.Subtotal.String())

	f.srv.Close()
	_, err = f.cart.List(ctx)
	assert.True(t, errors.Is(err, ErrTransport), "got %v", err)
}

func TestCartAPI_RejectsGuestLineIDs(t *testing.T) {
	f := newFixture(t, 0)
	f.login(t)
	id := models.NewGuestLineID()

	assert.Equal(t, ErrGuestLineID, f.cart.UpdateQuantity(context.Background(), id, 2))
	assert.Equal(t, ErrGuestLineID, f.cart.Remove(context.Background(), id))
	assert.Zero(t, f.srv.Calls(shopapitest.RouteCartUpdate))
	assert.Zero(t, f.srv.Calls(shopapitest.RouteCartRemove))
}

func TestWishlistAPI_Toggle(t *testing.T) {
	f := newFixture(t, 0)
	f.login(t)
	w := NewWishlistAPI(f.coord)
	ctx := context.Background()

	res, err := w.Toggle(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, models.ToggleResult{Added: true, ProductID: 5}, res)

	items, err := w.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].ProductID)

	res, err = w.Toggle(ctx, 5)
	require.NoError(t, err)
	assert.False(t, res.Added)
	assert.Empty(t, f.srv.Wishlist(testEmail))
}
