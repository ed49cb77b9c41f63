// Package apiclient talks to the ShopGo HTTP/JSON API. Every request goes
// through a Coordinator, which attaches the access credential and recovers
// from an expired one by refreshing it once.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/publicsuffix"

	"github.com/norun9/shopclient/models"
)

const (
	PathRegister = "/auth/register"
	PathLogin    = "/auth/login"
	PathRefresh  = "/auth/refresh"
	PathLogout   = "/auth/logout"
	PathMe       = "/auth/me"
	PathCart     = "/cart"
	PathMerge    = "/cart/merge"
	PathWishlist = "/wishlist"

	maxResponseBytes = 4 << 20
)

// CredentialSource is where the Coordinator reads and writes the access
// credential. The session store implements it.
type CredentialSource interface {
	AccessToken() string
	SetAccessToken(token string)
	// Expire signs the session out after a failed refresh. The local session
	// must be cleared before it returns; notifying the server may continue in
	// the background. It never fails.
	Expire(ctx context.Context)
}

// Options configure a Coordinator.
type Options struct {
	// BaseURL is the versioned API root, e.g. https://shop.example.com/api/v1.
	BaseURL string
	// HTTPClient defaults to NewHTTPClient(30s). It must carry a cookie jar for
	// the side-channel refresh credential to work.
	HTTPClient *http.Client
	// RefreshTimeout bounds one refresh call. Zero means no bound.
	RefreshTimeout time.Duration
	// LoginPath is handed to OnSessionExpired.
	LoginPath string
	// OnSessionExpired performs the client-side redirect to the login entry point.
	OnSessionExpired func(loginPath string)
	Logger           logrus.FieldLogger
}

// Request is one API call. A Request is single use: the retry mark lives on it.
type Request struct {
	Method string
	Path   string
	Body   interface{}

	retried bool
}

// Coordinator wraps all outbound requests.
type Coordinator struct {
	baseURL string
	http    *http.Client
	creds   CredentialSource
	state   *RefreshState

	refreshTimeout time.Duration
	loginPath      string
	onExpired      func(string)
	tearMu         sync.Mutex

	log    logrus.FieldLogger
	tracer trace.Tracer
}

// NewHTTPClient returns an instrumented client whose cookie jar holds the
// refresh cookie set by the server.
func NewHTTPClient(timeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &http.Client{
		Jar:       jar,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
}

// NewCoordinator creates a coordinator over creds with the shared refresh state.
func NewCoordinator(opts Options, creds CredentialSource, state *RefreshState) *Coordinator {
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient(30 * time.Second)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	c := &Coordinator{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		http:           opts.HTTPClient,
		creds:          creds,
		state:          state,
		refreshTimeout: opts.RefreshTimeout,
		loginPath:      opts.LoginPath,
		onExpired:      opts.OnSessionExpired,
		log:            opts.Logger,
		tracer:         otel.Tracer("apiclient"),
	}
	if c.onExpired == nil {
		c.onExpired = func(path string) {
			c.log.WithField("login_path", path).Warn("session expired, sign in again")
		}
	}
	return c
}

// State exposes the shared refresh state.
func (c *Coordinator) State() *RefreshState {
	return c.state
}

// Do sends req and decodes the envelope's data into out (which may be nil).
// A 401 is answered with one refresh and one resend, except for the refresh and
// logout endpoints, a request already retried, or a torn down session.
func (c *Coordinator) Do(ctx context.Context, req *Request, out interface{}) error {
	ctx, span := c.tracer.Start(ctx, req.Method+" "+req.Path)
	defer span.End()

	body, err := encodeBody(req.Body)
	if err != nil {
		return err
	}

	resp, err := c.send(ctx, req, body, c.creds.AccessToken())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return err
	}

	if resp.status == http.StatusUnauthorized && c.canRetry(req) {
		req.retried = true
		span.AddEvent("refresh")

		token, rerr := c.Refresh(ctx)
		if rerr != nil {
			var rf *RefreshFailedError
			if errors.As(rerr, &rf) {
				c.tearDown(ctx, rf.Cause)
				rerr = &RefreshFailedError{Request: resp.apiError(), Cause: rf.Cause}
			}
			span.RecordError(rerr)
			span.SetStatus(codes.Error, "refresh")
			return rerr
		}

		resp, err = c.send(ctx, req, body, token)
		if err != nil {
			span.RecordError(err)
			return err
		}
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.status))
	if err := resp.decode(out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "api")
		return err
	}
	return nil
}

// Refresh obtains a new access credential through the side channel, joining a
// refresh already in flight if there is one. On success the credential is
// stored in the session before any waiter resumes.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	return c.state.Refresh(ctx, c.refreshTimeout, func(ctx context.Context) (string, error) {
		c.log.Debug("[Refresh] received request")
		defer c.log.Debug("[Refresh] completed request")

		resp, err := c.send(ctx, &Request{Method: http.MethodPost, Path: PathRefresh}, nil, "")
		if err != nil {
			return "", err
		}
		var tokens models.AuthTokens
		if err := resp.decode(&tokens); err != nil {
			return "", err
		}
		if tokens.AccessToken == "" {
			return "", errors.New("refresh response carried no access token")
		}
		c.creds.SetAccessToken(tokens.AccessToken)
		return tokens.AccessToken, nil
	})
}

func (c *Coordinator) canRetry(req *Request) bool {
	return !req.retried && !isAuthEndpoint(req.Path) && !c.state.TornDown()
}

// tearDown runs the logout cascade once, however many requests fail together.
// Every caller returns only after the local session has been cleared.
func (c *Coordinator) tearDown(ctx context.Context, cause error) {
	c.tearMu.Lock()
	defer c.tearMu.Unlock()
	if !c.state.TearDown() {
		return
	}
	c.log.WithError(cause).Warn("refresh failed, tearing down session")

	c.creds.Expire(context.WithoutCancel(ctx))
	c.onExpired(c.loginPath)
}

func (c *Coordinator) send(ctx context.Context, req *Request, body []byte, token string) (rawResponse, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, rd)
	if err != nil {
		return rawResponse{}, errors.Wrapf(err, "failed to create %s request", req.Method)
	}
	hreq.Header.Set("Accept", "application/json")
	if body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		hreq.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(hreq)
	if err != nil {
		return rawResponse{}, &TransportError{Method: req.Method, Path: req.Path, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return rawResponse{}, &TransportError{Method: req.Method, Path: req.Path, Err: err}
	}
	return rawResponse{status: res.StatusCode, body: data}, nil
}

func encodeBody(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request body")
	}
	return data, nil
}

// isAuthEndpoint reports whether a 401 from path means the session itself is
// invalid, so retrying is pointless.
func isAuthEndpoint(path string) bool {
	return strings.HasPrefix(path, PathRefresh) || strings.HasPrefix(path, PathLogout)
}

// Get issues a GET and decodes the data into a T.
func Get[T any](ctx context.Context, c *Coordinator, path string) (T, error) {
	var out T
	err := c.Do(ctx, &Request{Method: http.MethodGet, Path: path}, &out)
	return out, err
}

// Post issues a POST with body and decodes the data into a T.
func Post[T any](ctx context.Context, c *Coordinator, path string, body interface{}) (T, error) {
	var out T
	err := c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body}, &out)
	return out, err
}

// Patch issues a PATCH with body and decodes the data into a T.
func Patch[T any](ctx context.Context, c *Coordinator, path string, body interface{}) (T, error) {
	var out T
	err := c.Do(ctx, &Request{Method: http.MethodPatch, Path: path, Body: body}, &out)
	return out, err
}

// Delete issues a DELETE, ignoring any data.
func Delete(ctx context.Context, c *Coordinator, path string) error {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path}, nil)
}
