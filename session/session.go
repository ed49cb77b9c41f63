// Package session is the single source of truth for who is signed in and the
// access credential their requests carry.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/norun9/shopclient/kvstore"
	"github.com/norun9/shopclient/models"
)

// Durable is the part of the session that survives a restart.
type Durable struct {
	User *models.User `json:"user"`
}

// Volatile is the part of the session that lives in memory only. The access
// credential is always re-acquired through a refresh after a restart.
type Volatile struct {
	AccessToken string
}

// Session is the combined view handed to callers.
type Session struct {
	User            *models.User
	AccessToken     string
	IsAuthenticated bool
}

// Guard is the refresh teardown guard, cleared after every fresh sign-in.
type Guard interface {
	Reset()
}

// Remote is the server side of the session.
type Remote interface {
	Refresh(ctx context.Context) (string, error)
	Me(ctx context.Context) (*models.User, error)
	Logout(ctx context.Context) error
}

// Store holds the session. It implements apiclient.CredentialSource.
type Store struct {
	mu       sync.RWMutex
	durable  Durable
	volatile Volatile

	kv     kvstore.Store
	guard  Guard
	remote Remote

	listenerMu sync.Mutex
	onLogout   []func(ctx context.Context)

	log    logrus.FieldLogger
	tracer trace.Tracer
}

// NewStore constructor. guard may be nil.
func NewStore(kv kvstore.Store, guard Guard, log logrus.FieldLogger) *Store {
	if kv == nil {
		kv = kvstore.NoopStore{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		kv:     kv,
		guard:  guard,
		log:    log,
		tracer: otel.Tracer("session"),
	}
}

// UseRemote connects the store to the auth endpoints. The coordinator needs
// the store before the endpoints exist, hence the late binding.
func (s *Store) UseRemote(r Remote) {
	s.mu.Lock()
	s.remote = r
	s.mu.Unlock()
}

// OnLogout registers fn to run after every local logout, including the one the
// coordinator triggers when a refresh fails.
func (s *Store) OnLogout(fn func(ctx context.Context)) {
	s.listenerMu.Lock()
	s.onLogout = append(s.onLogout, fn)
	s.listenerMu.Unlock()
}

// Session returns the current combined view.
func (s *Store) Session() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionLocked()
}

func (s *Store) sessionLocked() Session {
	var user *models.User
	if s.durable.User != nil {
		u := *s.durable.User
		user = &u
	}
	return Session{
		User:            user,
		AccessToken:     s.volatile.AccessToken,
		IsAuthenticated: user != nil && s.volatile.AccessToken != "",
	}
}

// IsAuthenticated reports whether both a user and a credential are held.
func (s *Store) IsAuthenticated() bool {
	return s.Session().IsAuthenticated
}

// User returns the known user, which after a restart may be present before
// the session is authenticated again.
func (s *Store) User() *models.User {
	return s.Session().User
}

// AccessToken returns the current access credential, empty if none.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volatile.AccessToken
}

// SetAccessToken replaces only the credential. The coordinator calls it right
// after a refresh.
func (s *Store) SetAccessToken(token string) {
	s.mu.Lock()
	s.volatile.AccessToken = token
	s.mu.Unlock()
}

// SetSession installs a freshly authenticated user and credential and re-arms
// the refresh machinery.
func (s *Store) SetSession(ctx context.Context, user models.User, token string) {
	if s.guard != nil {
		s.guard.Reset()
	}
	s.mu.Lock()
	s.durable.User = &user
	s.volatile.AccessToken = token
	durable := s.durable
	s.mu.Unlock()

	s.persist(ctx, durable)
}

// Logout clears the session locally, then tells the server. A failed server
// call is logged and otherwise ignored.
func (s *Store) Logout(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "Logout")
	defer span.End()
	s.log.Debug("[Logout] received request")
	defer s.log.Debug("[Logout] completed request")

	s.clearLocal(ctx)
	s.notifyServer(ctx)
}

// Expire signs the session out after the credential could not be renewed.
// The local session and every listener are cleared before Expire returns;
// the server is told in the background.
func (s *Store) Expire(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "Expire")
	defer span.End()
	s.log.Debug("[Expire] received request")
	defer s.log.Debug("[Expire] completed request")

	s.clearLocal(ctx)
	go s.notifyServer(context.WithoutCancel(ctx))
}

func (s *Store) clearLocal(ctx context.Context) {
	s.mu.Lock()
	s.durable = Durable{}
	s.volatile = Volatile{}
	s.mu.Unlock()

	if err := s.kv.Remove(ctx, kvstore.KeyAuth); err != nil {
		s.log.WithError(err).Warn("failed to remove persisted session")
	}

	s.listenerMu.Lock()
	listeners := append([]func(context.Context){}, s.onLogout...)
	s.listenerMu.Unlock()
	for _, fn := range listeners {
		fn(ctx)
	}
}

func (s *Store) notifyServer(ctx context.Context) {
	s.mu.RLock()
	remote := s.remote
	s.mu.RUnlock()
	if remote == nil {
		return
	}
	if err := remote.Logout(ctx); err != nil {
		s.log.WithError(err).Info("server logout failed, signed out locally")
	}
}

// Initialize restores the persisted user and tries to resume the session with
// a silent refresh. Every failure leaves the store signed out; none is an error.
func (s *Store) Initialize(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "Initialize")
	defer span.End()
	s.log.Debug("[Initialize] received request")
	defer s.log.Debug("[Initialize] completed request")

	if d, ok := s.load(ctx); ok {
		s.mu.Lock()
		s.durable = d
		s.mu.Unlock()
	}

	s.mu.RLock()
	remote := s.remote
	s.mu.RUnlock()
	if remote == nil {
		return
	}

	token := s.AccessToken()
	if token == "" {
		var err error
		if token, err = remote.Refresh(ctx); err != nil {
			s.log.WithError(err).Debug("no session to resume")
			return
		}
		s.SetAccessToken(token)
	}

	user, err := remote.Me(ctx)
	if err != nil || user == nil {
		// An unconfirmed profile must not count as signed in.
		s.SetAccessToken("")
		s.log.WithError(err).Debug("could not load current user")
		return
	}
	s.SetSession(ctx, *user, token)
}

func (s *Store) load(ctx context.Context) (Durable, bool) {
	raw, found, err := s.kv.Get(ctx, kvstore.KeyAuth)
	if err != nil {
		s.log.WithError(err).Warn("failed to read persisted session")
		return Durable{}, false
	}
	if !found {
		return Durable{}, false
	}
	var d Durable
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		s.log.WithError(errors.Wrap(err, "corrupt session blob")).Warn("ignoring persisted session")
		return Durable{}, false
	}
	return d, true
}

func (s *Store) persist(ctx context.Context, d Durable) {
	data, err := json.Marshal(d)
	if err != nil {
		s.log.WithError(err).Warn("failed to encode session")
		return
	}
	if err := s.kv.Set(ctx, kvstore.KeyAuth, string(data)); err != nil {
		s.log.WithError(err).Warn("failed to persist session")
	}
}
