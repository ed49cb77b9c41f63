// services/auth_service.go

package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/norun9/shopclient/apiclient"
	"github.com/norun9/shopclient/models"
	"github.com/norun9/shopclient/session"
)

// AuthRemote is the part of the auth API the sign-in flows call.
type AuthRemote interface {
	Register(ctx context.Context, in apiclient.RegisterInput) (*models.User, error)
	Login(ctx context.Context, in apiclient.LoginInput) (models.AuthTokens, error)
	Me(ctx context.Context) (*models.User, error)
}

// AuthService runs the sign-in, registration and sign-out flows, including the
// one-time guest cart merge that follows a sign-in.
type AuthService struct {
	remote   AuthRemote
	session  *session.Store
	cart     *CartService
	wishlist *WishlistService

	log    logrus.FieldLogger
	tracer trace.Tracer
}

// NewAuthService constructor.
func NewAuthService(remote AuthRemote, sess *session.Store, cart *CartService, wishlist *WishlistService, log logrus.FieldLogger) *AuthService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuthService{
		remote:   remote,
		session:  sess,
		cart:     cart,
		wishlist: wishlist,
		log:      log,
		tracer:   otel.Tracer("authservice"),
	}
}

// Initialize resumes a previous session if the refresh cookie is still good.
func (a *AuthService) Initialize(ctx context.Context) {
	a.session.Initialize(ctx)
	if a.session.IsAuthenticated() && a.wishlist != nil {
		if err := a.wishlist.Refetch(ctx); err != nil {
			a.log.WithError(err).Debug("wishlist refetch on startup failed")
		}
	}
}

// Login signs in and merges the guest cart. If only the merge fails, the user
// is signed in and the returned error matches ErrMergeFailed.
func (a *AuthService) Login(ctx context.Context, email, password string) (*models.User, error) {
	ctx, span := a.tracer.Start(ctx, "Login")
	defer span.End()
	a.log.Debug("[Login] received request")

	tokens, err := a.remote.Login(ctx, apiclient.LoginInput{Email: email, Password: password})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login")
		return nil, errors.Wrap(err, "login failed")
	}
	user, err := a.establish(ctx, tokens.AccessToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login")
		return user, err
	}
	a.log.WithField("user_id", user.ID).Info("[Login] completed request")
	return user, nil
}

// Register creates an account, then signs in with the same credentials.
func (a *AuthService) Register(ctx context.Context, in apiclient.RegisterInput) (*models.User, error) {
	ctx, span := a.tracer.Start(ctx, "Register")
	defer span.End()
	a.log.Debug("[Register] received request")

	if _, err := a.remote.Register(ctx, in); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "register")
		return nil, errors.Wrap(err, "registration failed")
	}
	return a.Login(ctx, in.Email, in.Password)
}

// establish installs the session for a fresh access credential and runs the
// post-sign-in work. The merge is detached from ctx so a caller going away
// cannot leave it half done.
func (a *AuthService) establish(ctx context.Context, token string) (*models.User, error) {
	a.session.SetAccessToken(token)
	user, err := a.remote.Me(ctx)
	if err != nil {
		a.session.SetAccessToken("")
		return nil, errors.Wrap(err, "failed to load profile")
	}
	a.session.SetSession(ctx, *user, token)

	detached := context.WithoutCancel(ctx)
	mergeErr := a.cart.MergeGuestCart(detached)
	if a.wishlist != nil {
		if err := a.wishlist.Refetch(detached); err != nil {
			a.log.WithError(err).Debug("wishlist refetch after sign-in failed")
		}
	}
	return user, mergeErr
}

// Logout signs out locally and on the server, and empties the guest cart.
func (a *AuthService) Logout(ctx context.Context) {
	ctx, span := a.tracer.Start(ctx, "Logout")
	defer span.End()

	a.session.Logout(ctx)
	a.cart.ClearGuest(ctx)
}
