// Package client assembles the session and cart layer from a configuration.
package client

import (
	"context"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/norun9/shopclient/apiclient"
	"github.com/norun9/shopclient/cartstore"
	"github.com/norun9/shopclient/config"
	"github.com/norun9/shopclient/history"
	"github.com/norun9/shopclient/kvstore"
	"github.com/norun9/shopclient/services"
	"github.com/norun9/shopclient/session"
)

// Options override parts of the wiring, mostly for tests.
type Options struct {
	Logger     logrus.FieldLogger
	HTTPClient *http.Client
	// Store replaces the store the configuration would build.
	Store            kvstore.Store
	OnSessionExpired func(loginPath string)
}

// Client is the assembled layer.
type Client struct {
	Config *config.Config

	Store       kvstore.Store
	State       *apiclient.RefreshState
	Session     *session.Store
	Coordinator *apiclient.Coordinator

	AuthAPI     *apiclient.AuthAPI
	CartAPI     *apiclient.CartAPI
	WishlistAPI *apiclient.WishlistAPI

	Auth           *services.AuthService
	Cart           *services.CartService
	Wishlist       *services.WishlistService
	Health         *services.HealthCheckService
	RecentlyViewed *history.RecentlyViewed

	guest *cartstore.GuestCartStore
	http  *http.Client
	log   logrus.FieldLogger
}

// NewStore builds the device store named by the configuration.
func NewStore(cfg config.StorageConfig, log logrus.FieldLogger) kvstore.Store {
	switch cfg.Driver {
	case config.DriverFile:
		return kvstore.NewFileStore(cfg.Path)
	case config.DriverRedis:
		return kvstore.NewRedisStore(cfg.RedisAddr, cfg.Namespace, log)
	case config.DriverNone:
		return kvstore.NoopStore{}
	}
	return kvstore.NewMemoryStore()
}

// New wires every component. Nothing touches the network or storage until Start.
func New(cfg *config.Config, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	store := opts.Store
	if store == nil {
		store = NewStore(cfg.Storage, log.WithField("component", "kvstore"))
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = apiclient.NewHTTPClient(cfg.API.RequestTimeout)
	}

	c := &Client{Config: cfg, Store: store, http: httpClient, log: log}

	c.State = apiclient.NewRefreshState(cfg.Auth.MaxRefreshWaiters)
	c.Session = session.NewStore(store, c.State, log.WithField("component", "session"))
	c.Coordinator = apiclient.NewCoordinator(apiclient.Options{
		BaseURL:          cfg.APIRoot(),
		HTTPClient:       httpClient,
		RefreshTimeout:   cfg.Auth.RefreshTimeout,
		LoginPath:        cfg.Auth.LoginPath,
		OnSessionExpired: opts.OnSessionExpired,
		Logger:           log.WithField("component", "apiclient"),
	}, c.Session, c.State)

	c.AuthAPI = apiclient.NewAuthAPI(c.Coordinator)
	c.CartAPI = apiclient.NewCartAPI(c.Coordinator)
	c.WishlistAPI = apiclient.NewWishlistAPI(c.Coordinator)
	c.Session.UseRemote(c.AuthAPI)

	c.guest = cartstore.NewGuestCartStore(store, log.WithField("component", "guestcart"))
	server := cartstore.NewServerBackend(c.CartAPI, log.WithField("component", "servercart"))
	c.Cart = services.NewCartService(c.Session, c.guest, server, log.WithField("component", "cartservice"))
	c.Wishlist = services.NewWishlistService(c.Session, c.WishlistAPI, store, log.WithField("component", "wishlistservice"))
	c.Auth = services.NewAuthService(c.AuthAPI, c.Session, c.Cart, c.Wishlist, log.WithField("component", "authservice"))
	c.Health = services.NewHealthCheckService(store, c.State, c.Session, log.WithField("component", "health"))
	c.RecentlyViewed = history.NewRecentlyViewed(store, log.WithField("component", "history"))

	c.Session.OnLogout(c.Cart.OnLogout)
	c.Session.OnLogout(c.Wishlist.OnLogout)
	return c, nil
}

// Start opens storage, loads the device state and tries to resume the previous
// session. A storage failure is logged and the layer keeps running in memory.
func (c *Client) Start(ctx context.Context) {
	if err := c.Store.Initialize(ctx); err != nil {
		c.log.WithError(err).Warn("device storage unavailable, state will not survive a restart")
	}
	if err := c.guest.Initialize(ctx); err != nil {
		c.log.WithError(err).Warn("failed to load guest cart")
	}
	c.RecentlyViewed.Initialize(ctx)
	c.Wishlist.Initialize(ctx)
	c.Auth.Initialize(ctx)
}

// Close releases the store.
func (c *Client) Close() error {
	if closer, ok := c.Store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
