// Package shopapitest runs an in-process ShopGo backend for tests: JSON
// envelopes, bearer access tokens, an http-only refresh cookie, and per-route
// call counters and fault injection.
package shopapitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/norun9/shopclient/models"
)

// Route names usable with Calls and Fail.
const (
	RouteRegister       = "register"
	RouteLogin          = "login"
	RouteRefresh        = "refresh"
	RouteLogout         = "logout"
	RouteMe             = "me"
	RouteCartList       = "cart.list"
	RouteCartAdd        = "cart.add"
	RouteCartUpdate     = "cart.update"
	RouteCartRemove     = "cart.remove"
	RouteCartClear      = "cart.clear"
	RouteCartMerge      = "cart.merge"
	RouteWishlistList   = "wishlist.list"
	RouteWishlistToggle = "wishlist.toggle"

	// VersionPath is where the API is mounted.
	VersionPath = "/api/v1"

	refreshCookie = "refresh_token"
)

type account struct {
	user     models.User
	password string
	cart     []models.CartLine
	wishlist map[int]string
}

type fault struct {
	status int
	code   string
	times  int // < 0 means forever
}

// Product is a catalog entry the fake cart resolves product ids against.
type Product struct {
	Title string
	Image string
	Price decimal.Decimal
}

// Server is the fake backend.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string]*account // by user id
	byEmail  map[string]string
	access   map[string]string // access token -> user id
	refresh  map[string]string // refresh token -> user id
	catalog  map[int]Product
	calls    map[string]int
	faults   map[string]*fault
	seq      int

	// BeforeRefresh, when set, runs at the start of every refresh request,
	// outside the server lock. Tests use it to hold a refresh open.
	BeforeRefresh func()
}

// NewServer starts a fake backend. Close it when done.
func NewServer() *Server {
	s := &Server{
		accounts: make(map[string]*account),
		byEmail:  make(map[string]string),
		access:   make(map[string]string),
		refresh:  make(map[string]string),
		catalog:  make(map[int]Product),
		calls:    make(map[string]int),
		faults:   make(map[string]*fault),
	}
	for i := 1; i <= 20; i++ {
		s.catalog[i] = Product{
			Title: fmt.Sprintf("Product %d", i),
			Image: fmt.Sprintf("https://img.example.com/%d.png", i),
			Price: decimal.NewFromInt(int64(i * 10)),
		}
	}
	s.Server = httptest.NewServer(s.router())
	return s
}

// BaseURL is the versioned API root to hand to a client.
func (s *Server) BaseURL() string {
	return s.URL + VersionPath
}

func (s *Server) router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix(VersionPath).Subrouter()
	api.Use(s.instrument)

	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost).Name(RouteRegister)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost).Name(RouteLogin)
	api.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost).Name(RouteRefresh)
	api.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost).Name(RouteLogout)
	api.HandleFunc("/auth/me", s.authed(s.handleMe)).Methods(http.MethodGet).Name(RouteMe)

	api.HandleFunc("/cart", s.authed(s.handleCartList)).Methods(http.MethodGet).Name(RouteCartList)
	api.HandleFunc("/cart", s.authed(s.handleCartAdd)).Methods(http.MethodPost).Name(RouteCartAdd)
	api.HandleFunc("/cart", s.authed(s.handleCartClear)).Methods(http.MethodDelete).Name(RouteCartClear)
	api.HandleFunc("/cart/merge", s.authed(s.handleCartMerge)).Methods(http.MethodPost).Name(RouteCartMerge)
	api.HandleFunc("/cart/{id}", s.authed(s.handleCartUpdate)).Methods(http.MethodPatch).Name(RouteCartUpdate)
	api.HandleFunc("/cart/{id}", s.authed(s.handleCartRemove)).Methods(http.MethodDelete).Name(RouteCartRemove)

	api.HandleFunc("/wishlist", s.authed(s.handleWishlistList)).Methods(http.MethodGet).Name(RouteWishlistList)
	api.HandleFunc("/wishlist/{productId:[0-9]+}", s.authed(s.handleWishlistToggle)).Methods(http.MethodPost).Name(RouteWishlistToggle)
	return r
}

// instrument counts calls per route and serves injected faults.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := ""
		if route := mux.CurrentRoute(r); route != nil {
			name = route.GetName()
		}
		if name == RouteRefresh && s.BeforeRefresh != nil {
			s.BeforeRefresh()
		}

		s.mu.Lock()
		s.calls[name]++
		f := s.faults[name]
		if f != nil && f.times != 0 {
			if f.times > 0 {
				f.times--
			}
			s.mu.Unlock()
			writeError(w, f.status, f.code, "injected fault")
			return
		}
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// Calls returns how many requests hit route so far.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Fail makes the next times requests to route answer with status. times < 0
// fails forever; Fail(route, 0, 0) clears the fault.
func (s *Server) Fail(route string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if times == 0 {
		delete(s.faults, route)
		return
	}
	code := "INTERNAL_ERROR"
	switch {
	case status == http.StatusUnauthorized:
		code = "UNAUTHORIZED"
	case status >= 400 && status < 500:
		code = "VALIDATION_ERROR"
	}
	s.faults[route] = &fault{status: status, code: code, times: times}
}

// ExpireAccessTokens invalidates every access token issued so far, as if they
// all reached their expiry at once.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = make(map[string]string)
}

// RevokeRefreshTokens invalidates every refresh cookie.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = make(map[string]string)
}

// AddUser registers an account directly.
func (s *Server) AddUser(email, password, fullName string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(email, password, fullName)
}

// Cart returns a copy of the server-side cart of email.
func (s *Server) Cart(email string) []models.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accountByEmail(email)
	if acc == nil {
		return nil
	}
	return models.CloneLines(acc.cart)
}

// SeedCart replaces the server-side cart of email.
func (s *Server) SeedCart(email string, lines []models.CartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc := s.accountByEmail(email); acc != nil {
		acc.cart = models.NormalizeLines(lines)
	}
}

// Wishlist returns the product ids wishlisted by email, sorted.
func (s *Server) Wishlist(email string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accountByEmail(email)
	if acc == nil {
		return nil
	}
	ids := make([]int, 0, len(acc.wishlist))
	for id := range acc.wishlist {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s *Server) addUserLocked(email, password, fullName string) models.User {
	u := models.User{
		ID:        uuid.New().String(),
		Email:     email,
		FullName:  fullName,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	s.accounts[u.ID] = &account{user: u, password: password, wishlist: make(map[int]string)}
	s.byEmail[email] = u.ID
	return u
}

func (s *Server) accountByEmail(email string) *account {
	id, ok := s.byEmail[email]
	if !ok {
		return nil
	}
	return s.accounts[id]
}

func (s *Server) nextToken(kind string) string {
	s.seq++
	return kind + "-" + strconv.Itoa(s.seq)
}

type ctxHandler func(w http.ResponseWriter, r *http.Request, acc *account)

// authed resolves the bearer token to an account. The server lock is held for
// the whole handler.
func (s *Server) authed(h ctxHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if v := r.Header.Get("Authorization"); len(v) > len("Bearer ") && v[:len("Bearer ")] == "Bearer " {
			token = v[len("Bearer "):]
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		uid, ok := s.access[token]
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired access token")
			return
		}
		h(w, r, s.accounts[uid])
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   map[string]string{"code": code, "message": message},
	})
}
