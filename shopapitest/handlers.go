package shopapitest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/norun9/shopclient/models"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"fullName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "email and password (min 8) required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[req.Email]; exists {
		writeError(w, http.StatusConflict, "EMAIL_TAKEN", "email already registered")
		return
	}
	writeJSON(w, http.StatusCreated, s.addUserLocked(req.Email, req.Password, req.FullName))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accountByEmail(req.Email)
	if acc == nil || acc.password != req.Password {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
		return
	}
	access := s.nextToken("access")
	refresh := s.nextToken("refresh")
	s.access[access] = acc.user.ID
	s.refresh[refresh] = acc.user.ID
	http.SetCookie(w, &http.Cookie{Name: refreshCookie, Value: refresh, Path: VersionPath + "/auth", HttpOnly: true})
	writeJSON(w, http.StatusOK, models.AuthTokens{AccessToken: access})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(refreshCookie)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing refresh token")
		return
	}
	uid, ok := s.refresh[c.Value]
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token")
		return
	}
	access := s.nextToken("access")
	s.access[access] = uid
	writeJSON(w, http.StatusOK, models.AuthTokens{AccessToken: access})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, err := r.Cookie(refreshCookie); err == nil {
		delete(s.refresh, c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: refreshCookie, Value: "", Path: VersionPath + "/auth", MaxAge: -1, HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]bool{"loggedOut": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, acc *account) {
	writeJSON(w, http.StatusOK, acc.user)
}

func (s *Server) handleCartList(w http.ResponseWriter, r *http.Request, acc *account) {
	lines := acc.cart
	if lines == nil {
		lines = []models.CartLine{}
	}
	writeJSON(w, http.StatusOK, lines)
}

func (s *Server) handleCartAdd(w http.ResponseWriter, r *http.Request, acc *account) {
	var req models.CartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProductID < 1 || req.Quantity < 1 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "productId and quantity must be at least 1")
		return
	}
	line, ok := s.addLocked(acc, req)
	if !ok {
		writeError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", "product not found")
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

// addLocked increments the existing line for the product or appends a new one.
func (s *Server) addLocked(acc *account, req models.CartItemRequest) (models.CartLine, bool) {
	for i, l := range acc.cart {
		if l.ProductID == req.ProductID {
			acc.cart[i] = l.WithQuantity(l.Quantity + req.Quantity)
			return acc.cart[i], true
		}
	}
	p, ok := s.catalog[req.ProductID]
	if !ok {
		return models.CartLine{}, false
	}
	line := models.CartLine{
		ID:        uuid.New().String(),
		ProductID: req.ProductID,
		Title:     p.Title,
		ImageRef:  p.Image,
		UnitPrice: p.Price,
	}.WithQuantity(req.Quantity)
	acc.cart = append(acc.cart, line)
	return line, true
}

func (s *Server) handleCartUpdate(w http.ResponseWriter, r *http.Request, acc *account) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity < 1 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "quantity must be at least 1")
		return
	}
	id := mux.Vars(r)["id"]
	for i, l := range acc.cart {
		if l.ID == id {
			acc.cart[i] = l.WithQuantity(req.Quantity)
			writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
			return
		}
	}
	writeError(w, http.StatusNotFound, "ITEM_NOT_FOUND", "cart item not found")
}

func (s *Server) handleCartRemove(w http.ResponseWriter, r *http.Request, acc *account) {
	id := mux.Vars(r)["id"]
	for i, l := range acc.cart {
		if l.ID == id {
			acc.cart = append(acc.cart[:i:i], acc.cart[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
			return
		}
	}
	writeError(w, http.StatusNotFound, "ITEM_NOT_FOUND", "cart item not found")
}

func (s *Server) handleCartClear(w http.ResponseWriter, r *http.Request, acc *account) {
	acc.cart = nil
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleCartMerge(w http.ResponseWriter, r *http.Request, acc *account) {
	var req models.MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	for _, item := range req.Items {
		if item.ProductID < 1 || item.Quantity < 1 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "productId and quantity must be at least 1")
			return
		}
	}
	for _, item := range req.Items {
		s.addLocked(acc, item)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"merged": true})
}

func (s *Server) handleWishlistList(w http.ResponseWriter, r *http.Request, acc *account) {
	items := make([]models.WishlistItem, 0, len(acc.wishlist))
	for pid, id := range acc.wishlist {
		items = append(items, models.WishlistItem{ID: id, ProductID: pid})
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleWishlistToggle(w http.ResponseWriter, r *http.Request, acc *account) {
	pid, _ := strconv.Atoi(mux.Vars(r)["productId"])
	if _, ok := acc.wishlist[pid]; ok {
		delete(acc.wishlist, pid)
		writeJSON(w, http.StatusOK, models.ToggleResult{Added: false, ProductID: pid})
		return
	}
	acc.wishlist[pid] = uuid.New().String()
	writeJSON(w, http.StatusOK, models.ToggleResult{Added: true, ProductID: pid})
}
