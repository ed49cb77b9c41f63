package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/norun9/shopclient/models"
)

// RegisterInput is the body of POST /auth/register.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

// LoginInput is the body of POST /auth/login.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthAPI covers the /auth endpoints.
type AuthAPI struct {
	c *Coordinator
}

func NewAuthAPI(c *Coordinator) *AuthAPI {
	return &AuthAPI{c: c}
}

func (a *AuthAPI) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	return Post[*models.User](ctx, a.c, PathRegister, in)
}

// Login returns the access credential; the refresh credential arrives as a cookie.
func (a *AuthAPI) Login(ctx context.Context, in LoginInput) (models.AuthTokens, error) {
	return Post[models.AuthTokens](ctx, a.c, PathLogin, in)
}

// Refresh goes through the coordinator's single-flight refresh.
func (a *AuthAPI) Refresh(ctx context.Context) (string, error) {
	return a.c.Refresh(ctx)
}

func (a *AuthAPI) Logout(ctx context.Context) error {
	return a.c.Do(ctx, &Request{Method: http.MethodPost, Path: PathLogout}, nil)
}

func (a *AuthAPI) Me(ctx context.Context) (*models.User, error) {
	return Get[*models.User](ctx, a.c, PathMe)
}

// CartAPI covers the /cart endpoints. Lines coming back are normalized so the
// subtotal always matches price and quantity.
type CartAPI struct {
	c *Coordinator
}

func NewCartAPI(c *Coordinator) *CartAPI {
	return &CartAPI{c: c}
}

func (a *CartAPI) List(ctx context.Context) ([]models.CartLine, error) {
	lines, err := Get[[]models.CartLine](ctx, a.c, PathCart)
	if err != nil {
		return nil, err
	}
	return models.NormalizeLines(lines), nil
}

func (a *CartAPI) Add(ctx context.Context, productID, quantity int) (models.CartLine, error) {
	line, err := Post[models.CartLine](ctx, a.c, PathCart, models.CartItemRequest{ProductID: productID, Quantity: quantity})
	return line.Normalize(), err
}

func (a *CartAPI) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	if models.IsGuestLineID(lineID) {
		return ErrGuestLineID
	}
	body := struct {
		Quantity int `json:"quantity"`
	}{quantity}
	return a.c.Do(ctx, &Request{Method: http.MethodPatch, Path: linepath(lineID), Body: body}, nil)
}

func (a *CartAPI) Remove(ctx context.Context, lineID string) error {
	if models.IsGuestLineID(lineID) {
		return ErrGuestLineID
	}
	return Delete(ctx, a.c, linepath(lineID))
}

func (a *CartAPI) Clear(ctx context.Context) error {
	return Delete(ctx, a.c, PathCart)
}

func (a *CartAPI) Merge(ctx context.Context, items []models.CartItemRequest) error {
	return a.c.Do(ctx, &Request{Method: http.MethodPost, Path: PathMerge, Body: models.MergeRequest{Items: items}}, nil)
}

func linepath(id string) string {
	return PathCart + "/" + url.PathEscape(id)
}

// WishlistAPI covers the /wishlist endpoints.
type WishlistAPI struct {
	c *Coordinator
}

func NewWishlistAPI(c *Coordinator) *WishlistAPI {
	return &WishlistAPI{c: c}
}

func (a *WishlistAPI) List(ctx context.Context) ([]models.WishlistItem, error) {
	return Get[[]models.WishlistItem](ctx, a.c, PathWishlist)
}

func (a *WishlistAPI) Toggle(ctx context.Context, productID int) (models.ToggleResult, error) {
	return Post[models.ToggleResult](ctx, a.c, fmt.Sprintf("%s/%d", PathWishlist, productID), nil)
}
