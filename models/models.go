// Package models holds the wire and cache types shared by the session and cart layers.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GuestLineIDPrefix marks cart line ids minted on the client for the guest cart.
const GuestLineIDPrefix = "guest-"

// User is the authenticated user's profile as returned by GET /auth/me.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuthTokens is the body of a successful login or refresh.
type AuthTokens struct {
	AccessToken string `json:"accessToken"`
}

// CartLine is one line of a cart. Subtotal always equals UnitPrice * Quantity;
// use WithQuantity or Normalize rather than assigning Quantity directly.
type CartLine struct {
	ID        string          `json:"id"`
	ProductID int             `json:"productId"`
	Title     string          `json:"title"`
	ImageRef  string          `json:"image"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// LineSubtotal derives the subtotal from price and quantity.
func (l CartLine) LineSubtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// WithQuantity returns a copy of the line with the quantity replaced and the
// subtotal recomputed.
func (l CartLine) WithQuantity(qty int) CartLine {
	l.Quantity = qty
	l.Subtotal = l.LineSubtotal()
	return l
}

// Normalize recomputes the subtotal, discarding whatever value came off the wire
// or out of storage.
func (l CartLine) Normalize() CartLine {
	l.Subtotal = l.LineSubtotal()
	return l
}

// IsGuest reports whether the line id was generated locally.
func (l CartLine) IsGuest() bool {
	return IsGuestLineID(l.ID)
}

// NewGuestLineID mints a line id that can never collide with a server id.
func NewGuestLineID() string {
	return GuestLineIDPrefix + uuid.New().String()
}

// IsGuestLineID reports whether id was minted by NewGuestLineID.
func IsGuestLineID(id string) bool {
	return strings.HasPrefix(id, GuestLineIDPrefix)
}

// NormalizeLines returns a copy of lines with every subtotal recomputed.
func NormalizeLines(lines []CartLine) []CartLine {
	out := make([]CartLine, len(lines))
	for i, l := range lines {
		out[i] = l.Normalize()
	}
	return out
}

// CloneLines copies the slice so cached views never share backing arrays.
func CloneLines(lines []CartLine) []CartLine {
	if lines == nil {
		return nil
	}
	out := make([]CartLine, len(lines))
	copy(out, lines)
	return out
}

// Total sums the line subtotals.
func Total(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineSubtotal())
	}
	return total
}

// Count sums the line quantities.
func Count(lines []CartLine) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

// AddRequest describes an item being put into the cart. The server only needs
// ProductID and Quantity; the remaining fields let a guest line render without
// a catalog round-trip.
type AddRequest struct {
	ProductID int
	Quantity  int
	Title     string
	ImageRef  string
	UnitPrice decimal.Decimal
}

// GuestLine builds a fresh guest cart line for the request.
func (r AddRequest) GuestLine() CartLine {
	return CartLine{
		ID:        NewGuestLineID(),
		ProductID: r.ProductID,
		Title:     r.Title,
		ImageRef:  r.ImageRef,
		UnitPrice: r.UnitPrice,
	}.WithQuantity(r.Quantity)
}

// CartItemRequest is the body of POST /cart and one entry of POST /cart/merge.
type CartItemRequest struct {
	ProductID int `json:"productId"`
	Quantity  int `json:"quantity"`
}

// MergeRequest is the body of POST /cart/merge.
type MergeRequest struct {
	Items []CartItemRequest `json:"items"`
}

// MergePayload converts guest lines into merge entries. Local ids are dropped.
func MergePayload(lines []CartLine) []CartItemRequest {
	items := make([]CartItemRequest, 0, len(lines))
	for _, l := range lines {
		items = append(items, CartItemRequest{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return items
}

// WishlistItem is one entry of GET /wishlist.
type WishlistItem struct {
	ID        string `json:"id"`
	ProductID int    `json:"productId"`
}

// ToggleResult is the body of POST /wishlist/{productId}.
type ToggleResult struct {
	Added     bool `json:"added"`
	ProductID int  `json:"productId"`
}
