package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartLine_WithQuantityRecomputesSubtotal(t *testing.T) {
	line := CartLine{ID: "a", UnitPrice: decimal.RequireFromString("19.99"), Quantity: 1}.Normalize()
	require.True(t, line.Subtotal.Equal(decimal.RequireFromString("19.99")))

	for _, qty := range []int{2, 3, 7, 1} {
		line = line.WithQuantity(qty)
		assert.True(t, line.Subtotal.Equal(line.UnitPrice.Mul(decimal.NewFromInt(int64(qty)))), "qty %d", qty)
	}
}

func TestNormalizeLines_DiscardsStaleSubtotal(t *testing.T) {
	var lines []CartLine
	require.NoError(t, json.Unmarshal([]byte(`[{"id":"x","productId":3,"price":10,"quantity":4,"subtotal":10}]`), &lines))

	got := NormalizeLines(lines)
	assert.Equal(t, "40", got[0].Subtotal.String())
	assert.Equal(t, "10", lines[0].Subtotal.String(), "input must not be modified")
}

func TestGuestLineIDs(t *testing.T) {
	id := NewGuestLineID()
	assert.True(t, IsGuestLineID(id))
	assert.False(t, IsGuestLineID("3f8e6a52-32d1-4c39-9a46-6b0d5e0e1a11"))
	assert.NotEqual(t, id, NewGuestLineID())
}

func TestTotalsAndMergePayload(t *testing.T) {
	lines := []CartLine{
		AddRequest{ProductID: 7, Quantity: 2, UnitPrice: decimal.RequireFromString("10.50")}.GuestLine(),
		AddRequest{ProductID: 9, Quantity: 1, UnitPrice: decimal.RequireFromString("3")}.GuestLine(),
	}

	assert.Equal(t, "24", Total(lines).String())
	assert.Equal(t, 3, Count(lines))
	assert.Equal(t, []CartItemRequest{{ProductID: 7, Quantity: 2}, {ProductID: 9, Quantity: 1}}, MergePayload(lines))
}
