package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norun9/shopclient/kvstore"
)

func TestRecentlyViewed_MostRecentFirstWithoutDuplicates(t *testing.T) {
	ctx := context.Background()
	r := NewRecentlyViewed(kvstore.NewMemoryStore(), nil)

	for _, id := range []int{1, 2, 3, 2} {
		r.Add(ctx, id)
	}
	assert.Equal(t, []int{2, 3, 1}, r.ProductIDs())
}

func TestRecentlyViewed_Capped(t *testing.T) {
	ctx := context.Background()
	r := NewRecentlyViewed(nil, nil)

	for id := 1; id <= 15; id++ {
		r.Add(ctx, id)
	}
	got := r.ProductIDs()
	require.Len(t, got, MaxRecentlyViewed)
	assert.Equal(t, 15, got[0])
	assert.Equal(t, 6, got[MaxRecentlyViewed-1])
}

func TestRecentlyViewed_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	first := NewRecentlyViewed(kv, nil)
	first.Add(ctx, 4)
	first.Add(ctx, 8)

	second := NewRecentlyViewed(kv, nil)
	second.Initialize(ctx)
	assert.Equal(t, []int{8, 4}, second.ProductIDs())
}

func TestRecentlyViewed_CorruptBlob(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, kvstore.KeyRecentlyViewed, "[oops"))

	r := NewRecentlyViewed(kv, nil)
	r.Initialize(ctx)
	assert.Empty(t, r.ProductIDs())
}
