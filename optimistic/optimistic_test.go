package optimistic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cloneInts(v []int) []int {
	if v == nil {
		return nil
	}
	out := make([]int, len(v))
	copy(out, v)
	return out
}

func TestMutate_RestoresOnFailure(t *testing.T) {
	c := NewCache(cloneInts)
	c.Set([]int{2})

	err := Mutate(context.Background(), c,
		func(v []int) []int { v[0] = 5; return v },
		func(context.Context) error { return errors.New("boom") },
	)
	require.Error(t, err)

	got, loaded := c.Get()
	assert.True(t, loaded)
	assert.Equal(t, []int{2}, got)
}

func TestMutate_KeepsAppliedValueOnSuccess(t *testing.T) {
	c := NewCache(cloneInts)
	c.Set([]int{2})

	require.NoError(t, Mutate(context.Background(), c,
		func(v []int) []int { return append(v, 3) },
		func(context.Context) error { return nil },
	))

	got, _ := c.Get()
	assert.Equal(t, []int{2, 3}, got)
}

func TestRestore_SkipsWhenNewerChangeLanded(t *testing.T) {
	c := NewCache(cloneInts)
	c.Set([]int{1})

	slow := c.Snapshot()
	slowApplied := c.Apply(func(v []int) []int { v[0] = 2; return v })

	// A newer mutation starts and succeeds before the slow one fails.
	c.Apply(func(v []int) []int { v[0] = 3; return v })

	assert.False(t, c.Restore(slow, slowApplied))
	got, _ := c.Get()
	assert.Equal(t, []int{3}, got)
}

func TestGet_ReturnsCopies(t *testing.T) {
	c := NewCache(cloneInts)
	c.Set([]int{1, 2})

	got, _ := c.Get()
	got[0] = 99

	again, _ := c.Get()
	assert.Equal(t, []int{1, 2}, again)
}

func TestInvalidateKeepsLastGood(t *testing.T) {
	c := NewCache(cloneInts)
	assert.False(t, c.Fresh())

	c.Set([]int{4})
	assert.True(t, c.Fresh())

	c.Invalidate()
	assert.False(t, c.Fresh())
	got, loaded := c.Get()
	assert.True(t, loaded)
	assert.Equal(t, []int{4}, got)

	c.Reset()
	_, loaded = c.Get()
	assert.False(t, loaded)
}

func TestCache_CompareAndSetDropsFetchOverlappingAnEdit(t *testing.T) {
	c := NewCache(cloneInts)
	c.Set([]int{1})

	v := c.Version()
	c.Apply(func(x []int) []int { return append(x, 2) })

	assert.False(t, c.CompareAndSet([]int{9}, v))
	assert.False(t, c.Fresh())
	got, _ := c.Get()
	assert.Equal(t, []int{1, 2}, got)

	assert.True(t, c.CompareAndSet([]int{1, 2, 3}, c.Version()))
	assert.True(t, c.Fresh())
}
