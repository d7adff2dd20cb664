package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_FIFOAndOverflow(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 3; i++ {
		assert.False(t, r.Push(i))
	}
	assert.True(t, r.Push(4), "pushing into a full ring drops the oldest")
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, int64(1), r.Dropped())

	for _, want := range []int{2, 3, 4} {
		got, ok := r.Pop()
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := r.Pop()
	assert.False(t, ok)
}

func TestRing_PopNewest(t *testing.T) {
	r := NewRing[string](4)
	r.Push("a")
	r.Push("b")
	r.Push("c")

	got, ok := r.PopNewest()
	assert.True(t, ok)
	assert.Equal(t, "c", got)

	got, _ = r.Pop()
	assert.Equal(t, "a", got)
	assert.Equal(t, 1, r.Len())
}

func TestRing_Clear(t *testing.T) {
	r := NewRing[int](0)
	assert.Equal(t, 1, r.Cap())

	r.Push(1)
	r.Push(2)
	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, int64(1), r.Dropped())

	r.Push(3)
	got, ok := r.Pop()
	assert.True(t, ok)
	assert.Equal(t, 3, got)
}
