package pools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferWindow(t *testing.T) {
	b := Buffer{res: make([]byte, 8), origin: OriginPool}
	assert.True(t, b.Owned())
	assert.Equal(t, 8, b.Spare())

	require.NoError(t, b.Append([]byte("abcdef")))
	assert.Equal(t, "abcdef", string(b.Bytes()))
	assert.ErrorIs(t, b.Append([]byte("xyz")), ErrBufferFull)

	b.Consume(2)
	assert.Equal(t, "cdef", string(b.Bytes()))
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, 2, b.Spare(), "consuming never frees space at the tail")

	b.Consume(10)
	assert.Equal(t, 0, b.Len())

	b.Reset()
	assert.Equal(t, 8, len(b.Tail()))
}

func TestBufferGrow(t *testing.T) {
	b := Buffer{res: make([]byte, 4), origin: OriginOverflow}
	copy(b.Tail(), "wxyz")
	require.NoError(t, b.Grow(3))
	assert.Equal(t, "wxy", string(b.Bytes()))
	assert.ErrorIs(t, b.Grow(2), ErrBadWindow)
	assert.ErrorIs(t, b.Grow(-1), ErrBadWindow)
}

func TestBufferSetWindow(t *testing.T) {
	b := Buffer{res: []byte("0123456789"), origin: OriginPool}
	require.NoError(t, b.SetWindow(2, 5))
	assert.Equal(t, "234", string(b.Bytes()))
	assert.ErrorIs(t, b.SetWindow(5, 2), ErrBadWindow)
	assert.ErrorIs(t, b.SetWindow(0, 11), ErrBadWindow)
}

func TestViewIsBorrowed(t *testing.T) {
	v := View([]byte("abc"))
	assert.False(t, v.Owned())
	assert.Equal(t, OriginView, v.Origin())
	assert.Equal(t, "abc", string(v.Bytes()))
	assert.False(t, v.IsZero())
	assert.True(t, (&Buffer{}).IsZero())
}
