package pools

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, size int, poolOnly bool) *BlockPool {
	t.Helper()
	p, err := NewBlockPool(size, poolOnly)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestRoundToBlocks(t *testing.T) {
	assert.Equal(t, 64, RoundToBlocks(1))
	assert.Equal(t, 64, RoundToBlocks(256))
	assert.Equal(t, 128, RoundToBlocks(257))
	assert.Equal(t, 2048, RoundToBlocks(8<<10))
}

func TestAllocateRejectsBadCounts(t *testing.T) {
	p := newPool(t, 1<<20, true)
	_, err := p.Allocate(0)
	assert.ErrorIs(t, err, ErrInvalidBlocks)
	_, err = p.Allocate(p.Blocks() + 1)
	assert.ErrorIs(t, err, ErrInvalidBlocks)
}

func TestAllocateFirstFitSkipsFragments(t *testing.T) {
	p := newPool(t, 4096, true) // 1024 blocks, 16 words
	a, err := p.Allocate(64)
	require.NoError(t, err)
	b, err := p.Allocate(64)
	require.NoError(t, err)
	c, err := p.Allocate(64)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 64, 128}, []int{a, b, c})

	require.NoError(t, p.Release(b, 64))
	// two words do not fit in the one-word hole at b
	d, err := p.Allocate(128)
	require.NoError(t, err)
	assert.Equal(t, 192, d)

	// one word does
	e, err := p.Allocate(1)
	require.NoError(t, err)
	assert.Equal(t, b, e)
}

func TestAllocateExhaustion(t *testing.T) {
	p := newPool(t, 4096, true)
	idx, err := p.Allocate(p.Blocks())
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 0, p.FreeBlocks())

	_, err = p.Allocate(1)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, uint64(1), p.Stats().Failures)
}

func TestReleaseChecks(t *testing.T) {
	p := newPool(t, 4096, true)
	idx, err := p.Allocate(64)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Release(idx+1, 64), ErrInvalidIndex)
	assert.ErrorIs(t, p.Release(idx, 0), ErrInvalidBlocks)
	require.NoError(t, p.Release(idx, 64))
	assert.ErrorIs(t, p.Release(idx, 64), ErrDoubleFree)
}

func TestReleaseZeroesMemory(t *testing.T) {
	p := newPool(t, 4096, true)
	buf, err := p.Get(100)
	require.NoError(t, err)
	require.NoError(t, buf.Append([]byte("secret")))
	require.NoError(t, p.Put(&buf))
	assert.True(t, buf.IsZero(), "Put clears the record")

	again, err := p.Get(100)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, again.Cap()), again.Reserved())
}

// Random allocate/release never hands out overlapping blocks and the bitmap
// always agrees with the live set
func TestRandomAllocateReleaseInvariant(t *testing.T) {
	p := newPool(t, 1<<20, true)
	rng := rand.New(rand.NewPCG(1, 2))

	type run struct{ index, n int }
	var live []run
	owner := make([]int, p.Blocks()) // 0 = free, otherwise run id + 1

	for step := 0; step < 5000; step++ {
		if len(live) > 0 && rng.IntN(3) == 0 {
			i := rng.IntN(len(live))
			r := live[i]
			require.NoError(t, p.Release(r.index, r.n))
			for b := r.index; b < r.index+ceilBlocks(r.n); b++ {
				owner[b] = 0
			}
			live = append(live[:i], live[i+1:]...)
			continue
		}

		n := 1 + rng.IntN(2048)
		idx, err := p.Allocate(n)
		if err != nil {
			require.ErrorIs(t, err, ErrPoolExhausted)
			continue
		}
		require.Zero(t, idx%WordBits)
		for b := idx; b < idx+ceilBlocks(n); b++ {
			require.Zero(t, owner[b], "block %d handed out twice", b)
			owner[b] = step + 1
		}
		live = append(live, run{idx, n})
	}

	used := 0
	for _, o := range owner {
		if o != 0 {
			used++
		}
	}
	assert.Equal(t, p.Blocks()-used, p.FreeBlocks())
}

func TestGetFallsBackToOverflow(t *testing.T) {
	p := newPool(t, 4096, false)
	whole, err := p.Get(p.Size())
	require.NoError(t, err)
	assert.Equal(t, OriginPool, whole.Origin())

	extra, err := p.Get(10)
	require.NoError(t, err)
	assert.Equal(t, OriginOverflow, extra.Origin())
	assert.False(t, p.Contains(extra.Reserved()))
	assert.Equal(t, int64(1), p.Stats().OverflowLive)

	require.NoError(t, p.Put(&extra))
	require.NoError(t, p.Put(&whole))
	assert.Equal(t, int64(0), p.Stats().OverflowLive)
	assert.Equal(t, p.Blocks(), p.FreeBlocks())
}

func TestPoolOnlyRefusesOverflow(t *testing.T) {
	p := newPool(t, 4096, true)
	_, err := p.Get(p.Size())
	require.NoError(t, err)

	_, err = p.Get(10)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	_, err = p.Overflow(10)
	assert.ErrorIs(t, err, ErrPoolOnly)
}

func TestGetOnce(t *testing.T) {
	p := newPool(t, 4096, false)
	b, err := p.GetOnce(100)
	require.NoError(t, err)
	assert.Equal(t, OriginOverflow, b.Origin())
	require.NoError(t, p.Put(&b))

	po := newPool(t, 4096, true)
	b, err = po.GetOnce(100)
	require.NoError(t, err)
	assert.Equal(t, OriginPool, b.Origin(), "pool-only mode stays in the arena")
}

func TestPutIgnoresViews(t *testing.T) {
	p := newPool(t, 4096, true)
	src, err := p.Get(256)
	require.NoError(t, err)
	require.NoError(t, src.Append([]byte("hello")))

	view := src.Slice(1, 4)
	assert.Equal(t, "ell", string(view.Bytes()))
	require.NoError(t, p.Put(&view))
	assert.Equal(t, p.Blocks()-64, p.FreeBlocks())
}

func TestClosedPool(t *testing.T) {
	p, err := NewBlockPool(4096, true)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.Allocate(1)
	assert.ErrorIs(t, err, ErrPoolClosed)
}
