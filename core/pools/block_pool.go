package pools

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// BlockSize is the size in bytes of one pool block
const BlockSize = 4

var (
	ErrPoolExhausted = errors.New("block pool exhausted")
	ErrPoolOnly      = errors.New("overflow mapping disabled in pool-only mode")
	ErrInvalidBlocks = errors.New("invalid block count")
	ErrInvalidIndex  = errors.New("invalid block index")
	ErrDoubleFree    = errors.New("blocks already free")
	ErrPoolClosed    = errors.New("block pool closed")
)

// BlockPool is an mmap-backed arena carved into BlockSize blocks. Allocation
// works on whole bitmap words, so every run is a multiple of 64 blocks and
// starts on a word boundary. A pool belongs to exactly one worker.
type BlockPool struct {
	arena    []byte
	base     uintptr
	nblocks  int
	free     *Bitmap
	poolOnly bool
	pageSize int

	stats BlockPoolStats
}

// BlockPoolStats counts pool activity
type BlockPoolStats struct {
	Blocks        int    `json:"blocks"`
	FreeBlocks    int    `json:"free_blocks"`
	Allocs        uint64 `json:"allocs"`
	Releases      uint64 `json:"releases"`
	Failures      uint64 `json:"failures"`
	OverflowMaps  uint64 `json:"overflow_maps"`
	OverflowLive  int64  `json:"overflow_live"`
	OverflowBytes int64  `json:"overflow_bytes"`
}

// RoundToBlocks converts a byte count into a block count rounded up to a
// whole bitmap word
func RoundToBlocks(size int) int {
	nblocks := (size + BlockSize - 1) / BlockSize
	return ceilBlocks(nblocks)
}

func ceilBlocks(nblocks int) int {
	return (nblocks + WordBits - 1) &^ (WordBits - 1)
}

func alignTo(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// NewBlockPool maps size bytes (rounded up to the page size) as the arena
func NewBlockPool(size int, poolOnly bool) (*BlockPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size %d: %w", size, ErrInvalidBlocks)
	}
	pageSize := unix.Getpagesize()
	size = alignTo(size, pageSize)

	arena, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap arena: %w", err)
	}

	nblocks := size / BlockSize
	p := &BlockPool{
		arena:    arena,
		base:     uintptr(unsafe.Pointer(unsafe.SliceData(arena))),
		nblocks:  nblocks,
		free:     NewBitmap(nblocks),
		poolOnly: poolOnly,
		pageSize: pageSize,
	}
	p.stats.Blocks = nblocks
	return p, nil
}

// Size returns the arena size in bytes
func (p *BlockPool) Size() int { return len(p.arena) }

// Blocks returns the number of blocks in the arena
func (p *BlockPool) Blocks() int { return p.nblocks }

// FreeBlocks returns the number of free blocks
func (p *BlockPool) FreeBlocks() int { return p.free.CountFree() }

// PoolOnly reports whether overflow mappings are disabled
func (p *BlockPool) PoolOnly() bool { return p.poolOnly }

// Allocate reserves a run of at least nblocks blocks and returns the index of
// its first block
func (p *BlockPool) Allocate(nblocks int) (int, error) {
	if p.arena == nil {
		return -1, ErrPoolClosed
	}
	if nblocks <= 0 || nblocks > p.nblocks {
		return -1, ErrInvalidBlocks
	}

	need := ceilBlocks(nblocks) / WordBits
	words := p.nblocks / WordBits

	for w := 0; w+need <= words; {
		if p.free.WordIsUsed(w) {
			w++
			continue
		}

		fits := true
		for j := 0; j < need; j++ {
			if !p.free.WordIsFree(w + j) {
				// Nothing starting at or before w+j can fit
				fits = false
				w += j + 1
				break
			}
		}
		if !fits {
			continue
		}

		for j := 0; j < need; j++ {
			p.free.UseWord(w + j)
		}
		p.stats.Allocs++
		return w * WordBits, nil
	}

	p.stats.Failures++
	return -1, ErrPoolExhausted
}

// Release returns the run starting at index to the pool and zeroes it
func (p *BlockPool) Release(index, nblocks int) error {
	if p.arena == nil {
		return ErrPoolClosed
	}
	if nblocks <= 0 || nblocks > p.nblocks {
		return ErrInvalidBlocks
	}
	nblocks = ceilBlocks(nblocks)
	if index < 0 || index%WordBits != 0 || index+nblocks > p.nblocks {
		return ErrInvalidIndex
	}

	first := index / WordBits
	for w := first; w < first+nblocks/WordBits; w++ {
		if !p.free.WordIsUsed(w) {
			return ErrDoubleFree
		}
	}

	clear(p.block(index, nblocks))
	for w := first; w < first+nblocks/WordBits; w++ {
		p.free.FreeWord(w)
	}
	p.stats.Releases++
	return nil
}

func (p *BlockPool) block(index, nblocks int) []byte {
	from := index * BlockSize
	to := from + nblocks*BlockSize
	return p.arena[from:to:to]
}

// Contains reports whether b points into the arena
func (p *BlockPool) Contains(b []byte) bool {
	if len(b) == 0 || p.arena == nil {
		return false
	}
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	return addr >= p.base && addr < p.base+uintptr(len(p.arena))
}

func (p *BlockPool) indexOf(b []byte) int {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	return int(addr-p.base) / BlockSize
}

// Get returns a Buffer of at least size bytes from the arena, falling back to
// an overflow mapping when the arena is exhausted and overflow is allowed
func (p *BlockPool) Get(size int) (Buffer, error) {
	if size <= 0 {
		return Buffer{}, ErrInvalidBlocks
	}
	nblocks := RoundToBlocks(size)
	if nblocks <= p.nblocks {
		index, err := p.Allocate(nblocks)
		if err == nil {
			return Buffer{res: p.block(index, nblocks), origin: OriginPool}, nil
		}
		if !errors.Is(err, ErrPoolExhausted) {
			return Buffer{}, err
		}
	}
	if p.poolOnly {
		return Buffer{}, ErrPoolExhausted
	}
	return p.Overflow(size)
}

// GetOnce returns a Buffer backed by its own mapping. In pool-only mode it
// behaves like Get.
func (p *BlockPool) GetOnce(size int) (Buffer, error) {
	if p.poolOnly {
		return p.Get(size)
	}
	return p.Overflow(size)
}

// Overflow maps a one-off region of at least size bytes outside the arena
func (p *BlockPool) Overflow(size int) (Buffer, error) {
	if p.poolOnly {
		return Buffer{}, ErrPoolOnly
	}
	if size <= 0 {
		return Buffer{}, ErrInvalidBlocks
	}
	size = alignTo(size, p.pageSize)
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		p.stats.Failures++
		return Buffer{}, fmt.Errorf("mmap overflow: %w", err)
	}
	p.stats.OverflowMaps++
	p.stats.OverflowLive++
	p.stats.OverflowBytes += int64(size)
	return Buffer{res: mem, origin: OriginOverflow}, nil
}

// Put releases the Buffer's reservation and clears the record. Arena memory
// goes back to the bitmap, overflow mappings are unmapped and borrowed views
// are just dropped.
func (p *BlockPool) Put(b *Buffer) error {
	if b == nil || b.res == nil {
		return nil
	}
	res := b.res
	origin := b.origin
	*b = Buffer{}

	if origin == OriginView {
		return nil
	}
	if p.Contains(res) {
		return p.Release(p.indexOf(res), len(res)/BlockSize)
	}

	p.stats.OverflowLive--
	p.stats.OverflowBytes -= int64(len(res))
	if err := unix.Munmap(res); err != nil {
		return fmt.Errorf("munmap overflow: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the pool counters
func (p *BlockPool) Stats() BlockPoolStats {
	s := p.stats
	s.FreeBlocks = p.FreeBlocks()
	return s
}

// Close unmaps the arena. Outstanding Buffers become invalid.
func (p *BlockPool) Close() error {
	if p.arena == nil {
		return nil
	}
	err := unix.Munmap(p.arena)
	p.arena = nil
	p.base = 0
	return err
}
