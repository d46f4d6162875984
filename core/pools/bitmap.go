package pools

import "math/bits"

// WordBits is the number of entries tracked by one bitmap word
const WordBits = 64

const (
	wordFree = ^uint64(0)
	wordUsed = uint64(0)
)

// Bitmap tracks free/used entries, one bit per entry, 1 = free
type Bitmap struct {
	words []uint64
	n     int
}

// NewBitmap creates a bitmap of n entries, all free
func NewBitmap(n int) *Bitmap {
	b := &Bitmap{
		words: make([]uint64, (n+WordBits-1)/WordBits),
		n:     n,
	}
	b.Reset()
	return b
}

// Reset marks every entry free
func (b *Bitmap) Reset() {
	for i := range b.words {
		b.words[i] = wordFree
	}
	// Bits past n stay used so scans never return them
	if rem := b.n % WordBits; rem != 0 {
		b.words[len(b.words)-1] = (uint64(1) << rem) - 1
	}
}

// Len returns the number of entries
func (b *Bitmap) Len() int { return b.n }

// Words returns the number of words
func (b *Bitmap) Words() int { return len(b.words) }

// IsFree reports whether entry i is free
func (b *Bitmap) IsFree(i int) bool {
	return (b.words[i/WordBits]>>(i%WordBits))&1 == 1
}

// Use marks entry i as used
func (b *Bitmap) Use(i int) {
	b.words[i/WordBits] &^= 1 << (i % WordBits)
}

// Free marks entry i as free
func (b *Bitmap) Free(i int) {
	b.words[i/WordBits] |= 1 << (i % WordBits)
}

// FirstFree returns the lowest free entry, or -1
func (b *Bitmap) FirstFree() int {
	for w, word := range b.words {
		if word == wordUsed {
			continue
		}
		i := w*WordBits + bits.TrailingZeros64(word)
		if i >= b.n {
			return -1
		}
		return i
	}
	return -1
}

// WordIsFree reports whether all 64 entries of word w are free
func (b *Bitmap) WordIsFree(w int) bool { return b.words[w] == wordFree }

// WordIsUsed reports whether all 64 entries of word w are used
func (b *Bitmap) WordIsUsed(w int) bool { return b.words[w] == wordUsed }

// UseWord marks all entries of word w used
func (b *Bitmap) UseWord(w int) { b.words[w] = wordUsed }

// FreeWord marks all entries of word w free
func (b *Bitmap) FreeWord(w int) { b.words[w] = wordFree }

// CountFree returns the number of free entries
func (b *Bitmap) CountFree() int {
	n := 0
	for _, word := range b.words {
		n += bits.OnesCount64(word)
	}
	return n
}
