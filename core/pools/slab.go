package pools

// Resettable is implemented by slab entries; Reset must clear all state
// left by a previous occupant
type Resettable interface {
	Reset()
}

// Slab is a fixed-capacity array of reusable entries with an occupancy bitmap.
// Entries never move, so a slot index is a stable handle for the lifetime of
// the slab.
type Slab[T any, P interface {
	*T
	Resettable
}] struct {
	items []T
	free  *Bitmap
	inUse int

	acquires uint64
	releases uint64
	misses   uint64
}

// SlabStats counts slab activity
type SlabStats struct {
	Capacity int    `json:"capacity"`
	InUse    int    `json:"in_use"`
	Acquires uint64 `json:"acquires"`
	Releases uint64 `json:"releases"`
	Misses   uint64 `json:"misses"`
}

// NewSlab creates a slab holding capacity entries
func NewSlab[T any, P interface {
	*T
	Resettable
}](capacity int) *Slab[T, P] {
	return &Slab[T, P]{
		items: make([]T, capacity),
		free:  NewBitmap(capacity),
	}
}

// Acquire claims the lowest free slot. The entry is reset before it is handed
// out. ok is false when the slab is full.
func (s *Slab[T, P]) Acquire() (index int, item P, ok bool) {
	index = s.free.FirstFree()
	if index < 0 {
		s.misses++
		return -1, nil, false
	}
	s.free.Use(index)
	s.inUse++
	s.acquires++

	item = P(&s.items[index])
	item.Reset()
	return index, item, true
}

// Release frees slot index. Releasing a free slot is a no-op.
func (s *Slab[T, P]) Release(index int) {
	if index < 0 || index >= len(s.items) || s.free.IsFree(index) {
		return
	}
	P(&s.items[index]).Reset()
	s.free.Free(index)
	s.inUse--
	s.releases++
}

// At returns the entry in slot index if it is occupied
func (s *Slab[T, P]) At(index int) (P, bool) {
	if index < 0 || index >= len(s.items) || s.free.IsFree(index) {
		return nil, false
	}
	return P(&s.items[index]), true
}

// Occupied reports whether slot index is in use
func (s *Slab[T, P]) Occupied(index int) bool {
	return index >= 0 && index < len(s.items) && !s.free.IsFree(index)
}

// InUse returns the number of occupied slots
func (s *Slab[T, P]) InUse() int { return s.inUse }

// Cap returns the slab capacity
func (s *Slab[T, P]) Cap() int { return len(s.items) }

// Stats returns slab statistics
func (s *Slab[T, P]) Stats() SlabStats {
	return SlabStats{
		Capacity: len(s.items),
		InUse:    s.inUse,
		Acquires: s.acquires,
		Releases: s.releases,
		Misses:   s.misses,
	}
}
