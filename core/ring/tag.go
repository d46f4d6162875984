package ring

// Tag identifies the owner of a submission. Layout:
//
//	bits 56-63  Kind
//	bits 32-55  generation of the slab slot
//	bits  0-31  slab index
//
// The zero Tag is "untagged": its completions are discarded.
type Tag uint64

// Kind is the operation class carried by a Tag
type Kind uint8

const (
	KindNone Kind = iota
	KindAccept
	KindTick
	KindTimer
	KindHeaderRecv
	KindBodyRecv
	KindSend
	KindInterim
	KindStatus

	kindCount
)

// KindCount is the number of kinds, usable as a bitmask width
const KindCount = int(kindCount)

const genMask = 1<<24 - 1

// MakeTag packs kind, generation and slot index
func MakeTag(kind Kind, gen uint32, index int) Tag {
	return Tag(kind)<<56 | Tag(gen&genMask)<<32 | Tag(uint32(index))
}

// Kind returns the operation class
func (t Tag) Kind() Kind { return Kind(t >> 56) }

// Gen returns the slot generation
func (t Tag) Gen() uint32 { return uint32(t>>32) & genMask }

// Index returns the slab index
func (t Tag) Index() int { return int(uint32(t)) }

// NextGen advances a generation counter within the tag's range
func NextGen(gen uint32) uint32 { return (gen + 1) & genMask }

func (k Kind) String() string {
	switch k {
	case KindAccept:
		return "accept"
	case KindTick:
		return "tick"
	case KindTimer:
		return "timer"
	case KindHeaderRecv:
		return "header-recv"
	case KindBodyRecv:
		return "body-recv"
	case KindSend:
		return "send"
	case KindInterim:
		return "interim"
	case KindStatus:
		return "status"
	default:
		return "none"
	}
}
