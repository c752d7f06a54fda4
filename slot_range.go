package redistore

import "fmt"

// SlotRange is a contiguous, inclusive range of Redis Cluster hash slots
// owned by a single node, as reported by CLUSTER SLOTS.
type SlotRange struct {
	start uint16
	end   uint16
}

// NewSlotRange constructs a SlotRange, validating that end does not precede
// start and that both lie within the valid slot space.
func NewSlotRange(start, end uint16) (SlotRange, error) {
	if end < start {
		return SlotRange{}, fmt.Errorf("redistore: slot range end %d precedes start %d", end, start)
	}
	if int(end) >= hashslotCount {
		return SlotRange{}, fmt.Errorf("redistore: slot range end %d exceeds max slot %d", end, hashslotCount-1)
	}
	return SlotRange{start: start, end: end}, nil
}

const hashslotCount = 16384

// Start returns the first slot in the range.
func (r SlotRange) Start() uint16 { return r.start }

// End returns the last slot in the range, inclusive.
func (r SlotRange) End() uint16 { return r.end }

// Contains reports whether slot lies within the range, inclusive.
func (r SlotRange) Contains(slot uint16) bool {
	return slot >= r.start && slot <= r.end
}

// Compare orders two SlotRanges by their start slot, then their end slot.
// It returns a negative number if r sorts before other, zero if they are
// equal, and a positive number if r sorts after other.
func (r SlotRange) Compare(other SlotRange) int {
	switch {
	case r.start < other.start:
		return -1
	case r.start > other.start:
		return 1
	case r.end < other.end:
		return -1
	case r.end > other.end:
		return 1
	default:
		return 0
	}
}

// CompareSlot orders r against a bare slot value, the same projection
// CompareStorageId uses for a StorageId. It returns a negative number if
// slot falls before the range, zero if slot falls inside it, and a
// positive number if slot falls after the range.
//
// Using this single slot-projection as the basis for every heterogeneous
// comparison (rather than comparing a SlotRange against a StorageId by
// some other means) is what lets a sorted slice of SlotRanges be searched
// directly by StorageId without a wrapper type: both sides reduce to the
// same uint16 before comparing, so the total order in effect is exactly
// "compare by slot" regardless of which concrete type supplied it.
func (r SlotRange) CompareSlot(slot uint16) int {
	switch {
	case slot < r.start:
		return -1
	case slot > r.end:
		return 1
	default:
		return 0
	}
}

// CompareStorageId orders r against the slot a StorageId hashes to. A
// result of zero means id's data and version keys both live inside r.
func (r SlotRange) CompareStorageId(id StorageId) int {
	return r.CompareSlot(id.Slot())
}

// String implements fmt.Stringer for debugging and log lines.
func (r SlotRange) String() string {
	return fmt.Sprintf("[%d-%d]", r.start, r.end)
}
