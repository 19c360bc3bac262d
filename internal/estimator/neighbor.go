package estimator

import "mcsotdma/internal/packet"

// NeighborObserver remembers, per neighbor, the most recently advertised
// next-broadcast slot offset (from that neighbor's BaseHeader), so the SH
// link manager can pre-mark the matching Rx cell and detect collisions
// with its own scheduled Tx. Grounded on
// original_source/NeighborObserver.cpp/hpp.
type NeighborObserver struct {
	nextSlot map[packet.MacId]int
}

// NewNeighborObserver returns an empty observer.
func NewNeighborObserver() *NeighborObserver {
	return &NeighborObserver{nextSlot: make(map[packet.MacId]int)}
}

// Advertise records that neighbor id's next SH transmission is expected
// `offset` slots from now (normalized relative to "now" at the time of the
// call — the caller is responsible for re-normalizing before use if slots
// have since elapsed, the same contract as reservation.Map).
func (n *NeighborObserver) Advertise(id packet.MacId, offset int) {
	n.nextSlot[id] = offset
}

// ObservedNextSlot returns the last-advertised next-broadcast offset for
// id, and whether one has ever been observed.
func (n *NeighborObserver) ObservedNextSlot(id packet.MacId) (int, bool) {
	off, ok := n.nextSlot[id]
	return off, ok
}

// Age shifts every stored offset down by delta slots, matching a
// reservation table's Advance, so offsets recorded in past slots stay
// interpretable relative to the new "now". Offsets that go negative are
// dropped: the advertisement has lapsed.
func (n *NeighborObserver) Age(delta int) {
	for id, off := range n.nextSlot {
		off -= delta
		if off < 0 {
			delete(n.nextSlot, id)
			continue
		}
		n.nextSlot[id] = off
	}
}

// Forget removes id's tracked state entirely (e.g. on link teardown).
func (n *NeighborObserver) Forget(id packet.MacId) {
	delete(n.nextSlot, id)
}
