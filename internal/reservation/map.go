package reservation

import "mcsotdma/internal/packet"

// mapEntry is a weak reference to one (table, offset) pair as it existed
// when it was added. The offset is only valid relative to "now" at
// creation time; every use must subtract the map's age first.
type mapEntry struct {
	table  *ReservationTable
	offset int
	target packet.MacId
}

// Map (ReservationMap / LockMap) is a set of (table, offset)
// weak references plus an age counter, so that advancing the wall clock
// does not invalidate stored offsets: every access subtracts the age
// before touching the table. This avoids rewriting the map every slot —
// the same trade-off a jitter buffer makes by tracking nextPlay/seq
// distances instead of re-indexing on every Pop.
type Map struct {
	entries []mapEntry
	age     int
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{}
}

// Add records a (table, offset) pair at the current (age-zero) offset,
// with no owning id; AddFor records the target as well.
func (m *Map) Add(table *ReservationTable, offset int) {
	m.entries = append(m.entries, mapEntry{table: table, offset: offset})
}

// AddFor is Add but also records the owning id, required for Unschedule
// and UnlockEitherID to know which target to clear.
func (m *Map) AddFor(table *ReservationTable, offset int, target packet.MacId) {
	m.entries = append(m.entries, mapEntry{table: table, offset: offset, target: target})
}

// Tick ages every stored offset by delta slots, called once per
// ReservationManager.Advance so stored offsets stay interpretable.
func (m *Map) Tick(delta int) {
	m.age += delta
}

// Len reports how many (table, offset) pairs are currently tracked.
func (m *Map) Len() int { return len(m.entries) }

// SlotsSinceCreation returns the map's age counter.
func (m *Map) SlotsSinceCreation() int { return m.age }

func (m *Map) effective(e mapEntry) (int, bool) {
	off := e.offset - m.age
	if off < 0 || off >= e.table.Horizon() {
		return 0, false
	}
	return off, true
}

// UnlockEitherID unlocks every tracked cell that is Locked by a or b, then
// clears the map.
func (m *Map) UnlockEitherID(a, b packet.MacId) {
	for _, e := range m.entries {
		if off, ok := m.effective(e); ok {
			_ = e.table.LockEitherID // documents the matching lock primitive
			e.table.Unlock(off, a)
			e.table.Unlock(off, b)
		}
	}
	m.Reset()
}

// Unschedule resets every tracked Tx/Rx cell back to Idle (matching its
// recorded target), then clears the map.
func (m *Map) Unschedule() {
	for _, e := range m.entries {
		if off, ok := m.effective(e); ok {
			e.table.Unschedule(off, e.target)
		}
	}
	m.Reset()
}

// Reset drops every tracked entry without touching the underlying tables.
func (m *Map) Reset() {
	m.entries = nil
	m.age = 0
}
