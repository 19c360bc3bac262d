package reservation

import "mcsotdma/internal/packet"

// ReservationTable is a ring-shaped sliding array over a planning horizon H
// of Reservation cells, indexed by slot offset 0..H-1 relative to "now".
// It is linked to at most one FrequencyChannel; the transmitter table and
// receiver tables owned by a ReservationManager pass nil (they track
// hardware availability, not a specific frequency).
type ReservationTable struct {
	channel *packet.FrequencyChannel
	cells   []Reservation
}

// NewReservationTable allocates a table with every cell Idle.
func NewReservationTable(horizon int, channel *packet.FrequencyChannel) *ReservationTable {
	if horizon <= 0 {
		panic("reservation: horizon must be positive")
	}
	cells := make([]Reservation, horizon)
	for i := range cells {
		cells[i] = IdleReservation
	}
	return &ReservationTable{channel: channel, cells: cells}
}

// Channel returns the table's linked frequency, or nil for a hardware
// (transmitter/receiver) table.
func (t *ReservationTable) Channel() *packet.FrequencyChannel { return t.channel }

// Horizon returns H, the number of representable slot offsets.
func (t *ReservationTable) Horizon() int { return len(t.cells) }

func (t *ReservationTable) checkRange(offset int) {
	if offset < 0 || offset >= len(t.cells) {
		panic((&OutOfRangeError{Offset: offset, Horizon: len(t.cells)}).Error())
	}
}

// GetReservation returns the cell at offset. Panics (OutOfRange) if offset
// is outside [0, H) — a programming error,
func (t *ReservationTable) GetReservation(offset int) Reservation {
	t.checkRange(offset)
	return t.cells[offset]
}

// Mark overwrites the cell at offset with r. Overwriting a Locked cell is
// always permitted (promotion). Overwriting any other non-Idle, non-equal
// cell with a conflicting Tx/Rx reservation returns ErrNoTxAvailable —
// recoverable at slot-selection time, fatal if it surfaces from
// ReservationManager.ScheduleBursts.
func (t *ReservationTable) Mark(offset int, r Reservation) error {
	t.checkRange(offset)
	cur := t.cells[offset]
	if cur == r {
		return nil
	}
	if cur.Kind != Idle && cur.Kind != Locked {
		if cur.IsTx() || cur.IsRx() || r.IsTx() || r.IsRx() {
			return ErrNoTxAvailable
		}
	}
	t.cells[offset] = r
	return nil
}

// CanLock reports whether offset is Idle, or already Locked by id.
func (t *ReservationTable) CanLock(offset int, id packet.MacId) bool {
	t.checkRange(offset)
	cur := t.cells[offset]
	return cur.Kind == Idle || (cur.Kind == Locked && cur.Target == id)
}

// Lock transitions an Idle cell to Locked(id). Fails with ErrCannotLock if
// the cell is non-idle and not already Locked by id (idempotent re-lock).
func (t *ReservationTable) Lock(offset int, id packet.MacId) error {
	if !t.CanLock(offset, id) {
		return ErrCannotLock
	}
	t.cells[offset] = Reservation{Kind: Locked, Target: id}
	return nil
}

// LockEitherID is Lock but also tolerates a cell already Locked by a or b —
// used by ThirdPartyLink, which may observe the same resource mentioned by
// two different overlapping link negotiations. Idle cells lock to a.
func (t *ReservationTable) LockEitherID(offset int, a, b packet.MacId) error {
	t.checkRange(offset)
	cur := t.cells[offset]
	switch {
	case cur.Kind == Idle:
		t.cells[offset] = Reservation{Kind: Locked, Target: a}
		return nil
	case cur.Kind == Locked && (cur.Target == a || cur.Target == b):
		return nil
	default:
		return ErrIdMismatch
	}
}

// Unlock resets a Locked(id) cell back to Idle. A no-op on any other kind,
// so unlock is always safe to call twice.
func (t *ReservationTable) Unlock(offset int, id packet.MacId) {
	t.checkRange(offset)
	if cur := t.cells[offset]; cur.Kind == Locked && cur.Target == id {
		t.cells[offset] = IdleReservation
	}
}

// Unschedule resets a Tx/Rx/TxBeacon/RxBeacon(id) cell back to Idle.
func (t *ReservationTable) Unschedule(offset int, id packet.MacId) {
	t.checkRange(offset)
	if cur := t.cells[offset]; cur.Target == id && (cur.IsTx() || cur.IsRx()) {
		t.cells[offset] = IdleReservation
	}
}

// IsBurstEnd reports whether the cell at offset is Tx(id) or Rx(id) and the
// following cell is neither — i.e. offset is the last slot of a contiguous
// burst addressed to/from id. A burst that runs off the high edge of the
// horizon is conservatively treated as ended.
func (t *ReservationTable) IsBurstEnd(offset int, id packet.MacId) bool {
	t.checkRange(offset)
	cur := t.cells[offset]
	if cur.Target != id || !(cur.IsTx() || cur.IsRx()) {
		return false
	}
	if offset+1 >= len(t.cells) {
		return true
	}
	next := t.cells[offset+1]
	return !(next.Target == id && (next.IsTx() || next.IsRx()))
}

// IsIdle reports whether every cell in [offset, offset+span) is Idle.
func (t *ReservationTable) IsIdle(offset, span int) bool {
	if span <= 0 {
		return true
	}
	t.checkRange(offset)
	t.checkRange(offset + span - 1)
	for i := offset; i < offset+span; i++ {
		if t.cells[i].Kind != Idle {
			return false
		}
	}
	return true
}

// IdleCount returns the number of Idle cells across the whole horizon, used
// by ReservationManager.SortedP2PTables to prefer the least-loaded channel.
func (t *ReservationTable) IdleCount() int {
	n := 0
	for _, c := range t.cells {
		if c.Kind == Idle {
			n++
		}
	}
	return n
}

// Advance shifts every cell down by delta slots, discarding cells that
// shift past the low end and filling new high-end cells with Idle. delta
// greater than or equal to the horizon resets the table entirely — the
// same "way ahead of expectation, reset and start priming again" branch a
// jitter buffer takes when a stream resumes after a long gap.
func (t *ReservationTable) Advance(delta int) {
	h := len(t.cells)
	if delta <= 0 {
		return
	}
	if delta >= h {
		for i := range t.cells {
			t.cells[i] = IdleReservation
		}
		return
	}
	copy(t.cells, t.cells[delta:])
	for i := h - delta; i < h; i++ {
		t.cells[i] = IdleReservation
	}
}

// FindPPCandidates scans [minOffset, H) for up to n starting offsets s such
// that, for each of the timeout future bursts at s+k·period, the span
// [start, start+burstLength) is Idle on this table, the txTable is idle
// during the TX subsection, and the rxTable is idle during the RX
// subsection. Returns nil if none are found.
func (t *ReservationTable) FindPPCandidates(n, minOffset, period, burstLength, burstLengthTx, timeout int, txTable, rxTable *ReservationTable) []int {
	var out []int
	h := len(t.cells)
	if minOffset < 0 {
		minOffset = 0
	}
	for s := minOffset; s < h && len(out) < n; s++ {
		if candidateViable(t, txTable, rxTable, s, period, burstLength, burstLengthTx, timeout) {
			out = append(out, s)
		}
	}
	return out
}

func candidateViable(self, txTable, rxTable *ReservationTable, start, period, burstLength, burstLengthTx, timeout int) bool {
	h := self.Horizon()
	for k := 0; k < timeout; k++ {
		s := start + k*period
		if s+burstLength > h {
			return false
		}
		if !self.IsIdle(s, burstLength) {
			return false
		}
		if txTable != nil && !txTable.IsIdle(s, burstLengthTx) {
			return false
		}
		burstLengthRx := burstLength - burstLengthTx
		if rxTable != nil && burstLengthRx > 0 && !rxTable.IsIdle(s+burstLengthTx, burstLengthRx) {
			return false
		}
	}
	return true
}
