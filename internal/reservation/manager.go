package reservation

import (
	"fmt"
	"sort"

	"mcsotdma/internal/packet"
)

// ChannelTable pairs a table with the frequency it is linked to, the shape
// CollectCurrentReservations and SortedP2PTables return.
type ChannelTable struct {
	Channel *packet.FrequencyChannel
	Table   *ReservationTable
}

// Manager owns every ReservationTable a node has: one for the shared
// channel, one per point-to-point channel, one aggregating all scheduled
// transmissions, and one per receiver. It is the single point of mutation
// for all slot/frequency bookkeeping.
type Manager struct {
	horizon int

	shChannel packet.FrequencyChannel
	sh        *ReservationTable

	ppChannels []packet.FrequencyChannel
	pp         []*ReservationTable // parallel to ppChannels

	tx  *ReservationTable
	rxs []*ReservationTable
}

// NewManager builds a Manager with the given planning horizon, shared
// channel, point-to-point channels, and hardware counts.
func NewManager(horizon int, sh packet.FrequencyChannel, ppChannels []packet.FrequencyChannel, numReceivers int) *Manager {
	m := &Manager{
		horizon:    horizon,
		shChannel:  sh,
		sh:         NewReservationTable(horizon, &sh),
		ppChannels: append([]packet.FrequencyChannel(nil), ppChannels...),
		tx:         NewReservationTable(horizon, nil),
	}
	m.pp = make([]*ReservationTable, len(ppChannels))
	for i := range ppChannels {
		m.pp[i] = NewReservationTable(horizon, &m.ppChannels[i])
	}
	m.rxs = make([]*ReservationTable, numReceivers)
	for i := range m.rxs {
		m.rxs[i] = NewReservationTable(horizon, nil)
	}
	return m
}

// Horizon returns H.
func (m *Manager) Horizon() int { return m.horizon }

// SHTable returns the shared-channel table.
func (m *Manager) SHTable() *ReservationTable { return m.sh }

// SHChannel returns the shared channel descriptor.
func (m *Manager) SHChannel() *packet.FrequencyChannel { return &m.shChannel }

// TxTable returns the aggregate transmitter table.
func (m *Manager) TxTable() *ReservationTable { return m.tx }

// ReceiverTables returns every owned receiver table.
func (m *Manager) ReceiverTables() []*ReservationTable { return m.rxs }

// PPTable returns the table for channel index i (as ordered at construction).
func (m *Manager) PPTable(i int) *ReservationTable { return m.pp[i] }

// PPChannels returns the point-to-point channel descriptors.
func (m *Manager) PPChannels() []packet.FrequencyChannel { return m.ppChannels }

// PPTableForChannel finds the table linked to ch by center frequency.
func (m *Manager) PPTableForChannel(ch packet.FrequencyChannel) (*ReservationTable, bool) {
	for i, c := range m.ppChannels {
		if c.Equal(ch) {
			return m.pp[i], true
		}
	}
	return nil, false
}

// Advance ticks every owned table by delta slots.
func (m *Manager) Advance(delta int) {
	m.sh.Advance(delta)
	m.tx.Advance(delta)
	for _, t := range m.pp {
		t.Advance(delta)
	}
	for _, t := range m.rxs {
		t.Advance(delta)
	}
}

// SortedP2PTables returns every PP {channel, table} pair sorted descending
// by idle-cell count, so callers try the least-loaded channel first.
func (m *Manager) SortedP2PTables() []ChannelTable {
	out := make([]ChannelTable, len(m.pp))
	for i := range m.pp {
		out[i] = ChannelTable{Channel: &m.ppChannels[i], Table: m.pp[i]}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Table.IdleCount() > out[j].Table.IdleCount()
	})
	return out
}

// CollectCurrentReservations returns every {Reservation, channel} pair
// whose offset-0 cell is non-Idle, across the SH table and every PP table.
func (m *Manager) CollectCurrentReservations() []ChannelTable {
	var out []ChannelTable
	if m.sh.GetReservation(0).Kind != Idle {
		out = append(out, ChannelTable{Channel: &m.shChannel, Table: m.sh})
	}
	for i, t := range m.pp {
		if t.GetReservation(0).Kind != Idle {
			out = append(out, ChannelTable{Channel: &m.ppChannels[i], Table: t})
		}
	}
	return out
}

// IsTransmitterIdle reports whether the aggregate transmitter table is idle
// across [offset, offset+span).
func (m *Manager) IsTransmitterIdle(offset, span int) bool {
	return m.tx.IsIdle(offset, span)
}

// IsAnyReceiverIdle reports whether at least one receiver table is idle
// across [offset, offset+span).
func (m *Manager) IsAnyReceiverIdle(offset, span int) bool {
	for _, r := range m.rxs {
		if r.IsIdle(offset, span) {
			return true
		}
	}
	return false
}

// IdleReceiver returns the first receiver table idle across the given span,
// or nil if none qualifies.
func (m *Manager) IdleReceiver(offset, span int) *ReservationTable {
	for _, r := range m.rxs {
		if r.IsIdle(offset, span) {
			return r
		}
	}
	return nil
}

// ScheduleBursts marks, for each of timeout bursts starting at firstBurstIn
// and repeating every period slots, burstLengthTx slots as Tx (if
// isInitiator) else Rx, and the remaining burstLengthRx slots as Rx else
// Tx, on ppTable plus the transmitter table (Tx cells) or one receiver
// table (Rx cells). Every marked cell is recorded
// in the returned Map. Conflicts are fatal here: slot selection must have
// already verified viability via FindPPCandidates.
func (m *Manager) ScheduleBursts(ppTable *ReservationTable, period, timeout, firstBurstIn, burstLengthTx, burstLengthRx int, peerID packet.MacId, isInitiator bool) *Map {
	rxTable := m.IdleReceiver(firstBurstIn, burstLengthTx+burstLengthRx)
	if rxTable == nil {
		rxTable = m.rxs[0]
	}
	out := NewMap()
	for k := 0; k < timeout; k++ {
		start := firstBurstIn + k*period
		txKind, rxKind := Tx, Rx
		firstLen, secondLen := burstLengthTx, burstLengthRx
		firstHW, secondHW := m.tx, rxTable
		if !isInitiator {
			txKind, rxKind = Rx, Tx
			firstHW, secondHW = rxTable, m.tx
		}
		for i := 0; i < firstLen; i++ {
			off := start + i
			if err := mustMark(ppTable, off, Reservation{Kind: txKind, Target: peerID}); err != nil {
				panic(fmt.Sprintf("reservation: scheduleBursts torn invariant at offset %d: %v", off, err))
			}
			if err := mustMark(firstHW, off, Reservation{Kind: txKind, Target: peerID}); err != nil {
				panic(fmt.Sprintf("reservation: scheduleBursts hardware-table torn invariant at offset %d: %v", off, err))
			}
			out.AddFor(ppTable, off, peerID)
			out.AddFor(firstHW, off, peerID)
		}
		for i := 0; i < secondLen; i++ {
			off := start + firstLen + i
			if err := mustMark(ppTable, off, Reservation{Kind: rxKind, Target: peerID}); err != nil {
				panic(fmt.Sprintf("reservation: scheduleBursts torn invariant at offset %d: %v", off, err))
			}
			if err := mustMark(secondHW, off, Reservation{Kind: rxKind, Target: peerID}); err != nil {
				panic(fmt.Sprintf("reservation: scheduleBursts hardware-table torn invariant at offset %d: %v", off, err))
			}
			out.AddFor(ppTable, off, peerID)
			out.AddFor(secondHW, off, peerID)
		}
	}
	return out
}

func mustMark(t *ReservationTable, offset int, r Reservation) error {
	if offset < 0 || offset >= t.Horizon() {
		return nil // past the horizon: nothing to schedule there, not an error
	}
	return t.Mark(offset, r)
}

// UtilizedP2PResources counts non-idle cells at offset 0 across every PP
// table, computed rather than stubbed per the Open Question decision
// recorded in DESIGN.md.
func (m *Manager) UtilizedP2PResources() int {
	n := 0
	for _, t := range m.pp {
		if t.GetReservation(0).Kind != Idle {
			n++
		}
	}
	return n
}
