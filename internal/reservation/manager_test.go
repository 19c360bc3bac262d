package reservation

import (
	"testing"

	"mcsotdma/internal/packet"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	sh := packet.NewSHChannel(1000, 25)
	pp := []packet.FrequencyChannel{
		packet.NewPPChannel(2000, 25),
		packet.NewPPChannel(2025, 25),
	}
	return NewManager(50, sh, pp, 2)
}

func TestSortedP2PTablesOrdersByIdleCount(t *testing.T) {
	m := testManager(t)
	// Load up channel 0 more than channel 1.
	for i := 0; i < 10; i++ {
		must(t, m.PPTable(0).Mark(i, Reservation{Kind: Busy, Target: 1}))
	}
	must(t, m.PPTable(1).Mark(0, Reservation{Kind: Busy, Target: 1}))

	sorted := m.SortedP2PTables()
	if len(sorted) != 2 {
		t.Fatalf("len(sorted) = %d, want 2", len(sorted))
	}
	if !sorted[0].Channel.Equal(pp1(m)) {
		t.Fatalf("expected the less-loaded channel first, got %+v", sorted[0].Channel)
	}
}

func pp1(m *Manager) packet.FrequencyChannel { return m.PPChannels()[1] }

func TestCollectCurrentReservations(t *testing.T) {
	m := testManager(t)
	must(t, m.SHTable().Mark(0, Reservation{Kind: Tx, Target: 5}))
	must(t, m.PPTable(1).Mark(0, Reservation{Kind: Busy, Target: 7}))

	got := m.CollectCurrentReservations()
	if len(got) != 2 {
		t.Fatalf("CollectCurrentReservations() len = %d, want 2: %+v", len(got), got)
	}
}

func TestScheduleBurstsMarksInitiatorAndResponder(t *testing.T) {
	m := testManager(t)
	const peer packet.MacId = 2

	rm := m.ScheduleBursts(m.PPTable(0), 10, 3, 0, 2, 1, peer, true)
	if rm.Len() == 0 {
		t.Fatal("expected tracked cells in returned map")
	}

	// Burst 0: offsets 0-1 are Tx (initiator), offset 2 is Rx.
	if got := m.PPTable(0).GetReservation(0); got.Kind != Tx || got.Target != peer {
		t.Fatalf("offset 0 = %+v, want Tx(peer)", got)
	}
	if got := m.PPTable(0).GetReservation(2); got.Kind != Rx || got.Target != peer {
		t.Fatalf("offset 2 = %+v, want Rx(peer)", got)
	}
	// Burst 1 starts at offset 10.
	if got := m.PPTable(0).GetReservation(10); got.Kind != Tx {
		t.Fatalf("offset 10 (burst 1 start) = %+v, want Tx", got)
	}

	if m.UtilizedP2PResources() != 1 {
		t.Fatalf("UtilizedP2PResources() = %d, want 1", m.UtilizedP2PResources())
	}
}

func TestScheduleBurstsResponderReversesRoles(t *testing.T) {
	m := testManager(t)
	const peer packet.MacId = 2

	m.ScheduleBursts(m.PPTable(0), 10, 1, 0, 2, 1, peer, false)

	if got := m.PPTable(0).GetReservation(0); got.Kind != Rx {
		t.Fatalf("responder offset 0 = %+v, want Rx", got)
	}
	if got := m.PPTable(0).GetReservation(2); got.Kind != Tx {
		t.Fatalf("responder offset 2 = %+v, want Tx", got)
	}
}

func TestAdvanceAggregatesAllTables(t *testing.T) {
	m := testManager(t)
	must(t, m.SHTable().Mark(0, Reservation{Kind: TxBeacon, Target: packet.BeaconID}))
	must(t, m.TxTable().Mark(0, Reservation{Kind: TxBeacon, Target: packet.BeaconID}))

	m.Advance(1)

	if got := m.SHTable().GetReservation(0); got.Kind != Idle {
		t.Fatalf("SH table offset 0 after advance = %+v, want Idle", got)
	}
	if got := m.TxTable().GetReservation(0); got.Kind != Idle {
		t.Fatalf("Tx table offset 0 after advance = %+v, want Idle", got)
	}
}
