package linkmgr

import (
	"testing"

	"mcsotdma/internal/estimator"
	"mcsotdma/internal/packet"
	"mcsotdma/internal/reservation"
)

func newTestThirdParty(t *testing.T) (*ThirdPartyLink, *reservation.Manager) {
	t.Helper()
	sh := packet.NewSHChannel(1000, 25)
	pp := []packet.FrequencyChannel{packet.NewPPChannel(2000, 25)}
	mgr := reservation.NewManager(300, sh, pp, 1)
	return NewThirdPartyLink(mgr, estimator.NewNeighborObserver()), mgr
}

func sampleProposal(mgr *reservation.Manager) packet.LinkProposal {
	return packet.LinkProposal{
		Channel:        mgr.PPChannels()[0],
		SlotOffset:     10,
		Period:         0, // 5 slots
		NumTxInitiator: 2,
		NumTxRecipient: 2,
	}
}

func TestOnOverheardRequestLocksCandidateResources(t *testing.T) {
	tp, mgr := newTestThirdParty(t)
	req := packet.LinkRequestHeader{
		Dest:      20,
		Proposals: []packet.LinkProposal{sampleProposal(mgr)},
		Timeout:   2,
	}
	tp.OnOverheardRequest(10, 20, req)

	if tp.Status() != ReceivedRequestAwaitingReply {
		t.Fatalf("Status() = %v, want ReceivedRequestAwaitingReply", tp.Status())
	}
	table, _ := mgr.PPTableForChannel(req.Proposals[0].Channel)
	if got := table.GetReservation(10).Kind; got != reservation.Locked {
		t.Fatalf("table[10] = %v, want Locked (initiator span)", got)
	}
	if got := table.GetReservation(12).Kind; got != reservation.Locked {
		t.Fatalf("table[12] = %v, want Locked (recipient span)", got)
	}
}

func TestOnOverheardRequestNeverOverwritesNonIdleCell(t *testing.T) {
	tp, mgr := newTestThirdParty(t)
	prop := sampleProposal(mgr)
	table, _ := mgr.PPTableForChannel(prop.Channel)
	must(t, table.Mark(10, reservation.Reservation{Kind: reservation.Tx, Target: 99}))

	tp.OnOverheardRequest(10, 20, packet.LinkRequestHeader{Proposals: []packet.LinkProposal{prop}, Timeout: 1})

	if got := table.GetReservation(10); got.Kind != reservation.Tx || got.Target != 99 {
		t.Fatalf("table[10] = %+v, want untouched Tx(99)", got)
	}
}

func TestOnOverheardReplyMarksBusyAndComputesExpiry(t *testing.T) {
	tp, mgr := newTestThirdParty(t)
	prop := sampleProposal(mgr)
	tp.OnOverheardRequest(10, 20, packet.LinkRequestHeader{Proposals: []packet.LinkProposal{prop}, Timeout: 2})

	rep := packet.LinkReplyHeader{
		Channel:       prop.Channel,
		SlotOffset:    10,
		BurstLengthTx: prop.NumTxInitiator,
		BurstLengthRx: prop.NumTxRecipient,
		BurstOffset:   5,
		Timeout:       2,
	}
	tp.OnOverheardReply(rep)

	if tp.Status() != ReceivedReplyLinkEstablished {
		t.Fatalf("Status() = %v, want ReceivedReplyLinkEstablished", tp.Status())
	}
	table, _ := mgr.PPTableForChannel(prop.Channel)
	if got := table.GetReservation(10).Kind; got != reservation.Busy {
		t.Fatalf("table[10] = %v, want Busy after reply", got)
	}
	if tp.linkExpiryOffset <= 0 {
		t.Fatalf("linkExpiryOffset = %d, want positive", tp.linkExpiryOffset)
	}
}

func TestOnSlotStartResetsOnMissedReply(t *testing.T) {
	tp, mgr := newTestThirdParty(t)
	prop := sampleProposal(mgr)
	tp.OnOverheardRequest(10, 20, packet.LinkRequestHeader{Proposals: []packet.LinkProposal{prop}, Timeout: 1})
	tp.numSlotsUntilExpectedReply = 3

	tp.OnSlotStart(3)

	if tp.Status() != Uninitialized {
		t.Fatalf("Status() = %v, want Uninitialized after missed reply window", tp.Status())
	}
	table, _ := mgr.PPTableForChannel(prop.Channel)
	if got := table.GetReservation(10).Kind; got != reservation.Idle {
		t.Fatalf("table[10] = %v, want Idle after reset gave locks back", got)
	}
}

func TestOnAnotherThirdLinkResetReplaysLocking(t *testing.T) {
	tp, mgr := newTestThirdParty(t)
	prop := sampleProposal(mgr)
	table, _ := mgr.PPTableForChannel(prop.Channel)
	must(t, table.Mark(10, reservation.Reservation{Kind: reservation.Tx, Target: 99}))

	tp.OnOverheardRequest(10, 20, packet.LinkRequestHeader{Proposals: []packet.LinkProposal{prop}, Timeout: 1})
	if got := table.GetReservation(10).Kind; got != reservation.Tx {
		t.Fatalf("table[10] = %v, want still Tx(99) before the cell frees up", got)
	}

	table.Unschedule(10, 99)
	tp.OnAnotherThirdLinkReset()

	if got := table.GetReservation(10).Kind; got != reservation.Locked {
		t.Fatalf("table[10] = %v, want Locked after replaying into the freed cell", got)
	}
}
