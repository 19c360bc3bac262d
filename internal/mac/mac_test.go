package mac

import (
	"testing"

	"mcsotdma/internal/config"
	"mcsotdma/internal/linkmgr"
	"mcsotdma/internal/packet"
	"mcsotdma/internal/reservation"
)

type stubPHY struct {
	tuned    []packet.FrequencyChannel
	tuneErr  error
	sent     []packet.Packet
	toDeliver []Reception
}

func (p *stubPHY) CurrentDatarate() int { return 1200 }
func (p *stubPHY) TuneReceiver(ch packet.FrequencyChannel) error {
	p.tuned = append(p.tuned, ch)
	return p.tuneErr
}
func (p *stubPHY) Transmit(pkt *packet.Packet, ch packet.FrequencyChannel) {
	p.sent = append(p.sent, *pkt)
}
func (p *stubPHY) Update(delta int) {}
func (p *stubPHY) Poll() []Reception {
	out := p.toDeliver
	p.toDeliver = nil
	return out
}

type stubUpper struct {
	newLinkPeers []packet.MacId
	delivered    []*packet.Packet
}

func (u *stubUpper) IsThereMoreData(linkmgr.LinkID) bool                      { return false }
func (u *stubUpper) RequestSegment(int, linkmgr.LinkID) *packet.Packet       { return nil }
func (u *stubUpper) ReceiveFromLower(pkt *packet.Packet)                     { u.delivered = append(u.delivered, pkt) }
func (u *stubUpper) NotifyAboutNewLink(peer packet.MacId)                    { u.newLinkPeers = append(u.newLinkPeers, peer) }
func (u *stubUpper) GetMaxNumRtxAttempts() int                               { return 5 }

func newTestMAC(t *testing.T, selfID packet.MacId, phy PHY, upper Upper) *MAC {
	t.Helper()
	sh := packet.NewSHChannel(1000, 25)
	pp := []packet.FrequencyChannel{packet.NewPPChannel(2000, 25)}
	cfg := config.Default()
	cfg.ContentionMethod = config.NaiveRandomAccess
	cfg.MinBeaconInterval, cfg.MaxBeaconInterval = 1000, 1000
	cfg.NumReceivers = 1
	cfg.NumTransmitters = 1
	return New(selfID, cfg, sh, pp, phy, upper, 1, 2, nil)
}

func TestUpdateTunesReceiverForActiveReservation(t *testing.T) {
	phy := &stubPHY{}
	m := newTestMAC(t, 1, phy, &stubUpper{})
	must(t, m.mgr.SHTable().Mark(0, reservation.Reservation{Kind: reservation.Rx, Target: 2}))

	if err := m.Update(0); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(phy.tuned) != 1 || phy.tuned[0].Role != packet.SH {
		t.Fatalf("expected one SH tune call, got %+v", phy.tuned)
	}
}

func TestUpdateFailsWhenReceiversExceedHardwareCount(t *testing.T) {
	phy := &stubPHY{}
	m := newTestMAC(t, 1, phy, &stubUpper{})
	must(t, m.mgr.SHTable().Mark(0, reservation.Reservation{Kind: reservation.Rx, Target: 2}))
	must(t, m.mgr.PPTable(0).Mark(0, reservation.Reservation{Kind: reservation.Rx, Target: 2}))

	if err := m.Update(0); err == nil {
		t.Fatal("expected an error when RX reservations exceed configured receivers")
	}
}

func TestExecuteRespectsTransmitterLimit(t *testing.T) {
	phy := &stubPHY{}
	m := newTestMAC(t, 1, phy, &stubUpper{})
	must(t, m.mgr.SHTable().Mark(0, reservation.Reservation{Kind: reservation.Tx, Target: packet.BroadcastID}))
	must(t, m.mgr.PPTable(0).Mark(0, reservation.Reservation{Kind: reservation.Tx, Target: 2}))

	if err := m.Execute(); err == nil {
		t.Fatal("expected an error when Tx reservations exceed configured transmitters")
	}
}

func TestRouteRequestToSelfGoesToPeerManager(t *testing.T) {
	m := newTestMAC(t, 1, &stubPHY{}, &stubUpper{})
	m.RouteRequest(2, packet.LinkRequestHeader{Dest: 1, Timeout: 1})

	pp, ok := m.peers[2]
	if !ok {
		t.Fatal("expected a PPLinkManager to be created for the requesting peer")
	}
	if pp.Status() == linkmgr.NotEstablished {
		t.Fatal("expected OnLinkRequest to advance status past NotEstablished")
	}
}

func TestRouteRequestToOtherNodeCreatesThirdPartyShadow(t *testing.T) {
	m := newTestMAC(t, 1, &stubPHY{}, &stubUpper{})
	prop := packet.LinkProposal{Channel: m.mgr.PPChannels()[0], SlotOffset: 10, NumTxInitiator: 1, NumTxRecipient: 1}
	m.RouteRequest(2, packet.LinkRequestHeader{Dest: 3, Proposals: []packet.LinkProposal{prop}, Timeout: 1})

	key := linkmgr.UnorderedKey(2, 3)
	tp, ok := m.thirdParty[key]
	if !ok {
		t.Fatal("expected a shadow ThirdPartyLink for the overheard pair")
	}
	if tp.Status() != linkmgr.ReceivedRequestAwaitingReply {
		t.Fatalf("Status() = %v, want ReceivedRequestAwaitingReply", tp.Status())
	}
}

func TestOnSlotEndRecordsCollisionAndKeepsHighestSNR(t *testing.T) {
	sh := packet.NewSHChannel(1000, 25)
	low := packet.New(packet.BaseHeader{Source: 2})
	low.SNR = 1
	low.Append(packet.BroadcastHeader{}, 8)
	high := packet.New(packet.BaseHeader{Source: 3})
	high.SNR = 9
	high.Append(packet.BroadcastHeader{}, 8)

	phy := &stubPHY{toDeliver: []Reception{{Packet: low, Channel: sh}, {Packet: high, Channel: sh}}}
	upper := &stubUpper{}
	m := newTestMAC(t, 1, phy, upper)
	m.OnSlotEnd()

	if m.Stats.Collisions != 1 {
		t.Fatalf("Stats.Collisions = %d, want 1", m.Stats.Collisions)
	}
	if len(upper.delivered) != 1 || upper.delivered[0].Base().Source != 3 {
		t.Fatalf("expected only the higher-SNR packet delivered upward, got %+v", upper.delivered)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
