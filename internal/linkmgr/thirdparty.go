package linkmgr

import (
	"mcsotdma/internal/estimator"
	"mcsotdma/internal/packet"
	"mcsotdma/internal/reservation"
)

// ThirdPartyLink shadows a link negotiation between two other nodes
// purely from what this node overhears on the shared channel, so it
// never plans a local transmission or reception into resources that
// pair is about to claim. On the PP tables it only takes Locked or Busy
// cells, which it can silently give back if its guess was wrong; its one
// other mark is an Rx cell on the SH table for the expected reply, which
// it neither tracks nor releases.
type ThirdPartyLink struct {
	mgr       *reservation.Manager
	neighbors *estimator.NeighborObserver
	onReset   func(*ThirdPartyLink)

	Initiator, Recipient packet.MacId
	status               ThirdPartyStatus

	numSlotsUntilExpectedReply int // -1 == unset
	linkExpiryOffset           int // -1 == unset

	lockedInitiator *reservation.Map
	lockedRecipient *reservation.Map
	scheduled       *reservation.Map

	// Remembered negotiation parameters, replayed by OnAnotherThirdLinkReset
	// when a sibling ThirdPartyLink resets and gives resources back.
	pendingProposals []packet.LinkProposal
	pendingTimeout   int
	replyTable       *reservation.ReservationTable
	replyStart       int
	replyBurstTx     int
	replyBurstRx     int
	replyPeriod      int
	replyTimeout     int
}

// NewThirdPartyLink returns an uninitialized shadow link for an
// as-yet-unobserved pair.
func NewThirdPartyLink(mgr *reservation.Manager, neighbors *estimator.NeighborObserver) *ThirdPartyLink {
	return &ThirdPartyLink{
		mgr:                        mgr,
		neighbors:                  neighbors,
		status:                     Uninitialized,
		numSlotsUntilExpectedReply: -1,
		linkExpiryOffset:           -1,
	}
}

// SetOnReset installs the callback the MAC uses to notify every other
// ThirdPartyLink after this one resets, so they can retry extending
// their own locks/schedules into the cells just freed.
func (t *ThirdPartyLink) SetOnReset(f func(*ThirdPartyLink)) { t.onReset = f }

// Status reports the shadow link's current lifecycle state.
func (t *ThirdPartyLink) Status() ThirdPartyStatus { return t.status }

// OnOverheardRequest processes a LinkRequest overheard between initiator
// and recipient (neither of which is this node): it reserves an RX slot
// for the expected reply and locks every candidate resource the request
// proposes, tolerating cells already claimed by either party.
func (t *ThirdPartyLink) OnOverheardRequest(initiator, recipient packet.MacId, req packet.LinkRequestHeader) {
	t.Initiator, t.Recipient = initiator, recipient
	t.status = ReceivedRequestAwaitingReply

	nextSlot, ok := t.neighbors.ObservedNextSlot(recipient)
	if !ok {
		nextSlot, ok = t.neighbors.ObservedNextSlot(initiator)
	}
	if ok {
		t.numSlotsUntilExpectedReply = nextSlot
		if t.mgr.SHTable().GetReservation(nextSlot).Kind == reservation.Idle {
			_ = t.mgr.SHTable().Mark(nextSlot, reservation.Reservation{Kind: reservation.Rx, Target: recipient})
		}
	} else {
		t.numSlotsUntilExpectedReply = -1
	}

	t.pendingProposals = req.Proposals
	t.pendingTimeout = req.Timeout
	t.lockedInitiator = reservation.NewMap()
	t.lockedRecipient = reservation.NewMap()
	t.lockProposedResources()
}

func (t *ThirdPartyLink) lockProposedResources() {
	for _, prop := range t.pendingProposals {
		table, ok := t.mgr.PPTableForChannel(prop.Channel)
		if !ok {
			continue
		}
		period := prop.PeriodSlots()
		for k := 0; k < t.pendingTimeout; k++ {
			start := prop.SlotOffset + k*period
			lockEitherSpan(t.lockedInitiator, table, start, prop.NumTxInitiator, t.Initiator, t.Recipient)
			lockEitherSpan(t.lockedRecipient, table, start+prop.NumTxInitiator, prop.NumTxRecipient, t.Initiator, t.Recipient)
		}
	}
}

// OnOverheardReply processes the matching LinkReply: unlocks the
// candidate resources, marks the actually-chosen burst schedule Busy
// (skipping anything no longer Idle), and computes link expiry.
func (t *ThirdPartyLink) OnOverheardReply(rep packet.LinkReplyHeader) {
	if t.status != ReceivedRequestAwaitingReply {
		return
	}
	if t.lockedInitiator != nil {
		t.lockedInitiator.UnlockEitherID(t.Initiator, t.Recipient)
		t.lockedInitiator = nil
	}
	if t.lockedRecipient != nil {
		t.lockedRecipient.UnlockEitherID(t.Initiator, t.Recipient)
		t.lockedRecipient = nil
	}
	t.status = ReceivedReplyLinkEstablished

	table, ok := t.mgr.PPTableForChannel(rep.Channel)
	if ok {
		t.replyTable = table
		t.replyStart = rep.SlotOffset
		t.replyBurstTx = rep.BurstLengthTx
		t.replyBurstRx = rep.BurstLengthRx
		t.replyPeriod = rep.BurstOffset
		t.replyTimeout = rep.Timeout
		t.scheduled = reservation.NewMap()
		t.markScheduledBusy()
	}

	period := periodIndexFromSlots(rep.BurstOffset)
	t.linkExpiryOffset = rep.SlotOffset + rep.Timeout*10*(1<<uint(period)) - 5*(1<<uint(period))
}

func (t *ThirdPartyLink) markScheduledBusy() {
	if t.replyTable == nil || t.scheduled == nil {
		return
	}
	for k := 0; k < t.replyTimeout; k++ {
		start := t.replyStart + k*t.replyPeriod
		markBusySpanIfIdle(t.scheduled, t.replyTable, start, t.replyBurstTx, t.Initiator)
		markBusySpanIfIdle(t.scheduled, t.replyTable, start+t.replyBurstTx, t.replyBurstRx, t.Recipient)
	}
}

// OnAnotherThirdLinkReset is called by the MAC after any sibling shadow
// link resets; a still-active link replays its own locking/scheduling
// against current state so it can claim cells that just became Idle.
func (t *ThirdPartyLink) OnAnotherThirdLinkReset() {
	switch t.status {
	case ReceivedRequestAwaitingReply:
		t.lockProposedResources()
	case ReceivedReplyLinkEstablished:
		t.markScheduledBusy()
	}
}

// OnSlotStart ages every timer and map this shadow link tracks, resetting
// it when the expected-reply window or link expiry lapses.
func (t *ThirdPartyLink) OnSlotStart(delta int) {
	if t.lockedInitiator != nil {
		t.lockedInitiator.Tick(delta)
	}
	if t.lockedRecipient != nil {
		t.lockedRecipient.Tick(delta)
	}
	if t.scheduled != nil {
		t.scheduled.Tick(delta)
	}

	if t.numSlotsUntilExpectedReply >= 0 {
		t.numSlotsUntilExpectedReply -= delta
		if t.numSlotsUntilExpectedReply <= 0 && t.status == ReceivedRequestAwaitingReply {
			t.reset()
			return
		}
	}
	if t.linkExpiryOffset >= 0 {
		t.linkExpiryOffset -= delta
		if t.linkExpiryOffset <= 0 {
			t.reset()
		}
	}
}

func (t *ThirdPartyLink) reset() {
	if t.lockedInitiator != nil {
		t.lockedInitiator.UnlockEitherID(t.Initiator, t.Recipient)
	}
	if t.lockedRecipient != nil {
		t.lockedRecipient.UnlockEitherID(t.Initiator, t.Recipient)
	}
	if t.scheduled != nil {
		t.scheduled.Unschedule()
	}
	t.lockedInitiator, t.lockedRecipient, t.scheduled = nil, nil, nil
	t.replyTable = nil
	t.pendingProposals = nil
	t.status = Uninitialized
	t.numSlotsUntilExpectedReply = -1
	t.linkExpiryOffset = -1
	if t.onReset != nil {
		t.onReset(t)
	}
}

func lockEitherSpan(dst *reservation.Map, table *reservation.ReservationTable, start, length int, a, b packet.MacId) {
	if table == nil {
		return
	}
	for i := 0; i < length; i++ {
		off := start + i
		if off < 0 || off >= table.Horizon() {
			continue
		}
		if err := table.LockEitherID(off, a, b); err == nil {
			dst.Add(table, off)
		}
	}
}

func markBusySpanIfIdle(dst *reservation.Map, table *reservation.ReservationTable, start, length int, target packet.MacId) {
	if table == nil {
		return
	}
	for i := 0; i < length; i++ {
		off := start + i
		if off < 0 || off >= table.Horizon() {
			continue
		}
		if table.GetReservation(off).Kind != reservation.Idle {
			continue
		}
		if err := table.Mark(off, reservation.Reservation{Kind: reservation.Busy, Target: target}); err == nil {
			dst.AddFor(table, off, target)
		}
	}
}

// periodIndexFromSlots recovers the encoded period index p from a
// 5*2^p slot count. A value that doesn't land exactly on one (e.g. a
// legacy default_burst_offset) is rounded up to the smallest p with
// 5*2^p >= slots, capped at 12.
func periodIndexFromSlots(slots int) int {
	p := 0
	for p < 12 && (5<<uint(p)) < slots {
		p++
	}
	return p
}
