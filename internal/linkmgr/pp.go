package linkmgr

import (
	"math/rand/v2"

	"mcsotdma/internal/config"
	"mcsotdma/internal/estimator"
	"mcsotdma/internal/packet"
	"mcsotdma/internal/reservation"
)

// LinkEventSink is notified of a peer's link lifecycle transitions, the
// hook the MAC core uses to tell the upper layer about a link becoming
// usable or going away.
type LinkEventSink interface {
	OnLinkEstablished(peer packet.MacId)
	OnLinkTornDown(peer packet.MacId)
}

// PPStats are one peer link's observable counters.
type PPStats struct {
	RejectReply              int
	RejectProposal           int
	InsufficientResources    int
	MissedReplyOpportunities int
	ExceededMaxAttempts      int
	LinkChurnReestablish     int
	LinksEstablished         int
}

// PPLinkManager is the per-peer bilateral link state machine: it reacts
// to outgoing-data notifications, request/reply negotiation, and data
// burst scheduling for exactly one peer MAC id.
type PPLinkManager struct {
	mgr        *reservation.Manager
	sh         *SHLinkManager
	contention *estimator.ContentionEstimator
	cfg        config.Config
	rng        *rand.Rand
	sink       LinkEventSink

	selfID, peerID packet.MacId

	status    Status
	ppChannel *packet.FrequencyChannel
	ppTable   *reservation.ReservationTable

	burstLengthTx, burstLengthRx, burstOffset, timeout int
	reportedResourceRequirement                        int
	outgoingTrafficEstimateBits                         int

	replyOffsetOriginal   int
	timeSlotsUntilReply   int
	establishmentAttempts int
	nextBurstIn           int
	missingFirstDataCount int

	reservedResources  *reservation.LockMap
	scheduledResources *reservation.Map

	Stats PPStats
}

// NewPPLinkManager builds the state machine for one peer. sink may be nil.
func NewPPLinkManager(mgr *reservation.Manager, sh *SHLinkManager, contention *estimator.ContentionEstimator, cfg config.Config, rng *rand.Rand, sink LinkEventSink, selfID, peerID packet.MacId) *PPLinkManager {
	return &PPLinkManager{
		mgr:        mgr,
		sh:         sh,
		contention: contention,
		cfg:        cfg,
		rng:        rng,
		sink:       sink,
		selfID:     selfID,
		peerID:     peerID,
		status:     NotEstablished,
		timeout:    cfg.DefaultPPLinkTimeout,
	}
}

// Status reports the link's current lifecycle state.
func (p *PPLinkManager) Status() Status { return p.status }

// PeerID reports which peer this manager is responsible for.
func (p *PPLinkManager) PeerID() packet.MacId { return p.peerID }

// BurstOffset reports the link's current (configured or adaptively
// computed) burst offset.
func (p *PPLinkManager) BurstOffset() int { return p.burstOffset }

// NotifyOutgoing records bits of newly queued outgoing traffic and, if no
// link is established yet, kicks off establishment.
func (p *PPLinkManager) NotifyOutgoing(bits int) {
	p.outgoingTrafficEstimateBits += bits
	if p.status == NotEstablished && bits > 0 {
		p.establishmentAttempts = 0
		p.establishLink()
	}
}

func (p *PPLinkManager) establishLink() {
	p.status = AwaitingRequestGeneration
	p.sh.SendLinkRequest(p.peerID, p.populateRequest)
}

// populateRequest is called by the SH link manager exactly when our
// request is about to be transmitted: everything that depends on
// current reservation state — burst sizing, slot selection, locking —
// happens here rather than at enqueue time.
func (p *PPLinkManager) populateRequest() (packet.LinkRequestHeader, bool) {
	burstTx, burstRx := p.estimateBurstLengths()
	burstOffsetTarget := p.computeBurstOffsetTarget(burstTx + burstRx)
	periodIdx, burstOffset := snapToPeriod(burstOffsetTarget)

	proposals, replyOffset, ok := p.slotSelection(burstTx, burstRx, burstOffset, periodIdx)
	if !ok {
		// Retry once with minimum resources before giving up this cycle.
		burstTx, burstRx = p.cfg.MinConsecutiveTxSlots, 0
		periodIdx, burstOffset = snapToPeriod(p.cfg.DefaultBurstOffset)
		proposals, replyOffset, ok = p.slotSelection(burstTx, burstRx, burstOffset, periodIdx)
		if !ok {
			p.Stats.InsufficientResources++
			return packet.LinkRequestHeader{}, false
		}
	}

	p.lockProposals(proposals, replyOffset, burstTx, burstRx)
	p.status = AwaitingReply
	p.replyOffsetOriginal = replyOffset
	p.timeSlotsUntilReply = replyOffset
	p.burstLengthTx, p.burstLengthRx, p.burstOffset = burstTx, burstRx, burstOffset

	return packet.LinkRequestHeader{
		Dest:          p.peerID,
		Proposals:     proposals,
		ReplyOffset:   replyOffset,
		Timeout:       p.timeout,
		BurstLengthTx: burstTx,
		BurstLengthRx: burstRx,
		BurstOffset:   burstOffset,
	}, true
}

// estimateBurstLengths sizes the initiator's own TX burst from queued
// outgoing traffic, and the RX burst from the peer's last-reported need.
func (p *PPLinkManager) estimateBurstLengths() (tx, rx int) {
	rate := p.cfg.PPSlotCapacityBits
	if rate <= 0 {
		rate = 1
	}
	tx = ceilDiv(p.outgoingTrafficEstimateBits, rate)
	tx = clampInt(tx, p.cfg.MinConsecutiveTxSlots, p.cfg.MaxConsecutiveTxSlots)

	rx = p.reportedResourceRequirement
	if rx < 1 && p.cfg.ForceBidirectionalLinks {
		rx = 1
	}
	if tx+rx > p.burstOffsetCeiling() {
		rx = maxInt(0, p.burstOffsetCeiling()-tx)
	}
	return tx, rx
}

func (p *PPLinkManager) burstOffsetCeiling() int {
	if p.cfg.DefaultBurstOffset > 0 {
		return p.cfg.DefaultBurstOffset
	}
	return p.cfg.MaxConsecutiveTxSlots * 2
}

// computeBurstOffsetTarget implements the adaptive burst_offset formula:
// base burst length plus headroom proportional to how crowded the PP
// channel set is.
func (p *PPLinkManager) computeBurstOffsetTarget(burstLength int) int {
	if !p.cfg.AdaptiveBurstOffset {
		return p.cfg.DefaultBurstOffset
	}
	numChannels := maxInt(1, len(p.mgr.PPChannels()))
	numNeighbors := p.contention.NumActiveNeighbors()
	return burstLength + ceilDiv(4*numNeighbors*burstLength, numChannels)
}

// slotSelection walks the PP channels ordered least-loaded first,
// collecting viable candidate starting offsets from each, then separately
// picks a reply slot on the SH table.
func (p *PPLinkManager) slotSelection(burstTx, burstRx, burstOffset, periodIdx int) (proposals []packet.LinkProposal, replyOffset int, ok bool) {
	burstLength := burstTx + burstRx
	var representativeRx *reservation.ReservationTable
	if rxs := p.mgr.ReceiverTables(); len(rxs) > 0 {
		representativeRx = rxs[0]
	}
	for _, ct := range p.mgr.SortedP2PTables() {
		starts := ct.Table.FindPPCandidates(p.cfg.PPCandidatesPerChannel, 1, burstOffset, burstLength, burstTx, p.timeout, p.mgr.TxTable(), representativeRx)
		for _, s := range starts {
			proposals = append(proposals, packet.LinkProposal{
				Channel:        *ct.Channel,
				SlotOffset:     s,
				Period:         periodIdx,
				NumTxInitiator: burstTx,
				NumTxRecipient: burstRx,
			})
		}
	}
	if len(proposals) == 0 {
		return nil, 0, false
	}
	replyOffset = p.findReplyOffset()
	if replyOffset < 0 {
		return nil, 0, false
	}
	return proposals, replyOffset, true
}

func (p *PPLinkManager) findReplyOffset() int {
	h := p.mgr.Horizon()
	for off := p.cfg.MinOffsetToAllowProcessing; off < h; off++ {
		if p.mgr.SHTable().GetReservation(off).Kind == reservation.Idle && p.mgr.IsAnyReceiverIdle(off, 1) {
			return off
		}
	}
	return -1
}

// lockProposals locks every proposed candidate plus the chosen reply
// slot so no third party claims them while the request is in flight.
func (p *PPLinkManager) lockProposals(proposals []packet.LinkProposal, replyOffset, burstTx, burstRx int) {
	lm := reservation.NewLockMap()
	for _, prop := range proposals {
		table, ok := p.mgr.PPTableForChannel(prop.Channel)
		if !ok {
			continue
		}
		period := prop.PeriodSlots()
		for k := 0; k < p.timeout; k++ {
			start := prop.SlotOffset + k*period
			lockSpan(lm.Local, table, start, burstTx, p.selfID)
			lockSpan(lm.Transmitter, p.mgr.TxTable(), start, burstTx, p.selfID)
			rx := p.mgr.IdleReceiver(start+burstTx, burstRx)
			if rx == nil && len(p.mgr.ReceiverTables()) > 0 {
				rx = p.mgr.ReceiverTables()[0]
			}
			lockSpan(lm.Local, table, start+burstTx, burstRx, p.peerID)
			if rx != nil {
				lockSpan(lm.Receiver, rx, start+burstTx, burstRx, p.peerID)
			}
		}
	}
	lockSpan(lm.Local, p.mgr.SHTable(), replyOffset, 1, p.peerID)
	if rx := p.mgr.IdleReceiver(replyOffset, 1); rx != nil {
		lockSpan(lm.Receiver, rx, replyOffset, 1, p.peerID)
	} else if len(p.mgr.ReceiverTables()) > 0 {
		lockSpan(lm.Receiver, p.mgr.ReceiverTables()[0], replyOffset, 1, p.peerID)
	}
	p.reservedResources = lm
}

func lockSpan(dst *reservation.Map, table *reservation.ReservationTable, start, length int, id packet.MacId) {
	if table == nil {
		return
	}
	for i := 0; i < length; i++ {
		off := start + i
		if off < 0 || off >= table.Horizon() {
			continue
		}
		if err := table.Lock(off, id); err == nil {
			dst.AddFor(table, off, id)
		}
	}
}

// OnLinkReply handles a reply received for our outstanding request. The
// peer expresses SlotOffset relative to our request transmission, so it
// is normalized to "now" by subtracting however many slots have elapsed
// since then (tracked via the reply countdown we set at request time).
func (p *PPLinkManager) OnLinkReply(rep packet.LinkReplyHeader) {
	if p.status != AwaitingReply {
		return
	}
	table, ok := p.mgr.PPTableForChannel(rep.Channel)
	if !ok {
		return
	}
	slotsElapsed := p.replyOffsetOriginal - p.timeSlotsUntilReply
	normalized := rep.SlotOffset - slotsElapsed
	if p.reservedResources != nil {
		p.reservedResources.UnlockAll(p.selfID, p.peerID)
		p.reservedResources = nil
	}
	p.scheduledResources = p.mgr.ScheduleBursts(table, rep.BurstOffset, rep.Timeout, normalized, rep.BurstLengthTx, rep.BurstLengthRx, p.peerID, true)
	ch := rep.Channel
	p.ppChannel = &ch
	p.ppTable = table
	p.burstLengthTx, p.burstLengthRx, p.burstOffset, p.timeout = rep.BurstLengthTx, rep.BurstLengthRx, rep.BurstOffset, rep.Timeout
	p.nextBurstIn = normalized
	p.status = Established
	p.establishmentAttempts = 0
	p.Stats.LinksEstablished++
	if p.sink != nil {
		p.sink.OnLinkEstablished(p.peerID)
	}
}

// OnLinkRequest handles a request received addressed to us, choosing a
// viable proposal and replying, or falling back to our own establishment
// attempt if none of the peer's proposals work locally.
func (p *PPLinkManager) OnLinkRequest(req packet.LinkRequestHeader) {
	if p.status == Established || p.status == AwaitingDataTx {
		p.Stats.LinkChurnReestablish++
		p.cancelLink()
	}

	if !p.sh.CanSendLinkReply(req.ReplyOffset) {
		p.Stats.RejectReply++
		p.establishLink()
		return
	}

	prop, ok := p.chooseViableProposal(req.Proposals, req.Timeout, req.BurstOffset)
	if !ok {
		p.Stats.RejectProposal++
		p.establishLink()
		return
	}

	p.reportedResourceRequirement = req.BurstLengthTx
	p.sh.EnqueueLinkReply(p.peerID, func() (packet.LinkReplyHeader, bool) {
		return packet.LinkReplyHeader{
			Dest:          p.peerID,
			Channel:       prop.Channel,
			SlotOffset:    prop.SlotOffset,
			BurstLengthTx: prop.NumTxInitiator,
			BurstLengthRx: prop.NumTxRecipient,
			BurstOffset:   req.BurstOffset,
			Timeout:       req.Timeout,
		}, true
	})

	if table, ok := p.mgr.PPTableForChannel(prop.Channel); ok {
		p.scheduledResources = p.mgr.ScheduleBursts(table, req.BurstOffset, req.Timeout, prop.SlotOffset, prop.NumTxInitiator, prop.NumTxRecipient, p.peerID, false)
		ch := prop.Channel
		p.ppChannel = &ch
		p.ppTable = table
	}
	p.burstLengthTx, p.burstLengthRx, p.burstOffset, p.timeout = prop.NumTxRecipient, prop.NumTxInitiator, req.BurstOffset, req.Timeout
	p.nextBurstIn = prop.SlotOffset
	p.status = AwaitingDataTx
}

func (p *PPLinkManager) chooseViableProposal(proposals []packet.LinkProposal, timeout, burstOffset int) (packet.LinkProposal, bool) {
	var candidates []packet.LinkProposal
	for _, prop := range proposals {
		table, ok := p.mgr.PPTableForChannel(prop.Channel)
		if !ok {
			continue
		}
		viable := true
		for k := 0; k < timeout; k++ {
			start := prop.SlotOffset + k*burstOffset
			rxSpan, txSpan := prop.NumTxInitiator, prop.NumTxRecipient
			if start < 0 || start+rxSpan+txSpan > table.Horizon() {
				viable = false
				break
			}
			if !table.IsIdle(start, rxSpan+txSpan) {
				viable = false
				break
			}
			if rxSpan > 0 && !p.mgr.IsAnyReceiverIdle(start, rxSpan) {
				viable = false
				break
			}
			if txSpan > 0 && !p.mgr.IsTransmitterIdle(start+rxSpan, txSpan) {
				viable = false
				break
			}
		}
		if viable {
			candidates = append(candidates, prop)
		}
	}
	if len(candidates) == 0 {
		return packet.LinkProposal{}, false
	}
	return candidates[p.rng.IntN(len(candidates))], true
}

// cancelLink tears down whatever the link currently holds: locks if
// still negotiating, scheduled Tx/Rx cells if already running.
func (p *PPLinkManager) cancelLink() {
	switch p.status {
	case AwaitingRequestGeneration, AwaitingReply:
		if p.reservedResources != nil {
			p.reservedResources.UnlockAll(p.selfID, p.peerID)
			p.reservedResources = nil
		}
	case AwaitingDataTx, Established:
		if p.scheduledResources != nil {
			p.scheduledResources.Unschedule()
			p.scheduledResources = nil
		}
	}
	p.ppChannel = nil
	p.ppTable = nil
	p.sh.CancelLinkRequest(p.peerID)
	p.sh.CancelLinkReply(p.peerID)
	wasActive := p.status == Established || p.status == AwaitingDataTx
	p.status = NotEstablished
	p.missingFirstDataCount = 0
	if wasActive && p.sink != nil {
		p.sink.OnLinkTornDown(p.peerID)
	}
}

// OnSlotStart ages every timer this link is tracking.
func (p *PPLinkManager) OnSlotStart(delta int) {
	if p.reservedResources != nil {
		p.reservedResources.Tick(delta)
	}
	if p.scheduledResources != nil {
		p.scheduledResources.Tick(delta)
	}

	switch p.status {
	case AwaitingReply:
		p.timeSlotsUntilReply -= delta
		if p.timeSlotsUntilReply < 0 {
			p.Stats.MissedReplyOpportunities++
			p.establishmentAttempts++
			p.cancelLink()
			if p.establishmentAttempts < p.cfg.MaxPPEstablishmentAttempts {
				p.establishLink()
			} else {
				p.Stats.ExceededMaxAttempts++
			}
		}
	case AwaitingDataTx:
		p.nextBurstIn -= delta
	}
}

// OnSlotEnd advances the burst timeout once a burst ends, and detects a
// missed first-data-transmission opportunity.
func (p *PPLinkManager) OnSlotEnd() {
	switch p.status {
	case AwaitingDataTx:
		if p.nextBurstIn <= 0 {
			p.missingFirstDataCount++
			p.nextBurstIn += p.burstOffset
			if p.missingFirstDataCount > p.cfg.MaxNoOfTolerableEmptyBursts {
				hasMoreData := p.outgoingTrafficEstimateBits > 0
				p.cancelLink()
				if hasMoreData {
					p.establishLink()
				}
			}
		}
	case Established:
		if p.ppTable != nil && p.ppTable.IsBurstEnd(0, p.peerID) {
			p.timeout--
			if p.timeout <= 0 {
				p.onTimeoutExpiry()
			}
		}
	}
}

func (p *PPLinkManager) onTimeoutExpiry() {
	hasMoreData := p.outgoingTrafficEstimateBits > 0
	p.cancelLink()
	if hasMoreData {
		p.establishLink()
	}
}

// OnTransmissionReservation builds a data packet for the current Tx
// burst slot, re-advertising our burst parameters in the base header so
// the peer can size its next proposal's RX request.
func (p *PPLinkManager) OnTransmissionReservation() *packet.Packet {
	if p.status != Established && p.status != AwaitingDataTx {
		return nil
	}
	base := packet.BaseHeader{Source: p.selfID, SlotOffset: p.burstOffset, BurstLengthTx: p.burstLengthTx}
	pkt := packet.New(base)
	bits := minInt(p.cfg.PPSlotCapacityBits, p.outgoingTrafficEstimateBits)
	bits = maxInt(bits, 0)
	p.outgoingTrafficEstimateBits -= bits
	pkt.Append(packet.UnicastHeader{Dest: p.peerID}, bits)
	return pkt
}

// OnReceptionReservation is a no-op hook kept for vtable symmetry; actual
// packet delivery happens through OnPacketReception.
func (p *PPLinkManager) OnReceptionReservation() {}

// OnPacketReception delivers a packet received on this link's reservation
// (routed here by the MAC by origin), completing the AwaitingDataTx ->
// Established transition on the peer's first data packet.
func (p *PPLinkManager) OnPacketReception(pkt *packet.Packet) {
	p.reportedResourceRequirement = pkt.Base().BurstLengthTx
	if p.status != AwaitingDataTx {
		return
	}
	for _, e := range pkt.Entries[1:] {
		if u, ok := e.Header.(packet.UnicastHeader); ok && u.Dest == p.selfID {
			p.status = Established
			p.establishmentAttempts = 0
			p.missingFirstDataCount = 0
			p.Stats.LinksEstablished++
			if p.sink != nil {
				p.sink.OnLinkEstablished(p.peerID)
			}
			return
		}
	}
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// snapToPeriod finds the smallest encoded period index p whose decoded
// slot count 5*2^p is at least target, so every proposal's Period field
// stays within the protocol's discrete set of repeat intervals.
func snapToPeriod(target int) (idx, slots int) {
	for p := 0; p <= 12; p++ {
		s := 5 << uint(p)
		if s >= target {
			return p, s
		}
	}
	return 12, 5 << 12
}
