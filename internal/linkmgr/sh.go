package linkmgr

import (
	"math/rand/v2"

	"mcsotdma/internal/config"
	"mcsotdma/internal/estimator"
	"mcsotdma/internal/packet"
	"mcsotdma/internal/reservation"
)

// Router delivers headers embedded in a received SH packet to whichever
// component owns that conversation: the local PP link manager when this
// node is the destination, or a third-party shadow link when it is only
// overhearing someone else's negotiation.
type Router interface {
	RouteRequest(origin packet.MacId, req packet.LinkRequestHeader)
	RouteReply(origin packet.MacId, rep packet.LinkReplyHeader)
	RouteLinkInfo(origin packet.MacId, info packet.LinkInfoHeader)
}

// SHStats are the broadcast scheduler's observable counters.
type SHStats struct {
	RequestsSent        int
	RepliesSent         int
	BroadcastCollisions int
	BeaconCollisions    int
	BeaconsSent         int
}

type shQueueItem struct {
	dest     packet.MacId
	populate func() (packet.Header, bool)
}

// SHLinkManager owns the shared channel: it decides when to transmit a
// broadcast slot, fills it with a beacon or with queued requests/replies
// and best-effort data, and parses every received SH packet.
type SHLinkManager struct {
	mgr    *reservation.Manager
	selfID packet.MacId
	cfg    config.Config

	contention *estimator.ContentionEstimator
	congestion *estimator.CongestionEstimator
	neighbors  *estimator.NeighborObserver
	rng        *rand.Rand
	router     Router

	// UpperBroadcastProvider is asked, after priority traffic has been
	// packed, to fill up to maxBits of best-effort broadcast payload. It
	// returns how many bits it actually supplied.
	UpperBroadcastProvider func(maxBits int) int

	scheduledTxOffset int // -1 if nothing scheduled
	lastBurstLengthTx int
	nextBeaconIn      int

	requestQueue []shQueueItem
	replyQueue   []shQueueItem

	slotActiveOrigins map[packet.MacId]struct{}

	Stats SHStats
}

// NewSHLinkManager wires a broadcast scheduler to its reservation
// manager and estimators. router may be nil during construction and set
// later via SetRouter once the owning MAC has built its peer tables.
func NewSHLinkManager(mgr *reservation.Manager, selfID packet.MacId, cfg config.Config, contention *estimator.ContentionEstimator, congestion *estimator.CongestionEstimator, neighbors *estimator.NeighborObserver, rng *rand.Rand) *SHLinkManager {
	s := &SHLinkManager{
		mgr:               mgr,
		selfID:            selfID,
		cfg:               cfg,
		contention:        contention,
		congestion:        congestion,
		neighbors:         neighbors,
		rng:               rng,
		scheduledTxOffset: -1,
		slotActiveOrigins: make(map[packet.MacId]struct{}),
	}
	s.rescheduleBeacon()
	return s
}

// SetRouter installs the header router used once packets start arriving.
func (s *SHLinkManager) SetRouter(r Router) { s.router = r }

// SendLinkRequest enqueues a request addressed to dest. populate is called
// just-in-time, at the slot the request is actually about to be
// transmitted, so it can lock resources against the reservation state as
// it exists then rather than when the request was first queued; it
// returns ok=false to signal the attempt should be abandoned (e.g.
// insufficient resources), in which case the item is dropped silently.
func (s *SHLinkManager) SendLinkRequest(dest packet.MacId, populate func() (packet.LinkRequestHeader, bool)) {
	s.requestQueue = append(s.requestQueue, shQueueItem{
		dest: dest,
		populate: func() (packet.Header, bool) {
			h, ok := populate()
			return h, ok
		},
	})
	s.ensureScheduled()
}

// EnqueueLinkReply enqueues a reply addressed to dest, populated the same
// just-in-time way as a request.
func (s *SHLinkManager) EnqueueLinkReply(dest packet.MacId, populate func() (packet.LinkReplyHeader, bool)) {
	s.replyQueue = append(s.replyQueue, shQueueItem{
		dest: dest,
		populate: func() (packet.Header, bool) {
			h, ok := populate()
			return h, ok
		},
	})
	s.ensureScheduled()
}

// CancelLinkRequest removes every queued request addressed to dest,
// returning how many were removed.
func (s *SHLinkManager) CancelLinkRequest(dest packet.MacId) int {
	kept, removed := filterQueue(s.requestQueue, dest)
	s.requestQueue = kept
	return removed
}

// CancelLinkReply removes every queued reply addressed to dest, returning
// how many were removed.
func (s *SHLinkManager) CancelLinkReply(dest packet.MacId) int {
	kept, removed := filterQueue(s.replyQueue, dest)
	s.replyQueue = kept
	return removed
}

func filterQueue(q []shQueueItem, dest packet.MacId) ([]shQueueItem, int) {
	kept := q[:0:0]
	removed := 0
	for _, item := range q {
		if item.dest == dest {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	return kept, removed
}

// CanSendLinkReply reports whether offset is presently Idle on the SH
// table and a transmitter is free there, used by a PP link manager
// deciding whether to accept an advertised reply slot.
func (s *SHLinkManager) CanSendLinkReply(offset int) bool {
	if offset < 0 || offset >= s.mgr.Horizon() {
		return false
	}
	return s.mgr.SHTable().GetReservation(offset).Kind == reservation.Idle && s.mgr.IsTransmitterIdle(offset, 1)
}

// BroadcastCollisionDetected frees our own scheduled broadcast slot and
// picks a new one, called when a neighbor's advertised next-broadcast
// slot turns out to match it.
func (s *SHLinkManager) BroadcastCollisionDetected() {
	s.Stats.BroadcastCollisions++
	if s.scheduledTxOffset >= 0 {
		s.mgr.SHTable().Unschedule(s.scheduledTxOffset, packet.BroadcastID)
	}
	s.scheduleNextTx(1)
}

// BeaconCollisionDetected is BroadcastCollisionDetected's beacon
// counterpart: beacons occupy the same scheduled broadcast slot, so
// rescheduling is identical.
func (s *SHLinkManager) BeaconCollisionDetected() {
	s.Stats.BeaconCollisions++
	s.BroadcastCollisionDetected()
}

func (s *SHLinkManager) ensureScheduled() {
	if s.scheduledTxOffset < 0 {
		s.scheduleNextTx(1)
	}
}

func (s *SHLinkManager) computeCandidateCount() int {
	n := s.contention.NumActiveNeighbors()
	var k int
	switch s.cfg.ContentionMethod {
	case config.BinomialEstimate:
		k = binomialEstimate(s.cfg.TargetCollisionProb, n, s.contention.AverageBroadcastRate())
	case config.PoissonBinomialEstimate:
		active := s.contention.ActiveNeighbors()
		probs := make([]float64, len(active))
		for i, id := range active {
			probs[i] = s.contention.AccessProbability(id)
		}
		k = poissonBinomialEstimate(s.cfg.TargetCollisionProb, probs)
	case config.AllActiveAgainAssumed:
		k = allActiveAgainEstimate(s.cfg.TargetCollisionProb, n)
	default:
		k = naiveRandomAccessK
	}
	return clampCandidates(k, s.cfg.MinNumCandidateSlots, s.cfg.MaxNumCandidateSlots)
}

// scheduleNextTx scans the SH table from minOffset for up to k Idle
// slots, uniformly picks one, and marks it Tx(BroadcastID). If marking
// loses a race (shouldn't happen under the single-threaded slot model,
// but a defensive retry costs nothing) it tries again one slot later.
func (s *SHLinkManager) scheduleNextTx(minOffset int) {
	h := s.mgr.Horizon()
	if minOffset >= h {
		s.scheduledTxOffset = -1
		return
	}
	k := s.computeCandidateCount()
	var candidates []int
	for off := minOffset; off < h && len(candidates) < k; off++ {
		if s.mgr.SHTable().GetReservation(off).Kind == reservation.Idle {
			candidates = append(candidates, off)
		}
	}
	if len(candidates) == 0 {
		s.scheduledTxOffset = -1
		return
	}
	chosen := candidates[s.rng.IntN(len(candidates))]
	if err := s.mgr.SHTable().Mark(chosen, reservation.Reservation{Kind: reservation.Tx, Target: packet.BroadcastID}); err != nil {
		s.scheduleNextTx(chosen + 1)
		return
	}
	s.scheduledTxOffset = chosen
}

func (s *SHLinkManager) rescheduleBeacon() {
	lo, hi := s.cfg.MinBeaconInterval, s.cfg.MaxBeaconInterval
	if hi <= lo {
		s.nextBeaconIn = lo
		return
	}
	s.nextBeaconIn = lo + s.rng.IntN(hi-lo)
}

// OnSlotStart ages the manager's tracked offsets by delta slots, mirroring
// the reservation manager's own advance, then marks the SH table's own
// offset idle/busy cell as a broadcast reception slot: with nothing else
// scheduled there, listening is the default.
func (s *SHLinkManager) OnSlotStart(delta int) {
	if s.scheduledTxOffset >= 0 {
		s.scheduledTxOffset -= delta
		if s.scheduledTxOffset < 0 {
			s.scheduledTxOffset = -1
		}
	}
	s.nextBeaconIn -= delta

	if cur := s.mgr.SHTable().GetReservation(0); cur.Kind == reservation.Idle || cur.Kind == reservation.Busy {
		_ = s.mgr.SHTable().Mark(0, reservation.Reservation{Kind: reservation.Rx, Target: packet.BroadcastID})
	}
}

// OnSlotEnd folds this slot's observed SH activity into the contention and
// congestion estimators exactly once, regardless of how many packets were
// received.
func (s *SHLinkManager) OnSlotEnd() {
	s.contention.RecordSlot(s.slotActiveOrigins)
	s.congestion.RecordSlot(len(s.slotActiveOrigins) > 0)
	for id := range s.slotActiveOrigins {
		delete(s.slotActiveOrigins, id)
	}
	s.neighbors.Age(1)
}

// OnTransmissionReservation builds the packet for the current Tx/TxBeacon
// slot: a base header advertising the freshly-scheduled next broadcast
// slot, then either a beacon or priority link traffic followed by
// best-effort data up to the slot's capacity.
func (s *SHLinkManager) OnTransmissionReservation() *packet.Packet {
	cur := s.mgr.SHTable().GetReservation(0)
	beaconNow := cur.Kind == reservation.TxBeacon || s.nextBeaconIn <= 0

	s.scheduleNextTx(1)
	base := packet.BaseHeader{Source: s.selfID, SlotOffset: s.scheduledTxOffset, BurstLengthTx: s.lastBurstLengthTx}
	pkt := packet.New(base)

	if beaconNow {
		pkt.Append(packet.BeaconHeader{}, s.cfg.BeaconPayloadBits)
		s.rescheduleBeacon()
		s.Stats.BeaconsSent++
		return pkt
	}

	capacity := s.cfg.SHSlotCapacityBits
	used := s.drainRequests(pkt, capacity)
	used += s.drainReplies(pkt, capacity-used)
	if used < capacity && s.UpperBroadcastProvider != nil {
		if bits := s.UpperBroadcastProvider(capacity - used); bits > 0 {
			pkt.Append(packet.BroadcastHeader{}, bits)
		}
	}
	return pkt
}

func (s *SHLinkManager) drainRequests(pkt *packet.Packet, budget int) int {
	used := 0
	var remaining []shQueueItem
	for i, item := range s.requestQueue {
		if used+s.cfg.LinkHeaderBits > budget {
			remaining = append(remaining, s.requestQueue[i:]...)
			break
		}
		h, ok := item.populate()
		if !ok {
			continue // abandoned; caller re-enqueues if it wants another attempt
		}
		pkt.Append(h, 0)
		used += s.cfg.LinkHeaderBits
		s.Stats.RequestsSent++
	}
	s.requestQueue = remaining
	return used
}

func (s *SHLinkManager) drainReplies(pkt *packet.Packet, budget int) int {
	used := 0
	var remaining []shQueueItem
	for i, item := range s.replyQueue {
		if used+s.cfg.LinkHeaderBits > budget {
			remaining = append(remaining, s.replyQueue[i:]...)
			break
		}
		h, ok := item.populate()
		if !ok {
			continue
		}
		pkt.Append(h, 0)
		used += s.cfg.LinkHeaderBits
		s.Stats.RepliesSent++
	}
	s.replyQueue = remaining
	return used
}

// OnReceptionReservation is a no-op hook kept for vtable symmetry with
// OnTransmissionReservation; the PHY itself performs the actual tuning.
func (s *SHLinkManager) OnReceptionReservation() {}

// OnPacketReception updates estimators and neighbor advertisements from a
// received SH packet, detects a collision with our own scheduled slot,
// and routes any embedded link headers.
func (s *SHLinkManager) OnPacketReception(pkt *packet.Packet) {
	origin := pkt.Base().Source
	s.slotActiveOrigins[origin] = struct{}{}

	offset := pkt.Base().SlotOffset
	s.neighbors.Advertise(origin, offset)
	if offset >= 0 && offset < s.mgr.Horizon() {
		if s.scheduledTxOffset >= 0 && offset == s.scheduledTxOffset {
			// Unschedule first so the Rx mark below lands on a freed, Idle
			// cell, then reschedule our own broadcast elsewhere.
			s.mgr.SHTable().Unschedule(offset, packet.BroadcastID)
			_ = s.mgr.SHTable().Mark(offset, reservation.Reservation{Kind: reservation.Rx, Target: origin})
			s.Stats.BroadcastCollisions++
			s.scheduleNextTx(1)
		} else {
			_ = s.mgr.SHTable().Mark(offset, reservation.Reservation{Kind: reservation.Rx, Target: origin})
		}
	}

	if s.router == nil {
		return
	}
	for _, h := range pkt.HeadersOfKind(packet.KindLinkRequest) {
		if req, ok := h.(packet.LinkRequestHeader); ok {
			s.router.RouteRequest(origin, req)
		}
	}
	for _, h := range pkt.HeadersOfKind(packet.KindLinkReply) {
		if rep, ok := h.(packet.LinkReplyHeader); ok {
			s.router.RouteReply(origin, rep)
		}
	}
	for _, h := range pkt.HeadersOfKind(packet.KindLinkInfo) {
		if info, ok := h.(packet.LinkInfoHeader); ok {
			s.router.RouteLinkInfo(origin, info)
		}
	}
}
