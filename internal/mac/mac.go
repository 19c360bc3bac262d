// Package mac drives the per-slot MAC core: the three ordered phases
// (Update, Execute, OnSlotEnd) that advance the reservation manager, the
// shared-channel link manager, every per-peer point-to-point link, and
// every third-party shadow link in lockstep, exactly once per slot.
package mac

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mcsotdma/internal/config"
	"mcsotdma/internal/estimator"
	"mcsotdma/internal/linkmgr"
	"mcsotdma/internal/packet"
	"mcsotdma/internal/reservation"
)

// Reception is one packet the PHY delivered this slot, tagged with the
// frequency it arrived on so the core can group same-frequency arrivals
// for collision detection.
type Reception struct {
	Packet  *packet.Packet
	Channel packet.FrequencyChannel
}

// PHY is the hardware/transport boundary the core drives every slot.
type PHY interface {
	// CurrentDatarate reports bits/slot available to whichever component
	// is sizing a transmission this slot.
	CurrentDatarate() int
	// TuneReceiver instructs the PHY to tune one physical receiver to ch
	// for the duration of this slot.
	TuneReceiver(ch packet.FrequencyChannel) error
	// Transmit hands pkt to the PHY for transmission on ch this slot.
	Transmit(pkt *packet.Packet, ch packet.FrequencyChannel)
	// Update advances the PHY's own notion of time by delta slots.
	Update(delta int)
	// Poll returns every packet the PHY delivered during the slot that
	// just ended.
	Poll() []Reception
}

// Upper is the RLC/ARQ boundary above the core.
type Upper interface {
	// IsThereMoreData reports whether more data is queued for link.
	IsThereMoreData(link linkmgr.LinkID) bool
	// RequestSegment asks for up to maxBits of queued data for link (the
	// zero LinkID is reserved for the shared channel's best-effort
	// broadcast queue, which has no peer of its own).
	RequestSegment(maxBits int, link linkmgr.LinkID) *packet.Packet
	// ReceiveFromLower delivers a received packet's payload upward.
	ReceiveFromLower(pkt *packet.Packet)
	// NotifyAboutNewLink tells upper a bilateral link to peer now exists.
	NotifyAboutNewLink(peer packet.MacId)
	// GetMaxNumRtxAttempts bounds retransmission attempts upper requests.
	GetMaxNumRtxAttempts() int
}

// Stats are the MAC core's own observable counters, layered on top of the
// per-manager Stats each link manager already tracks.
type Stats struct {
	Collisions             int
	DMEDropped             int
	ChannelErrorsDropped   int
	DutyCycleThrottled     int
	ThirdPartyRequestsRcvd int
	ThirdPartyRepliesRcvd  int
	LinksEstablished       int
	LinksTornDown          int
}

// MAC owns one node's complete protocol stack: the reservation manager,
// the shared-channel scheduler, every peer's point-to-point link, and the
// shadow links mirroring overheard negotiations between other nodes.
// Grounded on channel_state.go's single-struct-plus-mutex-guarded-maps
// shape (there: one map of connected users; here: one map of peer links),
// generalized to the slot-driven Update/Execute/OnSlotEnd phases instead
// of an event-driven chat room.
type MAC struct {
	mu sync.Mutex

	selfID packet.MacId
	cfg    config.Config
	mgr    *reservation.Manager
	phy    PHY
	upper  Upper

	contention *estimator.ContentionEstimator
	congestion *estimator.CongestionEstimator
	neighbors  *estimator.NeighborObserver
	rng        *rand.Rand
	sh         *linkmgr.SHLinkManager

	peers      map[packet.MacId]*linkmgr.PPLinkManager
	thirdParty map[linkmgr.LinkID]*linkmgr.ThirdPartyLink

	// limiter enforces max_duty_cycle over duty_cycle_period: clock is a
	// synthetic, slot-driven timeline (never wall time) so the simulator
	// stays fully deterministic.
	limiter *rate.Limiter
	clock   time.Time

	Stats  Stats
	logger *slog.Logger
}

// New builds a MAC for selfID with the given channel plan. rngSeed1/2 seed
// the node's PRNG deterministically (tests and the simulator both pass
// fixed seeds; a live deployment should derive them from a real entropy
// source once).
func New(selfID packet.MacId, cfg config.Config, shChannel packet.FrequencyChannel, ppChannels []packet.FrequencyChannel, phy PHY, upper Upper, rngSeed1, rngSeed2 uint64, logger *slog.Logger) *MAC {
	if logger == nil {
		logger = slog.Default()
	}
	mgr := reservation.NewManager(cfg.PlanningHorizon, shChannel, ppChannels, cfg.NumReceivers)
	contention := estimator.NewContentionEstimator(estimator.DefaultWindow)
	congestion := estimator.NewCongestionEstimator(estimator.DefaultWindow)
	neighbors := estimator.NewNeighborObserver()
	rng := rand.New(rand.NewPCG(rngSeed1, rngSeed2))
	sh := linkmgr.NewSHLinkManager(mgr, selfID, cfg, contention, congestion, neighbors, rng)

	// Token-bucket approximation of "at most max_duty_cycle of any
	// duty_cycle_period-slot window may be spent transmitting": burst
	// caps how many Tx slots may fire back-to-back, rate replenishes
	// max_duty_cycle tokens per slot (one synthetic nanosecond of clock).
	burst := int(cfg.MaxDutyCycle * float64(cfg.DutyCyclePeriod))
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.MaxDutyCycle*float64(time.Second)), burst)

	m := &MAC{
		selfID:     selfID,
		cfg:        cfg,
		mgr:        mgr,
		phy:        phy,
		upper:      upper,
		contention: contention,
		congestion: congestion,
		neighbors:  neighbors,
		rng:        rng,
		sh:         sh,
		peers:      make(map[packet.MacId]*linkmgr.PPLinkManager),
		thirdParty: make(map[linkmgr.LinkID]*linkmgr.ThirdPartyLink),
		limiter:    limiter,
		clock:      time.Unix(0, 0),
		logger:     logger,
	}
	sh.SetRouter(m)
	sh.UpperBroadcastProvider = m.provideBroadcastData
	return m
}

// RequestLink lazily creates (if absent) and returns the point-to-point
// link manager for peer, the entry point an upper-layer driver uses to
// start a new bilateral link.
func (m *MAC) RequestLink(peer packet.MacId) *linkmgr.PPLinkManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreatePeer(peer)
}

func (m *MAC) getOrCreatePeer(peer packet.MacId) *linkmgr.PPLinkManager {
	if pp, ok := m.peers[peer]; ok {
		return pp
	}
	pp := linkmgr.NewPPLinkManager(m.mgr, m.sh, m.contention, m.cfg, m.rng, m, m.selfID, peer)
	m.peers[peer] = pp
	return pp
}

func (m *MAC) getOrCreateThirdParty(a, b packet.MacId) *linkmgr.ThirdPartyLink {
	key := linkmgr.UnorderedKey(a, b)
	if tp, ok := m.thirdParty[key]; ok {
		return tp
	}
	tp := linkmgr.NewThirdPartyLink(m.mgr, m.neighbors)
	tp.SetOnReset(m.onThirdPartyReset)
	m.thirdParty[key] = tp
	return tp
}

// onThirdPartyReset is the hook ThirdPartyLink.reset invokes; every other
// shadow link gets a chance to extend into the cells just freed.
func (m *MAC) onThirdPartyReset(reset *linkmgr.ThirdPartyLink) {
	for _, tp := range m.thirdParty {
		if tp != reset {
			tp.OnAnotherThirdLinkReset()
		}
	}
}

func (m *MAC) provideBroadcastData(maxBits int) int {
	if m.upper == nil {
		return 0
	}
	pkt := m.upper.RequestSegment(maxBits, linkmgr.LinkID{})
	if pkt == nil {
		return 0
	}
	return pkt.TotalBits()
}

// Update runs the update() phase: advances every clock, lets every link
// manager finalize its RX intent, and tunes the PHY's receivers to this
// slot's Rx/RxBeacon reservations.
func (m *MAC) Update(delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mgr.Advance(delta)
	m.phy.Update(delta)
	m.clock = m.clock.Add(time.Duration(delta))

	m.sh.OnSlotStart(delta)
	for _, pp := range m.peers {
		pp.OnSlotStart(delta)
	}
	for _, tp := range m.thirdParty {
		tp.OnSlotStart(delta)
	}

	rxNeeded := 0
	for _, ct := range m.mgr.CollectCurrentReservations() {
		if ct.Table.GetReservation(0).IsRx() {
			rxNeeded++
			if err := m.phy.TuneReceiver(*ct.Channel); err != nil {
				return fmt.Errorf("mac: tune receiver for %s: %w", ct.Channel.Role, err)
			}
		}
	}
	if rxNeeded > m.cfg.NumReceivers {
		return fmt.Errorf("mac: %d simultaneous RX reservations exceed %d configured receivers", rxNeeded, m.cfg.NumReceivers)
	}

	m.pullOutgoingTraffic()
	return nil
}

// pullOutgoingTraffic asks upper for queued data on every peer link that
// already exists, translating it into the NotifyOutgoing calls that drive
// PPLinkManager's establishment/burst-sizing state machine.
func (m *MAC) pullOutgoingTraffic() {
	if m.upper == nil {
		return
	}
	for peer, pp := range m.peers {
		id := linkmgr.LinkID{Initiator: m.selfID, Recipient: peer}
		if !m.upper.IsThereMoreData(id) {
			continue
		}
		seg := m.upper.RequestSegment(m.cfg.PPSlotCapacityBits, id)
		if seg != nil && seg.TotalBits() > 0 {
			pp.NotifyOutgoing(seg.TotalBits())
		}
	}
}

// Execute runs the execute() phase: for every current non-idle
// reservation, routes Rx/RxBeacon to onReceptionReservation and
// Tx/TxBeacon to onTransmissionReservation, enforcing num_transmitters and
// the duty cycle.
func (m *MAC) Execute() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txCount := 0
	for _, ct := range m.mgr.CollectCurrentReservations() {
		r := ct.Table.GetReservation(0)
		lm := m.linkManagerFor(*ct.Channel, r)
		if lm == nil {
			continue
		}
		switch {
		case r.IsRx():
			lm.OnReceptionReservation()
		case r.IsTx():
			if txCount >= m.cfg.NumTransmitters {
				return fmt.Errorf("mac: tx reservation exceeds %d configured transmitters", m.cfg.NumTransmitters)
			}
			txCount++
			if !m.limiter.AllowN(m.clock, 1) {
				m.Stats.DutyCycleThrottled++
				continue
			}
			if pkt := lm.OnTransmissionReservation(); pkt != nil {
				m.phy.Transmit(pkt, *ct.Channel)
			}
		}
	}
	return nil
}

func (m *MAC) linkManagerFor(ch packet.FrequencyChannel, r reservation.Reservation) linkmgr.LinkManager {
	if ch.Role == packet.SH {
		return m.sh
	}
	if r.Target == packet.UnsetID || r.Target == packet.BroadcastID {
		return nil
	}
	return m.getOrCreatePeer(r.Target)
}

// OnSlotEnd runs the onSlotEnd() phase: groups this slot's arrivals by
// frequency, drops DME/channel-error packets, records a collision and
// keeps only the highest-SNR packet when more than one arrived on the
// same frequency, dispatches it, then lets every manager close out the
// slot.
func (m *MAC) OnSlotEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()

	byChannel := make(map[packet.FrequencyChannel][]Reception)
	for _, rec := range m.phy.Poll() {
		byChannel[rec.Channel] = append(byChannel[rec.Channel], rec)
	}
	for ch, recs := range byChannel {
		var best *packet.Packet
		for _, rec := range recs {
			if rec.Packet.IsDME {
				m.Stats.DMEDropped++
				continue
			}
			if rec.Packet.HasChannelError {
				m.Stats.ChannelErrorsDropped++
				continue
			}
			if best == nil || rec.Packet.SNR > best.SNR {
				best = rec.Packet
			}
		}
		if len(recs) > 1 {
			m.Stats.Collisions++
		}
		if best != nil {
			m.deliver(ch, best)
		}
	}

	m.sh.OnSlotEnd()
	for _, pp := range m.peers {
		pp.OnSlotEnd()
	}
	for _, tp := range m.thirdParty {
		tp.OnSlotEnd()
	}
}

func (m *MAC) deliver(ch packet.FrequencyChannel, pkt *packet.Packet) {
	if ch.Role == packet.SH {
		m.sh.OnPacketReception(pkt)
		if len(pkt.HeadersOfKind(packet.KindBroadcast)) > 0 && m.upper != nil {
			m.upper.ReceiveFromLower(pkt)
		}
		return
	}
	peer := pkt.Base().Source
	pp := m.getOrCreatePeer(peer)
	pp.OnPacketReception(pkt)
	for _, h := range pkt.HeadersOfKind(packet.KindUnicast) {
		if u := h.(packet.UnicastHeader); u.Dest == m.selfID && m.upper != nil {
			m.upper.ReceiveFromLower(pkt)
		}
	}
}

// RouteRequest implements linkmgr.Router: a LinkRequest addressed to this
// node goes to that peer's PPLinkManager; otherwise it is only overheard,
// so a shadow link mirrors it.
func (m *MAC) RouteRequest(origin packet.MacId, req packet.LinkRequestHeader) {
	if req.Dest == m.selfID {
		m.getOrCreatePeer(origin).OnLinkRequest(req)
		return
	}
	m.getOrCreateThirdParty(origin, req.Dest).OnOverheardRequest(origin, req.Dest, req)
	m.Stats.ThirdPartyRequestsRcvd++
}

// RouteReply implements linkmgr.Router, the reply-side counterpart of
// RouteRequest.
func (m *MAC) RouteReply(origin packet.MacId, rep packet.LinkReplyHeader) {
	if rep.Dest == m.selfID {
		m.getOrCreatePeer(origin).OnLinkReply(rep)
		return
	}
	key := linkmgr.UnorderedKey(origin, rep.Dest)
	if tp, ok := m.thirdParty[key]; ok {
		tp.OnOverheardReply(rep)
		m.Stats.ThirdPartyRepliesRcvd++
	}
}

// RouteLinkInfo implements linkmgr.Router. LinkInfoHeader propagation is
// kept opaque at this layer: this node already knows its own link state
// and has no use for a third party's, so it is simply not acted on.
func (m *MAC) RouteLinkInfo(packet.MacId, packet.LinkInfoHeader) {}

// OnLinkEstablished implements linkmgr.LinkEventSink.
func (m *MAC) OnLinkEstablished(peer packet.MacId) {
	m.Stats.LinksEstablished++
	if m.upper != nil {
		m.upper.NotifyAboutNewLink(peer)
	}
	m.logger.Debug("pp link established", "peer", peer)
}

// OnLinkTornDown implements linkmgr.LinkEventSink.
func (m *MAC) OnLinkTornDown(peer packet.MacId) {
	m.Stats.LinksTornDown++
	m.logger.Debug("pp link torn down", "peer", peer)
}

// ExceededMaxAttempts sums every peer link's count of establishment
// attempts that ran out before a link formed.
func (m *MAC) ExceededMaxAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, pp := range m.peers {
		total += pp.Stats.ExceededMaxAttempts
	}
	return total
}

// SelfID returns the node identity the MAC core was built with.
func (m *MAC) SelfID() packet.MacId {
	return m.selfID
}
