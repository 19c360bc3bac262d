package simnet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mcsotdma/internal/config"
	"mcsotdma/internal/mac"
	"mcsotdma/internal/packet"
	"mcsotdma/internal/statstore"
	"mcsotdma/internal/trace"
	"mcsotdma/internal/upperbot"
)

// NodeSpec describes one simulated node at setup time: its identity, the
// peers it should proactively open point-to-point links to, and the
// synthetic traffic it generates.
type NodeSpec struct {
	ID      packet.MacId
	Peers   []packet.MacId
	Targets []upperbot.Target
	Seed    uint64
}

// Node bundles one simulated node's MAC core with the virtual upper layer
// and loopback radio driving it, for the dashboard's per-node inspection.
type Node struct {
	ID    packet.MacId
	MAC   *mac.MAC
	Upper *upperbot.TrafficGenerator
	PHY   *LoopbackPHY
}

// Simulation drives a fixed set of MAC nodes over a shared in-process
// Medium, advancing them one slot at a time. Grounded on room.go's
// mutex-guarded registry of live entities (there: connected clients and
// their channel membership; here: running nodes and their slot count),
// generalized from an event-driven chat room to a synchronous slot
// driver: every node completes Update, then every node completes
// Execute, then every node completes OnSlotEnd, so a transmission in
// Execute is only ever heard by receivers that finished tuning in
// Update — the MC-SOTDMA network's global slot boundary made explicit
// instead of implicit in wall-clock scheduling.
type Simulation struct {
	mu     sync.Mutex
	medium *Medium
	nodes  map[packet.MacId]*Node
	order  []packet.MacId
	slot   int64

	runLabel string
	recorder *trace.Recorder
	stats    *statstore.Store
	runID    string
	logger   *slog.Logger
}

// New builds a Simulation with no nodes yet; call AddNode for each one.
func New(runLabel string, recorder *trace.Recorder, stats *statstore.Store, runID string, logger *slog.Logger) *Simulation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulation{
		medium:   NewMedium(),
		nodes:    make(map[packet.MacId]*Node),
		runLabel: runLabel,
		recorder: recorder,
		stats:    stats,
		runID:    runID,
		logger:   logger,
	}
}

// AddNode builds one node's MAC core wired to a fresh LoopbackPHY on the
// shared Medium and a TrafficGenerator seeded from spec.Seed, registers
// any statically-known peer links, and returns it.
func (s *Simulation) AddNode(spec NodeSpec, cfg config.Config, shChannel packet.FrequencyChannel, ppChannels []packet.FrequencyChannel, maxRtxAttempts int) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	phy := s.medium.Attach(spec.ID, cfg.PPSlotCapacityBits)
	upper := upperbot.New(spec.ID, maxRtxAttempts, spec.Seed, s.logger.With("node", spec.ID))
	m := mac.New(spec.ID, cfg, shChannel, ppChannels, phy, upper, spec.Seed, spec.Seed^0xA5A5A5A5, s.logger.With("node", spec.ID))

	for _, peer := range spec.Peers {
		m.RequestLink(peer)
	}

	n := &Node{ID: spec.ID, MAC: m, Upper: upper, PHY: phy}
	s.nodes[spec.ID] = n
	s.order = append(s.order, spec.ID)
	return n
}

// Node returns node id's bundle, or nil if unknown.
func (s *Simulation) Node(id packet.MacId) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[id]
}

// Nodes returns every node's ID, in the order they were added.
func (s *Simulation) Nodes() []packet.MacId {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]packet.MacId, len(s.order))
	copy(out, s.order)
	return out
}

// Slot returns the number of slots advanced so far.
func (s *Simulation) Slot() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot
}

// RunSlot advances every node through one full Update/Execute/OnSlotEnd
// cycle, in that global order across all nodes, then records any
// newly-observed link and drop events to the trace recorder.
func (s *Simulation) RunSlot() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := make(map[packet.MacId]mac.Stats, len(s.order))
	for _, id := range s.order {
		before[id] = s.nodes[id].MAC.Stats
	}

	for _, id := range s.order {
		if err := s.nodes[id].MAC.Update(1); err != nil {
			return err
		}
	}
	for _, id := range s.order {
		if err := s.nodes[id].MAC.Execute(); err != nil {
			return err
		}
	}
	for _, id := range s.order {
		s.nodes[id].MAC.OnSlotEnd()
	}
	s.slot++

	if s.recorder != nil {
		for _, id := range s.order {
			s.recordDeltas(id, before[id], s.nodes[id].MAC.Stats)
		}
	}
	return nil
}

// recordDeltas emits one trace Event per counter that advanced this
// slot, so a replay shows exactly when each collision or link change
// happened rather than only a final tally.
func (s *Simulation) recordDeltas(id packet.MacId, before, after mac.Stats) {
	emit := func(kind trace.Kind, delta int) {
		for i := 0; i < delta; i++ {
			s.recorder.RecordEvent(trace.Event{Slot: s.slot, NodeID: int32(id), Kind: kind})
		}
	}
	emit(trace.KindCollision, after.Collisions-before.Collisions)
	emit(trace.KindDMEDropped, after.DMEDropped-before.DMEDropped)
	emit(trace.KindChannelError, after.ChannelErrorsDropped-before.ChannelErrorsDropped)
	emit(trace.KindDutyThrottled, after.DutyCycleThrottled-before.DutyCycleThrottled)
	emit(trace.KindLinkEstablished, after.LinksEstablished-before.LinksEstablished)
	emit(trace.KindLinkTornDown, after.LinksTornDown-before.LinksTornDown)
}

// Run advances the simulation one slot per tick until ctx is canceled,
// mirroring upperbot.TrafficGenerator.Run's ticker-driven loop shape.
func (s *Simulation) Run(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := s.RunSlot(); err != nil {
			return err
		}
	}
}

// Snapshot returns one node's counters in statstore's persisted shape.
func (s *Simulation) Snapshot(id packet.MacId) statstore.Snapshot {
	s.mu.Lock()
	n := s.nodes[id]
	s.mu.Unlock()

	st := n.MAC.Stats
	return statstore.Snapshot{
		NodeID:                 int32(id),
		Collisions:             int64(st.Collisions),
		DMEDropped:             int64(st.DMEDropped),
		ChannelErrorsDropped:   int64(st.ChannelErrorsDropped),
		DutyCycleThrottled:     int64(st.DutyCycleThrottled),
		ExceededMaxAttempts:    int64(n.MAC.ExceededMaxAttempts()),
		ThirdPartyRequestsRcvd: int64(st.ThirdPartyRequestsRcvd),
		ThirdPartyRepliesRcvd:  int64(st.ThirdPartyRepliesRcvd),
		LinksEstablished:       int64(st.LinksEstablished),
		LinksTornDown:          int64(st.LinksTornDown),
	}
}

// PersistSnapshots writes every node's current counters to the stat
// store under this simulation's run ID.
func (s *Simulation) PersistSnapshots(ctx context.Context) error {
	if s.stats == nil {
		return nil
	}
	for _, id := range s.Nodes() {
		if err := s.stats.RecordSnapshot(ctx, s.runID, s.Snapshot(id)); err != nil {
			return err
		}
	}
	return nil
}

// RunID returns the run ID this simulation was built with, whether or
// not a stat store is attached.
func (s *Simulation) RunID() string { return s.runID }
