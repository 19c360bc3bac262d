// Package simnet hosts an in-process simulation of several MAC nodes
// sharing one synthetic radio medium, plus the dashboard that streams
// and serves a run's state while it executes.
package simnet

import (
	"sync"

	"mcsotdma/internal/mac"
	"mcsotdma/internal/packet"
)

// Medium is the shared broadcast bus every simulated node's PHY attaches
// to. Grounded on room.go's mutex-guarded registry of live entities
// (there: connected clients; here: per-node receive queues), generalized
// from "broadcast to every other client" to "deliver only to whoever is
// tuned to the transmitting channel this slot", so the MAC core's own
// per-frequency collision detection in OnSlotEnd has something real to
// detect.
type Medium struct {
	mu    sync.Mutex
	nodes map[packet.MacId]*LoopbackPHY
}

// NewMedium returns an empty shared medium.
func NewMedium() *Medium {
	return &Medium{nodes: make(map[packet.MacId]*LoopbackPHY)}
}

// Attach builds and registers a LoopbackPHY for id, bound to this medium.
func (m *Medium) Attach(id packet.MacId, datarateBitsPerSlot int) *LoopbackPHY {
	phy := &LoopbackPHY{
		id:        id,
		medium:    m,
		datarate:  datarateBitsPerSlot,
		tunedThis: make(map[packet.FrequencyChannel]bool),
	}
	m.mu.Lock()
	m.nodes[id] = phy
	m.mu.Unlock()
	return phy
}

// LoopbackPHY implements mac.PHY over a shared in-process Medium instead
// of a real socket: transmissions are delivered synchronously to every
// other attached node tuned to the same channel this slot.
type LoopbackPHY struct {
	mu       sync.Mutex
	id       packet.MacId
	medium   *Medium
	datarate int

	tunedThis map[packet.FrequencyChannel]bool
	received  []mac.Reception
}

// CurrentDatarate implements mac.PHY.
func (p *LoopbackPHY) CurrentDatarate() int { return p.datarate }

// TuneReceiver implements mac.PHY: records that this node listens on ch
// for the remainder of the current slot.
func (p *LoopbackPHY) TuneReceiver(ch packet.FrequencyChannel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tunedThis[ch] = true
	return nil
}

// Transmit implements mac.PHY: delivers pkt to every other node tuned to
// ch this slot. A node never hears its own transmission.
func (p *LoopbackPHY) Transmit(pkt *packet.Packet, ch packet.FrequencyChannel) {
	p.medium.mu.Lock()
	peers := make([]*LoopbackPHY, 0, len(p.medium.nodes))
	for id, n := range p.medium.nodes {
		if id != p.id {
			peers = append(peers, n)
		}
	}
	p.medium.mu.Unlock()

	for _, n := range peers {
		n.mu.Lock()
		if n.tunedThis[ch] {
			n.received = append(n.received, mac.Reception{Packet: pkt, Channel: ch})
		}
		n.mu.Unlock()
	}
}

// Update implements mac.PHY: clears the per-slot tuning record, so the
// next slot's TuneReceiver calls start from a clean listening set.
func (p *LoopbackPHY) Update(int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tunedThis = make(map[packet.FrequencyChannel]bool)
}

// Poll implements mac.PHY: drains every reception delivered since the
// last Poll.
func (p *LoopbackPHY) Poll() []mac.Reception {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.received
	p.received = nil
	return out
}
