// Package upperbot implements a virtual upper layer: a traffic generator
// that enqueues synthetic data for the MAC core to schedule, and an
// inbound sink that counts what the MAC core delivers back up. Grounded
// on testbot.go's RunTestBot (a periodic ticker feeding a virtual client
// into the room) generalized from one fixed-rate tone to arbitrary
// per-destination traffic, and on original_source/QueueManager.cpp/hpp's
// per-link FIFO (one queue keyed by destination, created lazily on first
// push, drained front-to-back on dequeue).
package upperbot

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"mcsotdma/internal/linkmgr"
	"mcsotdma/internal/packet"
)

// Target names one destination the generator periodically feeds: a real
// peer, or the zero LinkID for the shared channel's broadcast queue.
type Target struct {
	Peer       packet.MacId // ignored when Broadcast is true
	Broadcast  bool
	FrameBits  int // nominal bits enqueued per tick
	JitterBits int // +/- uniform jitter applied to FrameBits each tick
}

// TrafficGenerator implements mac.Upper: a per-link FIFO of pending
// payload sizes, filled by a background ticker and drained by the MAC
// core's per-slot RequestSegment calls.
type TrafficGenerator struct {
	mu     sync.Mutex
	selfID packet.MacId
	maxRtx int
	rng    *rand.Rand
	logger *slog.Logger

	queues   map[linkmgr.LinkID]*[]int // pending segment sizes, FIFO by append/shift
	received []*packet.Packet
	newLinks []packet.MacId
}

// New builds a generator for selfID. seed makes the synthetic traffic's
// jitter reproducible across runs; maxRtxAttempts is returned verbatim by
// GetMaxNumRtxAttempts.
func New(selfID packet.MacId, maxRtxAttempts int, seed uint64, logger *slog.Logger) *TrafficGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrafficGenerator{
		selfID: selfID,
		maxRtx: maxRtxAttempts,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		logger: logger,
		queues: make(map[linkmgr.LinkID]*[]int),
	}
}

func linkFor(t Target, selfID packet.MacId) linkmgr.LinkID {
	if t.Broadcast {
		return linkmgr.LinkID{}
	}
	return linkmgr.LinkID{Initiator: selfID, Recipient: t.Peer}
}

// Run feeds targets on a fixed tick, like one virtual client's periodic
// datagram cadence, until ctx is canceled.
func (g *TrafficGenerator) Run(ctx context.Context, interval time.Duration, targets []Target) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, t := range targets {
			bits := t.FrameBits
			if t.JitterBits > 0 {
				bits += g.rng.IntN(2*t.JitterBits+1) - t.JitterBits
			}
			if bits <= 0 {
				continue
			}
			g.Enqueue(t, bits)
		}
	}
}

// Enqueue pushes one segment of bits onto target's queue, creating the
// queue on first use — the Go analogue of QueueManager::push inserting a
// fresh std::queue on a cache miss.
func (g *TrafficGenerator) Enqueue(t Target, bits int) {
	link := linkFor(t, g.selfID)
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.queues[link]
	if !ok {
		q = &[]int{}
		g.queues[link] = q
	}
	*q = append(*q, bits)
}

// IsThereMoreData implements mac.Upper.
func (g *TrafficGenerator) IsThereMoreData(link linkmgr.LinkID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.queues[link]
	return ok && len(*q) > 0
}

// RequestSegment implements mac.Upper: pops the front-of-queue segment,
// clamped to maxBits. A segment larger than maxBits is split: the
// remainder is pushed back to the front of the queue for the next call,
// matching QueueManager's front-to-back drain order.
func (g *TrafficGenerator) RequestSegment(maxBits int, link linkmgr.LinkID) *packet.Packet {
	if maxBits <= 0 {
		return nil
	}
	g.mu.Lock()
	q, ok := g.queues[link]
	if !ok || len(*q) == 0 {
		g.mu.Unlock()
		return nil
	}
	head := (*q)[0]
	take := head
	if take > maxBits {
		take = maxBits
	}
	remainder := head - take
	if remainder > 0 {
		(*q)[0] = remainder
	} else {
		*q = (*q)[1:]
	}
	g.mu.Unlock()

	base := packet.New(packet.BaseHeader{Source: g.selfID})
	if link == (linkmgr.LinkID{}) {
		base.Append(packet.BroadcastHeader{}, take)
	} else {
		// The MAC core always calls RequestSegment with Initiator set to
		// this node's own ID, so Recipient is always the peer.
		base.Append(packet.UnicastHeader{Dest: link.Recipient}, take)
	}
	return base
}

// ReceiveFromLower implements mac.Upper.
func (g *TrafficGenerator) ReceiveFromLower(pkt *packet.Packet) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.received = append(g.received, pkt)
}

// NotifyAboutNewLink implements mac.Upper.
func (g *TrafficGenerator) NotifyAboutNewLink(peer packet.MacId) {
	g.mu.Lock()
	g.newLinks = append(g.newLinks, peer)
	g.mu.Unlock()
	g.logger.Debug("upperbot notified of new link", "peer", peer)
}

// GetMaxNumRtxAttempts implements mac.Upper.
func (g *TrafficGenerator) GetMaxNumRtxAttempts() int { return g.maxRtx }

// Received returns every packet delivered upward so far, for test
// inspection.
func (g *TrafficGenerator) Received() []*packet.Packet {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*packet.Packet, len(g.received))
	copy(out, g.received)
	return out
}

// NewLinkPeers returns every peer NotifyAboutNewLink has fired for so
// far, in order.
func (g *TrafficGenerator) NewLinkPeers() []packet.MacId {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]packet.MacId, len(g.newLinks))
	copy(out, g.newLinks)
	return out
}
