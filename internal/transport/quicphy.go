// Package transport adapts the MAC core's PHY interface onto a real
// socket: one quic-go connection per peer, carrying unreliable datagrams
// so a dropped slot behaves exactly like a dropped RF frame instead of
// retrying at the transport layer. Grounded on client.go's circuit-broken
// SendDatagram loop, generalized from one best-effort voice channel to the
// node's full set of SH/PP frequencies multiplexed over one connection.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/gob"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"mcsotdma/internal/mac"
	"mcsotdma/internal/packet"
)

const alpn = "mcsotdma/1"

// Circuit breaker tuning for per-peer datagram fan-out. After
// circuitBreakerThreshold consecutive send failures, a peer is skipped in
// Transmit; every circuitBreakerProbeInterval skips, one datagram is let
// through to probe for recovery.
const (
	circuitBreakerThreshold     uint32 = 20
	circuitBreakerProbeInterval uint32 = 10
)

// sendHealth tracks one peer connection's consecutive datagram-send
// failures so a dead peer stops wasting effort on every future Transmit.
type sendHealth struct {
	failures atomic.Uint32
	skips    atomic.Uint32
}

func (h *sendHealth) shouldSkip() bool {
	if h.failures.Load() < circuitBreakerThreshold {
		return false
	}
	s := h.skips.Add(1)
	return s%circuitBreakerProbeInterval != 0
}

func (h *sendHealth) recordFailure() { h.failures.Add(1) }

func (h *sendHealth) recordSuccess() { h.failures.Store(0); h.skips.Store(0) }

func init() {
	gob.Register(packet.BaseHeader{})
	gob.Register(packet.BroadcastHeader{})
	gob.Register(packet.BeaconHeader{})
	gob.Register(packet.UnicastHeader{})
	gob.Register(packet.LinkRequestHeader{})
	gob.Register(packet.LinkReplyHeader{})
	gob.Register(packet.LinkInfoHeader{})
}

// envelope is the wire format for one transmitted packet: the frequency it
// was sent on plus the packet itself. gob, not a length-prefixed binary
// struct, because the entry list's Header field is a sum-typed interface —
// gob's type registry handles that without a hand-rolled discriminator.
type envelope struct {
	Channel packet.FrequencyChannel
	Packet  packet.Packet
}

type peerConn struct {
	conn   quic.Connection
	health sendHealth
}

// QUICPHY implements mac.PHY over a mesh of QUIC connections, one per
// peer. It never blocks Transmit/Poll on the network: sends are
// best-effort (a failed/slow peer just drops that slot's packet, same as
// a real RF collision would), and Poll only drains what already arrived.
type QUICPHY struct {
	mu    sync.Mutex
	conns map[string]*peerConn // peer address -> outbound connection
	ln    *quic.Listener

	datarateBitsPerSlot int
	received            chan mac.Reception
	logger              *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewQUICPHY starts a listener on listenAddr (self-signed TLS, generated
// fresh per node) and returns a PHY ready to dial peers via Connect.
func NewQUICPHY(listenAddr string, datarateBitsPerSlot int, logger *slog.Logger) (*QUICPHY, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tlsConf, _, err := GenerateTransportTLSConfig(365*24*time.Hour, "")
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	ln, err := quic.ListenAddr(listenAddr, tlsConf, &quic.Config{EnableDatagrams: true})
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", listenAddr, err)
	}
	p := &QUICPHY{
		conns:               make(map[string]*peerConn),
		ln:                  ln,
		datarateBitsPerSlot: datarateBitsPerSlot,
		received:            make(chan mac.Reception, 256),
		logger:              logger,
		done:                make(chan struct{}),
	}
	go p.acceptLoop()
	return p, nil
}

// Addr returns the address the PHY's listener is bound to.
func (p *QUICPHY) Addr() string { return p.ln.Addr().String() }

// Connect dials peerAddr and keeps the resulting connection for future
// Transmit calls. Safe to call more than once for the same address.
func (p *QUICPHY) Connect(ctx context.Context, peerAddr string) error {
	p.mu.Lock()
	if _, ok := p.conns[peerAddr]; ok {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	conn, err := quic.DialAddr(ctx, peerAddr, InsecureClientTLSConfig(), &quic.Config{EnableDatagrams: true})
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", peerAddr, err)
	}
	p.mu.Lock()
	p.conns[peerAddr] = &peerConn{conn: conn}
	p.mu.Unlock()
	go p.receiveLoop(conn)
	return nil
}

func (p *QUICPHY) acceptLoop() {
	for {
		conn, err := p.ln.Accept(context.Background())
		if err != nil {
			select {
			case <-p.done:
			default:
				p.logger.Warn("quic accept failed", "err", err)
			}
			return
		}
		addr := conn.RemoteAddr().String()
		p.mu.Lock()
		p.conns[addr] = &peerConn{conn: conn}
		p.mu.Unlock()
		go p.receiveLoop(conn)
	}
}

func (p *QUICPHY) receiveLoop(conn quic.Connection) {
	for {
		data, err := conn.ReceiveDatagram(context.Background())
		if err != nil {
			return
		}
		var env envelope
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
			p.logger.Warn("quic datagram decode failed", "err", err)
			continue
		}
		select {
		case p.received <- mac.Reception{Packet: &env.Packet, Channel: env.Channel}:
		default:
			p.logger.Warn("phy receive buffer full, dropping datagram")
		}
	}
}

// CurrentDatarate implements mac.PHY.
func (p *QUICPHY) CurrentDatarate() int { return p.datarateBitsPerSlot }

// TuneReceiver implements mac.PHY. A real multi-frequency radio front end
// would reconfigure hardware here; this transport multiplexes every
// channel over the same socket, so tuning is a no-op beyond existing.
func (p *QUICPHY) TuneReceiver(packet.FrequencyChannel) error { return nil }

// Transmit implements mac.PHY: best-effort, fire-and-forget to every
// connected peer. A real RF broadcast reaches everyone listening on the
// frequency; this mesh approximates that by flooding every known peer and
// letting each receiver's MAC core decide relevance by destination.
func (p *QUICPHY) Transmit(pkt *packet.Packet, ch packet.FrequencyChannel) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Channel: ch, Packet: *pkt}); err != nil {
		p.logger.Warn("quic datagram encode failed", "err", err)
		return
	}
	p.mu.Lock()
	peers := make([]*peerConn, 0, len(p.conns))
	for _, pc := range p.conns {
		peers = append(peers, pc)
	}
	p.mu.Unlock()
	for _, pc := range peers {
		if pc.health.shouldSkip() {
			continue
		}
		if err := pc.conn.SendDatagram(buf.Bytes()); err != nil {
			pc.health.recordFailure()
			continue
		}
		pc.health.recordSuccess()
	}
}

// Update implements mac.PHY; this transport has no internal clock of its
// own to advance (datagrams arrive asynchronously into the receive
// buffer regardless of slot timing).
func (p *QUICPHY) Update(int) {}

// Poll implements mac.PHY: drains whatever datagrams have arrived since
// the last call, non-blocking.
func (p *QUICPHY) Poll() []mac.Reception {
	var out []mac.Reception
	for {
		select {
		case rec := <-p.received:
			out = append(out, rec)
		default:
			return out
		}
	}
}

// Close shuts down the listener and every outbound connection.
func (p *QUICPHY) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pc := range p.conns {
		_ = pc.conn.CloseWithError(0, "closed")
	}
	return p.ln.Close()
}
