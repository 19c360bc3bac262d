package transport

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"mcsotdma/internal/mac"
	"mcsotdma/internal/packet"
)

func newTestPHY(t *testing.T) *QUICPHY {
	t.Helper()
	p, err := NewQUICPHY("127.0.0.1:0", 1200, slog.Default())
	if err != nil {
		t.Fatalf("NewQUICPHY: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func pollUntil(t *testing.T, p *QUICPHY, want int) []mac.Reception {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if recs := p.Poll(); len(recs) >= want {
			return recs
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d reception(s)", want)
	return nil
}

func TestQUICPHYCurrentDatarate(t *testing.T) {
	p := newTestPHY(t)
	if p.CurrentDatarate() != 1200 {
		t.Errorf("CurrentDatarate() = %d, want 1200", p.CurrentDatarate())
	}
}

func TestQUICPHYTransmitDeliversAcrossConnection(t *testing.T) {
	a := newTestPHY(t)
	b := newTestPHY(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Connect(ctx, b.Addr()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ch := packet.NewSHChannel(1000, 25)
	pkt := packet.New(packet.BaseHeader{Source: 1})
	pkt.Append(packet.BroadcastHeader{}, 16)

	a.Transmit(pkt, ch)

	recs := pollUntil(t, b, 1)
	if !recs[0].Channel.Equal(ch) {
		t.Errorf("Channel = %+v, want %+v", recs[0].Channel, ch)
	}
	if recs[0].Packet.Base().Source != 1 {
		t.Errorf("Source = %d, want 1", recs[0].Packet.Base().Source)
	}
	if len(recs[0].Packet.Entries) != 2 {
		t.Errorf("expected 2 entries round-tripped, got %d", len(recs[0].Packet.Entries))
	}
}

func TestQUICPHYPollDrainsOnlyOnce(t *testing.T) {
	a := newTestPHY(t)
	b := newTestPHY(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Connect(ctx, b.Addr()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ch := packet.NewPPChannel(2000, 25)
	pkt := packet.New(packet.BaseHeader{Source: 1})
	a.Transmit(pkt, ch)

	pollUntil(t, b, 1)
	if recs := b.Poll(); len(recs) != 0 {
		t.Errorf("expected Poll to drain exactly once, got %d leftover receptions", len(recs))
	}
}

func TestQUICPHYTuneReceiverIsNoOp(t *testing.T) {
	p := newTestPHY(t)
	if err := p.TuneReceiver(packet.NewSHChannel(1000, 25)); err != nil {
		t.Errorf("TuneReceiver returned error: %v", err)
	}
}
