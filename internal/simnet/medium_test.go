package simnet

import (
	"testing"

	"mcsotdma/internal/packet"
)

func TestLoopbackPHYDeliversOnlyToTunedReceivers(t *testing.T) {
	medium := NewMedium()
	a := medium.Attach(1, 1000)
	b := medium.Attach(2, 1000)
	c := medium.Attach(3, 1000)

	ch := packet.NewSHChannel(978_000, 25)
	other := packet.NewPPChannel(1_090_000, 25)

	if err := b.TuneReceiver(ch); err != nil {
		t.Fatalf("tune b: %v", err)
	}
	if err := c.TuneReceiver(other); err != nil {
		t.Fatalf("tune c: %v", err)
	}

	pkt := &packet.Packet{}
	a.Transmit(pkt, ch)

	recv := b.Poll()
	if len(recv) != 1 {
		t.Fatalf("b received %d packets, want 1", len(recv))
	}

	if got := c.Poll(); len(got) != 0 {
		t.Fatalf("c received %d packets tuned to a different channel, want 0", len(got))
	}
}

func TestLoopbackPHYNeverHearsItsOwnTransmission(t *testing.T) {
	medium := NewMedium()
	a := medium.Attach(1, 1000)

	ch := packet.NewSHChannel(978_000, 25)
	if err := a.TuneReceiver(ch); err != nil {
		t.Fatalf("tune a: %v", err)
	}
	a.Transmit(&packet.Packet{}, ch)

	if got := a.Poll(); len(got) != 0 {
		t.Fatalf("a heard its own transmission: %d receptions, want 0", len(got))
	}
}

func TestLoopbackPHYUpdateClearsTuning(t *testing.T) {
	medium := NewMedium()
	a := medium.Attach(1, 1000)
	b := medium.Attach(2, 1000)

	ch := packet.NewSHChannel(978_000, 25)
	if err := b.TuneReceiver(ch); err != nil {
		t.Fatalf("tune b: %v", err)
	}

	b.Update(1)

	a.Transmit(&packet.Packet{}, ch)
	if got := b.Poll(); len(got) != 0 {
		t.Fatalf("b received %d packets after tuning was cleared by Update, want 0", len(got))
	}
}

func TestLoopbackPHYPollDrainsReceivedQueue(t *testing.T) {
	medium := NewMedium()
	a := medium.Attach(1, 1000)
	b := medium.Attach(2, 1000)

	ch := packet.NewSHChannel(978_000, 25)
	if err := b.TuneReceiver(ch); err != nil {
		t.Fatalf("tune b: %v", err)
	}
	a.Transmit(&packet.Packet{}, ch)

	if got := b.Poll(); len(got) != 1 {
		t.Fatalf("first poll: got %d, want 1", len(got))
	}
	if got := b.Poll(); len(got) != 0 {
		t.Fatalf("second poll: got %d, want 0 (already drained)", len(got))
	}
}
