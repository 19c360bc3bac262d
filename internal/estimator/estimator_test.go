package estimator

import (
	"math"
	"testing"

	"mcsotdma/internal/packet"
)

func TestMovingAverageRingReplacement(t *testing.T) {
	m := NewMovingAverage(3)
	m.Push(1)
	m.Push(1)
	m.Push(1)
	if got := m.Mean(); got != 1 {
		t.Fatalf("Mean() = %v, want 1", got)
	}
	// Window is full: pushing 0 three times should evict the 1s entirely.
	m.Push(0)
	m.Push(0)
	m.Push(0)
	if got := m.Mean(); got != 0 {
		t.Fatalf("Mean() after full eviction = %v, want 0", got)
	}
}

func TestMovingAverageEmpty(t *testing.T) {
	m := NewMovingAverage(5)
	if got := m.Mean(); got != 0 {
		t.Fatalf("Mean() of empty window = %v, want 0", got)
	}
}

func TestContentionEstimatorTracksPerNeighborRate(t *testing.T) {
	c := NewContentionEstimator(4)
	const a, b packet.MacId = 1, 2

	// a transmits every slot, b transmits every other slot.
	for i := 0; i < 4; i++ {
		active := map[packet.MacId]struct{}{a: {}}
		if i%2 == 0 {
			active[b] = struct{}{}
		}
		c.RecordSlot(active)
	}

	if got := c.AccessProbability(a); got != 1 {
		t.Fatalf("AccessProbability(a) = %v, want 1", got)
	}
	if got := c.AccessProbability(b); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("AccessProbability(b) = %v, want 0.5", got)
	}
	if got := c.NumActiveNeighbors(); got != 2 {
		t.Fatalf("NumActiveNeighbors() = %d, want 2", got)
	}
}

func TestCongestionEstimatorLevel(t *testing.T) {
	c := NewCongestionEstimator(10)
	for i := 0; i < 10; i++ {
		c.RecordSlot(i < 3)
	}
	if got, want := c.Level(), 0.3; math.Abs(got-want) > 1e-9 {
		t.Fatalf("Level() = %v, want %v", got, want)
	}
}

func TestNeighborObserverAdvertiseAndAge(t *testing.T) {
	n := NewNeighborObserver()
	const id packet.MacId = 3
	n.Advertise(id, 5)

	if off, ok := n.ObservedNextSlot(id); !ok || off != 5 {
		t.Fatalf("ObservedNextSlot = %d,%v want 5,true", off, ok)
	}

	n.Age(3)
	if off, ok := n.ObservedNextSlot(id); !ok || off != 2 {
		t.Fatalf("after Age(3): ObservedNextSlot = %d,%v want 2,true", off, ok)
	}

	n.Age(10)
	if _, ok := n.ObservedNextSlot(id); ok {
		t.Fatal("expected advertisement to lapse after aging past its offset")
	}
}
