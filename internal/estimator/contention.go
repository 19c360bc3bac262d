package estimator

import "mcsotdma/internal/packet"

// DefaultWindow is the default number of slots the contention/congestion
// windows cover.
const DefaultWindow = 5000

// ContentionEstimator tracks, per neighbor, a moving average of whether
// that neighbor transmitted on the shared channel in each recent slot.
// It feeds both binomial_estimate (via AverageBroadcastRate /
// ActiveNeighbors) and poisson_binomial_estimate (via AccessProbability,
// one probability per neighbor) slot-selection methods.
type ContentionEstimator struct {
	window    int
	neighbors map[packet.MacId]*MovingAverage
}

// NewContentionEstimator allocates an estimator with the given window
// size in slots.
func NewContentionEstimator(window int) *ContentionEstimator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &ContentionEstimator{window: window, neighbors: make(map[packet.MacId]*MovingAverage)}
}

// RecordSlot registers, for every currently-tracked neighbor, whether it
// transmitted this slot (active having its id present in the active set).
// Any id in active that is not yet tracked is registered. Call exactly
// once per slot with the set of origins observed transmitting on SH.
func (c *ContentionEstimator) RecordSlot(active map[packet.MacId]struct{}) {
	for id := range active {
		c.neighborAvg(id).Push(1)
	}
	for id, avg := range c.neighbors {
		if _, ok := active[id]; !ok {
			avg.Push(0)
		}
	}
}

func (c *ContentionEstimator) neighborAvg(id packet.MacId) *MovingAverage {
	avg, ok := c.neighbors[id]
	if !ok {
		avg = NewMovingAverage(c.window)
		c.neighbors[id] = avg
	}
	return avg
}

// AccessProbability returns neighbor id's measured per-slot channel-access
// probability, or 0 if it has never been observed.
func (c *ContentionEstimator) AccessProbability(id packet.MacId) float64 {
	avg, ok := c.neighbors[id]
	if !ok {
		return 0
	}
	return avg.Mean()
}

// ActiveNeighbors returns the ids of every neighbor observed transmitting
// at least once within the window.
func (c *ContentionEstimator) ActiveNeighbors() []packet.MacId {
	var out []packet.MacId
	for id, avg := range c.neighbors {
		if avg.Mean() > 0 {
			out = append(out, id)
		}
	}
	return out
}

// AverageBroadcastRate returns r, the mean per-neighbor broadcast rate
// across every tracked, currently-active neighbor — the "r" used by
// binomial_estimate.
func (c *ContentionEstimator) AverageBroadcastRate() float64 {
	active := c.ActiveNeighbors()
	if len(active) == 0 {
		return 0
	}
	sum := 0.0
	for _, id := range active {
		sum += c.AccessProbability(id)
	}
	return sum / float64(len(active))
}

// NumActiveNeighbors reports n, the estimated count of actively
// broadcasting neighbors, used by every candidate-count method.
func (c *ContentionEstimator) NumActiveNeighbors() int {
	return len(c.ActiveNeighbors())
}
