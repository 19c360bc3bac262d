package linkmgr

import "math"

// computeCandidateCount (sh.go) estimates k, the number of Idle SH slots to uniformly
// choose among, so that the measured collision probability stays near
// the configured target given an estimate of how many neighbors are
// actively broadcasting. The three probabilistic methods share the same
// building block: "how many repeats of a n'-way race does it take to
// drive collision probability below target", which ceilInvCollision
// computes; they differ in how they average over the unknown number of
// competing neighbors.
func ceilInvCollision(pColl float64, nPrime int) int {
	if nPrime <= 0 {
		return 1
	}
	remaining := 1 - math.Pow(1-pColl, 1/float64(nPrime))
	if remaining <= 0 {
		return math.MaxInt32
	}
	return int(math.Ceil(1 / remaining))
}

func binomCoeff(n, k int) float64 {
	if k < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	result := 1.0
	for i := 0; i < k; i++ {
		result *= float64(n-i) / float64(i+1)
	}
	return result
}

// binomialEstimate implements binomial_estimate: a single measured
// average per-neighbor broadcast rate r stands in for every neighbor,
// and the expected candidate count is the binomial-weighted average
// over how many of the n neighbors actually contend this round.
func binomialEstimate(pColl float64, n int, r float64) int {
	if n <= 0 {
		return 1
	}
	sum := 0.0
	for nPrime := 0; nPrime <= n; nPrime++ {
		weight := binomCoeff(n, nPrime) * math.Pow(r, float64(nPrime)) * math.Pow(1-r, float64(n-nPrime))
		k := 1
		if nPrime > 0 {
			k = ceilInvCollision(pColl, nPrime)
		}
		sum += weight * float64(k)
	}
	return int(math.Ceil(sum))
}

// poissonBinomialEstimate implements poisson_binomial_estimate: each
// neighbor keeps its own measured access probability, so the number
// contending this round follows a Poisson-binomial distribution instead
// of assuming they are all identically likely. pmf is built by the
// standard O(n^2) convolution: start with "0 neighbors active" certain,
// then fold each neighbor's probability in one at a time.
func poissonBinomialEstimate(pColl float64, probs []float64) int {
	n := len(probs)
	if n == 0 {
		return 1
	}
	pmf := make([]float64, n+1)
	pmf[0] = 1
	for _, p := range probs {
		for j := n; j >= 1; j-- {
			pmf[j] = pmf[j]*(1-p) + pmf[j-1]*p
		}
		pmf[0] *= 1 - p
	}
	sum := 0.0
	for nPrime, weight := range pmf {
		if weight == 0 {
			continue
		}
		k := 1
		if nPrime > 0 {
			k = ceilInvCollision(pColl, nPrime)
		}
		sum += weight * float64(k)
	}
	return int(math.Ceil(sum))
}

// allActiveAgainEstimate implements all_active_again_assumption: assume
// every one of the n observed neighbors will contend again this round.
func allActiveAgainEstimate(pColl float64, n int) int {
	return ceilInvCollision(pColl, n)
}

const naiveRandomAccessK = 100

// clampCandidates bounds a raw candidate estimate to the configured
// [min, max] range, the same clamped-ladder-stepping idiom a bitrate
// adapter uses to keep a computed value inside sane hardware bounds
// before acting on it.
func clampCandidates(k, min, max int) int {
	if k < min {
		return min
	}
	if k > max {
		return max
	}
	return k
}
