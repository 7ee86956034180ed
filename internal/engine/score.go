package engine

import "time"

// pruneExpired drops contributions whose correlation window has elapsed.
// Contributions are appended in arrival order and all share the same window
// length, so expiry order matches slice order and the scan can stop at the
// first live entry.
func pruneExpired(ps *poolState, now time.Time) {
	keep := 0
	for keep < len(ps.contributions) && !ps.contributions[keep].expiresAt.After(now) {
		keep++
	}
	if keep == 0 {
		return
	}
	n := copy(ps.contributions, ps.contributions[keep:])
	for i := n; i < len(ps.contributions); i++ {
		ps.contributions[i] = contribution{}
	}
	ps.contributions = ps.contributions[:n]
}

// rawScore is the weighted sum of active contributions, clamped to [0, 100].
// Each contribution adds weight * magnitude; the clamp bounds the composite
// so a single saturated burst cannot push the EMA out of range.
func rawScore(contributions []contribution) float64 {
	var sum float64
	for _, c := range contributions {
		sum += c.weight * c.magnitude
	}
	return clamp(sum, 0, 100)
}
