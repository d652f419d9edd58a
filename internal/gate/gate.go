// Package gate bounds the number of in-flight rule evaluations. When the
// permit pool is exhausted, callers shed load instead of queueing.
package gate

import (
	"sync/atomic"

	"github.com/nkulkarni/authgate/internal/metrics"
)

// Gate is a fixed-capacity permit pool. Acquisition is non-blocking: either
// a permit is available now or the request is shed.
type Gate struct {
	sem       chan struct{}
	max       int
	enabled   bool
	shed      atomic.Int64
	processed atomic.Int64
}

// New creates a gate with maxConcurrent permits. A disabled gate admits
// everything and never touches the pool.
func New(maxConcurrent int, enabled bool) *Gate {
	if maxConcurrent < 0 {
		maxConcurrent = 0
	}
	return &Gate{
		sem:     make(chan struct{}, maxConcurrent),
		max:     maxConcurrent,
		enabled: enabled,
	}
}

// TryAcquire attempts to take a permit without blocking. The first return
// value reports whether the caller may proceed; the second whether a permit
// was actually taken and must be released. A disabled gate admits without
// taking a permit.
func (g *Gate) TryAcquire() (admitted, acquired bool) {
	if !g.enabled {
		return true, false
	}
	select {
	case g.sem <- struct{}{}:
		g.processed.Add(1)
		metrics.GateProcessed.Inc()
		metrics.GatePermitsAvailable.Set(float64(g.Available()))
		return true, true
	default:
		g.shed.Add(1)
		metrics.GateShed.Inc()
		return false, false
	}
}

// Release returns a permit. Callers must call it exactly once per successful
// acquisition, on every exit path.
func (g *Gate) Release() {
	if !g.enabled {
		return
	}
	select {
	case <-g.sem:
		metrics.GatePermitsAvailable.Set(float64(g.Available()))
	default:
		// Release without acquire is a programming error; absorbing it keeps
		// the pool from deadlocking.
	}
}

// Available returns how many permits are free right now.
func (g *Gate) Available() int {
	if !g.enabled {
		return g.max
	}
	return g.max - len(g.sem)
}

// Utilization returns in-use permits / capacity (0–1).
func (g *Gate) Utilization() float64 {
	if !g.enabled || g.max == 0 {
		return 0
	}
	return float64(len(g.sem)) / float64(g.max)
}

// ShedCount returns how many requests were rejected at the gate.
func (g *Gate) ShedCount() int64 { return g.shed.Load() }

// ProcessedCount returns how many requests were admitted.
func (g *Gate) ProcessedCount() int64 { return g.processed.Load() }

// Enabled reports whether the gate is active.
func (g *Gate) Enabled() bool { return g.enabled }
