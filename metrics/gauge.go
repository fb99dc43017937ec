package metrics

import "sync/atomic"

// Gauge is a lock-free, arbitrarily-settable signed 64-bit value.
type Gauge struct {
	v atomic.Int64
}

// Set assigns the gauge's value.
func (g *Gauge) Set(v int64) {
	g.v.Store(v)
}

// Add increments the gauge by delta (may be negative).
func (g *Gauge) Add(delta int64) {
	g.v.Add(delta)
}

// Sub decrements the gauge by delta.
func (g *Gauge) Sub(delta int64) {
	g.v.Add(-delta)
}

// Get returns the gauge's current value.
func (g *Gauge) Get() int64 {
	return g.v.Load()
}
