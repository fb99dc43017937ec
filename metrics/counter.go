// Package metrics implements the Runtime's low-contention metrics
// substrate: lock-free Counters, atomic Gauges, bounded-bucket
// Histograms with rank-interpolated percentiles, and a Registry
// sharding storage by metric name for write scalability.
//
// This package deliberately does NOT implement streaming quantile
// estimation (the teacher's P-Square estimator in eventloop/psquare.go)
// — per the redesign guidance carried into this Runtime, histogram
// percentile computation here is a bounded-bucket design with rank
// interpolation and an explicit overflow bucket, not a streaming
// approximation. See histogram.go.
package metrics

import "sync/atomic"

// Counter is a monotonically increasing, lock-free 64-bit counter.
type Counter struct {
	v atomic.Uint64
}

// Inc adds n to the counter. Panics are not possible; overflow wraps
// per standard unsigned arithmetic, matching the teacher's own
// atomic-counter usage throughout eventloop (e.g. its tick/scavenge
// counters).
func (c *Counter) Inc(n uint64) {
	c.v.Add(n)
}

// Get returns the counter's current value. May lag concurrent Inc
// calls but is always a value the counter held at some point.
func (c *Counter) Get() uint64 {
	return c.v.Load()
}
