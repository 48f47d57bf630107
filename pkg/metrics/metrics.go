// Package metrics is a small dependency-free metrics registry that renders
// the Prometheus text exposition format. Counters, gauges, and histograms
// are registered by name; label sets are encoded into the name so every
// labeled series is its own entry.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets covers request latencies from 5ms to 60s.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Counter only goes up.
type Counter struct{ n atomic.Int64 }

func (c *Counter) Inc()         { c.n.Add(1) }
func (c *Counter) Add(d int64)  { c.n.Add(d) }
func (c *Counter) Value() int64 { return c.n.Load() }

// Gauge holds a value that can move in both directions. SetFloat/FloatValue
// store float64 bit patterns for non-integer gauges.
type Gauge struct{ n atomic.Int64 }

func (g *Gauge) Set(v int64)  { g.n.Store(v) }
func (g *Gauge) Inc()         { g.n.Add(1) }
func (g *Gauge) Dec()         { g.n.Add(-1) }
func (g *Gauge) Value() int64 { return g.n.Load() }

func (g *Gauge) SetFloat(v float64)  { g.n.Store(int64(math.Float64bits(v))) }
func (g *Gauge) FloatValue() float64 { return math.Float64frombits(uint64(g.n.Load())) }

// Histogram records observations into fixed, sorted buckets. Each bucket
// count is stored non-cumulatively; rendering accumulates per Prometheus
// convention.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64
	sum    float64
	total  uint64
}

func newHistogram(bounds []float64) *Histogram {
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{bounds: sorted, counts: make([]uint64, len(sorted))}
}

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.total++
	for i, b := range h.bounds {
		if v <= b {
			h.counts[i]++
			return
		}
	}
}

// Since observes the elapsed time since start, in seconds.
func (h *Histogram) Since(start time.Time) { h.Observe(time.Since(start).Seconds()) }

func (h *Histogram) snapshot() (bounds []float64, counts []uint64, sum float64, total uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bounds, append([]uint64(nil), h.counts...), h.sum, h.total
}

type kind uint8

const (
	kindCounter kind = iota
	kindGauge
	kindHistogram
)

func (k kind) String() string {
	switch k {
	case kindGauge:
		return "gauge"
	case kindHistogram:
		return "histogram"
	default:
		return "counter"
	}
}

// series is one named (possibly labeled) metric instance.
type series struct {
	name    string // full name including labels
	counter *Counter
	gauge   *Gauge
	hist    *Histogram
}

// family groups all series sharing a base name, in registration order.
type family struct {
	kind   kind
	help   string
	series []*series
}

// Registry holds metric families and renders them on demand.
type Registry struct {
	mu       sync.RWMutex
	families map[string]*family
	order    []string
	byName   map[string]*series
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		families: make(map[string]*family),
		byName:   make(map[string]*series),
	}
}

func (r *Registry) register(name, help string, k kind) *series {
	if s, ok := r.byName[name]; ok {
		return s
	}
	base := baseName(name)
	fam, ok := r.families[base]
	if !ok {
		fam = &family{kind: k, help: help}
		r.families[base] = fam
		r.order = append(r.order, base)
	}
	s := &series{name: name}
	fam.series = append(fam.series, s)
	r.byName[name] = s
	return s
}

// Counter returns the counter registered under name, creating it on first
// use. Encode labels with WithLabels so each combination is distinct.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.register(name, help, kindCounter)
	if s.counter == nil {
		s.counter = &Counter{}
	}
	return s.counter
}

// Gauge returns the gauge registered under name, creating it on first use.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.register(name, help, kindGauge)
	if s.gauge == nil {
		s.gauge = &Gauge{}
	}
	return s.gauge
}

// Histogram returns the histogram registered under name, creating it with
// the given buckets (DefaultBuckets when nil) on first use.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.register(name, help, kindHistogram)
	if s.hist == nil {
		s.hist = newHistogram(buckets)
	}
	return s.hist
}

// WithLabels encodes key/value pairs into a metric name:
// WithLabels("hits", "route", "/api") -> `hits{route="/api"}`.
// An odd number of pairs leaves the name unchanged.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i := 0; i < len(kvs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", kvs[i], kvs[i+1])
	}
	b.WriteByte('}')
	return b.String()
}

func baseName(name string) string {
	if i := strings.IndexByte(name, '{'); i >= 0 {
		return name[:i]
	}
	return name
}

// labelBody returns the inner label text of a full series name, or "".
func labelBody(name string) string {
	i := strings.IndexByte(name, '{')
	if i < 0 || !strings.HasSuffix(name, "}") {
		return ""
	}
	return name[i+1 : len(name)-1]
}

// Render produces the text exposition body for every registered family.
func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, base := range r.order {
		fam := r.families[base]
		if fam.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", base, fam.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", base, fam.kind)

		ordered := append([]*series(nil), fam.series...)
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].name < ordered[j].name })

		for _, s := range ordered {
			switch fam.kind {
			case kindCounter:
				fmt.Fprintf(&b, "%s %d\n", s.name, s.counter.Value())
			case kindGauge:
				fmt.Fprintf(&b, "%s %d\n", s.name, s.gauge.Value())
			case kindHistogram:
				renderHistogram(&b, base, labelBody(s.name), s.hist)
			}
		}
	}
	return b.String()
}

func renderHistogram(b *strings.Builder, base, labels string, h *Histogram) {
	bounds, counts, sum, total := h.snapshot()
	extra := ""
	if labels != "" {
		extra = "," + labels
	}
	var cum uint64
	for i, bound := range bounds {
		cum += counts[i]
		fmt.Fprintf(b, "%s_bucket{le=\"%g\"%s} %d\n", base, bound, extra, cum)
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"%s} %d\n", base, extra, total)
	suffix := ""
	if labels != "" {
		suffix = "{" + labels + "}"
	}
	fmt.Fprintf(b, "%s_sum%s %g\n", base, suffix, sum)
	fmt.Fprintf(b, "%s_count%s %d\n", base, suffix, total)
}

// Handler serves the rendered registry; mount it at /metrics.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}
