// Package metrics provides a small Prometheus-compatible collector for the
// chat proxy. It renders the text exposition format directly instead of
// pulling in prometheus/client_golang.
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

// Default is the process-wide registry used by the server and forwarder.
var Default = NewRegistry()

// Registry holds counters, gauges and histograms keyed by name and labels.
type Registry struct {
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{startTime: time.Now()}
}

// Uptime returns how long the registry has existed.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

type series struct {
	name   string
	help   string
	labels string
}

func (s series) key() string { return s.name + "{" + s.labels + "}" }

// Counter is a monotonically increasing value.
type Counter struct {
	series
	value atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	series
	value atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks a distribution over fixed upper bounds.
type Histogram struct {
	series
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter returns the counter for name and labels, creating it on first use.
func (r *Registry) Counter(name, help, labels string) *Counter {
	c := &Counter{series: series{name: name, help: help, labels: labels}}
	actual, _ := r.counters.LoadOrStore(c.key(), c)
	return actual.(*Counter)
}

// Gauge returns the gauge for name and labels, creating it on first use.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	g := &Gauge{series: series{name: name, help: help, labels: labels}}
	actual, _ := r.gauges.LoadOrStore(g.key(), g)
	return actual.(*Gauge)
}

// Histogram returns the histogram for name and labels, creating it on first use.
// Bounds are only read on creation.
func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	key := series{name: name, labels: labels}.key()
	if v, ok := r.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	// The +Inf bucket is always rendered from the total count.
	sorted := make([]float64, 0, len(bounds))
	for _, b := range bounds {
		if !math.IsInf(b, 1) && !math.IsNaN(b) {
			sorted = append(sorted, b)
		}
	}
	sort.Float64s(sorted)
	h := &Histogram{
		series:  series{name: name, help: help, labels: labels},
		bounds:  sorted,
		buckets: make([]int64, len(sorted)),
	}
	actual, _ := r.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// Handler renders every series in Prometheus text format, sorted by name.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, r.Render())
	}
}

// Render returns the exposition text.
func (r *Registry) Render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP brightchat_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE brightchat_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "brightchat_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	var counters []*Counter
	r.counters.Range(func(_, v any) bool {
		counters = append(counters, v.(*Counter))
		return true
	})
	sort.Slice(counters, func(i, j int) bool { return counters[i].key() < counters[j].key() })
	written := make(map[string]bool)
	for _, c := range counters {
		writeHeader(&sb, written, c.series, "counter")
		fmt.Fprintf(&sb, "%s %d\n", sampleName(c.name, c.labels), c.Value())
	}

	var gauges []*Gauge
	r.gauges.Range(func(_, v any) bool {
		gauges = append(gauges, v.(*Gauge))
		return true
	})
	sort.Slice(gauges, func(i, j int) bool { return gauges[i].key() < gauges[j].key() })
	for _, g := range gauges {
		writeHeader(&sb, written, g.series, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", sampleName(g.name, g.labels), g.Value())
	}

	var hists []*Histogram
	r.histograms.Range(func(_, v any) bool {
		hists = append(hists, v.(*Histogram))
		return true
	})
	sort.Slice(hists, func(i, j int) bool { return hists[i].key() < hists[j].key() })
	for _, h := range hists {
		writeHeader(&sb, written, h.series, "histogram")
		h.mu.Lock()
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			fmt.Fprintf(&sb, "%s %d\n", sampleName(h.name+"_bucket", joinLabels(h.labels, `le="`+bound+`"`)), h.buckets[i])
		}
		fmt.Fprintf(&sb, "%s %d\n", sampleName(h.name+"_bucket", joinLabels(h.labels, `le="+Inf"`)), h.count)
		fmt.Fprintf(&sb, "%s %d\n", sampleName(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %f\n", sampleName(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}

	return sb.String()
}

func writeHeader(sb *strings.Builder, written map[string]bool, s series, kind string) {
	if written[s.name] {
		return
	}
	written[s.name] = true
	fmt.Fprintf(sb, "# HELP %s %s\n", s.name, s.help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", s.name, kind)
}

func sampleName(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func joinLabels(a, b string) string {
	if a == "" {
		return b
	}
	return a + "," + b
}

// Outcome labels for ChatRequests.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid"
	OutcomeMethod   = "method_not_allowed"
	OutcomeUpstream = "upstream_error"
)

// ChatRequests returns the per-outcome counter for POST /api/chat.
func ChatRequests(outcome string) *Counter {
	return Default.Counter("brightchat_chat_requests_total", "Chat requests handled, by outcome", `outcome="`+outcome+`"`)
}

var (
	InflightRequests = Default.Gauge("brightchat_inflight_requests", "Chat requests currently being forwarded", "")
	WebhookErrors    = Default.Counter("brightchat_webhook_errors_total", "Webhook calls that failed or returned non-2xx", "")
	WebhookLatency   = Default.Histogram("brightchat_webhook_latency_seconds", "Webhook round-trip latency in seconds", "",
		[]float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30})
)
