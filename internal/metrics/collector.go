// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for the chat client. It renders text/plain in Prometheus
// exposition format without pulling in prometheus/client_golang.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// series is one labelled time series of a metric family.
type series interface {
	family() (name, help, kind string)
	write(sb *strings.Builder)
}

// MetricsCollector holds every registered series keyed by name and labels.
type MetricsCollector struct {
	mu        sync.Mutex
	series    map[string]series
	startTime time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{series: make(map[string]series), startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// register returns the series stored under name and labels, creating it
// with mk on first use.
func register[T series](c *MetricsCollector, name, labels string, mk func() T) T {
	key := name + "{" + labels + "}"
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.series[key]; ok {
		if s, ok := existing.(T); ok {
			return s
		}
		panic(fmt.Sprintf("metrics: %s registered with a different type", key))
	}
	s := mk()
	c.series[key] = s
	return s
}

type desc struct {
	name   string
	help   string
	labels string
}

// Counter is a monotonically increasing counter.
type Counter struct {
	desc
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

func (c *Counter) family() (string, string, string) { return c.name, c.help, "counter" }

func (c *Counter) write(sb *strings.Builder) {
	writeSample(sb, c.name, c.labels, strconv.FormatInt(c.Value(), 10))
}

// Gauge is a value that can go up and down.
type Gauge struct {
	desc
	value atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) family() (string, string, string) { return g.name, g.help, "gauge" }

func (g *Gauge) write(sb *strings.Builder) {
	writeSample(sb, g.name, g.labels, strconv.FormatInt(g.Value(), 10))
}

// Histogram tracks the distribution of observed values in cumulative buckets.
type Histogram struct {
	desc
	mu     sync.Mutex
	bounds []float64
	counts []int64 // counts[i] observations <= bounds[i]
	count  int64
	sum    float64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

func (h *Histogram) family() (string, string, string) { return h.name, h.help, "histogram" }

func (h *Histogram) write(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	withLE := func(le string) string {
		if h.labels == "" {
			return `le="` + le + `"`
		}
		return h.labels + `,le="` + le + `"`
	}
	for i, le := range h.bounds {
		writeSample(sb, h.name+"_bucket", withLE(strconv.FormatFloat(le, 'g', -1, 64)), strconv.FormatInt(h.counts[i], 10))
	}
	writeSample(sb, h.name+"_bucket", withLE("+Inf"), strconv.FormatInt(h.count, 10))
	writeSample(sb, h.name+"_sum", h.labels, strconv.FormatFloat(h.sum, 'f', -1, 64))
	writeSample(sb, h.name+"_count", h.labels, strconv.FormatInt(h.count, 10))
}

// Counter returns or creates the counter series name{labels}.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	return register(c, name, labels, func() *Counter {
		return &Counter{desc: desc{name, help, labels}}
	})
}

// Gauge returns or creates the gauge series name{labels}.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	return register(c, name, labels, func() *Gauge {
		return &Gauge{desc: desc{name, help, labels}}
	})
}

// Histogram returns or creates the histogram series name{labels}. Bucket
// bounds are sorted; +Inf is implicit.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	return register(c, name, labels, func() *Histogram {
		bounds := append([]float64(nil), buckets...)
		sort.Float64s(bounds)
		return &Histogram{desc: desc{name, help, labels}, bounds: bounds, counts: make([]int64, len(bounds))}
	})
}

// Handler serves Render as a Prometheus scrape endpoint.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(c.Render()))
	}
}

// Render returns every registered series in Prometheus text format. Series
// are sorted by key and HELP/TYPE is written once per family.
func (c *MetricsCollector) Render() string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.series))
	for k := range c.series {
		keys = append(keys, k)
	}
	all := make([]series, 0, len(keys))
	sort.Strings(keys)
	for _, k := range keys {
		all = append(all, c.series[k])
	}
	c.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("# HELP hakushi_uptime_seconds Time since start in seconds\n")
	sb.WriteString("# TYPE hakushi_uptime_seconds gauge\n")
	writeSample(&sb, "hakushi_uptime_seconds", "", strconv.FormatInt(int64(c.Uptime().Seconds()), 10))

	described := make(map[string]bool)
	for _, s := range all {
		name, help, kind := s.family()
		if !described[name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
			described[name] = true
		}
		s.write(&sb)
	}
	return sb.String()
}

func writeSample(sb *strings.Builder, name, labels, value string) {
	sb.WriteString(name)
	if labels != "" {
		sb.WriteString("{" + labels + "}")
	}
	sb.WriteString(" " + value + "\n")
}

// --- Pre-defined metrics used across the client ---

var (
	FramesReceived = Collector.Counter("hakushi_frames_received_total", "Inbound frames read from the room connection", "")
	DecodeErrors   = Collector.Counter("hakushi_decode_errors_total", "Inbound frames that failed to decode", "")
	ControlFrames  = Collector.Counter("hakushi_control_frames_total", "Inbound frames without a message payload", "")
	MessagesMerged = Collector.Counter("hakushi_messages_merged_total", "Messages newly appended to the log", "")
	UpdatesIgnored = Collector.Counter("hakushi_updates_ignored_total", "Update frames for messages already in the log", "")
	MessagesSent   = Collector.Counter("hakushi_messages_sent_total", "Messages written to the room connection", "")
	SendErrors     = Collector.Counter("hakushi_send_errors_total", "Outbound writes that failed", "")
	Disconnects    = Collector.Counter("hakushi_disconnects_total", "Receive loops ended by a transport error", "")

	UploadsOK            = Collector.Counter("hakushi_uploads_total", "Attachment uploads by result", `result="ok"`)
	UploadsFailed        = Collector.Counter("hakushi_uploads_total", "Attachment uploads by result", `result="failed"`)
	UploadsUnreachable   = Collector.Counter("hakushi_uploads_total", "Attachment uploads by result", `result="unreachable"`)
	ReachabilityAttempts = Collector.Counter("hakushi_reachability_attempts_total", "HEAD checks issued while waiting for attachments", "")

	ConnectionState = Collector.Gauge("hakushi_connection_state", "0 disconnected, 1 connecting, 2 connected", "")

	UploadLatency = Collector.Histogram("hakushi_upload_latency_seconds", "Upload plus reachability latency in seconds", "",
		[]float64{0.25, 0.5, 1, 2, 5, 10})
)
