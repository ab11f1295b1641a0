// Package metrics is a small Prometheus-compatible collector for the relay.
// It renders the text exposition format directly instead of pulling in
// prometheus/client_golang.
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

// Collector is the process-wide registry used by the relay.
var Collector = NewRegistry()

// Registry aggregates counters and histograms.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
	startTime  time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
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

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter returns the counter for name and labels, creating it on first use.
// labels is pre-rendered, e.g. `kind="photo"`.
func (r *Registry) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[key]; ok {
		return c
	}
	c := &Counter{name: name, help: help, labels: labels}
	r.counters[key] = c
	return c
}

// Histogram returns the histogram for name, creating it on first use.
func (r *Registry) Histogram(name, help string, bounds []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	h := &Histogram{name: name, help: help, bounds: b, buckets: make([]int64, len(b))}
	r.histograms[name] = h
	return h
}

// Render writes every metric in Prometheus text format, sorted by name.
func (r *Registry) Render() string {
	r.mu.Lock()
	counters := make([]*Counter, 0, len(r.counters))
	for _, c := range r.counters {
		counters = append(counters, c)
	}
	histograms := make([]*Histogram, 0, len(r.histograms))
	for _, h := range r.histograms {
		histograms = append(histograms, h)
	}
	r.mu.Unlock()

	sort.Slice(counters, func(i, j int) bool {
		if counters[i].name != counters[j].name {
			return counters[i].name < counters[j].name
		}
		return counters[i].labels < counters[j].labels
	})
	sort.Slice(histograms, func(i, j int) bool { return histograms[i].name < histograms[j].name })

	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP maxrelay_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE maxrelay_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "maxrelay_uptime_seconds %d\n", int64(time.Since(r.startTime).Seconds()))

	last := ""
	for _, c := range counters {
		if c.name != last {
			fmt.Fprintf(&sb, "# HELP %s %s\n", c.name, c.help)
			fmt.Fprintf(&sb, "# TYPE %s counter\n", c.name)
			last = c.name
		}
		if c.labels != "" {
			fmt.Fprintf(&sb, "%s{%s} %d\n", c.name, c.labels, c.Value())
		} else {
			fmt.Fprintf(&sb, "%s %d\n", c.name, c.Value())
		}
	}

	for _, h := range histograms {
		h.mu.Lock()
		fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
		fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			fmt.Fprintf(&sb, "%s_bucket{le=\"%s\"} %d\n", h.name, bound, h.buckets[i])
		}
		fmt.Fprintf(&sb, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count)
		fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
		fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)
		h.mu.Unlock()
	}
	return sb.String()
}

// Handler serves Render over HTTP.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, r.Render())
	}
}

// MessagesTotal and FetchSeconds are shared by the relay pipeline.
var (
	MessagesTotal = Collector.Counter("maxrelay_messages_total", "Inbound MAX messages handled", "")
	FetchSeconds  = Collector.Histogram("maxrelay_fetch_seconds", "Attachment download latency in seconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60})
)

// Attachments counts attachments seen, by kind.
func Attachments(kind string) *Counter {
	return Collector.Counter("maxrelay_attachments_total", "Attachments seen", fmt.Sprintf("kind=%q", kind))
}

// AttachmentFailures counts attachments skipped, by kind and failing stage.
func AttachmentFailures(kind, stage string) *Counter {
	return Collector.Counter("maxrelay_attachment_failures_total", "Attachments skipped after a failure",
		fmt.Sprintf("kind=%q,stage=%q", kind, stage))
}

// Deliveries counts Telegram calls, by method and outcome ("ok" or "error").
func Deliveries(method, outcome string) *Counter {
	return Collector.Counter("maxrelay_deliveries_total", "Telegram delivery calls",
		fmt.Sprintf("method=%q,outcome=%q", method, outcome))
}

// Dropped counts messages the dispatcher could not queue.
var Dropped = Collector.Counter("maxrelay_dropped_messages_total", "Messages dropped because a worker queue stayed full", "")

// TelegramIgnored counts inbound Telegram updates dropped by the listener.
var TelegramIgnored = Collector.Counter("maxrelay_telegram_ignored_total", "Inbound Telegram updates ignored", "")
