// Package diag implements the allocation-tracking diagnostics of
// spec.md §4.10: when enabled, every object creation registers a named
// counter keyed by "file:line"; destruction decrements it. Grounded on
// the teacher's infrastructure/metrics.Metrics registration pattern.
package diag

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nullteam/softpbx/infrastructure/runtime"
)

// Tracker holds the live allocation counters for one context (spec.md §3:
// "Script context ... hosts object-allocation accounting").
type Tracker struct {
	mu       sync.Mutex
	enabled  bool
	counts   map[string]int64
	gauge    *prometheus.GaugeVec
	registry prometheus.Registerer
}

// NewTracker creates a Tracker registered under contextName. When
// registerer is nil, prometheus.DefaultRegisterer is used; pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate-registration panics.
func NewTracker(contextName string, registerer prometheus.Registerer) *Tracker {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "script_object_allocations",
			Help:        "Live script object count per allocation site.",
			ConstLabels: prometheus.Labels{"context": contextName},
		},
		[]string{"site"},
	)
	if registerer != nil {
		_ = registerer.Register(gauge) // duplicate registration across contexts is tolerated
	}
	return &Tracker{
		counts:   make(map[string]int64),
		gauge:    gauge,
		registry: registerer,
	}
}

// Enable turns allocation tracking on for this context.
func (t *Tracker) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
}

// Disable turns allocation tracking off and clears current counts.
func (t *Tracker) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
	t.counts = make(map[string]int64)
}

// Enabled reports whether tracking is active.
func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Site formats the "file:line" key used as the counter name.
func Site(file string, line int) string {
	return file + ":" + strconv.Itoa(line)
}

// Created registers a new object allocation at site.
func (t *Tracker) Created(site string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.counts[site]++
	t.gauge.WithLabelValues(site).Set(float64(t.counts[site]))
}

// Destroyed removes a previously-registered allocation at site.
func (t *Tracker) Destroyed(site string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.counts[site] > 0 {
		t.counts[site]--
	}
	t.gauge.WithLabelValues(site).Set(float64(t.counts[site]))
}

// TopN returns the N sites with the highest live counts, descending, for
// the CLI's leak-hunt dump.
func (t *Tracker) TopN(n int) []SiteCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SiteCount, 0, len(t.counts))
	for site, count := range t.counts {
		if count <= 0 {
			continue
		}
		out = append(out, SiteCount{Site: site, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Site < out[j].Site
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// SiteCount is one row of a TopN dump.
type SiteCount struct {
	Site  string
	Count int64
}

// Enabled reports whether Prometheus diagnostics should be exposed at all,
// mirroring the teacher's metrics.Enabled() env-var gate, renamed to this
// module's own environment variable.
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("SOFTPBX_DIAG_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
