// Package metrics holds the Prometheus collectors shared by the rewrite core,
// the rule engine and the regex cache.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "httpmod"

// Skip reasons reported by SkippedTotal.
const (
	ReasonInvalidEncoding = "invalid_encoding"
	ReasonInvalidValue    = "invalid_value"
	ReasonInvalidName     = "invalid_name"
)

type Metrics struct {
	AppliedTotal       *prometheus.CounterVec
	SkippedTotal       *prometheus.CounterVec
	DrainFailuresTotal *prometheus.CounterVec
	RegexCacheTotal    *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the process wide collectors, registering them on first use.
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			AppliedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "modify",
					Name:      "applied_total",
					Help:      "Total number of modify rules applied to an exchange",
				},
				[]string{"kind", "direction"},
			),
			SkippedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "modify",
					Name:      "skipped_total",
					Help:      "Total number of header or cookie entries skipped because of encoding errors",
				},
				[]string{"kind", "reason"},
			),
			DrainFailuresTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "body",
					Name:      "drain_failures_total",
					Help:      "Total number of bodies that could not be read for a text transform",
				},
				[]string{"direction"},
			),
			RegexCacheTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "regex_cache",
					Name:      "lookups_total",
					Help:      "Total number of compiled pattern lookups",
				},
				[]string{"result"},
			),
		}
	})
	return instance
}

// Init pre-creates the label combinations so they show up on /metrics
// before the first exchange.
func (m *Metrics) Init() {
	for _, kind := range []string{"header", "cookies", "body"} {
		for _, dir := range []string{"request", "response"} {
			m.AppliedTotal.WithLabelValues(kind, dir)
		}
	}
	for _, kind := range []string{"header", "cookies"} {
		for _, reason := range []string{ReasonInvalidEncoding, ReasonInvalidValue, ReasonInvalidName} {
			m.SkippedTotal.WithLabelValues(kind, reason)
		}
	}
	for _, dir := range []string{"request", "response"} {
		m.DrainFailuresTotal.WithLabelValues(dir)
	}
	for _, result := range []string{"hit", "miss", "error"} {
		m.RegexCacheTotal.WithLabelValues(result)
	}
}
