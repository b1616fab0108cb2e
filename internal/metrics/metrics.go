// Package metrics holds the Prometheus collectors for widget traffic and the
// per-organization exposition filter.
package metrics

import (
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// ProjectLabel is the label used to scope series to a project.
const ProjectLabel = "project"

var (
	WidgetEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vidbranch",
			Name:      "widget_events_total",
			Help:      "Total number of recorded widget events.",
		},
		[]string{ProjectLabel, "event_type"},
	)
	SessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vidbranch",
			Name:      "widget_sessions_started_total",
			Help:      "Total number of widget sessions created.",
		},
		[]string{ProjectLabel},
	)
	Conversions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vidbranch",
			Name:      "conversions_total",
			Help:      "Total number of conversion rows recorded.",
		},
		[]string{ProjectLabel},
	)
	ConversionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vidbranch",
			Name:      "conversion_failures_total",
			Help:      "Conversion evaluations that failed or were skipped by the breaker.",
		},
		[]string{ProjectLabel},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vidbranch",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method", "status"},
	)
)

var registerOnce sync.Once

// Register adds every collector to reg. Only the first call has effect.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(WidgetEvents, SessionsStarted, Conversions, ConversionFailures, RequestDuration)
	})
}

// FilterProjects keeps families without a project label as they are. For
// labelled families only series whose project is in ids survive; families
// left empty are dropped.
func FilterProjects(families []*dto.MetricFamily, ids map[string]bool) []*dto.MetricFamily {
	filtered := make([]*dto.MetricFamily, 0, len(families))
	for _, mf := range families {
		if !hasProjectLabel(mf) {
			filtered = append(filtered, mf)
			continue
		}

		var kept []*dto.Metric
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == ProjectLabel && ids[l.GetValue()] {
					kept = append(kept, m)
					break
				}
			}
		}
		if len(kept) == 0 {
			continue
		}
		filtered = append(filtered, &dto.MetricFamily{
			Name:   mf.Name,
			Help:   mf.Help,
			Type:   mf.Type,
			Metric: kept,
		})
	}
	return filtered
}

func hasProjectLabel(mf *dto.MetricFamily) bool {
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == ProjectLabel {
				return true
			}
		}
	}
	return false
}

// ContentType is the exposition content type written by Encode.
const ContentType = string(expfmt.FmtText)

// Encode writes families in the Prometheus text format.
func Encode(w io.Writer, families []*dto.MetricFamily) error {
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
