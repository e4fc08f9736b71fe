package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts pipeline activity
type Metrics struct {
	DaysFetched   *prometheus.CounterVec
	HitsParsed    prometheus.Counter
	Segments      prometheus.Counter
	SourceLookups *prometheus.CounterVec
	Exports       *prometheus.CounterVec
	Queries       *prometheus.CounterVec
	QueryDuration prometheus.Summary
}

// New creates the pipeline metrics and registers them on reg. A nil reg
// leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DaysFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adsbx_history",
			Name:      "days_fetched_total",
			Help:      "Trace days processed by result",
		}, []string{"status"}),
		HitsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "adsbx_history",
			Name:      "hits_parsed_total",
			Help:      "Valid position hits parsed from trace payloads",
		}),
		Segments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "adsbx_history",
			Name:      "segments_total",
			Help:      "Flight segments produced from trace payloads",
		}),
		SourceLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adsbx_history",
			Name:      "source_lookups_total",
			Help:      "Metadata source lookups by source and status",
		}, []string{"source", "status"}),
		Exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adsbx_history",
			Name:      "exports_total",
			Help:      "Export files written by format and status",
		}, []string{"format", "status"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adsbx_history",
			Name:      "queries_total",
			Help:      "Finished queries by outcome",
		}, []string{"outcome"}),
		QueryDuration: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace: "adsbx_history",
			Name:      "query_duration_seconds",
			Help:      "Wall time of finished queries",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.DaysFetched, m.HitsParsed, m.Segments, m.SourceLookups,
			m.Exports, m.Queries, m.QueryDuration,
		)
	}
	return m
}
