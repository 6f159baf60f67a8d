package metrics

import "github.com/prometheus/client_golang/prometheus"

// CensusMetrics exposes counters/histograms for census computations.
// A nil *CensusMetrics is valid and records nothing.
type CensusMetrics struct {
	computations *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	rowsLoaded   *prometheus.CounterVec
	episodes     prometheus.Histogram
	rosterSize   *prometheus.HistogramVec
}

func NewCensusMetrics(reg prometheus.Registerer) *CensusMetrics {
	m := &CensusMetrics{
		computations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "census",
			Subsystem: "engine",
			Name:      "computations_total",
			Help:      "Total census computations by operation and outcome",
		}, []string{"operation", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "census",
			Subsystem: "engine",
			Name:      "computation_seconds",
			Help:      "Latency of census computations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		rowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "census",
			Subsystem: "ingest",
			Name:      "rows_total",
			Help:      "Encounter rows decoded per sheet",
		}, []string{"sheet"}),
		episodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "census",
			Subsystem: "engine",
			Name:      "episodes_built",
			Help:      "Number of outpatient episodes built per computation",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		rosterSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "census",
			Subsystem: "engine",
			Name:      "roster_rows",
			Help:      "Roster rows produced per query, by source",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"source"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.computations, m.latency, m.rowsLoaded, m.episodes, m.rosterSize)
	return m
}

func (m *CensusMetrics) ObserveComputation(operation string, err error, seconds float64) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.computations.WithLabelValues(operation, status).Inc()
	m.latency.WithLabelValues(operation).Observe(seconds)
}

func (m *CensusMetrics) ObserveRows(sheet string, n int) {
	if m == nil {
		return
	}
	m.rowsLoaded.WithLabelValues(sheet).Add(float64(n))
}

func (m *CensusMetrics) ObserveEpisodes(n int) {
	if m == nil {
		return
	}
	m.episodes.Observe(float64(n))
}

func (m *CensusMetrics) ObserveRoster(source string, n int) {
	if m == nil {
		return
	}
	m.rosterSize.WithLabelValues(source).Observe(float64(n))
}
