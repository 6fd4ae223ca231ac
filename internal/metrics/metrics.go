package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"okx-tracker/internal/ledger"
	"okx-tracker/internal/snapshot"
)

// Metrics 汇总刷新周期相关的 Prometheus 指标。
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal         *prometheus.CounterVec // labels: outcome
	SourceFailuresTotal *prometheus.CounterVec // labels: slice
	FallbackTotal       prometheus.Counter
	HistoryRecords      *prometheus.GaugeVec // labels: provenance
	HistoryRatioSources *prometheus.GaugeVec // labels: source
	OpenPositions       prometheus.Gauge
	TotalEquity         prometheus.Gauge
	CycleDuration       prometheus.Histogram
	StreamClients       prometheus.Gauge
}

var _ snapshot.Observer = (*Metrics)(nil)

// New 在独立的 Registry 上注册全部指标。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_refresh_cycles_total",
			Help: "Refresh cycles completed, by outcome",
		}, []string{"outcome"}),
		SourceFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_source_failures_total",
			Help: "Upstream retrieval failures, by snapshot slice",
		}, []string{"slice"}),
		FallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_history_fallback_total",
			Help: "Cycles that rebuilt history from fills",
		}),
		HistoryRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tracker_history_records",
			Help: "History records in the published snapshot, by provenance",
		}, []string{"provenance"}),
		HistoryRatioSources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tracker_history_ratio_sources",
			Help: "History records in the published snapshot, by PnL ratio branch",
		}, []string{"source"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_open_positions",
			Help: "Open positions in the published snapshot",
		}),
		TotalEquity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_total_equity",
			Help: "Account total equity in the published snapshot",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_refresh_cycle_duration_seconds",
			Help:    "Refresh cycle latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_stream_clients",
			Help: "Connected WebSocket clients",
		}),
	}

	m.registry.MustRegister(
		m.CyclesTotal,
		m.SourceFailuresTotal,
		m.FallbackTotal,
		m.HistoryRecords,
		m.HistoryRatioSources,
		m.OpenPositions,
		m.TotalEquity,
		m.CycleDuration,
		m.StreamClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry 返回底层 Registry。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle 根据周期报告更新指标。
func (m *Metrics) ObserveCycle(_ context.Context, snap *snapshot.AccountSnapshot, report snapshot.Report) {
	m.CyclesTotal.WithLabelValues(report.Outcome()).Inc()
	m.CycleDuration.Observe(report.Duration.Seconds())

	if report.BalanceErr != nil {
		m.SourceFailuresTotal.WithLabelValues(string(snapshot.SliceBalance)).Inc()
	}
	if report.PositionsErr != nil {
		m.SourceFailuresTotal.WithLabelValues(string(snapshot.SlicePositions)).Inc()
	}
	if report.History.PrimaryErr != nil || report.History.FallbackErr != nil {
		m.SourceFailuresTotal.WithLabelValues(string(snapshot.SliceHistory)).Inc()
	}
	if report.History.FallbackUsed {
		m.FallbackTotal.Inc()
	}

	if snap == nil {
		return
	}
	m.HistoryRecords.Reset()
	if snap.HistorySource != "" {
		m.HistoryRecords.WithLabelValues(string(snap.HistorySource)).Set(float64(len(snap.History)))
	}

	sources := make(map[ledger.RatioSource]int)
	for _, rec := range snap.History {
		if rec.RatioSource != "" {
			sources[rec.RatioSource]++
		}
	}
	m.HistoryRatioSources.Reset()
	for source, n := range sources {
		m.HistoryRatioSources.WithLabelValues(string(source)).Set(float64(n))
	}

	m.OpenPositions.Set(float64(len(snap.Positions)))
	m.TotalEquity.Set(snap.TotalEquity)
}
