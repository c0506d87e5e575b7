// Package metrics provides Prometheus metrics for the advisor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects and exposes advisor metrics on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	// Refresh metrics
	RefreshTotal     *prometheus.CounterVec
	RefreshDuration  prometheus.Histogram
	RecordsIngested  prometheus.Counter
	RecordsRejected  prometheus.Counter
	ValueBetsCurrent *prometheus.GaugeVec
	UpcomingMatches  *prometheus.GaugeVec

	// Conversation metrics
	QueriesTotal   *prometheus.CounterVec
	RateLimited    *prometheus.CounterVec
	MessagesSent   *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
}

// New creates a metrics collector with every metric registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maxadvisor_refresh_total",
				Help: "Feed refresh cycles by outcome",
			},
			[]string{"status"},
		),
		RefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "maxadvisor_refresh_duration_seconds",
				Help:    "Duration of a full feed refresh",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
		RecordsIngested: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "maxadvisor_records_ingested_total",
				Help: "Feed records accepted as predictions",
			},
		),
		RecordsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "maxadvisor_records_rejected_total",
				Help: "Feed records skipped as malformed",
			},
		),
		ValueBetsCurrent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "maxadvisor_value_bets",
				Help: "Value bets found in the latest refresh",
			},
			[]string{"market"},
		),
		UpcomingMatches: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "maxadvisor_upcoming_matches",
				Help: "Upcoming predictions by confidence tier",
			},
			[]string{"tier"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maxadvisor_queries_total",
				Help: "Handled user queries",
			},
			[]string{"channel", "command"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maxadvisor_rate_limited_total",
				Help: "Queries dropped by the per-user rate limit",
			},
			[]string{"channel"},
		),
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maxadvisor_messages_sent_total",
				Help: "Outbound bot messages by outcome",
			},
			[]string{"status"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maxadvisor_http_request_duration_seconds",
				Help:    "HTTP API latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "code"},
		),
	}

	m.registry.MustRegister(
		m.RefreshTotal,
		m.RefreshDuration,
		m.RecordsIngested,
		m.RecordsRejected,
		m.ValueBetsCurrent,
		m.UpcomingMatches,
		m.QueriesTotal,
		m.RateLimited,
		m.MessagesSent,
		m.RequestLatency,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRefresh records one refresh cycle.
func (m *Metrics) RecordRefresh(status string, durationSec float64, ingested, rejected int) {
	m.RefreshTotal.WithLabelValues(status).Inc()
	m.RefreshDuration.Observe(durationSec)
	m.RecordsIngested.Add(float64(ingested))
	m.RecordsRejected.Add(float64(rejected))
}

// SetValueBets replaces the per-market value bet gauge.
func (m *Metrics) SetValueBets(byMarket map[string]int) {
	m.ValueBetsCurrent.Reset()
	for market, n := range byMarket {
		m.ValueBetsCurrent.WithLabelValues(market).Set(float64(n))
	}
}

// SetUpcoming replaces the per-tier upcoming gauge.
func (m *Metrics) SetUpcoming(byTier map[string]int) {
	m.UpcomingMatches.Reset()
	for tier, n := range byTier {
		m.UpcomingMatches.WithLabelValues(tier).Set(float64(n))
	}
}

// RecordQuery counts one handled command.
func (m *Metrics) RecordQuery(channel, command string) {
	m.QueriesTotal.WithLabelValues(channel, command).Inc()
}

// RecordRateLimited counts one dropped query.
func (m *Metrics) RecordRateLimited(channel string) {
	m.RateLimited.WithLabelValues(channel).Inc()
}

// RecordMessage counts one outbound bot message.
func (m *Metrics) RecordMessage(status string) {
	m.MessagesSent.WithLabelValues(status).Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route, code string, durationSec float64) {
	m.RequestLatency.WithLabelValues(route, code).Observe(durationSec)
}
