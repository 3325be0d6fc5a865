package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector of the bot. It is passed to the
// components that record observations.
type Metrics struct {
	// Command handling
	commandsTotal  *prometheus.CounterVec
	reactionsTotal *prometheus.CounterVec
	queueDepth     prometheus.Gauge

	// Ledger
	ledgerRequestsTotal   *prometheus.CounterVec
	ledgerRequestDuration prometheus.Histogram

	// Side effects
	journalWritesTotal    *prometheus.CounterVec
	outcomePublishesTotal *prometheus.CounterVec

	// Ops HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors. If registry is nil,
// prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spendbot_commands_total",
				Help: "Total number of spend commands handled by outcome",
			},
			[]string{"outcome"},
		),
		reactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spendbot_reactions_total",
				Help: "Total number of acknowledgment reactions sent by result",
			},
			[]string{"result"},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "spendbot_dispatch_queue_depth",
				Help: "Number of inbound events waiting for a worker",
			},
		),
		ledgerRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spendbot_ledger_requests_total",
				Help: "Total number of ledger API calls by HTTP status, or error for transport failures",
			},
			[]string{"status"},
		),
		ledgerRequestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "spendbot_ledger_request_duration_seconds",
				Help:    "Duration of ledger API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),
		journalWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spendbot_journal_writes_total",
				Help: "Total number of journal writes by result",
			},
			[]string{"result"},
		),
		outcomePublishesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spendbot_outcome_publishes_total",
				Help: "Total number of outcome events published by result",
			},
			[]string{"result"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spendbot_http_requests_total",
				Help: "Total number of ops HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spendbot_http_request_duration_seconds",
				Help:    "Duration of ops HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method"},
		),
	}
}

// ObserveCommand counts one handled command.
func (m *Metrics) ObserveCommand(outcome string) {
	m.commandsTotal.WithLabelValues(outcome).Inc()
}

// ObserveReaction counts one reaction attempt; result is "ok" or "error".
func (m *Metrics) ObserveReaction(result string) {
	m.reactionsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// ObserveLedgerRequest records one ledger call.
func (m *Metrics) ObserveLedgerRequest(status string, elapsed time.Duration) {
	m.ledgerRequestsTotal.WithLabelValues(status).Inc()
	m.ledgerRequestDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveJournalWrite(err error) {
	m.journalWritesTotal.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObserveOutcomePublish(err error) {
	m.outcomePublishesTotal.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, durationSeconds float64) {
	m.httpRequestsTotal.WithLabelValues(handler, method, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(handler, method).Observe(durationSeconds)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
