package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Turns           *prometheus.CounterVec
	GoalsPromoted   prometheus.Counter
	ExtractionRules *prometheus.CounterVec
	GatewayLatency  *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the instruments on reg. A nil reg uses the default
// registry.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &Metrics{
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Processed chat turns by outcome.",
		}, []string{"outcome"}),
		GoalsPromoted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "goals_promoted_total",
			Help:      "Goals extracted from a reply and persisted.",
		}),
		ExtractionRules: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_rule_hits_total",
			Help:      "Extractor outcomes by matched rule and parse result.",
		}, []string{"rule", "result"}),
		GatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_latency_ms",
			Help:      "Language-model gateway latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}, []string{"status"}),
		gatherer: gatherer,
	}
}

func (m *Metrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncGoalsPromoted() {
	if m == nil {
		return
	}
	m.GoalsPromoted.Inc()
}

// ObserveExtraction records one extractor run. An empty rule is reported as
// "none".
func (m *Metrics) ObserveExtraction(rule string, parsed bool) {
	if m == nil {
		return
	}
	if rule == "" {
		rule = "none"
	}
	result := "parsed"
	if !parsed {
		result = "rejected"
	}
	if rule == "none" {
		result = "no_match"
	}
	m.ExtractionRules.WithLabelValues(rule, result).Inc()
}

func (m *Metrics) ObserveGatewayLatency(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.GatewayLatency.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}

// Handler serves the registry these metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
