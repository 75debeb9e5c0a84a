package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus collectors of the API server. They live in a
// private registry so that several servers can exist in one process.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	sequencesGenerated *prometheus.CounterVec
	outputBytes        *prometheus.CounterVec
	trainings          *prometheus.CounterVec
	trainDuration      prometheus.Histogram
	steadyIterations   prometheus.Histogram

	cacheLookups *prometheus.CounterVec
	cachedModels prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markovian_http_requests_total",
				Help: "Total number of API requests by method and status code",
			},
			[]string{"method", "code"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "markovian_http_request_duration_seconds",
				Help:    "API request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "code"},
		),

		sequencesGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markovian_sequences_generated_total",
				Help: "Total number of sequences generated by model kind",
			},
			[]string{"kind"},
		),
		outputBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markovian_output_bytes_total",
				Help: "Total size of generated output in bytes by model kind",
			},
			[]string{"kind"},
		),
		trainings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markovian_trainings_total",
				Help: "Total number of training runs by mode and result",
			},
			[]string{"mode", "result"},
		),
		trainDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "markovian_train_duration_seconds",
				Help:    "Time taken to build and store a chain",
				Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
			},
		),
		steadyIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "markovian_steady_state_iterations",
				Help:    "Power-iteration rounds run per steady-state request",
				Buckets: prometheus.LinearBuckets(1, 3, 10),
			},
		),

		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markovian_model_cache_lookups_total",
				Help: "Model cache lookups by result",
			},
			[]string{"result"},
		),
		cachedModels: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "markovian_model_cache_entries",
				Help: "Number of chains currently held in memory",
			},
		),
	}
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Instrument wraps next so that every request is counted and timed.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(m.requests,
		promhttp.InstrumentHandlerDuration(m.requestDuration, next))
}

// ObserveGeneration records a batch of generated sequences. Series are labelled by
// token kind, not model name, so their number stays fixed as models come and go.
func (m *Metrics) ObserveGeneration(kind string, sequences []string) {
	m.sequencesGenerated.WithLabelValues(kind).Add(float64(len(sequences)))
	var size int
	for _, s := range sequences {
		size += len(s)
	}
	m.outputBytes.WithLabelValues(kind).Add(float64(size))
}

// ObserveTraining records the outcome of one training run.
func (m *Metrics) ObserveTraining(mode string, seconds float64, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.trainings.WithLabelValues(mode, result).Inc()
	m.trainDuration.Observe(seconds)
}
