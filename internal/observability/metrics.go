// v1
// internal/observability/metrics.go
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every prometheus collector the service registers. All
// recording methods are nil-safe so wiring can pass a nil *Metrics in
// tests without guards at each call site.
type Metrics struct {
	fetchAttempts     *prometheus.CounterVec
	fetchRetries      *prometheus.CounterVec
	tickDuration      prometheus.Histogram
	ticksTotal        *prometheus.CounterVec
	consensusAQI      prometheus.Gauge
	noData            prometheus.Gauge
	sensorsReporting  prometheus.Gauge
	breakerState      prometheus.Gauge
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airqual_fetch_attempts_total",
			Help: "Sensor fetch attempts by sensor id and outcome (ok, transient, permanent).",
		}, []string{"sensor", "outcome"}),
		fetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airqual_fetch_retries_total",
			Help: "Retry attempts per sensor id after transient failures.",
		}, []string{"sensor"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "airqual_tick_duration_seconds",
			Help:    "Histogram of full scheduler tick durations.",
			Buckets: prometheus.DefBuckets,
		}),
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airqual_ticks_total",
			Help: "Scheduler ticks by outcome (ok, no_data, gated).",
		}, []string{"outcome"}),
		consensusAQI: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airqual_consensus_aqi",
			Help: "Most recent consensus AQI value.",
		}),
		noData: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airqual_no_data",
			Help: "1 while no valid sensor data is available, else 0.",
		}),
		sensorsReporting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airqual_sensors_reporting",
			Help: "Sensors with a valid reading in the current tick.",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airqual_provider_breaker_state",
			Help: "Sensor provider circuit breaker state (0 closed, 1 open, 2 half-open).",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airqual_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "airqual_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	prometheus.MustRegister(
		m.fetchAttempts,
		m.fetchRetries,
		m.tickDuration,
		m.ticksTotal,
		m.consensusAQI,
		m.noData,
		m.sensorsReporting,
		m.breakerState,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

// FetchAttempt satisfies the sensor package's Observer interface.
func (m *Metrics) FetchAttempt(sensorID, outcome string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(sensorID, outcome).Inc()
}

// FetchRetry satisfies the sensor package's Observer interface.
func (m *Metrics) FetchRetry(sensorID string) {
	if m == nil {
		return
	}
	m.fetchRetries.WithLabelValues(sensorID).Inc()
}

// ObserveTick records a tick's duration and outcome.
func (m *Metrics) ObserveTick(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ticksTotal.WithLabelValues(outcome).Inc()
	m.tickDuration.Observe(d.Seconds())
}

// SetConsensus publishes the current consensus value.
func (m *Metrics) SetConsensus(v float64, reporting int) {
	if m == nil {
		return
	}
	m.consensusAQI.Set(v)
	m.noData.Set(0)
	m.sensorsReporting.Set(float64(reporting))
}

// SetNoData flags the total-data-loss condition.
func (m *Metrics) SetNoData() {
	if m == nil {
		return
	}
	m.noData.Set(1)
	m.sensorsReporting.Set(0)
}

// SetBreakerState exports the provider breaker state.
func (m *Metrics) SetBreakerState(state float64) {
	if m == nil {
		return
	}
	m.breakerState.Set(state)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler instruments a route with request count and duration.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler serves the prometheus exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
