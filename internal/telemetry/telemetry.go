package telemetry

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the console data layer.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. Hooks run inline with cache and gateway code paths, so
// they must be inexpensive.
type Collector interface {
	ObserveRequest(endpoint, outcome string, elapsed time.Duration)
	IncCacheHit(resource string)
	IncCoalesced(resource string)
	ObserveMetricsBatch(queries int)
	SetMetricsInFlight(n int)
	IncWindowRecompute(scale string)
}

// Request outcomes reported through ObserveRequest.
const (
	OutcomeSuccess   = "success"
	OutcomeTimeout   = "timeout"
	OutcomeTransport = "transport"
	OutcomeDecode    = "decode"
)

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) ObserveRequest(string, string, time.Duration) {}
func (noopCollector) IncCacheHit(string)                          {}
func (noopCollector) IncCoalesced(string)                         {}
func (noopCollector) ObserveMetricsBatch(int)                     {}
func (noopCollector) SetMetricsInFlight(int)                      {}
func (noopCollector) IncWindowRecompute(string)                   {}

// PrometheusCollector exposes telemetry via Prometheus.
type PrometheusCollector struct {
	requests        *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	cacheHits       *prometheus.CounterVec
	coalesced       *prometheus.CounterVec
	batchSize       prometheus.Histogram
	metricsInFlight prometheus.Gauge
	windowRecompute *prometheus.CounterVec
}

var (
	shared     *PrometheusCollector
	sharedLock sync.Mutex
)

// NewPrometheusCollector registers the required metrics with the provided
// registerer. Registering twice against the same registerer reuses the
// collectors that are already present.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	sharedLock.Lock()
	defer sharedLock.Unlock()
	if shared != nil && reg == prometheus.DefaultRegisterer {
		return shared, nil
	}

	var err error
	c := &PrometheusCollector{}
	c.requests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "torua_console_requests_total",
		Help: "Gateway exchanges by endpoint and outcome.",
	}, []string{"endpoint", "outcome"}))
	if err != nil {
		return nil, err
	}
	c.requestLatency, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "torua_console_request_duration_seconds",
		Help:    "Gateway exchange latency by endpoint.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"}))
	if err != nil {
		return nil, err
	}
	c.cacheHits, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "torua_console_cache_hits_total",
		Help: "Ensure calls answered from a valid cache record.",
	}, []string{"resource"}))
	if err != nil {
		return nil, err
	}
	c.coalesced, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "torua_console_cache_coalesced_total",
		Help: "Ensure calls that joined a request already in flight.",
	}, []string{"resource"}))
	if err != nil {
		return nil, err
	}
	c.batchSize, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "torua_console_metrics_batch_queries",
		Help:    "Number of series sent per batched time series request.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8),
	}))
	if err != nil {
		return nil, err
	}
	c.metricsInFlight, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "torua_console_metrics_in_flight",
		Help: "Time series batches currently awaiting a response.",
	}))
	if err != nil {
		return nil, err
	}
	c.windowRecompute, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "torua_console_time_window_recomputed_total",
		Help: "Time window recomputations by selected scale.",
	}, []string{"scale"}))
	if err != nil {
		return nil, err
	}
	if reg == prometheus.DefaultRegisterer {
		shared = c
	}
	return c, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveRequest records one gateway exchange.
func (p *PrometheusCollector) ObserveRequest(endpoint, outcome string, elapsed time.Duration) {
	if p == nil {
		return
	}
	p.requests.WithLabelValues(endpoint, outcome).Inc()
	p.requestLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// IncCacheHit counts an Ensure answered without a network call.
func (p *PrometheusCollector) IncCacheHit(resource string) {
	if p == nil {
		return
	}
	p.cacheHits.WithLabelValues(resource).Inc()
}

// IncCoalesced counts an Ensure that joined an outstanding request.
func (p *PrometheusCollector) IncCoalesced(resource string) {
	if p == nil {
		return
	}
	p.coalesced.WithLabelValues(resource).Inc()
}

// ObserveMetricsBatch records the number of series in one batch.
func (p *PrometheusCollector) ObserveMetricsBatch(queries int) {
	if p == nil || queries <= 0 {
		return
	}
	p.batchSize.Observe(float64(queries))
}

// SetMetricsInFlight updates the in-flight batch gauge.
func (p *PrometheusCollector) SetMetricsInFlight(n int) {
	if p == nil {
		return
	}
	p.metricsInFlight.Set(float64(n))
}

// IncWindowRecompute counts a time window recomputation.
func (p *PrometheusCollector) IncWindowRecompute(scale string) {
	if p == nil {
		return
	}
	p.windowRecompute.WithLabelValues(scale).Inc()
}
