// Package metrics exposes the ledger's Prometheus instruments.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "poolledger"

var (
	// Singleton collector
	collector     *Collector
	collectorOnce sync.Once
)

// Collector holds every ledger metric. All record methods are no-ops on a nil
// receiver so components can run without metrics in tests.
type Collector struct {
	registry *prometheus.Registry

	// Pool metrics
	PoolTotal       *prometheus.GaugeVec
	PoolAvailable   *prometheus.GaugeVec
	PoolLocked      *prometheus.GaugeVec
	PoolUtilization *prometheus.GaugeVec
	RiskScore       *prometheus.GaugeVec

	// Ledger operation metrics
	OperationsTotal  *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
	CashFlowsTotal   *prometheus.CounterVec
	InvariantAlerts  *prometheus.CounterVec

	// Scheduler metrics
	TicksTotal   prometheus.Counter
	TickDuration prometheus.Histogram

	// Event metrics
	EventsPublished *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec

	// API metrics
	APIRequestsTotal  *prometheus.CounterVec
	APIRequestLatency *prometheus.HistogramVec
	RateLimitHits     prometheus.Counter
	WSClientsActive   prometheus.Gauge
}

// GetCollector returns the process-wide collector.
func GetCollector() *Collector {
	collectorOnce.Do(func() {
		collector = NewCollector(prometheus.NewRegistry())
	})
	return collector
}

// NewCollector builds a collector registered on reg.
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{registry: reg}

	c.PoolTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "pool", Name: "total_amount",
		Help: "Total capital held by the pool",
	}, []string{"pool_id", "currency"})
	c.PoolAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "pool", Name: "available_amount",
		Help: "Capital still open for investment",
	}, []string{"pool_id", "currency"})
	c.PoolLocked = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "pool", Name: "locked_amount",
		Help: "Capital committed to investor positions",
	}, []string{"pool_id", "currency"})
	c.PoolUtilization = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "pool", Name: "utilization_ratio",
		Help: "Locked amount divided by total amount",
	}, []string{"pool_id"})
	c.RiskScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "risk", Name: "score",
		Help: "Most recent composite risk score (1-10)",
	}, []string{"pool_id"})

	c.OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ledger", Name: "operations_total",
		Help: "Ledger operations by outcome",
	}, []string{"operation", "outcome"})
	c.OperationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "ledger", Name: "operation_seconds",
		Help:    "Ledger operation latency including persistence",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"operation"})
	c.CashFlowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ledger", Name: "cashflows_total",
		Help: "Journal entries appended",
	}, []string{"pool_id", "type"})
	c.InvariantAlerts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ledger", Name: "invariant_violations_total",
		Help: "Mutations refused because they would break a balance invariant",
	}, []string{"pool_id"})

	c.TicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "scheduler", Name: "ticks_total",
		Help: "Completed scheduler ticks",
	})
	c.TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "scheduler", Name: "tick_seconds",
		Help:    "Duration of one scheduler tick",
		Buckets: prometheus.DefBuckets,
	})

	c.EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "events", Name: "published_total",
		Help: "Events delivered to a sink",
	}, []string{"type", "sink"})
	c.EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "events", Name: "dropped_total",
		Help: "Events dropped because the outbound queue was full",
	}, []string{"type"})

	c.APIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "api", Name: "requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})
	c.APIRequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "api", Name: "request_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	c.RateLimitHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "api", Name: "rate_limited_total",
		Help: "Requests refused by the rate limiter",
	})
	c.WSClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "ws", Name: "clients_active",
		Help: "Connected WebSocket clients",
	})

	c.registerAll()
	return c
}

func (c *Collector) registerAll() {
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),

		c.PoolTotal,
		c.PoolAvailable,
		c.PoolLocked,
		c.PoolUtilization,
		c.RiskScore,

		c.OperationsTotal,
		c.OperationLatency,
		c.CashFlowsTotal,
		c.InvariantAlerts,

		c.TicksTotal,
		c.TickDuration,

		c.EventsPublished,
		c.EventsDropped,

		c.APIRequestsTotal,
		c.APIRequestLatency,
		c.RateLimitHits,
		c.WSClientsActive,
	)
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// SetPoolBalances publishes the amount triple of a pool.
func (c *Collector) SetPoolBalances(poolID, currency string, total, available, locked float64) {
	if c == nil {
		return
	}
	c.PoolTotal.WithLabelValues(poolID, currency).Set(total)
	c.PoolAvailable.WithLabelValues(poolID, currency).Set(available)
	c.PoolLocked.WithLabelValues(poolID, currency).Set(locked)
	var util float64
	if total > 0 {
		util = locked / total
	}
	c.PoolUtilization.WithLabelValues(poolID).Set(util)
}

// RecordOperation counts a ledger operation and its latency.
func (c *Collector) RecordOperation(op string, err error, elapsed time.Duration) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.OperationsTotal.WithLabelValues(op, outcome).Inc()
	c.OperationLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (c *Collector) RecordCashFlow(poolID, flowType string) {
	if c == nil {
		return
	}
	c.CashFlowsTotal.WithLabelValues(poolID, flowType).Inc()
}

func (c *Collector) RecordInvariantViolation(poolID string) {
	if c == nil {
		return
	}
	c.InvariantAlerts.WithLabelValues(poolID).Inc()
}

func (c *Collector) SetRiskScore(poolID string, score int) {
	if c == nil {
		return
	}
	c.RiskScore.WithLabelValues(poolID).Set(float64(score))
}

func (c *Collector) RecordTick(elapsed time.Duration) {
	if c == nil {
		return
	}
	c.TicksTotal.Inc()
	c.TickDuration.Observe(elapsed.Seconds())
}

func (c *Collector) RecordEventPublished(eventType, sink string) {
	if c == nil {
		return
	}
	c.EventsPublished.WithLabelValues(eventType, sink).Inc()
}

func (c *Collector) RecordEventDropped(eventType string) {
	if c == nil {
		return
	}
	c.EventsDropped.WithLabelValues(eventType).Inc()
}

func (c *Collector) RecordAPIRequest(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.APIRequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	c.APIRequestLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (c *Collector) RecordRateLimitHit() {
	if c == nil {
		return
	}
	c.RateLimitHits.Inc()
}

func (c *Collector) SetWSClients(n int) {
	if c == nil {
		return
	}
	c.WSClientsActive.Set(float64(n))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
