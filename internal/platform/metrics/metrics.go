// Package metrics provides observability for the simulation server.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rhenal"

// Collector gathers performance metrics into its own registry.
type Collector struct {
	registry *prometheus.Registry

	tickLatency     prometheus.Histogram
	virtualTime     prometheus.Gauge
	timeScale       prometheus.Gauge
	eventsScheduled prometheus.Counter
	eventsFired     prometheus.Counter
	eventsCancelled prometheus.Counter
	callbackErrors  prometheus.Counter

	oracleRequests *prometheus.CounterVec
	oracleLatency  *prometheus.HistogramVec
	oracleCost     prometheus.Counter
	staleDrops     prometheus.Counter

	journalWrites      prometheus.Counter
	journalWriteErrors prometheus.Counter

	wsConnections prometheus.Gauge
	wsMessages    *prometheus.CounterVec
	wsErrors      prometheus.Counter
}

// NewCollector registers every metric on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tick_latency_seconds",
			Help:    "Wall time spent processing one clock tick including scheduler drain.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		virtualTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "virtual_time_seconds",
			Help: "Current virtual clock as unix seconds.",
		}),
		timeScale: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "time_scale",
			Help: "Current virtual time scale factor.",
		}),
		eventsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduler_events_scheduled_total",
			Help: "Events added to the scheduler.",
		}),
		eventsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduler_events_fired_total",
			Help: "Events executed by the scheduler.",
		}),
		eventsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduler_events_cancelled_total",
			Help: "Events removed before firing.",
		}),
		callbackErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduler_callback_errors_total",
			Help: "Scheduled callbacks that returned an error or panicked.",
		}),
		oracleRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "oracle_requests_total",
			Help: "Oracle requests by schema and outcome.",
		}, []string{"schema", "outcome"}),
		oracleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "oracle_latency_seconds",
			Help:    "Oracle round-trip latency by schema.",
			Buckets: prometheus.DefBuckets,
		}, []string{"schema"}),
		oracleCost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "oracle_cost_usd_total",
			Help: "Estimated oracle spend in USD.",
		}),
		staleDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stale_results_dropped_total",
			Help: "Results discarded because their session epoch changed.",
		}),
		journalWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "journal_writes_total",
			Help: "Journal events persisted.",
		}),
		journalWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "journal_write_errors_total",
			Help: "Journal persistence failures.",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ws_connections",
			Help: "Active WebSocket connections.",
		}),
		wsMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ws_messages_total",
			Help: "WebSocket messages by direction.",
		}, []string{"direction"}),
		wsErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ws_errors_total",
			Help: "WebSocket read/write errors.",
		}),
	}
	c.registry.MustRegister(
		c.tickLatency, c.virtualTime, c.timeScale,
		c.eventsScheduled, c.eventsFired, c.eventsCancelled, c.callbackErrors,
		c.oracleRequests, c.oracleLatency, c.oracleCost, c.staleDrops,
		c.journalWrites, c.journalWriteErrors,
		c.wsConnections, c.wsMessages, c.wsErrors,
	)
	return c
}

var (
	global     *Collector
	globalOnce sync.Once
)

// Get returns the process-wide collector.
func Get() *Collector {
	globalOnce.Do(func() { global = NewCollector() })
	return global
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RecordTick records a tick cycle completion.
func (c *Collector) RecordTick(latency time.Duration, virtualNow time.Time, scale float64) {
	c.tickLatency.Observe(latency.Seconds())
	c.virtualTime.Set(float64(virtualNow.Unix()))
	c.timeScale.Set(scale)
}

// RecordScheduled counts a scheduled event.
func (c *Collector) RecordScheduled() { c.eventsScheduled.Inc() }

// RecordFired counts an executed event.
func (c *Collector) RecordFired(failed bool) {
	c.eventsFired.Inc()
	if failed {
		c.callbackErrors.Inc()
	}
}

// RecordCancelled counts cancelled events.
func (c *Collector) RecordCancelled(n int) { c.eventsCancelled.Add(float64(n)) }

// RecordOracleCall records one oracle request.
func (c *Collector) RecordOracleCall(schema, outcome string, latency time.Duration, costUSD float64) {
	c.oracleRequests.WithLabelValues(schema, outcome).Inc()
	c.oracleLatency.WithLabelValues(schema).Observe(latency.Seconds())
	if costUSD > 0 {
		c.oracleCost.Add(costUSD)
	}
}

// RecordStaleDrop counts a discarded stale result.
func (c *Collector) RecordStaleDrop() { c.staleDrops.Inc() }

// RecordJournalWrite records a journal persistence attempt.
func (c *Collector) RecordJournalWrite(err error) {
	if err != nil {
		c.journalWriteErrors.Inc()
		return
	}
	c.journalWrites.Inc()
}

// RecordWSConnection records WebSocket connection changes.
func (c *Collector) RecordWSConnection(delta int) { c.wsConnections.Add(float64(delta)) }

// RecordWSMessage records WebSocket messages.
func (c *Collector) RecordWSMessage(incoming bool) {
	dir := "out"
	if incoming {
		dir = "in"
	}
	c.wsMessages.WithLabelValues(dir).Inc()
}

// RecordWSError records a WebSocket error.
func (c *Collector) RecordWSError() { c.wsErrors.Inc() }

// Handler returns the Prometheus exposition handler for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
