// Package metrics exposes broker runtime observability data to
// Prometheus. Collectors are updated with cheap Inc/Set/Observe calls by
// the engine, the replication controller and the RPC server; the package
// adds no lock of its own. The queue_messages, dependency_waiters and
// replication_lag_ms gauges are registered but no caller sets them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BrokerMetrics wraps the Prometheus collectors for the broker process.
type BrokerMetrics struct {
	registry *prometheus.Registry

	messagesPushed    *prometheus.CounterVec
	messagesDelivered *prometheus.CounterVec
	messagesAcked     *prometheus.CounterVec
	messagesFailed    *prometheus.CounterVec
	popTimeouts       *prometheus.CounterVec

	queueDepth        *prometheus.GaugeVec
	dependencyWaiters *prometheus.GaugeVec
	freeQueueDepth    *prometheus.GaugeVec

	popWaitMs    *prometheus.HistogramVec
	rpcLatencyMs *prometheus.HistogramVec

	replicationLagMs *prometheus.GaugeVec
	isLeader         prometheus.Gauge
	clusterSize      prometheus.Gauge
}

var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

var broker *BrokerMetrics

// InitPrometheus initializes the global Prometheus registry for the broker.
func InitPrometheus(namespace string, buckets []float64) *BrokerMetrics {
	if len(buckets) == 0 {
		buckets = defaultLatencyBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &BrokerMetrics{
		registry: registry,

		messagesPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_pushed_total",
			Help: "Total number of messages pushed onto a queue.",
		}, []string{"queue"}),

		messagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_delivered_total",
			Help: "Total number of messages delivered to a worker via pop_free_message.",
		}, []string{"queue"}),

		messagesAcked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_acked_total",
			Help: "Total number of messages acknowledged.",
		}, []string{"queue"}),

		messagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_failed_total",
			Help: "Total number of messages marked failed.",
		}, []string{"queue"}),

		popTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pop_timeouts_total",
			Help: "Total number of pop_free_message calls that timed out.",
		}, []string{"queue"}),

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_messages",
			Help: "Total number of messages tracked by a queue (all_msgs size).",
		}, []string{"queue"}),

		dependencyWaiters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "dependency_waiters",
			Help: "Number of messages currently blocked on at least one dependency key.",
		}, []string{"queue"}),

		freeQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "free_queue_depth",
			Help: "Number of messages currently ready for dispatch (free_msgs size).",
		}, []string{"queue"}),

		popWaitMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "pop_wait_ms",
			Help: "Time spent blocked in pop_free_message before returning or timing out.", Buckets: buckets,
		}, []string{"queue"}),

		rpcLatencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "rpc_latency_ms",
			Help: "Latency of broker RPC handlers.", Buckets: buckets,
		}, []string{"method"}),

		replicationLagMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "replication_lag_ms",
			Help: "Milliseconds since the last successfully applied replication update, per follower.",
		}, []string{"follower"}),

		isLeader: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "is_leader",
			Help: "1 if this broker node is currently the primary, 0 otherwise.",
		}),

		clusterSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cluster_size",
			Help: "Number of broker nodes currently observed as live.",
		}),
	}

	registry.MustRegister(
		m.messagesPushed, m.messagesDelivered, m.messagesAcked, m.messagesFailed, m.popTimeouts,
		m.queueDepth, m.dependencyWaiters, m.freeQueueDepth,
		m.popWaitMs, m.rpcLatencyMs,
		m.replicationLagMs, m.isLeader, m.clusterSize,
	)

	broker = m
	return m
}

// Default returns the process-wide broker metrics, or nil if InitPrometheus
// was never called (callers must tolerate a nil receiver on every method).
func Default() *BrokerMetrics { return broker }

func (m *BrokerMetrics) RecordPush(queue string) {
	if m == nil {
		return
	}
	m.messagesPushed.WithLabelValues(queue).Inc()
}

func (m *BrokerMetrics) RecordDelivered(queue string) {
	if m == nil {
		return
	}
	m.messagesDelivered.WithLabelValues(queue).Inc()
}

func (m *BrokerMetrics) RecordAck(queue string) {
	if m == nil {
		return
	}
	m.messagesAcked.WithLabelValues(queue).Inc()
}

func (m *BrokerMetrics) RecordFail(queue string) {
	if m == nil {
		return
	}
	m.messagesFailed.WithLabelValues(queue).Inc()
}

func (m *BrokerMetrics) RecordPopTimeout(queue string) {
	if m == nil {
		return
	}
	m.popTimeouts.WithLabelValues(queue).Inc()
}

func (m *BrokerMetrics) SetQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (m *BrokerMetrics) SetDependencyWaiters(queue string, n int) {
	if m == nil {
		return
	}
	m.dependencyWaiters.WithLabelValues(queue).Set(float64(n))
}

func (m *BrokerMetrics) SetFreeQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.freeQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (m *BrokerMetrics) ObservePopWaitMs(queue string, ms float64) {
	if m == nil {
		return
	}
	m.popWaitMs.WithLabelValues(queue).Observe(ms)
}

func (m *BrokerMetrics) ObserveRPCLatencyMs(method string, ms float64) {
	if m == nil {
		return
	}
	m.rpcLatencyMs.WithLabelValues(method).Observe(ms)
}

func (m *BrokerMetrics) SetReplicationLagMs(follower string, ms float64) {
	if m == nil {
		return
	}
	m.replicationLagMs.WithLabelValues(follower).Set(ms)
}

func (m *BrokerMetrics) SetLeader(isLeader bool) {
	if m == nil {
		return
	}
	if isLeader {
		m.isLeader.Set(1)
	} else {
		m.isLeader.Set(0)
	}
}

func (m *BrokerMetrics) SetClusterSize(n int) {
	if m == nil {
		return
	}
	m.clusterSize.Set(float64(n))
}

// PrometheusHandler returns the HTTP handler serving the /metrics endpoint.
func PrometheusHandler() http.Handler {
	if broker == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(broker.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the underlying registry, mainly for tests.
func PrometheusRegistry() *prometheus.Registry {
	if broker == nil {
		return nil
	}
	return broker.registry
}
