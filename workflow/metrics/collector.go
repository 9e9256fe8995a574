// Package metrics provides Prometheus-compatible instrumentation for the
// workflow orchestrator, mirroring the teacher engine's PrometheusMetrics
// but namespaced to orchestrator concerns: node dispatch latency, rubric
// backtracks, consensus outcomes, plan replans, lease claims, and JSON-RPC
// round trips.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric the engine updates during execution.
// All metrics are namespaced "orchestrator_". A nil *Collector is valid
// and every method on it is a no-op, so callers can leave metrics
// disabled by construction.
type Collector struct {
	nodeLatency        *prometheus.HistogramVec
	backtracksTotal     *prometheus.CounterVec
	consensusTotal      *prometheus.CounterVec
	planReplansTotal    *prometheus.CounterVec
	leaseClaimsTotal    *prometheus.CounterVec
	rpcLatency          *prometheus.HistogramVec
	rpcTimeoutsTotal    *prometheus.CounterVec
	inflightExecutions  prometheus.Gauge
}

// NewCollector registers the orchestrator's metrics with registry (use
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for test isolation).
func NewCollector(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Collector{
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "node_latency_ms",
			Help:      "Node dispatch duration in milliseconds, by node type and status",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
		}, []string{"tenant_id", "node_type", "status"}),

		backtracksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "rubric_backtracks_total",
			Help:      "Auto-backtracks triggered by the rubric engine, by severity",
		}, []string{"tenant_id", "severity"}),

		consensusTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "consensus_decisions_total",
			Help:      "Parallel-branch consensus outcomes, by strategy and result",
		}, []string{"tenant_id", "strategy", "result"}),

		planReplansTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "plan_replans_total",
			Help:      "Plan revisions triggered by step failure",
		}, []string{"tenant_id", "node_id"}),

		leaseClaimsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "lease_claims_total",
			Help:      "Stale-lease claims made by the recovery sweeper",
		}, []string{"server_node_id"}),

		rpcLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "jsonrpc_round_trip_ms",
			Help:      "JSON-RPC sendRequest round-trip latency in milliseconds",
			Buckets:   []float64{5, 10, 50, 100, 500, 1000, 5000, 30000, 60000},
		}, []string{"method", "status"}),

		rpcTimeoutsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "jsonrpc_timeouts_total",
			Help:      "JSON-RPC requests that exceeded their timeout",
		}, []string{"method"}),

		inflightExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "inflight_executions",
			Help:      "Number of workflow executions currently in progress",
		}),
	}
}

func (c *Collector) RecordNodeLatency(tenantID, nodeType, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.nodeLatency.WithLabelValues(tenantID, nodeType, status).Observe(float64(d.Milliseconds()))
}

func (c *Collector) IncBacktrack(tenantID, severity string) {
	if c == nil {
		return
	}
	c.backtracksTotal.WithLabelValues(tenantID, severity).Inc()
}

func (c *Collector) IncConsensus(tenantID, strategy, result string) {
	if c == nil {
		return
	}
	c.consensusTotal.WithLabelValues(tenantID, strategy, result).Inc()
}

func (c *Collector) IncPlanReplan(tenantID, nodeID string) {
	if c == nil {
		return
	}
	c.planReplansTotal.WithLabelValues(tenantID, nodeID).Inc()
}

func (c *Collector) IncLeaseClaim(serverNodeID string) {
	if c == nil {
		return
	}
	c.leaseClaimsTotal.WithLabelValues(serverNodeID).Inc()
}

func (c *Collector) RecordRPCLatency(method, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.rpcLatency.WithLabelValues(method, status).Observe(float64(d.Milliseconds()))
}

func (c *Collector) IncRPCTimeout(method string) {
	if c == nil {
		return
	}
	c.rpcTimeoutsTotal.WithLabelValues(method).Inc()
}

func (c *Collector) SetInflightExecutions(n int) {
	if c == nil {
		return
	}
	c.inflightExecutions.Set(float64(n))
}
