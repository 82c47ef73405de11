// Package metrics holds the Prometheus instrumentation shared by the
// control plane, host agents and proxies.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all data-plane metrics.
type Registry struct {
	// Policy evaluation
	Evaluations    *prometheus.CounterVec // protocol, function, decision
	EvalDuration   *prometheus.HistogramVec
	EvalErrors     *prometheus.CounterVec
	PolicyUpdates  *prometheus.CounterVec // protocol
	PolicyFailures prometheus.Counter

	// Proxy traffic
	Connections  *prometheus.CounterVec // protocol
	DeniedTotal  *prometheus.CounterVec // protocol
	BytesSent    prometheus.Counter
	BytesRecv    prometheus.Counter
	MetaSealed   prometheus.Counter
	MetaOpened   prometheus.Counter
	MetaRejected prometheus.Counter

	// Control hierarchy
	Frames       *prometheus.CounterVec // direction
	Instances    prometheus.Gauge
	PolicyPushes *prometheus.CounterVec // outcome
	APIRequests  *prometheus.CounterVec // endpoint, code
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "armour", Subsystem: "policy", Name: "evaluations_total",
		Help: "Policy entry point evaluations by decision.",
	}, []string{"protocol", "function", "decision"})
	r.EvalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "armour", Subsystem: "policy", Name: "evaluation_seconds",
		Help:    "Policy evaluation latency.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"protocol", "function"})
	r.EvalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "armour", Subsystem: "policy", Name: "evaluation_errors_total",
		Help: "Evaluations that ended in an error.",
	}, []string{"protocol", "function"})
	r.PolicyUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "armour", Subsystem: "policy", Name: "updates_total",
		Help: "Successful policy installations.",
	}, []string{"protocol"})
	r.PolicyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "armour", Subsystem: "policy", Name: "update_failures_total",
		Help: "Policy installations rejected at load.",
	})

	r.Connections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "armour", Subsystem: "proxy", Name: "connections_total",
		Help: "Intercepted connections and requests.",
	}, []string{"protocol"})
	r.DeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "armour", Subsystem: "proxy", Name: "denied_total",
		Help: "Blocked connections and requests.",
	}, []string{"protocol"})
	r.BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "armour", Subsystem: "proxy", Name: "bytes_sent_total",
		Help: "Bytes forwarded to upstreams.",
	})
	r.BytesRecv = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "armour", Subsystem: "proxy", Name: "bytes_received_total",
		Help: "Bytes returned to clients.",
	})
	r.MetaSealed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "armour", Subsystem: "meta", Name: "sealed_total",
		Help: "Egress metadata headers produced.",
	})
	r.MetaOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "armour", Subsystem: "meta", Name: "opened_total",
		Help: "Ingress metadata headers accepted.",
	})
	r.MetaRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "armour", Subsystem: "meta", Name: "rejected_total",
		Help: "Ingress metadata headers that failed to open.",
	})

	r.Frames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "armour", Subsystem: "codec", Name: "frames_total",
		Help: "Frames exchanged on host-proxy streams.",
	}, []string{"direction"})
	r.Instances = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "armour", Subsystem: "host", Name: "instances",
		Help: "Connected proxy instances.",
	})
	r.PolicyPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "armour", Subsystem: "control", Name: "policy_pushes_total",
		Help: "Policy pushes from the control plane to hosts.",
	}, []string{"outcome"})
	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "armour", Subsystem: "api", Name: "requests_total",
		Help: "REST requests by endpoint and status code.",
	}, []string{"endpoint", "code"})

	return r
}
