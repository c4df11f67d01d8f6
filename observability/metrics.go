package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BrokerMetrics records request-broker activity: how inbound methods were
// classified, how approvals settled and how WalletConnect sessions fared.
type BrokerMetrics struct {
	requests  *prometheus.CounterVec
	approvals *prometheus.CounterVec
	sessions  *prometheus.CounterVec
}

var (
	brokerOnce     sync.Once
	brokerRegistry *BrokerMetrics
)

// Broker returns the lazily-initialised broker metrics registry.
func Broker() *BrokerMetrics {
	brokerOnce.Do(func() {
		brokerRegistry = &BrokerMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "walletd",
				Subsystem: "broker",
				Name:      "requests_total",
				Help:      "Total routed requests segmented by classification bucket and outcome.",
			}, []string{"bucket", "outcome"}),
			approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "walletd",
				Subsystem: "broker",
				Name:      "approvals_total",
				Help:      "Total settled user approvals segmented by kind and outcome.",
			}, []string{"kind", "outcome"}),
			sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "walletd",
				Subsystem: "walletconnect",
				Name:      "sessions_total",
				Help:      "WalletConnect session proposals segmented by protocol version and outcome.",
			}, []string{"version", "outcome"}),
		}
		prometheus.MustRegister(
			brokerRegistry.requests,
			brokerRegistry.approvals,
			brokerRegistry.sessions,
		)
	})
	return brokerRegistry
}

// RecordRequest counts one routed request.
func (m *BrokerMetrics) RecordRequest(bucket string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(bucket, outcome).Inc()
}

// RecordApproval counts one settled approval.
func (m *BrokerMetrics) RecordApproval(kind, outcome string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(kind, outcome).Inc()
}

// RecordSession counts one terminal WalletConnect proposal transition.
func (m *BrokerMetrics) RecordSession(version, outcome string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(version, outcome).Inc()
}
