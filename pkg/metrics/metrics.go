// Package metrics exposes Prometheus counters for the trust protocol.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the protocol counters for one server instance.
type Metrics struct {
	tokensIssued       *prometheus.CounterVec
	tokenValidations   *prometheus.CounterVec
	signedRequests     *prometheus.CounterVec
	replayRejections   prometheus.Counter
	ssoFlowTransitions *prometheus.CounterVec
}

// New builds and registers the metric set on the given registerer.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokensIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "centra",
				Subsystem: "token",
				Name:      "issued_total",
				Help:      "Identity tokens issued, by current tenant.",
			},
			[]string{"tenant"},
		),
		tokenValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "centra",
				Subsystem: "token",
				Name:      "validations_total",
				Help:      "Token validation outcomes.",
			},
			[]string{"outcome"},
		),
		signedRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "centra",
				Subsystem: "signing",
				Name:      "requests_total",
				Help:      "Signed machine-to-machine request outcomes.",
			},
			[]string{"outcome"},
		),
		replayRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "centra",
				Subsystem: "signing",
				Name:      "replay_rejections_total",
				Help:      "Requests rejected for reusing a request ID.",
			},
		),
		ssoFlowTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "centra",
				Subsystem: "sso",
				Name:      "flow_transitions_total",
				Help:      "SSO redirect flow outcomes.",
			},
			[]string{"state"},
		),
	}

	registerer.MustRegister(
		m.tokensIssued,
		m.tokenValidations,
		m.signedRequests,
		m.replayRejections,
		m.ssoFlowTransitions,
	)

	return m
}

func (m *Metrics) TokenIssued(tenant string) {
	m.tokensIssued.WithLabelValues(tenant).Inc()
}

func (m *Metrics) TokenValidated(outcome string) {
	m.tokenValidations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SignedRequest(outcome string) {
	m.signedRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReplayRejected() {
	m.replayRejections.Inc()
}

func (m *Metrics) SSOTransition(state string) {
	m.ssoFlowTransitions.WithLabelValues(state).Inc()
}
