package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects counters and histograms for the negotiation and payment
// flow. A nil *Metrics is valid and records nothing, so components can take
// it as an optional dependency.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.AgentCall("buyer", "success", time.Since(start))
type Metrics struct {
	// AgentCallCounter counts agent sessions.
	// Labels: agent (buyer|platform), status (success|error|saw_error)
	AgentCallCounter *prometheus.CounterVec

	// AgentCallDuration measures one full agent session including drain.
	// Labels: agent
	AgentCallDuration *prometheus.HistogramVec

	// NegotiationCounter counts finished negotiations.
	// Labels: outcome (agreed|timed_out|failed)
	NegotiationCounter *prometheus.CounterVec

	// NegotiationTurns observes how many exchanges a negotiation needed.
	NegotiationTurns prometheus.Histogram

	// PaymentCounter counts payment verdicts.
	// Labels: result (success|failure), evidence
	PaymentCounter *prometheus.CounterVec

	// PaymentRetries counts retry directives issued.
	PaymentRetries prometheus.Counter

	// ToolDecisionCounter counts authorizer decisions.
	// Labels: tool, decision (allow|deny)
	ToolDecisionCounter *prometheus.CounterVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP request latency.
	// Labels: method, path
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers every collector with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AgentCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_agent_calls_total",
				Help: "Total number of agent sessions by agent and status",
			},
			[]string{"agent", "status"},
		),
		AgentCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpay_agent_call_duration_seconds",
				Help:    "Duration of agent sessions in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"agent"},
		),
		NegotiationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_negotiations_total",
				Help: "Total number of negotiations by outcome",
			},
			[]string{"outcome"},
		),
		NegotiationTurns: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentpay_negotiation_turns",
				Help:    "Exchanges needed per negotiation",
				Buckets: prometheus.LinearBuckets(1, 2, 8),
			},
		),
		PaymentCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_payments_total",
				Help: "Total number of payment verdicts by result and evidence",
			},
			[]string{"result", "evidence"},
		),
		PaymentRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentpay_payment_retries_total",
				Help: "Total number of payment retry directives",
			},
		),
		ToolDecisionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_tool_decisions_total",
				Help: "Tool authorization decisions by tool and decision",
			},
			[]string{"tool", "decision"},
		),
		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpay_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"method", "path"},
		),
	}
}

func (m *Metrics) AgentCall(agent, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AgentCallCounter.WithLabelValues(agent, status).Inc()
	m.AgentCallDuration.WithLabelValues(agent).Observe(elapsed.Seconds())
}

func (m *Metrics) Negotiation(outcome string, turns int) {
	if m == nil {
		return
	}
	m.NegotiationCounter.WithLabelValues(outcome).Inc()
	m.NegotiationTurns.Observe(float64(turns))
}

func (m *Metrics) Payment(success bool, evidence string) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.PaymentCounter.WithLabelValues(result, evidence).Inc()
}

func (m *Metrics) PaymentRetry() {
	if m == nil {
		return
	}
	m.PaymentRetries.Inc()
}

func (m *Metrics) ToolDecision(tool string, allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.ToolDecisionCounter.WithLabelValues(tool, decision).Inc()
}

func (m *Metrics) HTTPRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
