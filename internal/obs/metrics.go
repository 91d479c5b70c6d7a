package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/gauge/histogram the decision plane emits,
// grouped by the component named in spec §2.D and §4.J. All metrics are
// registered against the Context's registry at construction time so that
// duplicate registration errors surface immediately rather than at the
// first emit.
type Metrics struct {
	// Governance (§4.B)
	AICalls       *prometheus.CounterVec   // labels: agent, outcome
	AITokens      *prometheus.CounterVec   // labels: agent, kind (prompt|completion)
	AICostUSD     *prometheus.CounterVec   // labels: agent
	AIFallbacks   *prometheus.CounterVec   // labels: agent, reason
	AILatency     *prometheus.HistogramVec // labels: agent

	// Admin control plane (§4.J)
	HTTPRequests        *prometheus.CounterVec   // labels: method, route, status
	HTTPDuration        *prometheus.HistogramVec // labels: method, route
	AuthFailures        *prometheus.CounterVec   // labels: reason
	MutationActions     *prometheus.CounterVec   // labels: action
	Rollbacks           *prometheus.CounterVec   // labels: type
	ValidationErrors    *prometheus.CounterVec   // labels: route
	CircuitBreakerState *prometheus.GaugeVec     // labels: service; 0=closed,1=half_open,2=open
	IdempotencyHits     prometheus.Counter
}

// NewMetrics registers and returns the full metric set against reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := prometheus.WrapRegistererWithPrefix("prefctl_", reg)

	m := &Metrics{
		AICalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_ai_calls_total",
			Help: "Total LLM generation calls issued by governed agents.",
		}, []string{"agent", "outcome"}),
		AITokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_ai_tokens_total",
			Help: "Total tokens consumed by governed LLM calls.",
		}, []string{"agent", "kind"}),
		AICostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_ai_cost_usd_total",
			Help: "Total estimated USD cost of governed LLM calls.",
		}, []string{"agent"}),
		AIFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_ai_fallbacks_total",
			Help: "Total rule-based fallbacks triggered in place of an LLM response.",
		}, []string{"agent", "reason"}),
		AILatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "governance_ai_latency_seconds",
			Help:    "Latency of governed LLM generation calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent"}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_http_requests_total",
			Help: "Total admin HTTP requests.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "admin_http_request_duration_seconds",
			Help:    "Admin HTTP request duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_auth_failures_total",
			Help: "Total authentication failures on the admin API.",
		}, []string{"reason"}),
		MutationActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_mutation_actions_total",
			Help: "Total mutating admin actions performed.",
		}, []string{"action"}),
		Rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_rollbacks_total",
			Help: "Total rollbacks performed via the admin API.",
		}, []string{"type"}),
		ValidationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_validation_errors_total",
			Help: "Total request validation failures.",
		}, []string{"route"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=half_open, 2=open.",
		}, []string{"service"}),
		IdempotencyHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admin_idempotency_cache_hits_total",
			Help: "Total idempotency cache replays.",
		}),
	}

	factory.MustRegister(
		m.AICalls, m.AITokens, m.AICostUSD, m.AIFallbacks, m.AILatency,
		m.HTTPRequests, m.HTTPDuration, m.AuthFailures, m.MutationActions,
		m.Rollbacks, m.ValidationErrors, m.CircuitBreakerState, m.IdempotencyHits,
	)

	return m
}
