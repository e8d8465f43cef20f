// Package metrics holds the Prometheus collectors for the auth service. A nil
// *Metrics is valid and records nothing, so components can be built without a
// registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for LoginAttempts.
const (
	OutcomeSuccess     = "success"
	OutcomeInvalid     = "invalid_credentials"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

type Metrics struct {
	LoginAttempts     *prometheus.CounterVec
	RateLimitDecision *prometheus.CounterVec
	RateLimitFallback *prometheus.CounterVec
	SessionsRevoked   prometheus.Counter
	TokensBlacklisted prometheus.Counter
	PasswordResets    *prometheus.CounterVec
	HousekeepingPurge *prometheus.CounterVec
}

// New creates the auth metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atrium_login_attempts_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		RateLimitDecision: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atrium_ratelimit_decisions_total",
				Help: "Rate limit checks by category and decision",
			},
			[]string{"category", "decision"},
		),
		RateLimitFallback: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atrium_ratelimit_fallback_total",
				Help: "Counter operations served by the in-process fallback, by reason",
			},
			[]string{"reason"},
		),
		SessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atrium_sessions_revoked_total",
			Help: "Sessions moved to revoked",
		}),
		TokensBlacklisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atrium_tokens_blacklisted_total",
			Help: "Access tokens added to the blacklist",
		}),
		PasswordResets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atrium_password_resets_total",
				Help: "Password reset requests and confirmations by stage",
			},
			[]string{"stage"},
		),
		HousekeepingPurge: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atrium_housekeeping_purged_total",
				Help: "Rows removed by housekeeping, by table",
			},
			[]string{"table"},
		),
	}

	reg.MustRegister(
		m.LoginAttempts,
		m.RateLimitDecision,
		m.RateLimitFallback,
		m.SessionsRevoked,
		m.TokensBlacklisted,
		m.PasswordResets,
		m.HousekeepingPurge,
	)
	return m
}

// NewRegistry returns a registry carrying the Go and process collectors plus
// the auth metrics.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry, New(registry)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RateLimit(category string, allowed bool) {
	if m == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "rejected"
	}
	m.RateLimitDecision.WithLabelValues(category, decision).Inc()
}

func (m *Metrics) Fallback(reason string) {
	if m == nil {
		return
	}
	m.RateLimitFallback.WithLabelValues(reason).Inc()
}

func (m *Metrics) Revoked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsRevoked.Add(float64(n))
}

func (m *Metrics) Blacklisted() {
	if m == nil {
		return
	}
	m.TokensBlacklisted.Inc()
}

func (m *Metrics) PasswordReset(stage string) {
	if m == nil {
		return
	}
	m.PasswordResets.WithLabelValues(stage).Inc()
}

func (m *Metrics) Purged(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.HousekeepingPurge.WithLabelValues(table).Add(float64(n))
}
