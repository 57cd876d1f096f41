// Package metrics exposes token issuance and federated login counters to
// Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	auth "github.com/goliatone/go-auth-issuer"
	"github.com/goliatone/go-auth-issuer/federation"
)

const namespace = "auth"

// Collector records issuance and reconciliation outcomes.
type Collector struct {
	tokensIssued   *prometheus.CounterVec
	tokensFailed   *prometheus.CounterVec
	reconciled     *prometheus.CounterVec
	reconcileFails *prometheus.CounterVec
	avatarDegraded *prometheus.CounterVec
}

var (
	_ auth.IssuanceMetrics = (*Collector)(nil)
	_ federation.Metrics   = (*Collector)(nil)
)

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens issued, by operation and role.",
		}, []string{"operation", "role", "never_expires"}),
		tokensFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_failed_total",
			Help:      "Token issuance failures, by operation and role.",
		}, []string{"operation", "role"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "federated_logins_total",
			Help:      "Completed federated logins.",
		}, []string{"provider", "created"}),
		reconcileFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "federated_login_failures_total",
			Help:      "Failed federated logins, by the state that failed.",
		}, []string{"provider", "state"}),
		avatarDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "avatar_storage_degraded_total",
			Help:      "Avatar storage failures that were tolerated.",
		}, []string{"stage"}),
	}

	reg.MustRegister(
		c.tokensIssued,
		c.tokensFailed,
		c.reconciled,
		c.reconcileFails,
		c.avatarDegraded,
	)

	return c
}

func (c *Collector) TokenIssued(operation, role string, neverExpires bool) {
	c.tokensIssued.WithLabelValues(operation, role, strconv.FormatBool(neverExpires)).Inc()
}

func (c *Collector) TokenFailed(operation, role string) {
	c.tokensFailed.WithLabelValues(operation, role).Inc()
}

func (c *Collector) ReconciliationCompleted(provider string, created bool) {
	c.reconciled.WithLabelValues(provider, strconv.FormatBool(created)).Inc()
}

func (c *Collector) ReconciliationFailed(provider, state string) {
	c.reconcileFails.WithLabelValues(provider, state).Inc()
}

func (c *Collector) AvatarDegraded(stage string) {
	c.avatarDegraded.WithLabelValues(stage).Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
