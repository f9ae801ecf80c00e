// Package metrics exposes prometheus counters for token refreshes, revocations
// and account reconciliation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder groups the collectors. A nil *Recorder is valid and records nothing.
type Recorder struct {
	refreshTotal    *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	revokeTotal     *prometheus.CounterVec
	reconcileTotal  *prometheus.CounterVec
	gatherer        prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg uses a fresh private registry.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &Recorder{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkfox_token_refresh_total",
			Help: "Token freshness checks by provider and result",
		}, []string{"provider", "result"}), // result: cached|refreshed|reauth
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "linkfox_token_refresh_duration_seconds",
			Help:    "Latency of outbound refresh-token grants",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		revokeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkfox_token_revocations_total",
			Help: "Revocation calls by provider, token type hint and result",
		}, []string{"provider", "hint", "result"}), // result: ok|failed|skipped
		reconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkfox_reconcile_total",
			Help: "Provider sign-in reconciliations by provider and outcome",
		}, []string{"provider", "outcome"}),
		gatherer: reg,
	}
	reg.MustRegister(r.refreshTotal, r.refreshDuration, r.revokeTotal, r.reconcileTotal)
	return r
}

// Handler serves the registry in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Recorder) Refresh(provider, result string) {
	if r == nil {
		return
	}
	r.refreshTotal.WithLabelValues(provider, result).Inc()
}

func (r *Recorder) RefreshLatency(provider string, d time.Duration) {
	if r == nil {
		return
	}
	r.refreshDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (r *Recorder) Revocation(provider, hint, result string) {
	if r == nil {
		return
	}
	r.revokeTotal.WithLabelValues(provider, hint, result).Inc()
}

func (r *Recorder) Reconcile(provider, outcome string) {
	if r == nil {
		return
	}
	r.reconcileTotal.WithLabelValues(provider, outcome).Inc()
}
