// Package metrics exposes Prometheus metrics of the auth edge.
package metrics

import (
	"time"

	"github.com/anihive/anihive/identity"
	"github.com/anihive/anihive/middleware/proxy"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "anihive"

// Collector records identity calls, proxy decisions, profile fetches and
// throttled submissions.
type Collector struct {
	identityCalls   *prometheus.CounterVec
	identityLatency *prometheus.HistogramVec
	proxyDecisions  *prometheus.CounterVec
	profileFetches  *prometheus.CounterVec
	rateLimited     prometheus.Counter
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		identityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_requests_total",
			Help:      "Requests sent to the identity service.",
		}, []string{"operation", "outcome"}),
		identityLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "identity_request_duration_seconds",
			Help:      "Latency of identity service requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		proxyDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_decisions_total",
			Help:      "Request proxy decisions.",
		}, []string{"action", "reason"}),
		profileFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_fetches_total",
			Help:      "Profile fetches by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Form submissions rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		c.identityCalls,
		c.identityLatency,
		c.proxyDecisions,
		c.profileFetches,
		c.rateLimited,
	)

	return c
}

// RecordIdentityCall records one identity service request.
func (c *Collector) RecordIdentityCall(op string, elapsed time.Duration, err error) {
	c.identityCalls.WithLabelValues(op, identityOutcome(err)).Inc()
	c.identityLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// IdentityObserver adapts the collector to identity.WithObserver.
func (c *Collector) IdentityObserver() identity.Observer {
	return c.RecordIdentityCall
}

// RecordDecision records a proxy decision. Its signature matches
// proxy.Config.OnDecision.
func (c *Collector) RecordDecision(_ *fiber.Ctx, _ proxy.NavigationMatch, d proxy.Decision) {
	c.proxyDecisions.WithLabelValues(d.Action.String(), d.Reason).Inc()
}

// RecordProfileFetch records how a profile fetch ended.
func (c *Collector) RecordProfileFetch(outcome string) {
	c.profileFetches.WithLabelValues(outcome).Inc()
}

// RecordRateLimited counts one throttled request.
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// Handler serves the metrics of gatherer to Prometheus.
func Handler(gatherer prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

func identityOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case identity.IsStatus(err, 429):
		return "rate_limited"
	case identity.IsAuthError(err):
		return "rejected"
	default:
		return "error"
	}
}
