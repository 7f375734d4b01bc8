// Package metrics exposes service metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/lock"
	"github.com/kamalcharan/contractnest-auth/pkg/oauthbridge"
	"github.com/kamalcharan/contractnest-auth/pkg/tenant"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contractnest_auth"

// Collector records lock, oauth, tenant and HTTP metrics.
type Collector struct {
	lockTransitions *prometheus.CounterVec
	unlockAttempts  *prometheus.CounterVec
	blocks          prometheus.Counter
	oauthCallbacks  *prometheus.CounterVec
	tenantSwitches  prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

var (
	_ lock.Recorder        = (*Collector)(nil)
	_ oauthbridge.Recorder = (*Collector)(nil)
)

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		lockTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_transitions_total",
			Help:      "Session lock state transitions.",
		}, []string{"from", "to"}),
		unlockAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlock_attempts_total",
			Help:      "Unlock attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_blocks_total",
			Help:      "Sessions blocked after too many failed unlock attempts.",
		}),
		oauthCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_callbacks_total",
			Help:      "OAuth callbacks by flow and outcome.",
		}, []string{"flow", "outcome"}),
		tenantSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_switches_total",
			Help:      "Tenant switches that changed the current tenant.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.lockTransitions,
		c.unlockAttempts,
		c.blocks,
		c.oauthCallbacks,
		c.tenantSwitches,
		c.httpRequests,
		c.httpDuration,
	)
	return c
}

// Transition implements lock.Recorder.
func (c *Collector) Transition(from, to lock.Kind) {
	c.lockTransitions.WithLabelValues(string(from), string(to)).Inc()
	if to == lock.KindBlocked {
		c.blocks.Inc()
	}
}

// UnlockAttempt implements lock.Recorder.
func (c *Collector) UnlockAttempt(method domain.AuthMethodKind, outcome lock.Outcome) {
	c.unlockAttempts.WithLabelValues(string(method), string(outcome)).Inc()
}

// OAuthCallback implements oauthbridge.Recorder.
func (c *Collector) OAuthCallback(flow oauthbridge.Flow, outcome string) {
	if flow == "" {
		flow = "unknown"
	}
	c.oauthCallbacks.WithLabelValues(string(flow), outcome).Inc()
}

// TenantSwitched counts a tenant switch. It has the signature of a
// tenant.Switcher subscriber.
func (c *Collector) TenantSwitched(tenant.Event) {
	c.tenantSwitches.Inc()
}

// Middleware records request counts and latency by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
