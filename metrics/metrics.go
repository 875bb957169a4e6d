// Package metrics exposes the three counters SPEC_FULL §11 names as
// ambient observability: claim conflicts, webhook delivery outcomes, and
// workflow step completions. Grounded on the teacher's module/metrics.go
// MetricsCollector (one *prometheus.Registry per process, CounterVec per
// signal, promhttp.HandlerFor for scraping), trimmed to this domain's three
// signals instead of the teacher's generic workflow/HTTP/module vectors.
// No HTTP request metrics are recorded, and httpapi does not log requests
// either.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder wraps the Prometheus vectors the automation engine and webhook
// emitter publish into. A nil *Recorder is valid everywhere it's accepted —
// every method on it is a safe no-op, so wiring it is optional.
type Recorder struct {
	registry *prometheus.Registry

	claimConflicts    *prometheus.CounterVec
	stepCompletions   *prometheus.CounterVec
	webhookDeliveries *prometheus.CounterVec
	webhookLatency    *prometheus.HistogramVec
}

// New creates a Recorder with its own registry, so tests can run several
// in parallel without colliding on the global default registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()

	claimConflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_claim_conflicts_total",
		Help: "Claim attempts on automation tasks that lost the race or hit an already-claimed task, by reason",
	}, []string{"reason"})

	stepCompletions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_step_completions_total",
		Help: "Workflow step completions, by step key and the task's required role",
	}, []string{"step_key", "role"})

	webhookDeliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Outbound webhook delivery attempts, by event name and outcome",
	}, []string{"event", "outcome"})

	webhookLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_delivery_duration_seconds",
		Help:    "Outbound webhook delivery latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})

	reg.MustRegister(claimConflicts, stepCompletions, webhookDeliveries, webhookLatency)

	return &Recorder{
		registry:          reg,
		claimConflicts:    claimConflicts,
		stepCompletions:   stepCompletions,
		webhookDeliveries: webhookDeliveries,
		webhookLatency:    webhookLatency,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordClaimConflict counts one lost claim — reason is the coreerr.Reason
// the caller observed ("lostClaimRace", "alreadyClaimed", ...).
func (r *Recorder) RecordClaimConflict(reason string) {
	if r == nil {
		return
	}
	r.claimConflicts.WithLabelValues(reason).Inc()
}

// RecordStepCompletion counts one workflow step reaching StepDone.
func (r *Recorder) RecordStepCompletion(stepKey, role string) {
	if r == nil {
		return
	}
	r.stepCompletions.WithLabelValues(stepKey, role).Inc()
}

// RecordWebhookDelivery counts one delivery attempt and its latency.
// outcome is "delivered", "skipped" (no url / duplicate event id), or
// "failed" (transport error or non-2xx).
func (r *Recorder) RecordWebhookDelivery(event, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.webhookDeliveries.WithLabelValues(event, outcome).Inc()
	r.webhookLatency.WithLabelValues(event).Observe(d.Seconds())
}
