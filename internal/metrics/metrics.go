// Package metrics exposes Prometheus instrumentation for the
// coordination core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lockAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coordd_lock_acquisitions_total",
		Help: "Lock acquisition attempts by outcome",
	}, []string{"outcome"}) // outcome=acquired|extended|lock_held|race_condition|error

	lockReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coordd_lock_releases_total",
		Help: "Lock release attempts by outcome",
	}, []string{"outcome"}) // outcome=released|not_owner|not_found|error

	heartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coordd_heartbeats_total",
		Help: "Total number of session heartbeats recorded",
	})

	sessionsKnown = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coordd_sessions_known",
		Help: "Sessions observed in the last status enumeration, by tier",
	}, []string{"status"})

	backendErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coordd_backend_errors_total",
		Help: "Total number of transient backend failures surfaced to callers",
	})
)

// RecordAcquire counts a lock acquisition attempt.
func RecordAcquire(outcome string) {
	lockAcquisitionsTotal.WithLabelValues(outcome).Inc()
}

// RecordRelease counts a lock release attempt.
func RecordRelease(outcome string) {
	lockReleasesTotal.WithLabelValues(outcome).Inc()
}

// RecordHeartbeat counts a session heartbeat.
func RecordHeartbeat() {
	heartbeatsTotal.Inc()
}

// SetSessionsKnown records the tier distribution from a status sweep.
func SetSessionsKnown(byStatus map[string]int) {
	sessionsKnown.Reset()
	for status, n := range byStatus {
		sessionsKnown.WithLabelValues(status).Set(float64(n))
	}
}

// RecordBackendError counts a transient backend failure.
func RecordBackendError() {
	backendErrorsTotal.Inc()
}
