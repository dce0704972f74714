package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectern_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lectern_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	remindersEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectern_reminders_enqueued_total",
			Help: "Reminder ledger entries created, by trigger reason",
		},
		[]string{"reason"},
	)

	remindersSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectern_reminders_skipped_total",
			Help: "Reminders not enqueued, by reason and cause (disabled, duplicate)",
		},
		[]string{"reason", "cause"},
	)

	notificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectern_notifications_dispatched_total",
			Help: "Dispatch outcomes by terminal status",
		},
		[]string{"status"},
	)

	providerSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lectern_provider_send_duration_seconds",
			Help:    "Email provider call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	staleClaimsReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lectern_stale_claims_released_total",
			Help: "In-flight claims requeued after a dispatcher crash",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordReminderEnqueued records a created ledger entry.
func RecordReminderEnqueued(reason string) {
	remindersEnqueued.WithLabelValues(reason).Inc()
}

// RecordReminderSkipped records a reminder that produced no new entry.
func RecordReminderSkipped(reason, cause string) {
	remindersSkipped.WithLabelValues(reason, cause).Inc()
}

// RecordDispatched records a dispatch outcome.
func RecordDispatched(status string) {
	notificationsDispatched.WithLabelValues(status).Inc()
}

// RecordProviderSend records the latency of one provider call.
func RecordProviderSend(provider string, duration time.Duration) {
	providerSendDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordStaleClaimsReleased records requeued stale claims.
func RecordStaleClaimsReleased(count int64) {
	staleClaimsReleased.Add(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
