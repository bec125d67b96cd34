// Package metrics holds the prometheus collectors for engine decisions and
// HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// estimations counts estimator calls.
	// Labels: mode (incremental, submit), status (converged, fallback), reason
	estimations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cat",
		Subsystem: "engine",
		Name:      "estimations_total",
		Help:      "Ability estimations by mode and outcome",
	}, []string{"mode", "status", "reason"})

	selections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cat",
		Subsystem: "engine",
		Name:      "selections_total",
		Help:      "Items selected for administration",
	})

	completions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cat",
		Subsystem: "engine",
		Name:      "completions_total",
		Help:      "Next-step calls that found the pool exhausted",
	})

	submissions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cat",
		Subsystem: "engine",
		Name:      "submissions_total",
		Help:      "Attempts finalized",
	})

	// rejections counts requests refused by the engine.
	// Labels: kind (input, unavailable)
	rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cat",
		Subsystem: "engine",
		Name:      "rejections_total",
		Help:      "Requests rejected by error kind",
	}, []string{"kind"})

	upsertRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cat",
		Subsystem: "store",
		Name:      "upsert_conflicts_total",
		Help:      "First-insert races on ability rows resolved as updates",
	})

	finalTheta = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cat",
		Subsystem: "engine",
		Name:      "final_theta",
		Help:      "Distribution of fitted final theta at submission",
		Buckets:   prometheus.LinearBuckets(-4, 0.5, 17),
	})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cat",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route and status",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"route", "status"})
)

// RecordEstimation counts one estimator call.
func RecordEstimation(mode, status, reason string) {
	if reason == "" {
		reason = "none"
	}
	estimations.WithLabelValues(mode, status, reason).Inc()
}

func RecordSelection()  { selections.Inc() }
func RecordCompletion() { completions.Inc() }

// RecordSubmission counts a finalized attempt and observes its fitted theta.
func RecordSubmission(theta float64) {
	submissions.Inc()
	finalTheta.Observe(theta)
}

func RecordRejection(kind string) { rejections.WithLabelValues(kind).Inc() }

func RecordUpsertConflict() { upsertRetries.Inc() }

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// Middleware observes request latency labeled by the matched chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpLatency.WithLabelValues(route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
