package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	templatesForked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkin_templates_forked_total",
		Help: "System templates forked into coach templates.",
	})
	templatesUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkin_templates_updated_total",
		Help: "Coach templates edited in place.",
	})
	assignmentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkin_assignments_created_total",
		Help: "Assignments sent to trainees.",
	})
	answersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_answers_submitted_total",
		Help: "Answer submissions by outcome.",
	}, []string{"result"})
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkin_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

// instrument records request latency under the matched chi route pattern so
// ids in the path do not explode label cardinality.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		requestDuration.WithLabelValues(route, r.Method, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

func submitResult(err error) string {
	if err == nil {
		return "ok"
	}
	if code := errorCode(err); code != "" {
		return code
	}
	return "error"
}
