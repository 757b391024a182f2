// Package middleware provides reusable HTTP middleware for request IDs,
// Prometheus metrics, rate limiting and request timeouts.
package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conceptrank/conceptrank/pkg/metrics"
)

// Metrics instruments next with the HTTP request counter, latency histogram
// and in-flight gauge. The path label is normalised by normalizePath; one
// instrumented handler is built per distinct label and reused.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		inFlight := promhttp.InstrumentHandlerInFlight(m.HTTPRequestsInFlight, next)
		var byPath sync.Map
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := normalizePath(r.URL.Path)
			h, ok := byPath.Load(path)
			if !ok {
				labels := prometheus.Labels{"path": path}
				h, _ = byPath.LoadOrStore(path, promhttp.InstrumentHandlerDuration(
					m.HTTPRequestDuration.MustCurryWith(labels),
					promhttp.InstrumentHandlerCounter(m.HTTPRequestsTotal.MustCurryWith(labels), inFlight),
				))
			}
			h.(http.Handler).ServeHTTP(w, r)
		})
	}
}

// normalizePath keeps label cardinality bounded: per-field stats routes
// collapse to their pattern and paths outside the API collapse to "other".
func normalizePath(path string) string {
	const statsPrefix = "/api/v1/stats/"
	switch {
	case strings.HasPrefix(path, statsPrefix) && len(path) > len(statsPrefix):
		return statsPrefix + "{field}"
	case strings.HasPrefix(path, "/api/"), strings.HasPrefix(path, "/health/"):
		return path
	default:
		return "other"
	}
}
