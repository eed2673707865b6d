// Package metrics exposes Prometheus instrumentation for the API.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gavel_http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gavel_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	VotesCastTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gavel_votes_cast_total",
		Help: "Ballots accepted, including revisions of an earlier ballot.",
	})

	TalliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gavel_tallies_total",
		Help: "Completed tallies by outcome.",
	}, []string{"outcome"})
)

// ObserveRequest records one completed HTTP request.
func ObserveRequest(method, route string, status int, seconds float64) {
	RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	RequestDuration.WithLabelValues(route).Observe(seconds)
}

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
