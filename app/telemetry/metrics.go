package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RunsTotal        = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingestion_runs_total", Help: "Ingestion runs started"})
	RunFailures      = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingestion_run_failures_total", Help: "Ingestion runs that failed at the fetch stage"})
	PostsProcessed   = prometheus.NewCounter(prometheus.CounterOpts{Name: "posts_processed_total", Help: "Posts handed to workers"})
	PostsDuplicate   = prometheus.NewCounter(prometheus.CounterOpts{Name: "posts_duplicate_total", Help: "Posts skipped as already seen"})
	TicketsFound     = prometheus.NewCounter(prometheus.CounterOpts{Name: "tickets_found_total", Help: "Positive resale classifications persisted"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "search_rate_limit_rejects_total", Help: "Search requests rejected by the rate limiter"})
	StreamClients    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "stream_clients", Help: "Connected event stream subscribers"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RunsTotal,
			RunFailures,
			PostsProcessed,
			PostsDuplicate,
			TicketsFound,
			RateLimitRejects,
			StreamClients,
		)
	})
	return promhttp.Handler()
}
