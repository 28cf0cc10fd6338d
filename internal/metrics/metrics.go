// Package metrics exposes the engine's Prometheus collectors and a
// side-car HTTP server for /metrics and /healthz, kept off the public
// port so scrapes never compete with game traffic.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RoundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crashpit_rounds_total",
		Help: "Completed rounds.",
	})

	CrashPoint = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crashpit_crash_point",
		Help:    "Crash point distribution.",
		Buckets: []float64{1.0, 1.1, 1.2, 1.5, 2.0, 3.0, 5.0, 7.0, 10.0},
	})

	BetsPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crashpit_bets_placed_total",
		Help: "Accepted bets.",
	})

	BetsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crashpit_bets_rejected_total",
		Help: "Rejected bets by reason.",
	}, []string{"reason"})

	CashoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crashpit_cashouts_total",
		Help: "Successful cashouts.",
	})

	LossesSettledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crashpit_losses_settled_total",
		Help: "Bets settled as lost at crash.",
	})

	CurrentMultiplier = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crashpit_current_multiplier",
		Help: "Live multiplier of the running round, 0 outside Running.",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crashpit_connected_clients",
		Help: "Websocket subscribers.",
	})

	PersistRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crashpit_persist_retries_total",
		Help: "Durable-store writes that needed a retry.",
	})
)

type HealthFunc func(ctx context.Context) error

// StartServer runs a lightweight HTTP server for /metrics and /healthz
// in a goroutine and returns it for shutdown.
func StartServer(port string, healthFn HealthFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		if err := healthFn(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("unhealthy: %v", err)))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
