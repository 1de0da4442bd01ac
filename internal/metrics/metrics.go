// Package metrics exposes tracker counters in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"keyword_tracker/internal/dispatch"
)

const namespace = "tracker"

// Source reports the dispatch queue counters.
type Source interface {
	Stats() dispatch.Stats
	Len() int
}

// NewRegistry returns a registry with the queue counters and the Go runtime
// collectors.
func NewRegistry(src Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		counter("messages_received_total", "Messages evaluated by the engine.", func(s dispatch.Stats) int64 { return s.Received }, src),
		counter("matches_total", "Messages that produced a match.", func(s dispatch.Stats) int64 { return s.Matched }, src),
		counter("faults_total", "Evaluations that recovered from a fault.", func(s dispatch.Stats) int64 { return s.Faulted }, src),
		counter("messages_dropped_total", "Messages dropped because the queue was full.", func(s dispatch.Stats) int64 { return s.Dropped }, src),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Jobs waiting in the dispatch queue.",
		}, func() float64 { return float64(src.Len()) }),
	)
	return reg
}

func counter(name, help string, pick func(dispatch.Stats) int64, src Source) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(pick(src.Stats())) })
}

// Handler serves the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Serve listens on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("metrics server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}
