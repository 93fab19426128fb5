package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telemetry-bridge/internal/hoststats"
)

type healthResponse struct {
	Status  string          `json:"status"`
	Service string          `json:"service"`
	Uptime  string          `json:"uptime"`
	Host    hoststats.Stats `json:"host"`
}

// newHealthMux serves /health (JSON with host stats) and /metrics.
func newHealthMux(gatherer prometheus.Gatherer, started time.Time, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:  "ok",
			Service: serviceName,
			Uptime:  time.Since(started).Round(time.Second).String(),
			Host:    hoststats.Collect(r.Context(), logger, 200*time.Millisecond),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("Failed to write health response", "error", err)
		}
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// serveHealth runs the server until ctx is cancelled.
func serveHealth(ctx context.Context, port string, handler http.Handler, logger *slog.Logger) {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("Health server listening", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Health server failed", "error", err)
	}
}
