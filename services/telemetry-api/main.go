// Command telemetry-api serves the telemetry archived by telemetry-bridge:
// the latest value of every key and per-key history for charts.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telemetry-bridge/internal/archive"
)

func main() {
	cfg := LoadConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("Starting telemetry API", "port", cfg.HTTPPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := archive.OpenPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("Cannot connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// The API may come up before the bridge has created the table.
	snapshots := archive.NewSnapshots(pool)
	if _, err := snapshots.EnsureSchema(ctx); err != nil {
		logger.Error("Cannot prepare snapshot table", "error", err)
		os.Exit(1)
	}

	rdb, err := archive.OpenValkey(ctx, cfg.ValkeyAddr)
	if err != nil {
		logger.Error("Cannot connect to Valkey", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Read-only here; the TTL only applies to writes.
	api := NewAPIHandler(archive.NewLatest(rdb, 0), snapshots, logger)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           CorsMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("HTTP server listening", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Stopped")
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
