package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"telemetry-bridge/internal/archive"
)

// maxRange bounds history requests.
const maxRange = 31 * 24 * time.Hour

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// LastValues reads the hot store.
type LastValues interface {
	All(ctx context.Context) (map[string]float64, error)
}

// HistoryReader reads the snapshot history.
type HistoryReader interface {
	History(ctx context.Context, key string, d time.Duration) ([]archive.Point, error)
}

type APIHandler struct {
	last    LastValues
	history HistoryReader
	logger  *slog.Logger
}

func NewAPIHandler(last LastValues, history HistoryReader, logger *slog.Logger) *APIHandler {
	return &APIHandler{last: last, history: history, logger: logger}
}

func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/telemetry", h.handleLast)
	mux.HandleFunc("GET /api/telemetry/{key}/history", h.handleHistory)
}

// handleLast: GET /api/telemetry
func (h *APIHandler) handleLast(w http.ResponseWriter, r *http.Request) {
	values, err := h.last.All(r.Context())
	if err != nil {
		h.logger.Error("Failed to read last values", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, values)
}

// handleHistory: GET /api/telemetry/{key}/history?range=24h
func (h *APIHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !keyPattern.MatchString(key) {
		http.Error(w, "invalid telemetry key", http.StatusBadRequest)
		return
	}

	rangeParam := r.URL.Query().Get("range")
	if rangeParam == "" {
		rangeParam = "24h"
	}
	d, err := time.ParseDuration(rangeParam)
	if err != nil || d <= 0 || d > maxRange {
		http.Error(w, "invalid range (e.g. 1h, 30m, 24h)", http.StatusBadRequest)
		return
	}

	points, err := h.history.History(r.Context(), key, d)
	if err != nil {
		h.logger.Error("Failed to read history", "key", key, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, points)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to write JSON response", "error", err)
	}
}

// CorsMiddleware lets the dashboard call the API from another origin.
func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
