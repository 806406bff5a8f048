package main

import (
	"crypto/hmac"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/xKeNcHii/shopee-webhook-receiver/runtimeconfig"
)

// registerDashboardRoutes mounts the operator API. Every endpoint sits
// behind the X-API-Key check.
func (a *App) registerDashboardRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/dashboard/events", a.requireAPIKey(a.handleDashboardEvents))
	mux.Handle("GET /api/dashboard/stats", a.requireAPIKey(a.handleDashboardStats))
	mux.Handle("GET /api/dashboard/queue/stats", a.requireAPIKey(a.handleDashboardQueue))
	mux.Handle("GET /api/dashboard/config", a.requireAPIKey(a.handleDashboardConfig))
	mux.Handle("PUT /api/dashboard/config/{section}", a.requireAPIKey(a.handleDashboardConfigUpdate))
}

func (a *App) requireAPIKey(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.config.DashboardAPIKey == "" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error": "dashboard api key not configured",
			})
			return
		}
		key := r.Header.Get("X-API-Key")
		if !hmac.Equal([]byte(key), []byte(a.config.DashboardAPIKey)) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": "invalid api key",
			})
			return
		}
		next(w, r)
	})
}

func (a *App) handleDashboardEvents(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = a.handler.audit.Today()
	}

	entries, err := a.handler.audit.ReadDay(date)
	if err != nil {
		a.logger.Error("failed to read audit log", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to read events"})
		return
	}

	// Newest entries win when a limit is given.
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"date":   date,
		"count":  len(entries),
		"events": entries,
	})
}

func (a *App) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = a.handler.audit.Today()
	}

	stats, err := a.handler.audit.Statistics(date)
	if err != nil {
		a.logger.Error("failed to compute event statistics", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to read events"})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (a *App) handleDashboardQueue(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"enabled":         a.producer != nil,
		"circuit_breaker": a.breaker.Snapshot(),
	}
	if a.notify != nil {
		payload["notifier"] = a.notify.Stats()
	}

	if a.producer != nil {
		stats, err := a.producer.Stats(r.Context())
		if err != nil {
			a.logger.Error("failed to read queue stats", slog.Any("error", err))
			payload["error"] = "queue stats unavailable"
		} else {
			payload["queue"] = stats
		}
	}

	writeJSON(w, http.StatusOK, payload)
}

func (a *App) handleDashboardConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sections": runtimeconfig.KnownSections(),
		"config":   a.runtime.Masked(),
	})
}

func (a *App) handleDashboardConfigUpdate(w http.ResponseWriter, r *http.Request) {
	section := r.PathValue("section")

	var values map[string]any
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	if err := a.runtime.UpdateSection(section, values); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	a.logger.Info("runtime config updated", slog.String("section", section))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "section": section})
}
