package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"securehealth/internal/client"
	"securehealth/internal/repository/scylla"
)

// AlertHandler serves the alert dashboard: day listings from the system of
// record and free-text search from the index.
type AlertHandler struct {
	alerts scylla.AlertRepository
	search *client.ESClient
	logger *zap.Logger
}

func NewAlertHandler(alerts scylla.AlertRepository, search *client.ESClient, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{
		alerts: alerts,
		search: search,
		logger: logger,
	}
}

func (h *AlertHandler) RegisterRoutes(router chi.Router) {
	router.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.ListAlerts)
		r.Get("/search", h.SearchAlerts)
		r.Get("/{alertID}", h.GetAlertByID)
		r.Patch("/{alertID}/resolve", h.ResolveAlert)
	})
}

// ListAlerts returns one day's alerts, today by default (?day=2026-08-28).
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	if day == "" {
		day = scylla.DayKey(time.Now().UTC())
	} else if _, err := time.Parse("2006-01-02", day); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Day must be YYYY-MM-DD")
		return
	}

	alerts, err := h.alerts.ListAlertsByDay(r.Context(), day)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to list alerts")
		return
	}

	resp := successResponse(alerts, "Alerts retrieved successfully")
	resp.Meta = &Meta{Total: len(alerts), Day: day}
	respondWithJSON(w, h.logger, http.StatusOK, resp)
}

func (h *AlertHandler) GetAlertByID(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")
	if alertID == "" {
		respondWithError(w, h.logger, http.StatusBadRequest,
			errors.New("alert ID is required"), "Alert ID is required")
		return
	}

	alert, err := h.alerts.GetAlertByID(r.Context(), alertID)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to get alert")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(alert, "Alert retrieved successfully"))
}

func (h *AlertHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")
	if alertID == "" {
		respondWithError(w, h.logger, http.StatusBadRequest,
			errors.New("alert ID is required"), "Alert ID is required")
		return
	}

	if err := h.alerts.ResolveAlert(r.Context(), alertID); err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to resolve alert")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Alert resolved successfully"))
}

// SearchAlerts runs a query-string search over the alert index
// (?q=severity:critical&size=25).
func (h *AlertHandler) SearchAlerts(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		respondWithError(w, h.logger, http.StatusServiceUnavailable,
			errors.New("search index not configured"), "Alert search is unavailable")
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		respondWithError(w, h.logger, http.StatusBadRequest,
			errors.New("query is required"), "Query parameter q is required")
		return
	}

	size := 0
	if sizeStr := r.URL.Query().Get("size"); sizeStr != "" {
		parsed, err := strconv.Atoi(sizeStr)
		if err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, err, "Size must be an integer")
			return
		}
		size = parsed
	}

	hits, err := h.search.SearchAlerts(r.Context(), query, size)
	if err != nil {
		respondWithError(w, h.logger, http.StatusInternalServerError, err, "Alert search failed")
		return
	}

	resp := successResponse(hits, "Search completed")
	resp.Meta = &Meta{Total: len(hits)}
	respondWithJSON(w, h.logger, http.StatusOK, resp)
}
