package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"securehealth/internal/service"
	"securehealth/internal/util"
)

const defaultLogWindow = 24 * time.Hour

// LogHandler accepts access-event batches from audit producers and serves raw
// window reads for investigation.
type LogHandler struct {
	events *service.EventService
	logger *zap.Logger
}

func NewLogHandler(events *service.EventService, logger *zap.Logger) *LogHandler {
	return &LogHandler{
		events: events,
		logger: logger,
	}
}

func (h *LogHandler) RegisterRoutes(router chi.Router) {
	router.Route("/logs", func(r chi.Router) {
		r.Post("/", h.IngestLogs)
		r.Get("/", h.ListLogs)
	})
}

// IngestLogs appends a batch of access events. All-or-nothing: a malformed
// row rejects the whole batch.
func (h *LogHandler) IngestLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var inputs []service.EventInput
	if err := json.NewDecoder(r.Body).Decode(&inputs); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if len(inputs) == 0 {
		respondWithError(w, h.logger, http.StatusBadRequest,
			errors.New("empty batch"), "No events to ingest")
		return
	}

	count, err := h.events.Ingest(ctx, inputs)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to ingest events")
		return
	}

	respondWithJSON(w, h.logger, http.StatusCreated,
		successResponse(map[string]int{"ingested": count}, "Events ingested successfully"))
	h.logger.Info("Access events ingested via HTTP",
		util.Int("count", count),
		util.Duration("duration", time.Since(startTime)),
	)
}

// ListLogs returns raw events for a window (?from=&to=, RFC 3339). Defaults
// to the last 24 hours.
func (h *LogHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.Add(-defaultLogWindow)

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		parsed, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, err, "from must be RFC 3339")
			return
		}
		from = parsed
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		parsed, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, err, "to must be RFC 3339")
			return
		}
		to = parsed
	}
	if !from.Before(to) {
		respondWithError(w, h.logger, http.StatusBadRequest,
			errors.New("from must precede to"), "Invalid time window")
		return
	}

	events, err := h.events.QueryWindow(r.Context(), from, to)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to query events")
		return
	}

	resp := successResponse(events, "Events retrieved successfully")
	resp.Meta = &Meta{Total: len(events)}
	respondWithJSON(w, h.logger, http.StatusOK, resp)
}
