package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"securehealth/internal/agent"
	"securehealth/internal/repository/scylla"
	"securehealth/internal/util"
)

// AgentHandler exposes the privacy-preserving query endpoint and the agent
// audit trail.
type AgentHandler struct {
	query    *agent.PrivacyQueryAgent
	commands scylla.CommandRepository
	logger   *zap.Logger
}

func NewAgentHandler(query *agent.PrivacyQueryAgent, commands scylla.CommandRepository, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{
		query:    query,
		commands: commands,
		logger:   logger,
	}
}

func (h *AgentHandler) RegisterRoutes(router chi.Router) {
	router.Route("/agents", func(r chi.Router) {
		r.Post("/query", h.Query)
		r.Get("/commands", h.ListCommands)
	})
}

type queryRequest struct {
	UserID   string `json:"user_id"`
	Question string `json:"question"`
}

// Query answers a natural-language question over the requester's visible
// slice of patient data.
func (h *AgentHandler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.UserID == "" || req.Question == "" {
		respondWithError(w, h.logger, http.StatusBadRequest,
			errors.New("user_id and question are required"), "user_id and question are required")
		return
	}

	result, err := h.query.Query(ctx, req.UserID, req.Question)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Query failed")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(result, "Query answered"))
	h.logger.Info("Privacy query answered via HTTP",
		util.String("user_id", req.UserID),
		util.String("scope", result.Scope),
		util.Duration("duration", time.Since(startTime)),
	)
}

// ListCommands returns one day's agent audit trail, today by default.
func (h *AgentHandler) ListCommands(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	if day == "" {
		day = scylla.DayKey(time.Now().UTC())
	} else if _, err := time.Parse("2006-01-02", day); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Day must be YYYY-MM-DD")
		return
	}

	commands, err := h.commands.ListCommandsByDay(r.Context(), day)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to list commands")
		return
	}

	resp := successResponse(commands, "Commands retrieved successfully")
	resp.Meta = &Meta{Total: len(commands), Day: day}
	respondWithJSON(w, h.logger, http.StatusOK, resp)
}
