package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"securehealth/internal/agent"
	"securehealth/internal/models"
	"securehealth/internal/threat"
	"securehealth/internal/util"
)

// ThreatHandler exposes the detection pipeline: manual scans, voice-triggered
// commands and manual user locks.
type ThreatHandler struct {
	engine *threat.Engine
	users  threat.UserDirectory
	logger *zap.Logger
}

func NewThreatHandler(engine *threat.Engine, users threat.UserDirectory, logger *zap.Logger) *ThreatHandler {
	return &ThreatHandler{
		engine: engine,
		users:  users,
		logger: logger,
	}
}

func (h *ThreatHandler) RegisterRoutes(router chi.Router) {
	router.Route("/threat", func(r chi.Router) {
		r.Post("/scan", h.Scan)
		r.Post("/voice", h.VoiceCommand)
	})
	router.Post("/users/{userID}/lock", h.LockUser)
}

type scanRequest struct {
	Ward        string `json:"ward,omitempty"`
	UserName    string `json:"user_name,omitempty"`
	TriggeredBy string `json:"triggered_by"`
}

// Scan runs one detection pass over the lookback window, optionally narrowed
// to a ward or an actor name.
func (h *ThreatHandler) Scan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	summary, err := h.engine.Scan(ctx, threat.ScanOptions{
		Ward:        req.Ward,
		UserName:    req.UserName,
		TriggeredBy: req.TriggeredBy,
	})
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Scan failed")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(summary, summary.Summary))
	h.logger.Info("Threat scan completed via HTTP",
		util.String("ward", req.Ward),
		util.String("user_name", req.UserName),
		util.Int("alerts_created", summary.AlertsCreated),
		util.Duration("duration", time.Since(startTime)),
	)
}

type voiceRequest struct {
	Transcript  string `json:"transcript"`
	TriggeredBy string `json:"triggered_by"`
}

type voiceResponse struct {
	Command agent.Command `json:"command"`
	Result  interface{}   `json:"result"`
}

// VoiceCommand parses a transcript into a structured command and dispatches
// it: lock commands resolve their target, everything else becomes a scan.
func (h *ThreatHandler) VoiceCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req voiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		respondWithError(w, h.logger, http.StatusBadRequest,
			errors.New("transcript is required"), "Transcript is required")
		return
	}

	cmd := agent.ParseVoiceCommand(req.Transcript)
	h.logger.Info("Voice command parsed",
		util.String("action", cmd.Action),
		util.String("ward", cmd.Ward),
		util.String("user_name", cmd.UserName),
	)

	switch cmd.Action {
	case agent.ActionLock:
		h.dispatchLock(ctx, w, cmd, req.TriggeredBy)

	default:
		summary, err := h.engine.Scan(ctx, threat.ScanOptions{
			Ward:        cmd.Ward,
			UserName:    cmd.UserName,
			TriggeredBy: req.TriggeredBy,
		})
		if err != nil {
			respondWithError(w, h.logger, getStatusCode(err), err, "Scan failed")
			return
		}
		respondWithJSON(w, h.logger, http.StatusOK,
			successResponse(voiceResponse{Command: cmd, Result: summary}, summary.Summary))
	}
}

func (h *ThreatHandler) dispatchLock(ctx context.Context, w http.ResponseWriter, cmd agent.Command, triggeredBy string) {
	userID := cmd.UserID
	if userID == "" {
		if cmd.UserName == "" {
			respondWithError(w, h.logger, http.StatusBadRequest,
				errors.New("lock command names no user"), "Could not determine who to lock")
			return
		}
		target, err := h.resolveByName(ctx, cmd.UserName)
		if err != nil {
			respondWithError(w, h.logger, getStatusCode(err), err, "Failed to resolve user")
			return
		}
		if target == nil {
			respondWithJSON(w, h.logger, http.StatusNotFound,
				errorResponse(errors.New("no matching user"), "No user matches "+cmd.UserName))
			return
		}
		userID = target.UserID
	}

	result, err := h.engine.LockUser(ctx, userID, triggeredBy)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Lock failed")
		return
	}

	respondWithJSON(w, h.logger, lockStatusCode(result.Status),
		successResponse(voiceResponse{Command: cmd, Result: result}, result.Message))
}

// resolveByName returns the single case-insensitive name match, or nil when
// no user matches. Ambiguous matches resolve to the first listed user.
func (h *ThreatHandler) resolveByName(ctx context.Context, name string) (*models.User, error) {
	users, err := h.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(name)
	for _, u := range users {
		if strings.Contains(strings.ToLower(u.Name), needle) {
			return u, nil
		}
	}
	return nil, nil
}

// LockUser applies a manual admin lock to a specific user.
func (h *ThreatHandler) LockUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondWithError(w, h.logger, http.StatusBadRequest,
			errors.New("user ID is required"), "User ID is required")
		return
	}

	var req struct {
		TriggeredBy string `json:"triggered_by"`
	}
	if r.Body != nil {
		// body is optional; a bare POST locks on behalf of "admin"
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "admin"
	}

	result, err := h.engine.LockUser(ctx, userID, req.TriggeredBy)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Lock failed")
		return
	}

	respondWithJSON(w, h.logger, lockStatusCode(result.Status), successResponse(result, result.Message))
	h.logger.Info("Manual lock via HTTP",
		util.String("user_id", userID),
		util.String("triggered_by", req.TriggeredBy),
		util.String("message", result.Message),
	)
}

func lockStatusCode(status threat.LockStatus) int {
	switch status {
	case threat.LockNotFound:
		return http.StatusNotFound
	default:
		return http.StatusOK
	}
}
