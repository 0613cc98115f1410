// Package handler exposes the HTTP surface: threat operations, staff and
// patient CRUD, alert listing and search, access-log ingest and the privacy
// query endpoint.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"securehealth/internal/agent"
	"securehealth/internal/repository/scylla"
	"securehealth/internal/service"
	"securehealth/internal/threat"
	"securehealth/internal/util"
)

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta carries listing metadata.
type Meta struct {
	Total int    `json:"total,omitempty"`
	Day   string `json:"day,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

func respondWithJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func respondWithError(w http.ResponseWriter, logger *zap.Logger, statusCode int, err error, message string) {
	logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	respondWithJSON(w, logger, statusCode, errorResponse(err, message))
}

// getStatusCode maps domain errors onto HTTP status codes.
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, threat.ErrUserNotFound), errors.Is(err, scylla.ErrNotFound),
		errors.Is(err, agent.ErrUnknownActor):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidUserInput), errors.Is(err, service.ErrInvalidRole),
		errors.Is(err, service.ErrInvalidPatientInput), errors.Is(err, service.ErrInvalidEvent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
