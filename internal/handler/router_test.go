package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRouter() http.Handler {
	logger := zap.NewNop()
	return NewRouter(Handlers{
		Threat:   &ThreatHandler{logger: logger},
		Users:    &UserHandler{logger: logger},
		Patients: &PatientHandler{logger: logger},
		Alerts:   &AlertHandler{logger: logger},
		Logs:     &LogHandler{logger: logger},
		Agents:   &AgentHandler{logger: logger},
	}, logger)
}

func TestRouterHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	testRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"securehealth"}`, rec.Body.String())
}

func TestRouterUnknownEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	rec := httptest.NewRecorder()

	testRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"endpoint not found"}`, rec.Body.String())
}

func TestRouterMethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/threat/scan", nil)
	rec := httptest.NewRecorder()

	testRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouterRejectsMalformedScanBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/threat/scan", nil)
	rec := httptest.NewRecorder()

	testRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
