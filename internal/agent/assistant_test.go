package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"securehealth/internal/config"
)

func assistantFor(endpoint string) *GeminiAssistant {
	return NewGeminiAssistant(config.AssistantConfig{
		APIKey:   "test-key",
		Endpoint: endpoint,
		Timeout:  2 * time.Second,
	}, zap.NewNop())
}

func TestAskMissingAPIKey(t *testing.T) {
	a := NewGeminiAssistant(config.AssistantConfig{Timeout: time.Second}, zap.NewNop())

	answer := a.Ask(context.Background(), "", "ctx", "question")
	assert.Contains(t, answer, "not configured")
}

func TestAskReturnsCandidateText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"42 patients"}]}}]}`))
	}))
	defer srv.Close()

	answer := assistantFor(srv.URL).Ask(context.Background(), "sys", "ctx", "how many?")
	assert.Equal(t, "42 patients", answer)
}

func TestAskRetriesOnceThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	answer := assistantFor(srv.URL).Ask(context.Background(), "", "ctx", "q")
	assert.Equal(t, "ok", answer)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAskDegradesAfterRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	answer := assistantFor(srv.URL).Ask(context.Background(), "", "ctx", "q")
	assert.Equal(t, assistantUnavailable, answer)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAskEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	answer := assistantFor(srv.URL).Ask(context.Background(), "", "ctx", "q")
	assert.Equal(t, assistantUnavailable, answer)
}
