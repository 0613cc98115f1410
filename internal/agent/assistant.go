package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"securehealth/internal/config"
	"securehealth/internal/util"
)

// Assistant is the opaque text-in/text-out language model boundary.
type Assistant interface {
	Ask(ctx context.Context, system, contextText, question string) string
}

// GeminiAssistant calls the Gemini REST generateContent endpoint. The upstream
// call is treated as unreliable by design: one retry, then a
// failure-describing string instead of an error, so assistant outages degrade
// a query response without failing the request.
type GeminiAssistant struct {
	cfg    config.AssistantConfig
	client *http.Client
	logger *zap.Logger
}

func NewGeminiAssistant(cfg config.AssistantConfig, logger *zap.Logger) *GeminiAssistant {
	return &GeminiAssistant{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

const assistantUnavailable = "The query assistant is currently unavailable. Please try again later."

// Ask sends the question with its aggregate context and returns the answer
// text, or a failure-describing string after one retry.
func (g *GeminiAssistant) Ask(ctx context.Context, system, contextText, question string) string {
	if g.cfg.APIKey == "" {
		return "The query assistant is not configured (missing API key)."
	}

	prompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, question)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		answer, err := g.call(ctx, system, prompt)
		if err == nil {
			return answer
		}
		lastErr = err
	}

	g.logger.Warn("assistant call failed after retry", util.ErrorField(lastErr))
	return assistantUnavailable
}

func (g *GeminiAssistant) call(ctx context.Context, system, prompt string) (string, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	}
	if system != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal assistant request: %w", err)
	}

	url := fmt.Sprintf("%s?key=%s", g.cfg.Endpoint, g.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build assistant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("assistant request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read assistant response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("assistant returned status %d", res.StatusCode)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse assistant response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("assistant returned no candidates")
	}

	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
