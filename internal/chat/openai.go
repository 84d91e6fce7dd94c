package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rogeecn/fub-assistant/pkg/types"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultModel         = "gpt-4o-mini"

	completionMaxTokens   = 128
	completionTemperature = 0.6
	maxCompletionBody     = 1 << 20
)

var ErrCompletion = errors.New("chat completion failed")

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// OpenAIClient calls the chat completions endpoint directly; only the
// non-streaming call is needed.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &OpenAIClient{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
	}
}

// Complete sends messages and returns the first choice's text, which may be
// empty.
func (c *OpenAIClient) Complete(ctx context.Context, messages []types.Message) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: api key not configured", ErrCompletion)
	}

	payload, err := json.Marshal(types.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   types.Int(completionMaxTokens),
		Temperature: types.Float64(completionTemperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completions: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("chat completions: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: send request: %v", ErrCompletion, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCompletionBody))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrCompletion, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status=%d message=%s", ErrCompletion, resp.StatusCode, errorMessage(body))
	}

	var parsed types.ChatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrCompletion, err)
	}
	return parsed.FirstContent(), nil
}

func errorMessage(body []byte) string {
	var payload types.ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return "unrecognized error body"
}
