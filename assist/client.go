package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModelID = "gpt-4o-mini"
)

// ErrProviderUnavailable marks a generation provider that cannot be used at
// all (credentials missing), as opposed to a transient call failure.
var ErrProviderUnavailable = errors.New("assist: generation provider is not configured")

// ErrNoChoices is returned when the provider answers 200 with an empty
// choice list.
var ErrNoChoices = errors.New("assist: response contains no choices")

// Generator is the capability interface for answer synthesis. The production
// implementation speaks an OpenAI-compatible chat completions API.
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (ChatResult, error)
	ModelID() string
	Provider() string
}

// ChatClient wraps the HTTP calls to an OpenAI-compatible chat completions API.
type ChatClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	modelID    string
	provider   string
}

// NewChatClientFromEnv constructs a ChatClient using environment variables.
//
// Expected variables:
//   - LLM_API_KEY: required API key for the provider
//   - LLM_BASE_URL: optional override for the API base URL (defaults to defaultBaseURL)
//   - LLM_MODEL_ID: optional override for the target model (defaults to defaultModelID)
//   - LLM_PROVIDER: optional provider label recorded in the usage ledger
func NewChatClientFromEnv() (*ChatClient, error) {
	apiKey := strings.TrimSpace(os.Getenv("LLM_API_KEY"))
	if apiKey == "" {
		return nil, ErrProviderUnavailable
	}

	baseURL := strings.TrimSpace(os.Getenv("LLM_BASE_URL"))
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("assist: invalid base URL %q", baseURL)
	}

	modelID := strings.TrimSpace(os.Getenv("LLM_MODEL_ID"))
	if modelID == "" {
		modelID = defaultModelID
	}

	provider := strings.TrimSpace(os.Getenv("LLM_PROVIDER"))
	if provider == "" {
		provider = "openai-compatible"
	}

	return &ChatClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		modelID:    modelID,
		provider:   provider,
	}, nil
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string                  `json:"model"`
	Stream      bool                    `json:"stream"`
	Temperature *float64                `json:"temperature,omitempty"`
	Messages    []chatCompletionMessage `json:"messages"`
}

type chatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
	} `json:"choices"`
	Usage *chatCompletionUsage `json:"usage"`
}

// ChatUsage captures token usage metrics returned by the provider.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResult represents the content and usage information for a completion.
type ChatResult struct {
	Content string
	Usage   *ChatUsage
}

func (c *ChatClient) ModelID() string {
	if c == nil {
		return ""
	}
	return c.modelID
}

func (c *ChatClient) Provider() string {
	if c == nil {
		return ""
	}
	return c.provider
}

// Complete sends a system/user prompt pair to the chat completions API and
// returns the first assistant reply with usage metrics.
func (c *ChatClient) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (ChatResult, error) {
	if c == nil {
		return ChatResult{}, ErrProviderUnavailable
	}
	user := strings.TrimSpace(userPrompt)
	if user == "" {
		return ChatResult{}, errors.New("assist: user prompt cannot be empty")
	}

	payload := chatCompletionRequest{
		Model:  c.modelID,
		Stream: false,
	}
	if temperature > 0 {
		t := temperature
		payload.Temperature = &t
	}
	if system := strings.TrimSpace(systemPrompt); system != "" {
		payload.Messages = append(payload.Messages, chatCompletionMessage{Role: "system", Content: system})
	}
	payload.Messages = append(payload.Messages, chatCompletionMessage{Role: "user", Content: user})

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return ChatResult{}, fmt.Errorf("assist: encode request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return ChatResult{}, fmt.Errorf("assist: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ChatResult{}, fmt.Errorf("assist: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return ChatResult{}, fmt.Errorf("assist: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ChatResult{}, fmt.Errorf("assist: decode response: %w", err)
	}

	if len(decoded.Choices) == 0 {
		return ChatResult{}, ErrNoChoices
	}

	return ChatResult{
		Content: strings.TrimSpace(decoded.Choices[0].Message.Content),
		Usage:   convertUsage(decoded.Usage),
	}, nil
}

func convertUsage(raw *chatCompletionUsage) *ChatUsage {
	if raw == nil {
		return nil
	}
	return &ChatUsage{
		PromptTokens:     raw.PromptTokens,
		CompletionTokens: raw.CompletionTokens,
		TotalTokens:      raw.TotalTokens,
	}
}
