package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quantumflow/finassist/internal/models"
)

// ErrMissingAPIKey is returned when the engine credential is not configured
var ErrMissingAPIKey = errors.New("inference: API key is not set")

// Config holds the inference client configuration
type Config struct {
	BaseURL           string  // Default: https://api.mistral.ai/v1
	APIKey            string  // Bearer token, never logged
	Model             string  // Default: mistral-small-latest
	Temperature       float64 // Default: 0.1
	Timeout           time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	RequestsPerSecond float64 // 0 disables client side rate limiting
	Burst             int
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "https://api.mistral.ai/v1",
		Model:             "mistral-small-latest",
		Temperature:       0.1,
		Timeout:           60 * time.Second,
		MaxRetries:        3,
		RetryBackoff:      500 * time.Millisecond,
		RequestsPerSecond: 1,
		Burst:             2,
	}
}

// Client talks to an OpenAI compatible chat completions endpoint with tool calling
type Client struct {
	config     *Config
	httpClient *http.Client
	limiter    *RateLimiter
}

// NewClient creates a new inference client
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: NewRateLimiter(config.RequestsPerSecond, config.Burst),
	}, nil
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.config.Model
}

// RateLimit returns the current limiter state
func (c *Client) RateLimit() RateLimitStatus {
	return c.limiter.Status()
}

// APIError is a non-2xx response from the engine
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("engine returned status %d: %s", e.StatusCode, body)
}

// Temporary reports whether the request may succeed if retried
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ChatResult holds the outcome of one engine call
type ChatResult struct {
	Message          models.Message
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	Attempts         int
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Temperature float64       `json:"temperature"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  wireParameters `json:"parameters"`
}

type wireParameters struct {
	Type       string                  `json:"type"`
	Properties map[string]wireProperty `json:"properties"`
	Required   []string                `json:"required"`
}

type wireProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends the conversation and the tool catalog and returns the assistant reply.
// Transient failures are retried with backoff.
func (c *Client) Chat(ctx context.Context, messages []models.Message, tools []models.ToolDefinition) (*ChatResult, error) {
	req := chatRequest{
		Model:       c.config.Model,
		Messages:    make([]wireMessage, 0, len(messages)),
		Temperature: c.config.Temperature,
	}
	for _, m := range messages {
		wm, err := toWireMessage(m)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, wm)
	}
	if len(tools) > 0 {
		req.Tools = toWireTools(tools)
		req.ToolChoice = "auto"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	var resp chatResponse
	attempts, err := retry(ctx, RetryConfig{
		MaxAttempts: c.config.MaxRetries + 1,
		Backoff:     c.config.RetryBackoff,
	}, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.do(ctx, http.MethodPost, "/chat/completions", body, &resp)
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("engine response contained no choices")
	}
	choice := resp.Choices[0]
	msg, err := fromWireMessage(choice.Message)
	if err != nil {
		return nil, err
	}

	return &ChatResult{
		Message:          msg,
		FinishReason:     choice.FinishReason,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Latency:          time.Since(start),
		Attempts:         attempts,
	}, nil
}

// ListModels lists the models available to the configured key
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/models", nil, &result); err != nil {
		return nil, err
	}

	names := make([]string, len(result.Data))
	for i, m := range result.Data {
		names[i] = m.ID
	}
	return names, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.config.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(bodyBytes),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func toWireMessage(m models.Message) (wireMessage, error) {
	wm := wireMessage{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}
	for _, tc := range m.ToolCalls {
		args := tc.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		// The wire format carries arguments as a JSON encoded string
		encoded, err := json.Marshal(string(args))
		if err != nil {
			return wireMessage{}, fmt.Errorf("failed to encode arguments of %s: %w", tc.Name, err)
		}
		wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: wireFunction{Name: tc.Name, Arguments: encoded},
		})
	}
	return wm, nil
}

func fromWireMessage(wm wireMessage) (models.Message, error) {
	msg := models.Message{
		Role:      models.Role(wm.Role),
		Content:   wm.Content,
		Timestamp: time.Now(),
	}
	if msg.Role == "" {
		msg.Role = models.RoleAssistant
	}

	for i, tc := range wm.ToolCalls {
		args, err := decodeArguments(tc.Function.Arguments)
		if err != nil {
			return models.Message{}, fmt.Errorf("tool call %d (%s): %w", i, tc.Function.Name, err)
		}
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return msg, nil
}

// decodeArguments accepts arguments either as a JSON string or as an inline object
func decodeArguments(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if trimmed[0] != '"' {
		return json.RawMessage(trimmed), nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(s), nil
}

func toWireTools(defs []models.ToolDefinition) []wireTool {
	out := make([]wireTool, 0, len(defs))
	for _, def := range defs {
		params := wireParameters{
			Type:       "object",
			Properties: make(map[string]wireProperty, len(def.Parameters)),
			Required:   []string{},
		}
		for _, p := range def.Parameters {
			params.Properties[p.Name] = wireProperty{
				Type:        p.Type,
				Description: p.Description,
				Enum:        p.Enum,
				Default:     p.Default,
			}
			if p.Required {
				params.Required = append(params.Required, p.Name)
			}
		}
		out = append(out, wireTool{
			Type: "function",
			Function: wireToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
