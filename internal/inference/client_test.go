package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/finassist/internal/models"
)

func testConfig(url string) *Config {
	cfg := DefaultConfig()
	cfg.BaseURL = url
	cfg.APIKey = "test-key"
	cfg.RetryBackoff = time.Millisecond
	cfg.RequestsPerSecond = 0
	cfg.Timeout = 5 * time.Second
	return cfg
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(DefaultConfig())
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	client, err := NewClient(testConfig("http://localhost"))
	require.NoError(t, err)
	assert.Equal(t, "mistral-small-latest", client.Model())
}

func TestChatToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mistral-small-latest", req["model"])
		assert.Equal(t, "auto", req["tool_choice"])
		assert.InDelta(t, 0.1, req["temperature"], 1e-9)

		msgs := req["messages"].([]any)
		require.Len(t, msgs, 3)
		// Prior tool call arguments are sent as a JSON string
		call := msgs[1].(map[string]any)["tool_calls"].([]any)[0].(map[string]any)
		assert.Equal(t, `{"n":3}`, call["function"].(map[string]any)["arguments"])
		assert.Equal(t, "call_a", msgs[2].(map[string]any)["tool_call_id"])

		tool := req["tools"].([]any)[0].(map[string]any)["function"].(map[string]any)
		assert.Equal(t, "lookup", tool["name"])
		params := tool["parameters"].(map[string]any)
		assert.Equal(t, []any{"customer_id"}, params["required"])

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"model": "mistral-small-latest",
			"choices": [{
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [
						{"id": "c1", "type": "function", "function": {"name": "lookup", "arguments": "{\"customer_id\": 7}"}},
						{"id": "c2", "type": "function", "function": {"name": "lookup", "arguments": {"customer_id": 8}}}
					]
				}
			}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 30}
		}`)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	history := []models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "call_a", Name: "lookup", Arguments: json.RawMessage(`{"n":3}`)}}},
		{Role: models.RoleTool, ToolCallID: "call_a", Name: "lookup", Content: "ok"},
	}
	defs := []models.ToolDefinition{{
		Name: "lookup",
		Parameters: []models.ToolParams{
			{Name: "customer_id", Type: "integer", Required: true},
			{Name: "verbose", Type: "boolean"},
		},
	}}

	res, err := client.Chat(context.Background(), history, defs)
	require.NoError(t, err)
	assert.Equal(t, "tool_calls", res.FinishReason)
	assert.Equal(t, 120, res.PromptTokens)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, models.RoleAssistant, res.Message.Role)
	require.Len(t, res.Message.ToolCalls, 2)
	assert.JSONEq(t, `{"customer_id": 7}`, string(res.Message.ToolCalls[0].Arguments))
	assert.JSONEq(t, `{"customer_id": 8}`, string(res.Message.ToolCalls[1].Arguments))
	assert.Equal(t, "c2", res.Message.ToolCalls[1].ID)
}

func TestChatRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, `{"message":"rate limited"}`, http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `{"choices":[{"finish_reason":"stop","message":{"role":"assistant","content":"Hello"}}]}`)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	res, err := client.Chat(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Message.Content)
	assert.Empty(t, res.Message.ToolCalls)
	assert.Equal(t, 3, res.Attempts)
}

func TestChatDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestChatGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 2
	client, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), nil, nil)
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestChatNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "no choices")
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		io.WriteString(w, `{"data":[{"id":"mistral-small-latest"},{"id":"mistral-large-latest"}]}`)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL + "/"))
	require.NoError(t, err)

	names, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mistral-small-latest", "mistral-large-latest"}, names)
}

func TestDecodeArguments(t *testing.T) {
	cases := map[string]string{
		`"{\"a\":1}"`: `{"a":1}`,
		`{"a":1}`:     `{"a":1}`,
		`""`:          `{}`,
		`null`:        `{}`,
		``:            `{}`,
	}
	for in, want := range cases {
		got, err := decodeArguments(json.RawMessage(in))
		require.NoError(t, err, in)
		assert.JSONEq(t, want, string(got), in)
	}

	_, err := decodeArguments(json.RawMessage(`"unterminated`))
	assert.Error(t, err)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	attempts, err := retry(ctx, RetryConfig{MaxAttempts: 5, Backoff: time.Second}, func() error {
		calls++
		cancel()
		return &APIError{StatusCode: 503}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Wait(context.Background()))
	}
	status := rl.Status()
	assert.Equal(t, int64(5), status.Requests)
	assert.Equal(t, 1, status.Burst)

	slow := NewRateLimiter(0.001, 1)
	require.NoError(t, slow.Wait(context.Background()), "burst token is free")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, slow.Wait(ctx))
}
