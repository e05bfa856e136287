package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/switchboard/internal/config"
	"github.com/soyeahso/switchboard/internal/logging"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func echo(name string) *Func {
	return &Func{Provider: name, Fn: func(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
		return &CompletionResponse{Content: name + ":" + req.Model}, nil
	}}
}

func failing(name string, err error, calls *[]string) *Func {
	return &Func{Provider: name, Fn: func(context.Context, CompletionRequest) (*CompletionResponse, error) {
		*calls = append(*calls, name)
		return nil, err
	}}
}

func TestResolve(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("ollama", echo("ollama"), "llama3", "llama")
	reg.Register("openai", echo("openai"))

	tests := []struct {
		model string
		want  string
	}{
		{"openai", "openai"},
		{"ollama", "ollama"},
		{"llama", "ollama"},
		{"llama3", "ollama"},
	}
	for _, tt := range tests {
		c, err := reg.Resolve(tt.model)
		require.NoError(t, err, tt.model)
		assert.Equal(t, tt.want, c.Name(), tt.model)
	}

	_, err := reg.Resolve("mistral")
	assert.ErrorIs(t, err, ErrNoProvider)

	reg.SetDefault("openai")
	c, err := reg.Resolve("mistral")
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())

	assert.Equal(t, []string{"ollama", "openai"}, reg.Providers())
}

func TestNewRegistryFromConfig(t *testing.T) {
	t.Run("no providers uses scripted", func(t *testing.T) {
		reg := NewRegistryFromConfig(config.LLMConfig{}, silentLog())
		c, err := reg.Resolve("")
		require.NoError(t, err)
		assert.Equal(t, "scripted", c.Name())
	})

	t.Run("configured default", func(t *testing.T) {
		reg := NewRegistryFromConfig(config.LLMConfig{
			Default: "ollama",
			Providers: map[string]config.LLMProvider{
				"ollama": {BaseURL: "http://localhost:11434/v1", Model: "llama3", Aliases: []string{"llama"}},
			},
		}, silentLog())
		c, err := reg.Resolve("")
		require.NoError(t, err)
		assert.Equal(t, "ollama", c.Name())

		c, err = reg.Resolve("llama")
		require.NoError(t, err)
		assert.Equal(t, "ollama", c.Name())
		assert.Equal(t, []string{"ollama", "scripted"}, reg.Providers())
	})

	t.Run("missing default falls back", func(t *testing.T) {
		reg := NewRegistryFromConfig(config.LLMConfig{Default: "ghost"}, silentLog())
		c, err := reg.Resolve("")
		require.NoError(t, err)
		assert.Equal(t, "scripted", c.Name())
	})
}

func TestChain(t *testing.T) {
	var calls []string
	reg := NewRegistry(silentLog())
	reg.Register("primary", failing("primary", &ProviderError{Provider: "primary", Message: "overloaded", Code: 529}, &calls))
	reg.Register("secondary", echo("secondary"))

	c := reg.Chain("primary", "secondary")
	assert.Equal(t, "chain:primary,secondary", c.Name())

	resp, err := c.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "secondary:secondary", resp.Content, "model rewritten per hop")
	assert.Equal(t, []string{"primary"}, calls)
}

func TestChainStopsOnPermanentError(t *testing.T) {
	var calls []string
	bad := &ProviderError{Provider: "primary", Message: "bad request", Code: 400}
	reg := NewRegistry(silentLog())
	reg.Register("primary", failing("primary", bad, &calls))
	reg.Register("secondary", failing("secondary", nil, &calls))

	_, err := reg.Chain("primary", "secondary").Complete(context.Background(), CompletionRequest{})
	assert.ErrorIs(t, err, bad)
	assert.Equal(t, []string{"primary"}, calls)
}

func TestChainExhausted(t *testing.T) {
	var calls []string
	reg := NewRegistry(silentLog())
	reg.Register("a", failing("a", errors.New("upstream timeout"), &calls))

	_, err := reg.Chain("a", "missing").Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.Contains(t, err.Error(), "upstream timeout")
	assert.Equal(t, []string{"a"}, calls)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&ProviderError{Code: 429}, true},
		{&ProviderError{Code: 529}, true},
		{fmt.Errorf("wrapped: %w", &ProviderError{Code: 503}), true},
		{errors.New("server overloaded"), true},
		{errors.New("Rate limit exceeded"), true},
		{&ProviderError{Code: 400}, false},
		{errors.New("invalid input"), false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Retryable(tt.err), "%v", tt.err)
	}
}

func TestFuncClient(t *testing.T) {
	resp, err := (&Func{}).Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
}

func TestScriptedClient(t *testing.T) {
	c := NewScriptedClient(ScriptRule{Keywords: []string{"hours"}, Reply: "We are open 9 to 5."})

	resp, err := c.Complete(context.Background(), CompletionRequest{Messages: []Message{
		{Role: RoleUser, Content: "What are your HOURS?"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "We are open 9 to 5.", resp.Content)

	resp, err = c.Complete(context.Background(), CompletionRequest{Messages: []Message{
		{Role: RoleUser, Content: "hours?"},
		{Role: RoleAssistant, Content: "9 to 5"},
		{Role: RoleUser, Content: "thanks"},
	}})
	require.NoError(t, err)
	assert.Equal(t, c.Default, resp.Content)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Complete(ctx, CompletionRequest{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestOpenAIClientComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "test-model",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "check_business_hours", "arguments": "{}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{Name: "local", APIKey: "k", BaseURL: srv.URL, Model: "test-model"})
	resp, err := c.Complete(context.Background(), CompletionRequest{
		System: "be brief",
		Messages: []Message{
			{Role: RoleUser, Content: "are you open?"},
		},
		Tools: []ToolDefinition{{
			Name:        "check_business_hours",
			Description: "Report opening hours",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "check_business_hours", resp.ToolCalls[0].Name)
	assert.Equal(t, "{}", resp.ToolCalls[0].Input)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, "tool_calls", resp.StopReason)

	assert.Equal(t, "test-model", got["model"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
}

func TestOpenAIClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{Name: "local", APIKey: "k", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "local", perr.Provider)
	assert.Equal(t, http.StatusUnauthorized, perr.Code)
}

func TestProviderErrorFormat(t *testing.T) {
	assert.Equal(t, "openai: 429 slow down", (&ProviderError{Provider: "openai", Code: 429, Message: "slow down"}).Error())
	assert.Equal(t, "openai: boom", (&ProviderError{Provider: "openai", Message: "boom"}).Error())
}
