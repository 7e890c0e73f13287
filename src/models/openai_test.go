package models

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
)

func TestOpenAIBuildRequest(t *testing.T) {
	a := NewOpenRouterAdapter("key", "")
	req, err := a.BuildRequest(toolRoundTrip(), []conversation.ToolDescriptor{lookupTool}, Params{Model: "openai/gpt-4o", Temperature: Float(0.2), MaxTokens: 256})
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-4o", req.Model)
	assert.Equal(t, 256, req.MaxTokens)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[0].Role)

	asst := req.Messages[1]
	assert.Equal(t, openai.ChatMessageRoleAssistant, asst.Role)
	require.Len(t, asst.ToolCalls, 1)
	assert.Equal(t, "toolu_1", asst.ToolCalls[0].ID)
	assert.JSONEq(t, `{"q":"x"}`, asst.ToolCalls[0].Function.Arguments)

	tool := req.Messages[2]
	assert.Equal(t, openai.ChatMessageRoleTool, tool.Role)
	assert.Equal(t, "toolu_1", tool.ToolCallID)
	assert.Equal(t, "42", tool.Content)

	require.Len(t, req.Tools, 1)
	assert.Equal(t, "lookup", req.Tools[0].Function.Name)
}

func TestOpenAITemperature(t *testing.T) {
	a := NewOpenAIAdapter("key", "")

	req, err := a.BuildRequest(nil, nil, Params{Model: "gpt-4o", Temperature: Float(0)})
	require.NoError(t, err)
	assert.Equal(t, float32(math.SmallestNonzeroFloat32), req.Temperature)

	req, err = a.BuildRequest(nil, nil, Params{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Zero(t, req.Temperature)
}

func TestOpenAIFailedResultCarriesError(t *testing.T) {
	turns := toolRoundTrip()
	turns[2].Result = &conversation.ToolCallResult{CallID: "toolu_1", ToolName: "lookup", Failed: true, ErrorMessage: "unknown tool", Kind: conversation.FailureToolNotFound}
	req, err := NewOpenAIAdapter("key", "").BuildRequest(turns, nil, Params{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "error: unknown tool", req.Messages[2].Content)
	assert.Empty(t, req.Tools)
}

func TestOpenAINormalizeIsIdempotent(t *testing.T) {
	resp := openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: "On it.",
			ToolCalls: []openai.ToolCall{
				{ID: "call_a", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "lookup", Arguments: `{"q":"a"}`}},
				{Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "lookup", Arguments: `not json`}},
			},
		},
	}}}

	a := NewOpenAIAdapter("key", "")
	first, err := a.Normalize(resp)
	require.NoError(t, err)
	second, err := a.Normalize(resp)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	calls := first.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "call_a", calls[0].CallID)
	assert.NotEmpty(t, calls[1].CallID, "missing ids are synthesized")
	assert.Equal(t, map[string]any{"input": "not json"}, calls[1].Arguments)
	assert.Equal(t, "On it.", first.Text())

	_, err = a.Normalize(openai.ChatCompletionResponse{})
	require.Error(t, err)
}

func TestOpenAISendOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		assert.Equal(t, "gpt-4o", req["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"4"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	b := Bind(NewOpenAIAdapter("key", srv.URL))
	resp, err := b.Complete(context.Background(), []conversation.Turn{{Role: conversation.RoleUser, Content: "What is 2+2?"}}, nil, Params{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.True(t, resp.Terminal())
	assert.Equal(t, "4", resp.Text())
}

func TestOpenAIErrors(t *testing.T) {
	_, err := Bind(NewOpenRouterAdapter("", "")).Complete(context.Background(), nil, nil, Params{Model: "openai/gpt-4o"})
	require.ErrorIs(t, err, ErrAuth)
	assert.Contains(t, err.Error(), "OPENROUTER_API_KEY")

	for status, want := range map[int]error{http.StatusUnauthorized: ErrAuth, http.StatusTooManyRequests: ErrTransport} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"invalid_request_error"}}`)
		}))
		_, err := Bind(NewOpenAIAdapter("key", srv.URL)).Complete(context.Background(), nil, nil, Params{Model: "gpt-4o"})
		srv.Close()
		require.ErrorIs(t, err, want, "status %d", status)
	}
}
