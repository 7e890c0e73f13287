package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenAIAdapter speaks the chat completions API used by OpenAI and by
// OpenRouter. Tool calls arrive in message.tool_calls and results go back as
// messages with the tool role.
type OpenAIAdapter struct {
	provider string
	envVar   string
	apiKey   string
	client   *openai.Client
	tools    *declarationCache[[]openai.Tool]
}

// NewOpenAIAdapter talks to api.openai.com, or to baseURL when set.
func NewOpenAIAdapter(apiKey, baseURL string) *OpenAIAdapter {
	return newChatCompletionsAdapter(ProviderOpenAI, "OPENAI_API_KEY", apiKey, baseURL)
}

// NewOpenRouterAdapter talks to OpenRouter, or to baseURL when set.
func NewOpenRouterAdapter(apiKey, baseURL string) *OpenAIAdapter {
	if baseURL == "" {
		baseURL = OpenRouterBaseURL
	}
	return newChatCompletionsAdapter(ProviderOpenRouter, "OPENROUTER_API_KEY", apiKey, baseURL)
}

func newChatCompletionsAdapter(provider, envVar, apiKey, baseURL string) *OpenAIAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIAdapter{
		provider: provider,
		envVar:   envVar,
		apiKey:   apiKey,
		client:   openai.NewClientWithConfig(cfg),
		tools:    newDeclarationCache[[]openai.Tool](),
	}
}

func (a *OpenAIAdapter) Provider() string { return a.provider }

func (a *OpenAIAdapter) BuildRequest(turns []conversation.Turn, tools []conversation.ToolDescriptor, p Params) (openai.ChatCompletionRequest, error) {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	req := openai.ChatCompletionRequest{
		Model:     p.Model,
		MaxTokens: maxTokens,
	}
	if p.Temperature != nil {
		req.Temperature = float32(*p.Temperature)
		if req.Temperature == 0 {
			// The field is omitempty; the smallest positive float is sent instead.
			req.Temperature = math.SmallestNonzeroFloat32
		}
	}
	for _, turn := range turns {
		switch turn.Role {
		case conversation.RoleUser:
			req.Messages = append(req.Messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: turn.Content,
			})
		case conversation.RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: turn.Content,
			}
			for _, call := range turn.ToolCalls {
				args, err := json.Marshal(argumentsOrEmpty(call.Arguments))
				if err != nil {
					return req, fmt.Errorf("encode arguments for %s: %w", call.ToolName, err)
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.ToolName,
						Arguments: string(args),
					},
				})
			}
			req.Messages = append(req.Messages, msg)
		case conversation.RoleTool:
			if turn.Result == nil {
				return req, fmt.Errorf("tool turn without result")
			}
			req.Messages = append(req.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: turn.Result.CallID,
				Content:    turn.Result.Text(),
			})
		}
	}

	if len(tools) > 0 {
		decls, err := a.tools.get(tools, openAITools)
		if err != nil {
			return req, err
		}
		req.Tools = decls
	}
	return req, nil
}

func openAITools(tools []conversation.ToolDescriptor) ([]openai.Tool, error) {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		if !json.Valid(t.Schema()) {
			return nil, fmt.Errorf("tool %s: invalid input schema", t.Name)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema(),
			},
		})
	}
	return out, nil
}

func argumentsOrEmpty(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

func (a *OpenAIAdapter) Send(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if a.apiKey == "" {
		return openai.ChatCompletionResponse{}, authError(a.provider, a.envVar)
	}
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return resp, statusError(a.provider, apiErr.HTTPStatusCode, err)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return resp, statusError(a.provider, reqErr.HTTPStatusCode, err)
		}
		return resp, err
	}
	return resp, nil
}

func (a *OpenAIAdapter) Normalize(resp openai.ChatCompletionResponse) (conversation.NormalizedResponse, error) {
	var out conversation.NormalizedResponse
	if len(resp.Choices) == 0 {
		return out, errors.New("response has no choices")
	}
	msg := resp.Choices[0].Message
	if msg.Content != "" {
		out.Segments = append(out.Segments, conversation.TextSegment(msg.Content))
	}
	for i, call := range msg.ToolCalls {
		args := ParseToolArguments(call.Function.Arguments)
		id := call.ID
		if id == "" {
			id = synthesizeCallID(a.provider, i, call.Function.Name, args)
		}
		out.Segments = append(out.Segments, conversation.ToolCallSegment(conversation.ToolCallRequest{
			CallID:    id,
			ToolName:  call.Function.Name,
			Arguments: args,
		}))
	}
	return out, nil
}

var _ Adapter[openai.ChatCompletionRequest, openai.ChatCompletionResponse] = (*OpenAIAdapter)(nil)
