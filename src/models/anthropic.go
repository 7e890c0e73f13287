package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
)

const defaultMaxTokens = 1000

// AnthropicAdapter speaks the Messages API. Tool calls arrive as tool_use
// content blocks and results go back as tool_result blocks in a user message.
type AnthropicAdapter struct {
	client *anthropic.Client
	apiKey string
	tools  *declarationCache[[]anthropic.ToolUnionParam]
}

// NewAnthropicAdapter builds the adapter. An empty key is accepted so the
// provider can still be listed and selected; Send then fails with ErrAuth.
func NewAnthropicAdapter(apiKey string, opts ...anthropicopt.RequestOption) *AnthropicAdapter {
	base := []anthropicopt.RequestOption{
		anthropicopt.WithAPIKey(apiKey),
		anthropicopt.WithMaxRetries(0),
	}
	cl := anthropic.NewClient(append(base, opts...)...)
	return &AnthropicAdapter{
		client: &cl,
		apiKey: apiKey,
		tools:  newDeclarationCache[[]anthropic.ToolUnionParam](),
	}
}

func (a *AnthropicAdapter) Provider() string { return ProviderAnthropic }

func (a *AnthropicAdapter) BuildRequest(turns []conversation.Turn, tools []conversation.ToolDescriptor, p Params) (anthropic.MessageNewParams, error) {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.Model),
		MaxTokens: int64(maxTokens),
	}
	if p.Temperature != nil {
		params.Temperature = anthropic.Float(*p.Temperature)
	}

	runs := groupTurns(turns, func(t conversation.Turn) string {
		if t.Role == conversation.RoleAssistant {
			return "assistant"
		}
		return "user"
	})
	for _, run := range runs {
		var blocks []anthropic.ContentBlockParamUnion
		for _, turn := range run.turns {
			switch turn.Role {
			case conversation.RoleUser:
				if turn.Content != "" {
					blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
				}
			case conversation.RoleAssistant:
				if turn.Content != "" {
					blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
				}
				for _, call := range turn.ToolCalls {
					args := call.Arguments
					if args == nil {
						args = map[string]any{}
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(call.CallID, args, call.ToolName))
				}
			case conversation.RoleTool:
				if turn.Result == nil {
					return params, fmt.Errorf("tool turn without result")
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(turn.Result.CallID, turn.Result.Text(), turn.Result.Failed))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if run.role == "assistant" {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
		}
	}

	if len(tools) > 0 {
		decls, err := a.tools.get(tools, anthropicTools)
		if err != nil {
			return params, err
		}
		params.Tools = decls
	}
	return params, nil
}

func anthropicTools(tools []conversation.ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema, err := t.SchemaMap()
		if err != nil {
			return nil, fmt.Errorf("tool %s: invalid input schema: %w", t.Name, err)
		}
		input := anthropic.ToolInputSchemaParam{Properties: schema["properties"]}
		if req, ok := schema["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					input.Required = append(input.Required, s)
				}
			}
		}
		// $defs, additionalProperties and the like ride along unchanged so
		// $ref pointers still resolve.
		for k, v := range schema {
			switch k {
			case "properties", "required", "type":
				continue
			}
			if input.ExtraFields == nil {
				input.ExtraFields = map[string]any{}
			}
			input.ExtraFields[k] = v
		}
		tool := anthropic.ToolParam{Name: t.Name, InputSchema: input}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out, nil
}

func (a *AnthropicAdapter) Send(ctx context.Context, req anthropic.MessageNewParams) (*anthropic.Message, error) {
	if a.apiKey == "" {
		return nil, authError(ProviderAnthropic, "ANTHROPIC_API_KEY")
	}
	msg, err := a.client.Messages.New(ctx, req)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, statusError(ProviderAnthropic, apiErr.StatusCode, err)
		}
		return nil, err
	}
	return msg, nil
}

func (a *AnthropicAdapter) Normalize(msg *anthropic.Message) (conversation.NormalizedResponse, error) {
	var out conversation.NormalizedResponse
	if msg == nil {
		return out, errors.New("empty response")
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Segments = append(out.Segments, conversation.TextSegment(b.Text))
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil {
					args = ParseToolArguments(string(b.Input))
				}
			}
			if args == nil {
				args = map[string]any{}
			}
			out.Segments = append(out.Segments, conversation.ToolCallSegment(conversation.ToolCallRequest{
				CallID:    b.ID,
				ToolName:  b.Name,
				Arguments: args,
			}))
		}
	}
	return out, nil
}

var _ Adapter[anthropic.MessageNewParams, *anthropic.Message] = (*AnthropicAdapter)(nil)
