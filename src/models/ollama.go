package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"

	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
)

// DefaultOllamaHost is used when OLLAMA_HOST is not set.
const DefaultOllamaHost = "http://localhost:11434"

// OllamaAdapter speaks the local Ollama chat API. No credential is needed.
type OllamaAdapter struct {
	client *ollama.Client
	host   string
	tools  *declarationCache[ollama.Tools]
}

// NewOllamaAdapter connects to host, or DefaultOllamaHost when empty.
func NewOllamaAdapter(host string) (*OllamaAdapter, error) {
	if host == "" {
		host = DefaultOllamaHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid OLLAMA_HOST %q: %w", host, err)
	}
	httpClient := &http.Client{Timeout: 120 * time.Second}
	return &OllamaAdapter{
		client: ollama.NewClient(u, httpClient),
		host:   host,
		tools:  newDeclarationCache[ollama.Tools](),
	}, nil
}

func (o *OllamaAdapter) Provider() string { return ProviderOllama }

// ollamaMessage mirrors the chat message wire shape. Requests are built in
// this shape and decoded into the SDK types so field layout changes in the
// SDK do not leak in here.
type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (o *OllamaAdapter) BuildRequest(turns []conversation.Turn, tools []conversation.ToolDescriptor, p Params) (*ollama.ChatRequest, error) {
	msgs := make([]ollamaMessage, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case conversation.RoleUser:
			msgs = append(msgs, ollamaMessage{Role: "user", Content: turn.Content})
		case conversation.RoleAssistant:
			msg := ollamaMessage{Role: "assistant", Content: turn.Content}
			for _, call := range turn.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, ollamaToolCall{Function: ollamaFunction{
					Name:      call.ToolName,
					Arguments: argumentsOrEmpty(call.Arguments),
				}})
			}
			msgs = append(msgs, msg)
		case conversation.RoleTool:
			if turn.Result == nil {
				return nil, fmt.Errorf("tool turn without result")
			}
			msgs = append(msgs, ollamaMessage{Role: "tool", Content: turn.Result.Text(), ToolName: turn.Result.ToolName})
		}
	}

	req := &ollama.ChatRequest{Model: p.Model}
	if err := remarshal(msgs, &req.Messages); err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	stream := false
	req.Stream = &stream
	opts := map[string]any{}
	if p.Temperature != nil {
		opts["temperature"] = *p.Temperature
	}
	if p.MaxTokens > 0 {
		opts["num_predict"] = p.MaxTokens
	}
	if len(opts) > 0 {
		req.Options = opts
	}
	if len(tools) > 0 {
		decls, err := o.tools.get(tools, ollamaTools)
		if err != nil {
			return nil, err
		}
		req.Tools = decls
	}
	return req, nil
}

func ollamaTools(tools []conversation.ToolDescriptor) (ollama.Tools, error) {
	wire := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		schema, err := t.SchemaMap()
		if err != nil {
			return nil, fmt.Errorf("tool %s: invalid input schema: %w", t.Name, err)
		}
		wire = append(wire, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  schema,
			},
		})
	}
	var out ollama.Tools
	if err := remarshal(wire, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (o *OllamaAdapter) Send(ctx context.Context, req *ollama.ChatRequest) (*ollama.ChatResponse, error) {
	var (
		final   ollama.ChatResponse
		content strings.Builder
		calls   []ollama.ToolCall
	)
	err := o.client.Chat(ctx, req, func(r ollama.ChatResponse) error {
		content.WriteString(r.Message.Content)
		calls = append(calls, r.Message.ToolCalls...)
		final = r
		return nil
	})
	if err != nil {
		var se ollama.StatusError
		if errors.As(err, &se) {
			return nil, statusError(ProviderOllama, se.StatusCode, err)
		}
		return nil, err
	}
	final.Message.Content = content.String()
	final.Message.ToolCalls = calls
	return &final, nil
}

func (o *OllamaAdapter) Normalize(resp *ollama.ChatResponse) (conversation.NormalizedResponse, error) {
	var out conversation.NormalizedResponse
	if resp == nil {
		return out, errors.New("empty response")
	}
	if resp.Message.Content != "" {
		out.Segments = append(out.Segments, conversation.TextSegment(resp.Message.Content))
	}
	var calls []ollamaToolCall
	if err := remarshal(resp.Message.ToolCalls, &calls); err != nil {
		return out, fmt.Errorf("decode tool calls: %w", err)
	}
	for i, call := range calls {
		args := argumentsOrEmpty(call.Function.Arguments)
		out.Segments = append(out.Segments, conversation.ToolCallSegment(conversation.ToolCallRequest{
			CallID:    synthesizeCallID(ProviderOllama, i, call.Function.Name, args),
			ToolName:  call.Function.Name,
			Arguments: args,
		}))
	}
	return out, nil
}

var _ Adapter[*ollama.ChatRequest, *ollama.ChatResponse] = (*OllamaAdapter)(nil)
