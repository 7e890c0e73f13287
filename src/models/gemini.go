package models

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
)

// GeminiRequest is the native request for one Gemini round-trip. The last
// user content is sent as the chat message on top of History.
type GeminiRequest struct {
	Model       string
	History     []*genai.Content
	Message     []genai.Part
	Tools       []*genai.Tool
	Temperature *float32
	MaxTokens   int32
}

// GeminiAdapter speaks the Gemini function-calling API. Tool calls arrive as
// FunctionCall parts and results go back as FunctionResponse parts in a
// user content.
type GeminiAdapter struct {
	apiKey string
	opts   []option.ClientOption
	tools  *declarationCache[[]*genai.Tool]

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiAdapter builds the adapter. The client is created on first use.
func NewGeminiAdapter(apiKey string, opts ...option.ClientOption) *GeminiAdapter {
	return &GeminiAdapter{
		apiKey: apiKey,
		opts:   opts,
		tools:  newDeclarationCache[[]*genai.Tool](),
	}
}

func (g *GeminiAdapter) Provider() string { return ProviderGemini }

func (g *GeminiAdapter) BuildRequest(turns []conversation.Turn, tools []conversation.ToolDescriptor, p Params) (*GeminiRequest, error) {
	req := &GeminiRequest{Model: p.Model}
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	req.MaxTokens = int32(maxTokens)
	if p.Temperature != nil {
		t := float32(*p.Temperature)
		req.Temperature = &t
	}

	runs := groupTurns(turns, func(t conversation.Turn) string {
		if t.Role == conversation.RoleAssistant {
			return "model"
		}
		return "user"
	})
	var contents []*genai.Content
	for _, run := range runs {
		content := &genai.Content{Role: run.role}
		for _, turn := range run.turns {
			switch turn.Role {
			case conversation.RoleUser:
				if turn.Content != "" {
					content.Parts = append(content.Parts, genai.Text(turn.Content))
				}
			case conversation.RoleAssistant:
				if turn.Content != "" {
					content.Parts = append(content.Parts, genai.Text(turn.Content))
				}
				for _, call := range turn.ToolCalls {
					content.Parts = append(content.Parts, genai.FunctionCall{
						Name: call.ToolName,
						Args: argumentsOrEmpty(call.Arguments),
					})
				}
			case conversation.RoleTool:
				if turn.Result == nil {
					return nil, fmt.Errorf("tool turn without result")
				}
				content.Parts = append(content.Parts, genai.FunctionResponse{
					Name:     turn.Result.ToolName,
					Response: functionResponse(*turn.Result),
				})
			}
		}
		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}
	if len(contents) == 0 || contents[len(contents)-1].Role != "user" {
		return nil, errors.New("conversation must end with user content")
	}
	last := contents[len(contents)-1]
	req.History = contents[:len(contents)-1]
	req.Message = last.Parts

	if len(tools) > 0 {
		decls, err := g.tools.get(tools, geminiTools)
		if err != nil {
			return nil, err
		}
		req.Tools = decls
	}
	return req, nil
}

func functionResponse(res conversation.ToolCallResult) map[string]any {
	if res.Failed {
		return map[string]any{"error": res.Text()}
	}
	return map[string]any{"output": res.Output}
}

func geminiTools(tools []conversation.ToolDescriptor) ([]*genai.Tool, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		schema, err := t.SchemaMap()
		if err != nil {
			return nil, fmt.Errorf("tool %s: invalid input schema: %w", t.Name, err)
		}
		decl := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		// Gemini rejects an object schema without properties.
		if props, _ := schema["properties"].(map[string]any); len(props) > 0 {
			decl.Parameters = toGeminiSchema(schema)
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

// toGeminiSchema converts a JSON schema object into Gemini's subset.
// Keywords Gemini has no field for are dropped.
func toGeminiSchema(m map[string]any) *genai.Schema {
	s := &genai.Schema{}
	switch typ := m["type"].(type) {
	case string:
		s.Type = geminiType(typ)
	case []any:
		for _, v := range typ {
			name, _ := v.(string)
			if name == "null" {
				s.Nullable = true
				continue
			}
			if s.Type == genai.TypeUnspecified {
				s.Type = geminiType(name)
			}
		}
	}
	if s.Type == genai.TypeUnspecified {
		if _, ok := m["properties"]; ok {
			s.Type = genai.TypeObject
		} else {
			s.Type = genai.TypeString
		}
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if f, ok := m["format"].(string); ok {
		s.Format = f
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, v := range enum {
			s.Enum = append(s.Enum, fmt.Sprint(v))
		}
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if child, ok := raw.(map[string]any); ok {
				s.Properties[name] = toGeminiSchema(child)
			}
		}
	}
	if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toGeminiSchema(items)
	}
	return s
}

func geminiType(name string) genai.Type {
	switch name {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeUnspecified
	}
}

func (g *GeminiAdapter) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	opts := append([]option.ClientOption{option.WithAPIKey(g.apiKey)}, g.opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	g.client = client
	return client, nil
}

func (g *GeminiAdapter) Send(ctx context.Context, req *GeminiRequest) (*genai.GenerateContentResponse, error) {
	if g.apiKey == "" {
		return nil, authError(ProviderGemini, "GEMINI_API_KEY")
	}
	client, err := g.ensureClient(ctx)
	if err != nil {
		return nil, err
	}
	model := client.GenerativeModel(req.Model)
	model.Tools = req.Tools
	model.SetMaxOutputTokens(req.MaxTokens)
	if req.Temperature != nil {
		model.SetTemperature(*req.Temperature)
	}
	cs := model.StartChat()
	cs.History = req.History
	resp, err := cs.SendMessage(ctx, req.Message...)
	if err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) {
			return nil, statusError(ProviderGemini, gErr.Code, err)
		}
		return nil, err
	}
	return resp, nil
}

func (g *GeminiAdapter) Normalize(resp *genai.GenerateContentResponse) (conversation.NormalizedResponse, error) {
	var out conversation.NormalizedResponse
	if resp == nil || len(resp.Candidates) == 0 {
		return out, errors.New("response has no candidates")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return out, nil
	}
	calls := 0
	for _, part := range cand.Content.Parts {
		var fc *genai.FunctionCall
		switch v := part.(type) {
		case genai.Text:
			out.Segments = append(out.Segments, conversation.TextSegment(string(v)))
			continue
		case genai.FunctionCall:
			fc = &v
		case *genai.FunctionCall:
			fc = v
		default:
			continue
		}
		args := argumentsOrEmpty(fc.Args)
		out.Segments = append(out.Segments, conversation.ToolCallSegment(conversation.ToolCallRequest{
			CallID:    synthesizeCallID(ProviderGemini, calls, fc.Name, args),
			ToolName:  fc.Name,
			Arguments: args,
		}))
		calls++
	}
	return out, nil
}

// Close releases the underlying client.
func (g *GeminiAdapter) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}

var _ Adapter[*GeminiRequest, *genai.GenerateContentResponse] = (*GeminiAdapter)(nil)
