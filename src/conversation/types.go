package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// emptyObjectSchema is used when a tool host publishes no input schema.
var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ToolDescriptor describes a callable tool published by the tool host.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Schema returns the input schema, falling back to an empty object schema.
func (d ToolDescriptor) Schema() json.RawMessage {
	if len(d.InputSchema) == 0 || string(d.InputSchema) == "null" {
		return emptyObjectSchema
	}
	return d.InputSchema
}

// SchemaMap decodes the input schema into a generic map.
func (d ToolDescriptor) SchemaMap() (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(d.Schema(), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// ToolCallRequest is a single tool invocation requested by the model.
type ToolCallRequest struct {
	CallID    string         `json:"call_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func (r ToolCallRequest) clone() ToolCallRequest {
	r.Arguments = maps.Clone(r.Arguments)
	return r
}

// FailureKind classifies a failed tool call.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureToolNotFound  FailureKind = "tool_not_found"
	FailureToolExecution FailureKind = "tool_execution_error"
	FailureToolTimeout   FailureKind = "tool_timeout"
)

var (
	ErrToolNotFound  = errors.New("unknown tool")
	ErrToolExecution = errors.New("tool execution failed")
	ErrToolTimeout   = errors.New("tool call timed out")
)

// Err maps the kind back to its sentinel error. FailureNone maps to nil.
func (k FailureKind) Err() error {
	switch k {
	case FailureToolNotFound:
		return ErrToolNotFound
	case FailureToolExecution:
		return ErrToolExecution
	case FailureToolTimeout:
		return ErrToolTimeout
	default:
		return nil
	}
}

// ToolCallResult is the outcome of executing one ToolCallRequest.
type ToolCallResult struct {
	CallID       string      `json:"call_id"`
	ToolName     string      `json:"tool_name"`
	Output       string      `json:"output"`
	Failed       bool        `json:"failed"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Kind         FailureKind `json:"kind,omitempty"`
}

// Text is what gets shown to the model for this result.
func (r ToolCallResult) Text() string {
	if !r.Failed {
		return r.Output
	}
	if r.Output != "" && r.ErrorMessage != "" {
		return "error: " + r.ErrorMessage + "\n" + r.Output
	}
	if r.ErrorMessage != "" {
		return "error: " + r.ErrorMessage
	}
	return "error: " + r.Output
}

// Turn is one transcript entry.
type Turn struct {
	Role      Role              `json:"role"`
	Content   string            `json:"content,omitempty"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
	Result    *ToolCallResult   `json:"result,omitempty"`
}

func (t Turn) clone() Turn {
	if t.ToolCalls != nil {
		calls := make([]ToolCallRequest, len(t.ToolCalls))
		for i, c := range t.ToolCalls {
			calls[i] = c.clone()
		}
		t.ToolCalls = calls
	}
	if t.Result != nil {
		res := *t.Result
		t.Result = &res
	}
	return t
}

// Segment is either text or a tool call, never both.
type Segment struct {
	Text     string           `json:"text,omitempty"`
	ToolCall *ToolCallRequest `json:"tool_call,omitempty"`
}

// TextSegment builds a text segment.
func TextSegment(text string) Segment { return Segment{Text: text} }

// ToolCallSegment builds a tool call segment.
func ToolCallSegment(call ToolCallRequest) Segment { return Segment{ToolCall: &call} }

// IsToolCall reports whether the segment carries a tool call.
func (s Segment) IsToolCall() bool { return s.ToolCall != nil }

// NormalizedResponse is a provider-neutral model reply, in emitted order.
type NormalizedResponse struct {
	Segments []Segment `json:"segments"`
}

// Text joins the text segments with newlines, skipping empty ones.
func (r NormalizedResponse) Text() string {
	parts := make([]string, 0, len(r.Segments))
	for _, seg := range r.Segments {
		if seg.IsToolCall() || seg.Text == "" {
			continue
		}
		parts = append(parts, seg.Text)
	}
	return strings.Join(parts, "\n")
}

// ToolCalls returns the tool call segments in emitted order.
func (r NormalizedResponse) ToolCalls() []ToolCallRequest {
	var calls []ToolCallRequest
	for _, seg := range r.Segments {
		if seg.IsToolCall() {
			calls = append(calls, seg.ToolCall.clone())
		}
	}
	return calls
}

// ValidateCallIDs rejects tool calls with an empty or repeated call id.
// Results are matched to calls by id, so ids must be unique per turn.
func (r NormalizedResponse) ValidateCallIDs() error {
	seen := map[string]struct{}{}
	for _, seg := range r.Segments {
		if !seg.IsToolCall() {
			continue
		}
		id := seg.ToolCall.CallID
		if id == "" {
			return fmt.Errorf("tool call %s has no call id", seg.ToolCall.ToolName)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("call id %q repeats within one response", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Terminal reports whether the response requests no tools.
func (r NormalizedResponse) Terminal() bool {
	for _, seg := range r.Segments {
		if seg.IsToolCall() {
			return false
		}
	}
	return true
}
