package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	utcp "github.com/universal-tool-calling-protocol/go-utcp"
	"github.com/universal-tool-calling-protocol/go-utcp/src/tools"

	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
)

// UTCPClient is the part of the UTCP client used here.
// utcp.UtcpClientInterface satisfies it.
type UTCPClient interface {
	SearchTools(query string, limit int) ([]tools.Tool, error)
	CallTool(ctx context.Context, toolName string, args map[string]any) (any, error)
}

// DefaultUTCPSearchLimit bounds how many tools are pulled from the providers.
const DefaultUTCPSearchLimit = 200

// UTCPHost reaches tools registered with a UTCP client. UTCP names tools
// "provider.tool", which model APIs reject, so names are rewritten to
// "provider__tool" on the way out and mapped back on call.
type UTCPHost struct {
	name   string
	client UTCPClient
	limit  int

	mu    sync.RWMutex
	names map[string]string
}

// NewUTCPHost loads the providers file and registers its tools.
func NewUTCPHost(ctx context.Context, providersFile string) (*UTCPHost, error) {
	cfg := &utcp.UtcpClientConfig{ProvidersFilePath: providersFile}
	client, err := utcp.NewUTCPClient(ctx, cfg, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("load UTCP providers %s: %w", providersFile, err)
	}
	return NewUTCPHostFromClient("utcp:"+providersFile, client), nil
}

// NewUTCPHostFromClient wraps an existing client.
func NewUTCPHostFromClient(name string, client UTCPClient) *UTCPHost {
	return &UTCPHost{name: name, client: client, limit: DefaultUTCPSearchLimit, names: map[string]string{}}
}

func (h *UTCPHost) Name() string { return h.name }

var unsafeToolName = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func exposedName(name string) string {
	out := unsafeToolName.ReplaceAllStringFunc(name, func(s string) string {
		if s == "." {
			return "__"
		}
		return "_"
	})
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}

func (h *UTCPHost) ListTools(ctx context.Context) ([]conversation.ToolDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found, err := h.client.SearchTools("", h.limit)
	if err != nil {
		return nil, fmt.Errorf("list tools from %s: %w", h.name, err)
	}

	names := make(map[string]string, len(found))
	out := make([]conversation.ToolDescriptor, 0, len(found))
	for _, tool := range found {
		exposed := exposedName(tool.Name)
		if prev, dup := names[exposed]; dup {
			return nil, fmt.Errorf("tools %q and %q collide as %q", prev, tool.Name, exposed)
		}
		names[exposed] = tool.Name

		schema, err := json.Marshal(inputSchema(tool.Inputs))
		if err != nil {
			return nil, fmt.Errorf("tool %s: encode input schema: %w", tool.Name, err)
		}
		out = append(out, conversation.ToolDescriptor{Name: exposed, Description: tool.Description, InputSchema: schema})
	}

	h.mu.Lock()
	h.names = names
	h.mu.Unlock()
	return out, nil
}

func inputSchema(in tools.ToolInputOutputSchema) map[string]any {
	typ := in.Type
	if typ == "" {
		typ = "object"
	}
	props := in.Properties
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{"type": typ, "properties": props}
	if len(in.Required) > 0 {
		schema["required"] = in.Required
	}
	return schema
}

func (h *UTCPHost) CallTool(ctx context.Context, name string, args map[string]any) (Result, error) {
	h.mu.RLock()
	original, ok := h.names[name]
	h.mu.RUnlock()
	if !ok {
		original = name
	}
	if args == nil {
		args = map[string]any{}
	}
	out, err := h.client.CallTool(ctx, original, args)
	if err != nil {
		return Result{}, err
	}
	return Result{Content: renderValue(out)}, nil
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func (h *UTCPHost) Close() error { return nil }

var _ Host = (*UTCPHost)(nil)
