package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
)

const clientName = "go-mcp-client"

// ClientVersion is reported to MCP servers during initialization.
var ClientVersion = "0.1.0"

// MCPHost reaches tools through a Model Context Protocol session.
type MCPHost struct {
	name    string
	session *mcpsdk.ClientSession
}

// ConnectMCP initializes an MCP session over transport.
func ConnectMCP(ctx context.Context, name string, transport mcpsdk.Transport) (*MCPHost, error) {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: clientName, Version: ClientVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to MCP server %s: %w", name, err)
	}
	return &MCPHost{name: name, session: session}, nil
}

// ConnectStdio starts argv and speaks MCP over its stdin and stdout.
// The server's stderr is passed through.
func ConnectStdio(ctx context.Context, argv []string) (*MCPHost, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	cmd.Stderr = os.Stderr
	return ConnectMCP(ctx, strings.Join(argv, " "), &mcpsdk.CommandTransport{Command: cmd})
}

// ConnectStreamable connects to an MCP server over streamable HTTP.
func ConnectStreamable(ctx context.Context, endpoint string) (*MCPHost, error) {
	return ConnectMCP(ctx, endpoint, &mcpsdk.StreamableClientTransport{Endpoint: endpoint})
}

// ConnectSSE connects to an MCP server over server-sent events.
func ConnectSSE(ctx context.Context, endpoint string) (*MCPHost, error) {
	return ConnectMCP(ctx, endpoint, &mcpsdk.SSEClientTransport{Endpoint: endpoint})
}

func (h *MCPHost) Name() string { return h.name }

// ListTools pages through every tool the server publishes.
func (h *MCPHost) ListTools(ctx context.Context) ([]conversation.ToolDescriptor, error) {
	var out []conversation.ToolDescriptor
	for tool, err := range h.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("list tools from %s: %w", h.name, err)
		}
		desc := conversation.ToolDescriptor{Name: tool.Name, Description: tool.Description}
		if tool.InputSchema != nil {
			raw, err := json.Marshal(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("tool %s: encode input schema: %w", tool.Name, err)
			}
			desc.InputSchema = raw
		}
		out = append(out, desc)
	}
	return out, nil
}

func (h *MCPHost) CallTool(ctx context.Context, name string, args map[string]any) (Result, error) {
	if args == nil {
		args = map[string]any{}
	}
	res, err := h.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return Result{}, err
	}
	return Result{Content: renderContent(res), IsError: res.IsError}, nil
}

func renderContent(res *mcpsdk.CallToolResult) string {
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		switch v := c.(type) {
		case *mcpsdk.TextContent:
			parts = append(parts, v.Text)
		case *mcpsdk.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s, %d bytes]", v.MIMEType, len(v.Data)))
		case *mcpsdk.AudioContent:
			parts = append(parts, fmt.Sprintf("[audio %s, %d bytes]", v.MIMEType, len(v.Data)))
		case *mcpsdk.ResourceLink:
			parts = append(parts, fmt.Sprintf("[resource %s]", v.URI))
		case *mcpsdk.EmbeddedResource:
			if v.Resource != nil && v.Resource.Text != "" {
				parts = append(parts, v.Resource.Text)
			} else if v.Resource != nil {
				parts = append(parts, fmt.Sprintf("[resource %s]", v.Resource.URI))
			}
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if data, err := json.Marshal(res.StructuredContent); err == nil {
			return string(data)
		}
	}
	return strings.Join(parts, "\n")
}

func (h *MCPHost) Close() error {
	return h.session.Close()
}

var _ Host = (*MCPHost)(nil)
