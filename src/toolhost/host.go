package toolhost

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
	"github.com/Protocol-Lattice/go-mcp-client/src/helpers"
)

// Host is the process or service that actually runs tools.
type Host interface {
	Name() string
	ListTools(ctx context.Context) ([]conversation.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (Result, error)
	Close() error
}

// Result is the textual outcome of a tool call. IsError is set when the
// host ran the tool and the tool itself reported a failure.
type Result struct {
	Content string
	IsError bool
}

// Open connects to the tool host named by target:
//
//	server.py, server.js          run the script with python or node over stdio
//	stdio:<command line>          run an arbitrary command over stdio
//	http(s)://host/mcp            MCP streamable HTTP
//	sse+http(s)://host/sse        MCP server-sent events
//	utcp:<providers.json>         UTCP providers file
//
// Anything else is run as a command line over stdio.
func Open(ctx context.Context, target string) (Host, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("no tool host configured")
	}
	switch {
	case strings.HasPrefix(target, "utcp:"):
		return NewUTCPHost(ctx, strings.TrimPrefix(target, "utcp:"))
	case strings.HasPrefix(target, "sse+http://"), strings.HasPrefix(target, "sse+https://"):
		return ConnectSSE(ctx, strings.TrimPrefix(target, "sse+"))
	case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"):
		return ConnectStreamable(ctx, target)
	}
	argv, err := CommandFor(target)
	if err != nil {
		return nil, err
	}
	return ConnectStdio(ctx, argv)
}

// CommandFor resolves a stdio target into argv.
func CommandFor(target string) ([]string, error) {
	target = strings.TrimPrefix(strings.TrimSpace(target), "stdio:")
	argv, err := helpers.SplitCommandLine(target)
	if err != nil {
		return nil, fmt.Errorf("parse tool host command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("tool host command cannot be empty")
	}
	if len(argv) == 1 {
		switch strings.ToLower(filepath.Ext(argv[0])) {
		case ".py":
			return []string{"python", argv[0]}, nil
		case ".js":
			return []string{"node", argv[0]}, nil
		}
	}
	return argv, nil
}
