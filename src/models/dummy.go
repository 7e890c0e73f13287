package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
)

// DummyAdapter answers locally without any API call. It echoes the latest
// user message, or summarizes the latest tool results. Useful to check tool
// host wiring offline.
type DummyAdapter struct {
	Prefix string
}

func NewDummyAdapter(prefix string) *DummyAdapter {
	if strings.TrimSpace(prefix) == "" {
		prefix = "Dummy response:"
	}
	return &DummyAdapter{Prefix: prefix}
}

func (d *DummyAdapter) Provider() string { return ProviderDummy }

func (d *DummyAdapter) BuildRequest(turns []conversation.Turn, _ []conversation.ToolDescriptor, _ Params) ([]conversation.Turn, error) {
	return turns, nil
}

func (d *DummyAdapter) Send(ctx context.Context, turns []conversation.Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var results []string
	for i := len(turns) - 1; i >= 0; i-- {
		turn := turns[i]
		switch turn.Role {
		case conversation.RoleTool:
			results = append([]string{fmt.Sprintf("%s=%s", turn.Result.ToolName, turn.Content)}, results...)
			continue
		case conversation.RoleUser:
			last := strings.TrimSpace(turn.Content)
			if last == "" {
				last = "<empty prompt>"
			}
			return fmt.Sprintf("%s %s", d.Prefix, last), nil
		}
		if len(results) > 0 {
			break
		}
	}
	if len(results) > 0 {
		return fmt.Sprintf("%s %s", d.Prefix, strings.Join(results, ", ")), nil
	}
	return fmt.Sprintf("%s <empty prompt>", d.Prefix), nil
}

func (d *DummyAdapter) Normalize(text string) (conversation.NormalizedResponse, error) {
	return conversation.NormalizedResponse{Segments: []conversation.Segment{conversation.TextSegment(text)}}, nil
}

var _ Adapter[[]conversation.Turn, string] = (*DummyAdapter)(nil)
