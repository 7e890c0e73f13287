package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
	"github.com/Protocol-Lattice/go-mcp-client/src/toolhost"
)

// ToolCatalog is the immutable set of tools one session may call. It is
// built once and never refreshed, so tools cannot appear or disappear in
// the middle of a conversation.
type ToolCatalog struct {
	specs   map[string]conversation.ToolDescriptor
	schemas map[string]*jsonschema.Resolved
	order   []string
}

// LoadCatalog lists the host's tools once.
func LoadCatalog(ctx context.Context, host toolhost.Host) (*ToolCatalog, error) {
	descs, err := host.ListTools(ctx)
	if err != nil {
		return nil, &CatalogError{Host: host.Name(), Err: err}
	}
	catalog, err := NewToolCatalog(descs)
	if err != nil {
		return nil, &CatalogError{Host: host.Name(), Err: err}
	}
	return catalog, nil
}

// NewToolCatalog builds a catalog in the given order. Empty or duplicate
// names are rejected. Names are case-sensitive.
//
// Schemas that cannot be resolved are kept as published but their tools
// skip argument validation.
func NewToolCatalog(descs []conversation.ToolDescriptor) (*ToolCatalog, error) {
	c := &ToolCatalog{
		specs:   make(map[string]conversation.ToolDescriptor, len(descs)),
		schemas: make(map[string]*jsonschema.Resolved, len(descs)),
	}
	for _, d := range descs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("tool name is empty")
		}
		if _, exists := c.specs[name]; exists {
			return nil, fmt.Errorf("tool %s already registered", name)
		}
		d.Name = name
		d.InputSchema = slices.Clone(d.InputSchema)
		c.specs[name] = d
		c.order = append(c.order, name)
		if resolved, err := resolveSchema(d.Schema()); err == nil {
			c.schemas[name] = resolved
		}
	}
	return c, nil
}

func resolveSchema(raw json.RawMessage) (*jsonschema.Resolved, error) {
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}
	return schema.Resolve(nil)
}

// List returns the descriptors in host order.
func (c *ToolCatalog) List() []conversation.ToolDescriptor {
	out := make([]conversation.ToolDescriptor, 0, len(c.order))
	for _, name := range c.order {
		d := c.specs[name]
		d.InputSchema = slices.Clone(d.InputSchema)
		out = append(out, d)
	}
	return out
}

// Lookup returns the descriptor for name.
func (c *ToolCatalog) Lookup(name string) (conversation.ToolDescriptor, bool) {
	d, ok := c.specs[name]
	if ok {
		d.InputSchema = slices.Clone(d.InputSchema)
	}
	return d, ok
}

// Names returns the tool names in host order.
func (c *ToolCatalog) Names() []string { return slices.Clone(c.order) }

// Len returns the number of tools.
func (c *ToolCatalog) Len() int { return len(c.order) }

// Validate checks args against the tool's input schema. Unknown tools and
// tools without a usable schema always pass.
func (c *ToolCatalog) Validate(name string, args map[string]any) error {
	resolved, ok := c.schemas[name]
	if !ok {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	return resolved.Validate(args)
}
