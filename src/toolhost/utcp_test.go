package toolhost

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/universal-tool-calling-protocol/go-utcp/src/tools"
)

type stubUTCPClient struct {
	searchTools     []tools.Tool
	searchErr       error
	lastSearchLimit int
	lastToolName    string
	lastArgs        map[string]any
	result          any
}

func (c *stubUTCPClient) SearchTools(query string, limit int) ([]tools.Tool, error) {
	c.lastSearchLimit = limit
	return c.searchTools, c.searchErr
}

func (c *stubUTCPClient) CallTool(ctx context.Context, toolName string, args map[string]any) (any, error) {
	c.lastToolName = toolName
	c.lastArgs = args
	return c.result, nil
}

func TestUTCPHostListToolsRewritesNames(t *testing.T) {
	client := &stubUTCPClient{searchTools: []tools.Tool{
		{
			Name:        "weather.forecast",
			Description: "Forecast for a city",
			Inputs: tools.ToolInputOutputSchema{
				Type:       "object",
				Properties: map[string]any{"city": map[string]any{"type": "string"}},
				Required:   []string{"city"},
			},
		},
		{Name: "clock.now"},
	}}
	host := NewUTCPHostFromClient("utcp:test", client)

	descs, err := host.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, DefaultUTCPSearchLimit, client.lastSearchLimit)
	assert.Equal(t, "weather__forecast", descs[0].Name)

	schema, err := descs[0].SchemaMap()
	require.NoError(t, err)
	assert.Equal(t, []any{"city"}, schema["required"])

	empty, err := descs[1].SchemaMap()
	require.NoError(t, err)
	assert.Equal(t, "object", empty["type"])

	client.result = map[string]any{"temp": 21}
	res, err := host.CallTool(context.Background(), "weather__forecast", map[string]any{"city": "Oslo"})
	require.NoError(t, err)
	assert.Equal(t, "weather.forecast", client.lastToolName)
	assert.JSONEq(t, `{"temp":21}`, res.Content)
}

func TestUTCPHostCollisionsAndErrors(t *testing.T) {
	host := NewUTCPHostFromClient("utcp:test", &stubUTCPClient{searchTools: []tools.Tool{{Name: "a.b"}, {Name: "a__b"}}})
	_, err := host.ListTools(context.Background())
	require.Error(t, err)

	host = NewUTCPHostFromClient("utcp:test", &stubUTCPClient{searchErr: errors.New("providers offline")})
	_, err = host.ListTools(context.Background())
	require.ErrorContains(t, err, "providers offline")
}

func TestRenderValue(t *testing.T) {
	assert.Equal(t, "plain", renderValue("plain"))
	assert.Equal(t, "", renderValue(nil))
	assert.Equal(t, "[1,2]", renderValue([]int{1, 2}))
}
