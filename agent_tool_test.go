package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
	"github.com/Protocol-Lattice/go-mcp-client/src/toolhost"
)

func newTestExecutor(t *testing.T, host *stubHost, opts ExecutorOptions) *ToolExecutor {
	t.Helper()
	catalog, err := NewToolCatalog(host.tools)
	require.NoError(t, err)
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	return NewToolExecutor(host, catalog, opts)
}

func TestExecutorCallSuccess(t *testing.T) {
	host := &stubHost{tools: weatherTools}
	e := newTestExecutor(t, host, ExecutorOptions{})

	res := e.Call(context.Background(), call("1", "get_weather", map[string]any{"city": "Lima"}))
	assert.False(t, res.Failed)
	assert.Equal(t, "1", res.CallID)
	assert.Equal(t, "get_weather", res.ToolName)
	assert.Equal(t, "get_weather ok", res.Output)
	assert.Equal(t, conversation.FailureNone, res.Kind)
}

func TestExecutorUnknownToolSkipsHost(t *testing.T) {
	host := &stubHost{tools: weatherTools}
	e := newTestExecutor(t, host, ExecutorOptions{})

	res := e.Call(context.Background(), call("1", "Get_Weather", nil))
	assert.True(t, res.Failed)
	assert.Equal(t, conversation.FailureToolNotFound, res.Kind)
	assert.Equal(t, UnknownToolMessage, res.ErrorMessage)
	assert.Empty(t, host.called())
}

func TestExecutorValidatesArguments(t *testing.T) {
	host := &stubHost{tools: weatherTools}
	e := newTestExecutor(t, host, ExecutorOptions{})

	res := e.Call(context.Background(), call("1", "get_weather", map[string]any{}))
	assert.True(t, res.Failed)
	assert.Equal(t, conversation.FailureToolExecution, res.Kind)
	assert.Contains(t, res.ErrorMessage, "invalid arguments for get_weather")
	assert.Empty(t, host.called())

	res = e.Call(context.Background(), call("2", "get_weather", map[string]any{"city": 12.0}))
	assert.True(t, res.Failed)

	lax := newTestExecutor(t, host, ExecutorOptions{SkipArgumentValidation: true})
	res = lax.Call(context.Background(), call("3", "get_weather", map[string]any{}))
	assert.False(t, res.Failed)
	assert.Equal(t, []string{"get_weather"}, host.called())
}

func TestExecutorTimeoutHoldsWhenHostIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	host := &stubHost{
		tools: weatherTools,
		call: func(context.Context, string, map[string]any) (toolhost.Result, error) {
			<-release
			return toolhost.Result{Content: "too late"}, nil
		},
	}
	e := newTestExecutor(t, host, ExecutorOptions{Timeout: 20 * time.Millisecond})

	start := time.Now()
	res := e.Call(context.Background(), call("1", "slow", nil))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, res.Failed)
	assert.Equal(t, conversation.FailureToolTimeout, res.Kind)
	assert.Contains(t, res.ErrorMessage, "did not complete within")
	assert.ErrorIs(t, res.Kind.Err(), ErrToolTimeout)
}

func TestExecutorHostFailures(t *testing.T) {
	host := &stubHost{
		tools: weatherTools,
		call: func(_ context.Context, name string, _ map[string]any) (toolhost.Result, error) {
			if name == "get_time" {
				return toolhost.Result{}, errors.New("pipe closed")
			}
			return toolhost.Result{Content: "city not found", IsError: true}, nil
		},
	}
	e := newTestExecutor(t, host, ExecutorOptions{})

	res := e.Call(context.Background(), call("1", "get_time", nil))
	assert.True(t, res.Failed)
	assert.Equal(t, conversation.FailureToolExecution, res.Kind)
	assert.Contains(t, res.ErrorMessage, "pipe closed")

	res = e.Call(context.Background(), call("2", "get_weather", map[string]any{"city": "Atlantis"}))
	assert.True(t, res.Failed)
	assert.Equal(t, "city not found", res.Output)
	assert.Contains(t, res.Text(), "city not found")
}

func TestExecuteBatchRespectsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	host := &stubHost{
		tools: weatherTools,
		call: func(context.Context, string, map[string]any) (toolhost.Result, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return toolhost.Result{Content: "t"}, nil
		},
	}
	e := newTestExecutor(t, host, ExecutorOptions{Concurrency: 2})

	calls := make([]conversation.ToolCallRequest, 6)
	for i := range calls {
		calls[i] = call(string(rune('a'+i)), "get_time", nil)
	}
	results, err := e.ExecuteBatch(context.Background(), calls)
	require.NoError(t, err)
	require.Len(t, results, 6)
	for i, res := range results {
		assert.Equal(t, calls[i].CallID, res.CallID)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecuteBatchCancelled(t *testing.T) {
	host := &stubHost{
		tools: weatherTools,
		call: func(ctx context.Context, _ string, _ map[string]any) (toolhost.Result, error) {
			<-ctx.Done()
			return toolhost.Result{}, ctx.Err()
		},
	}
	e := newTestExecutor(t, host, ExecutorOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	results, err := e.ExecuteBatch(ctx, []conversation.ToolCallRequest{call("1", "slow", nil), call("2", "slow", nil)})
	assert.Error(t, err)
	assert.Nil(t, results)
}

func TestCatalogOrderAndLookup(t *testing.T) {
	c, err := NewToolCatalog(weatherTools)
	require.NoError(t, err)
	assert.Equal(t, []string{"get_weather", "get_time", "slow"}, c.Names())
	assert.Equal(t, 3, c.Len())

	d, ok := c.Lookup("get_weather")
	require.True(t, ok)
	assert.Equal(t, "Current weather for a city", d.Description)
	_, ok = c.Lookup("GET_WEATHER")
	assert.False(t, ok)

	list := c.List()
	list[0].InputSchema[0] = 'X'
	again, _ := c.Lookup("get_weather")
	assert.True(t, json.Valid(again.InputSchema))
}

func TestCatalogRejectsBadNames(t *testing.T) {
	_, err := NewToolCatalog([]conversation.ToolDescriptor{{Name: " "}})
	assert.Error(t, err)

	_, err = NewToolCatalog([]conversation.ToolDescriptor{{Name: "a"}, {Name: "a"}})
	assert.Error(t, err)

	c, err := NewToolCatalog([]conversation.ToolDescriptor{{Name: "a"}, {Name: "A"}})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestCatalogValidate(t *testing.T) {
	c, err := NewToolCatalog([]conversation.ToolDescriptor{
		{Name: "strict", InputSchema: json.RawMessage(`{"type":"object","properties":{"s":{"type":"string"}},"required":["s"]}`)},
		{Name: "broken", InputSchema: json.RawMessage(`{"type":12}`)},
		{Name: "open"},
	})
	require.NoError(t, err)

	assert.NoError(t, c.Validate("strict", map[string]any{"s": "three"}))
	assert.Error(t, c.Validate("strict", map[string]any{"s": 3.0}))
	assert.Error(t, c.Validate("strict", nil))
	assert.NoError(t, c.Validate("broken", map[string]any{"anything": true}))
	assert.NoError(t, c.Validate("open", nil))
	assert.NoError(t, c.Validate("missing", nil))
}

func TestLoadCatalogWrapsHostError(t *testing.T) {
	_, err := LoadCatalog(context.Background(), &stubHost{listErr: errors.New("boom")})
	var catErr *CatalogError
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, "stub", catErr.Host)
	assert.ErrorIs(t, err, ErrCatalogUnavailable)

	_, err = LoadCatalog(context.Background(), &stubHost{tools: []conversation.ToolDescriptor{{Name: "x"}, {Name: "x"}}})
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
}
