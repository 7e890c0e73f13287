package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
	"github.com/Protocol-Lattice/go-mcp-client/src/models"
)

type fakeChat struct {
	provider, model string
	queries         []string
	resets          int
	fail            error
}

func (f *fakeChat) SubmitQuery(_ context.Context, text string) (string, error) {
	f.queries = append(f.queries, text)
	if f.fail != nil {
		return "", f.fail
	}
	return "answer to " + text, nil
}

func (f *fakeChat) SetBackend(provider, model string) error {
	if provider == "" {
		provider, model = models.ParseModelRef(model)
		if provider == "" {
			return errors.New("cannot infer provider")
		}
	}
	f.provider, f.model = provider, model
	return nil
}

func (f *fakeChat) Backend() (string, string) { return f.provider, f.model }

func (f *fakeChat) ListBackends() map[string][]string {
	return map[string][]string{"openai": {"gpt-4o"}, "anthropic": {}}
}

func (f *fakeChat) Tools() []conversation.ToolDescriptor {
	return []conversation.ToolDescriptor{{Name: "get_time", Description: "Current time"}, {Name: "noop"}}
}

func (f *fakeChat) Reset() { f.resets++ }

func chat(t *testing.T, f *fakeChat, input string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, runChat(context.Background(), f, strings.NewReader(input), &out))
	return out.String()
}

func TestChatSendsQueriesUntilQuit(t *testing.T) {
	f := &fakeChat{}
	out := chat(t, f, "hello\n\n  what time is it  \nquit\nnever sent\n")
	assert.Equal(t, []string{"hello", "what time is it"}, f.queries)
	assert.Contains(t, out, "answer to hello")
	assert.Contains(t, out, "answer to what time is it")
}

func TestChatStopsAtEOF(t *testing.T) {
	f := &fakeChat{}
	chat(t, f, "one")
	assert.Equal(t, []string{"one"}, f.queries)
}

func TestChatPrintsErrorsAndContinues(t *testing.T) {
	f := &fakeChat{fail: errors.New("backend down")}
	out := chat(t, f, "a\nb\n")
	assert.Equal(t, []string{"a", "b"}, f.queries)
	assert.Equal(t, 2, strings.Count(out, "Error: backend down"))
}

func TestChatModelCommands(t *testing.T) {
	f := &fakeChat{provider: "openai", model: "gpt-4o"}
	out := chat(t, f, "model list\nmodel set anthropic/claude-3-opus\nmodel set ollama llama3.1\nmodel set mystery\nmodel set\n")
	assert.Empty(t, f.queries)
	assert.Contains(t, out, "anthropic: (not configured)")
	assert.Contains(t, out, "openai: gpt-4o")
	assert.Contains(t, out, "Current: openai/gpt-4o")
	assert.Contains(t, out, "Switched to anthropic/claude-3-opus")
	assert.Contains(t, out, "Switched to ollama/llama3.1")
	assert.Contains(t, out, "Error: cannot infer provider")
	assert.Contains(t, out, "usage: model set")
	assert.Equal(t, "ollama", f.provider)
}

func TestChatResetAndTools(t *testing.T) {
	f := &fakeChat{}
	out := chat(t, f, "reset\ntools\nreset the counter please\n")
	assert.Equal(t, 1, f.resets)
	assert.Contains(t, out, "- get_time: Current time")
	assert.Contains(t, out, "- noop\n")
	assert.Equal(t, []string{"reset the counter please"}, f.queries)
}

func TestChatModelWordGoesToModel(t *testing.T) {
	f := &fakeChat{}
	chat(t, f, "model railways are fun\n")
	assert.Equal(t, []string{"model railways are fun"}, f.queries)
}
