package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Protocol-Lattice/go-mcp-client/src/cache"
	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
)

// Provider ids understood by the registry.
const (
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderDummy      = "dummy"
)

// ParseModelRef splits a model reference such as "anthropic/claude-3-5-sonnet"
// or "gemini-2.0-flash" into a provider id and the model id that provider
// expects. Unqualified vendor/model ids go to OpenRouter unchanged.
func ParseModelRef(ref string) (provider, model string) {
	ref = strings.TrimSpace(ref)
	lower := strings.ToLower(ref)

	if prefix, rest, ok := strings.Cut(ref, "/"); ok {
		switch strings.ToLower(prefix) {
		case ProviderAnthropic, "claude":
			return ProviderAnthropic, rest
		case ProviderGemini, "google":
			return ProviderGemini, rest
		case ProviderOllama:
			return ProviderOllama, rest
		case ProviderOpenRouter:
			return ProviderOpenRouter, rest
		case ProviderDummy:
			return ProviderDummy, rest
		}
		return ProviderOpenRouter, ref
	}

	switch {
	case strings.HasPrefix(lower, "claude"):
		return ProviderAnthropic, ref
	case strings.HasPrefix(lower, "gemini"):
		return ProviderGemini, ref
	case strings.HasPrefix(lower, "gpt"), strings.HasPrefix(lower, "o1"),
		strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		return ProviderOpenAI, ref
	}
	return "", ref
}

// ParseToolArguments turns a provider's raw argument string into a map.
// JSON objects decode as-is, JSON arrays become {"items": [...]}, anything
// else is passed through as {"input": raw}.
func ParseToolArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	if strings.HasPrefix(raw, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err == nil {
			if obj == nil {
				obj = map[string]any{}
			}
			return obj
		}
	}
	if strings.HasPrefix(raw, "[") {
		var arr []any
		if err := json.Unmarshal([]byte(raw), &arr); err == nil {
			return map[string]any{"items": arr}
		}
	}
	return map[string]any{"input": raw}
}

// callIDNamespace scopes synthesized call ids.
var callIDNamespace = uuid.MustParse("6f0c1d2e-8a4b-4c1f-9b0e-3d5a7c9e1f20")

// synthesizeCallID derives a stable id for providers that do not return one.
// The same response always yields the same ids.
func synthesizeCallID(provider string, index int, name string, args map[string]any) string {
	payload, _ := json.Marshal(args)
	seed := fmt.Sprintf("%s\x00%d\x00%s\x00%s", provider, index, name, payload)
	return "call_" + uuid.NewSHA1(callIDNamespace, []byte(seed)).String()
}

// uniqueCallIDs gives every tool call of one response a distinct id. Some
// routes repeat ids like "call_0"; the first holder keeps it and later ones
// get a synthesized id, so normalizing twice still yields the same ids.
func uniqueCallIDs(provider string, resp conversation.NormalizedResponse) conversation.NormalizedResponse {
	if resp.Terminal() {
		return resp
	}
	seen := make(map[string]struct{}, len(resp.Segments))
	segs := make([]conversation.Segment, len(resp.Segments))
	for i, seg := range resp.Segments {
		segs[i] = seg
		if !seg.IsToolCall() {
			continue
		}
		call := *seg.ToolCall
		if _, dup := seen[call.CallID]; dup || call.CallID == "" {
			id := synthesizeCallID(provider, i, call.ToolName, call.Arguments)
			for n := 1; ; n++ {
				if _, taken := seen[id]; !taken {
					break
				}
				id = fmt.Sprintf("%s_%d", synthesizeCallID(provider, i, call.ToolName, call.Arguments), n)
			}
			call.CallID = id
		}
		seen[call.CallID] = struct{}{}
		segs[i] = conversation.ToolCallSegment(call)
	}
	return conversation.NormalizedResponse{Segments: segs}
}

// declarationCache memoizes native tool declarations per catalog.
type declarationCache[T any] struct {
	lru *cache.LRUCache[T]
}

func newDeclarationCache[T any]() *declarationCache[T] {
	return &declarationCache[T]{lru: cache.NewLRUCache[T](16, time.Hour)}
}

func (c *declarationCache[T]) get(tools []conversation.ToolDescriptor, build func([]conversation.ToolDescriptor) (T, error)) (T, error) {
	parts := make([]string, 0, len(tools)*3)
	for _, t := range tools {
		parts = append(parts, t.Name, t.Description, string(t.Schema()))
	}
	return c.lru.GetOrCompute(cache.HashKey(parts...), func() (T, error) {
		return build(tools)
	})
}

// roleRun groups consecutive turns that share a native role.
type roleRun struct {
	role  string
	turns []conversation.Turn
}

// groupTurns merges adjacent turns whose native role (as decided by roleOf)
// is the same. Providers that require strictly alternating roles send one
// native message per run.
func groupTurns(turns []conversation.Turn, roleOf func(conversation.Turn) string) []roleRun {
	var runs []roleRun
	for _, turn := range turns {
		role := roleOf(turn)
		if n := len(runs); n > 0 && runs[n-1].role == role {
			runs[n-1].turns = append(runs[n-1].turns, turn)
			continue
		}
		runs = append(runs, roleRun{role: role, turns: []conversation.Turn{turn}})
	}
	return runs
}
