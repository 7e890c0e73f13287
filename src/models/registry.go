package models

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"google.golang.org/api/option"
)

// Factory opens a backend for one provider. The model id is passed per
// request, so one backend serves every model of its provider.
type Factory func() (Backend, error)

// ProviderSettings configures one provider in the registry.
type ProviderSettings struct {
	APIKey  string
	BaseURL string
	Models  []string
}

// Configured reports whether the provider can be called.
func (s ProviderSettings) Configured(provider string) bool {
	switch provider {
	case ProviderOllama, ProviderDummy:
		return true
	}
	return s.APIKey != ""
}

type registration struct {
	factory Factory
	models  []string
}

// Registry maps provider ids to backend factories and model lists.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[string]registration{}}
}

// NewDefaultRegistry registers every built-in provider from settings.
// Providers without a credential are registered with no listed models, so
// they can still be selected and fail with ErrAuth on first use.
func NewDefaultRegistry(settings map[string]ProviderSettings) *Registry {
	r := NewRegistry()
	for _, provider := range []string{ProviderAnthropic, ProviderGemini, ProviderOpenAI, ProviderOpenRouter, ProviderOllama, ProviderDummy} {
		s := settings[provider]
		var listed []string
		if s.Configured(provider) {
			listed = s.Models
		}
		_ = r.Register(provider, listed, builtinFactory(provider, s))
	}
	return r
}

func builtinFactory(provider string, s ProviderSettings) Factory {
	return func() (Backend, error) {
		switch provider {
		case ProviderAnthropic:
			var opts []anthropicopt.RequestOption
			if s.BaseURL != "" {
				opts = append(opts, anthropicopt.WithBaseURL(s.BaseURL))
			}
			return Bind(NewAnthropicAdapter(s.APIKey, opts...)), nil
		case ProviderGemini:
			var opts []option.ClientOption
			if s.BaseURL != "" {
				opts = append(opts, option.WithEndpoint(s.BaseURL))
			}
			return Bind(NewGeminiAdapter(s.APIKey, opts...)), nil
		case ProviderOpenAI:
			return Bind(NewOpenAIAdapter(s.APIKey, s.BaseURL)), nil
		case ProviderOpenRouter:
			return Bind(NewOpenRouterAdapter(s.APIKey, s.BaseURL)), nil
		case ProviderOllama:
			a, err := NewOllamaAdapter(s.BaseURL)
			if err != nil {
				return nil, err
			}
			return Bind(a), nil
		case ProviderDummy:
			return Bind(NewDummyAdapter("")), nil
		}
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

// Register adds or replaces a provider.
func (r *Registry) Register(provider string, models []string, factory Factory) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return fmt.Errorf("provider name is empty")
	}
	if factory == nil {
		return fmt.Errorf("provider %s has no factory", provider)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider] = registration{factory: factory, models: slices.Clone(models)}
	return nil
}

// Open builds a backend for provider.
func (r *Registry) Open(provider string) (Backend, error) {
	key := strings.ToLower(strings.TrimSpace(provider))
	r.mu.RLock()
	reg, ok := r.providers[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (known: %s)", provider, strings.Join(r.Providers(), ", "))
	}
	return reg.factory()
}

// Has reports whether provider is registered.
func (r *Registry) Has(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[strings.ToLower(strings.TrimSpace(provider))]
	return ok
}

// Providers returns the registered provider ids, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for p := range r.providers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ListBackends returns provider id to available model ids. Unconfigured
// providers map to an empty list.
func (r *Registry) ListBackends() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.providers))
	for p, reg := range r.providers {
		models := slices.Clone(reg.models)
		if models == nil {
			models = []string{}
		}
		out[p] = models
	}
	return out
}
