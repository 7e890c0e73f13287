package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Protocol-Lattice/go-mcp-client/src/helpers"
	"github.com/Protocol-Lattice/go-mcp-client/src/models"
)

const (
	DefaultModel           = "anthropic/claude-3-5-sonnet-20241022"
	DefaultMaxTokens       = 1000
	DefaultMaxIterations   = 10
	DefaultModelTimeout    = 60 * time.Second
	DefaultToolTimeout     = 30 * time.Second
	DefaultToolConcurrency = 4
)

// Provider configures one model provider.
type Provider struct {
	APIKey    string   `yaml:"api_key,omitempty"`
	APIKeyEnv string   `yaml:"api_key_env,omitempty"`
	BaseURL   string   `yaml:"base_url,omitempty"`
	Models    []string `yaml:"models,omitempty"`
}

// Config is the client configuration: defaults, then the YAML file, then
// the environment.
type Config struct {
	DefaultModel    string              `yaml:"default_model"`
	ToolHost        string              `yaml:"tool_host"`
	Temperature     *float64            `yaml:"temperature,omitempty"`
	MaxTokens       int                 `yaml:"max_tokens"`
	MaxIterations   int                 `yaml:"max_iterations"`
	ModelTimeout    time.Duration       `yaml:"model_timeout"`
	ToolTimeout     time.Duration       `yaml:"tool_timeout"`
	ToolConcurrency int                 `yaml:"tool_concurrency"`
	Providers       map[string]Provider `yaml:"providers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultModel:    DefaultModel,
		MaxTokens:       DefaultMaxTokens,
		MaxIterations:   DefaultMaxIterations,
		ModelTimeout:    DefaultModelTimeout,
		ToolTimeout:     DefaultToolTimeout,
		ToolConcurrency: DefaultToolConcurrency,
		Providers: map[string]Provider{
			models.ProviderAnthropic: {
				APIKeyEnv: "ANTHROPIC_API_KEY",
				Models:    []string{"claude-3-5-sonnet-20241022", "claude-3-opus-20240229"},
			},
			models.ProviderGemini: {
				APIKeyEnv: "GEMINI_API_KEY",
				Models:    []string{"gemini-2.0-flash", "gemini-1.5-flash", "gemini-1.5-pro"},
			},
			models.ProviderOpenRouter: {
				APIKeyEnv: "OPENROUTER_API_KEY",
				BaseURL:   models.OpenRouterBaseURL,
				Models:    []string{"openai/gpt-4o", "anthropic/claude-3-opus"},
			},
			models.ProviderOpenAI: {
				APIKeyEnv: "OPENAI_API_KEY",
				Models:    []string{"gpt-4o", "gpt-4o-mini"},
			},
			models.ProviderOllama: {
				BaseURL: models.DefaultOllamaHost,
				Models:  []string{"llama3.1"},
			},
			models.ProviderDummy: {
				Models: []string{"echo"},
			},
		},
	}
}

// Load reads envFile (".env" when empty, missing files are fine), then the
// YAML file at path if set, then environment overrides, and validates.
func Load(path, envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.merge(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge overlays YAML on top of the current values. Providers are merged
// field by field so a file may set only a key or only a model list.
func (c *Config) merge(data []byte) error {
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.DefaultModel != "" {
		c.DefaultModel = file.DefaultModel
	}
	if file.ToolHost != "" {
		c.ToolHost = file.ToolHost
	}
	if file.Temperature != nil {
		c.Temperature = file.Temperature
	}
	if file.MaxTokens != 0 {
		c.MaxTokens = file.MaxTokens
	}
	if file.MaxIterations != 0 {
		c.MaxIterations = file.MaxIterations
	}
	if file.ModelTimeout != 0 {
		c.ModelTimeout = file.ModelTimeout
	}
	if file.ToolTimeout != 0 {
		c.ToolTimeout = file.ToolTimeout
	}
	if file.ToolConcurrency != 0 {
		c.ToolConcurrency = file.ToolConcurrency
	}
	for name, p := range file.Providers {
		name = strings.ToLower(name)
		cur := c.Providers[name]
		if p.APIKey != "" {
			cur.APIKey = p.APIKey
		}
		if p.APIKeyEnv != "" {
			cur.APIKeyEnv = p.APIKeyEnv
		}
		if p.BaseURL != "" {
			cur.BaseURL = p.BaseURL
		}
		if p.Models != nil {
			cur.Models = p.Models
		}
		c.Providers[name] = cur
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("DEFAULT_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := getenv("MCP_TOOL_HOST"); v != "" {
		c.ToolHost = v
	}
	if v := getenv("MCP_MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MCP_MAX_ITERATIONS: %w", err)
		}
		c.MaxIterations = n
	}
	for name, p := range c.Providers {
		if p.APIKeyEnv != "" {
			if v := getenv(p.APIKeyEnv); v != "" {
				p.APIKey = v
			}
		}
		// Gemini also honours the Google-wide variable.
		if name == models.ProviderGemini && p.APIKey == "" {
			p.APIKey = getenv("GOOGLE_API_KEY")
		}
		if name == models.ProviderOllama {
			if v := getenv("OLLAMA_HOST"); v != "" {
				p.BaseURL = v
			}
		}
		if list := helpers.ParseCSVList(getenv(strings.ToUpper(name) + "_MODELS")); list != nil {
			p.Models = list
		}
		c.Providers[name] = p
	}
	return nil
}

// Validate rejects limits the client cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens))
	}
	if c.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations))
	}
	if c.ModelTimeout <= 0 {
		errs = append(errs, fmt.Errorf("model_timeout must be positive, got %s", c.ModelTimeout))
	}
	if c.ToolTimeout <= 0 {
		errs = append(errs, fmt.Errorf("tool_timeout must be positive, got %s", c.ToolTimeout))
	}
	if c.ToolConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("tool_concurrency must be positive, got %d", c.ToolConcurrency))
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		errs = append(errs, fmt.Errorf("temperature must be within [0, 2], got %g", *c.Temperature))
	}
	return errors.Join(errs...)
}

// ProviderSettings converts the provider table for models.NewDefaultRegistry.
func (c *Config) ProviderSettings() map[string]models.ProviderSettings {
	out := make(map[string]models.ProviderSettings, len(c.Providers))
	for name, p := range c.Providers {
		out[name] = models.ProviderSettings{APIKey: p.APIKey, BaseURL: p.BaseURL, Models: p.Models}
	}
	return out
}

// Backend resolves DefaultModel into a provider and model id.
func (c *Config) Backend() (provider, model string, err error) {
	provider, model = models.ParseModelRef(c.DefaultModel)
	if provider == "" {
		return "", "", fmt.Errorf("cannot infer provider for model %q, use provider/model", c.DefaultModel)
	}
	return provider, model, nil
}
