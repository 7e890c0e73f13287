package agent

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Protocol-Lattice/go-mcp-client/src/config"
	"github.com/Protocol-Lattice/go-mcp-client/src/models"
	"github.com/Protocol-Lattice/go-mcp-client/src/toolhost"
)

const (
	defaultMaxTokens       = config.DefaultMaxTokens
	defaultMaxIterations   = config.DefaultMaxIterations
	defaultModelTimeout    = config.DefaultModelTimeout
	defaultToolTimeout     = config.DefaultToolTimeout
	defaultToolConcurrency = config.DefaultToolConcurrency
)

// Options configure a Session.
type Options struct {
	// Host runs the tools. Required. The caller keeps ownership and closes it.
	Host toolhost.Host
	// Registry resolves providers. Defaults to the built-in providers with
	// no credentials.
	Registry *models.Registry

	// Provider and Model select the initial backend. When Provider is empty
	// it is inferred from Model with models.ParseModelRef.
	Provider    string
	Model       string
	Temperature *float64
	MaxTokens   int

	MaxIterations          int
	ModelTimeout           time.Duration
	ToolTimeout            time.Duration
	ToolConcurrency        int
	SkipArgumentValidation bool

	Observer Observer
	Logger   *slog.Logger
	Tracer   trace.Tracer
}

// OptionsFromConfig maps a loaded configuration onto session options.
func OptionsFromConfig(cfg *config.Config, host toolhost.Host) (Options, error) {
	provider, model, err := cfg.Backend()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Host:            host,
		Registry:        models.NewDefaultRegistry(cfg.ProviderSettings()),
		Provider:        provider,
		Model:           model,
		Temperature:     cfg.Temperature,
		MaxTokens:       cfg.MaxTokens,
		MaxIterations:   cfg.MaxIterations,
		ModelTimeout:    cfg.ModelTimeout,
		ToolTimeout:     cfg.ToolTimeout,
		ToolConcurrency: cfg.ToolConcurrency,
	}, nil
}

func (o *Options) applyDefaults() {
	if o.Registry == nil {
		o.Registry = models.NewDefaultRegistry(nil)
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = defaultMaxTokens
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = defaultMaxIterations
	}
	if o.ModelTimeout <= 0 {
		o.ModelTimeout = defaultModelTimeout
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = defaultToolTimeout
	}
	if o.ToolConcurrency <= 0 {
		o.ToolConcurrency = defaultToolConcurrency
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Tracer == nil {
		o.Tracer = defaultTracer()
	}
}
