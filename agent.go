package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
	"github.com/Protocol-Lattice/go-mcp-client/src/helpers"
	"github.com/Protocol-Lattice/go-mcp-client/src/models"
)

// AbandonedCallMessage is the error text given to tool calls whose query
// was aborted before they completed.
const AbandonedCallMessage = "abandoned: previous query aborted"

// Session is one caller-owned conversation: a backend selection, generation
// parameters, the tool catalog and the transcript. Queries on one Session
// run one at a time; separate conversations need separate Sessions.
type Session struct {
	mu sync.Mutex

	opts     Options
	registry *models.Registry
	catalog  *ToolCatalog
	executor *ToolExecutor
	logger   *slog.Logger

	backend  models.Backend
	provider string
	model    string

	transcript atomic.Pointer[conversation.Transcript]
}

// NewSession lists the host's tools and selects the initial backend.
// A host that cannot be listed fails with ErrCatalogUnavailable.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	if opts.Host == nil {
		return nil, errors.New("tool host is required")
	}
	opts.applyDefaults()

	catalog, err := LoadCatalog(ctx, opts.Host)
	if err != nil {
		return nil, err
	}
	s := &Session{
		opts:     opts,
		registry: opts.Registry,
		catalog:  catalog,
		logger:   opts.Logger,
	}
	s.transcript.Store(conversation.NewTranscript())
	s.executor = NewToolExecutor(opts.Host, catalog, ExecutorOptions{
		Timeout:                opts.ToolTimeout,
		Concurrency:            opts.ToolConcurrency,
		SkipArgumentValidation: opts.SkipArgumentValidation,
		Logger:                 opts.Logger,
		Tracer:                 opts.Tracer,
	})
	if err := s.setBackend(opts.Provider, opts.Model); err != nil {
		return nil, err
	}
	s.logger.Info("session ready", "host", opts.Host.Name(), "tools", helpers.ToolNames(catalog.List()), "provider", s.provider, "model", s.model)
	return s, nil
}

// SubmitQuery appends text as a user turn and runs the loop to completion.
func (s *Session) SubmitQuery(ctx context.Context, text string) (answer string, err error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("query is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, end := startSpan(ctx, s.opts.Tracer, "agent.SubmitQuery",
		attribute.String("llm.provider", s.provider),
		attribute.String("llm.model", s.model),
		attribute.Int("agent.tools", s.catalog.Len()),
	)
	defer func() { end(err) }()

	if s.backend == nil {
		return "", errors.New("session is closed")
	}
	tr := s.transcript.Load()
	if err := closeAbandonedCalls(tr); err != nil {
		return "", err
	}
	tr.AppendUser(text)

	orch := &Orchestrator{
		Backend: s.backend,
		Params: models.Params{
			Model:       s.model,
			Temperature: s.opts.Temperature,
			MaxTokens:   s.opts.MaxTokens,
		},
		Catalog:       s.catalog,
		Executor:      s.executor,
		MaxIterations: s.opts.MaxIterations,
		ModelTimeout:  s.opts.ModelTimeout,
		Observer:      s.opts.Observer,
		Logger:        s.logger,
		Tracer:        s.opts.Tracer,
	}
	return orch.Run(ctx, tr)
}

// closeAbandonedCalls answers calls left open by an aborted query so the
// transcript stays sendable.
func closeAbandonedCalls(tr *conversation.Transcript) error {
	pending := tr.Pending()
	if len(pending) == 0 {
		return nil
	}
	results := make([]conversation.ToolCallResult, len(pending))
	for i, call := range pending {
		results[i] = conversation.ToolCallResult{
			CallID:       call.CallID,
			ToolName:     call.ToolName,
			Failed:       true,
			ErrorMessage: AbandonedCallMessage,
			Kind:         conversation.FailureToolExecution,
		}
	}
	return tr.AppendToolResults(results)
}

// SetBackend selects the provider and model for the following queries.
// An empty provider is inferred from model. The transcript is kept.
func (s *Session) SetBackend(provider, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setBackend(provider, model)
}

func (s *Session) setBackend(provider, model string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.TrimSpace(model)
	if provider == "" {
		provider, model = models.ParseModelRef(model)
		if provider == "" {
			return fmt.Errorf("cannot infer provider for model %q (known providers: %s)", model, strings.Join(s.registry.Providers(), ", "))
		}
	}
	if model == "" {
		return fmt.Errorf("no model given for provider %s", provider)
	}
	backend, err := s.registry.Open(provider)
	if err != nil {
		return err
	}
	s.closeBackend()
	s.backend = backend
	s.provider = provider
	s.model = model
	s.logger.Info("backend selected", "provider", provider, "model", model)
	return nil
}

func (s *Session) closeBackend() {
	if c, ok := s.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.logger.Warn("close backend", "provider", s.provider, "error", err)
		}
	}
}

// ListBackends maps each provider to its available model ids.
func (s *Session) ListBackends() map[string][]string {
	return s.registry.ListBackends()
}

// Backend returns the selected provider and model.
func (s *Session) Backend() (provider, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider, s.model
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []conversation.Turn {
	return s.transcript.Load().Turns()
}

// Tools returns the session's tool catalog.
func (s *Session) Tools() []conversation.ToolDescriptor {
	return s.catalog.List()
}

// Reset starts a new transcript. The old one is dropped, not modified.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript.Store(conversation.NewTranscript())
}

// Close releases the backend client. The tool host belongs to the caller.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeBackend()
	s.backend = nil
	return nil
}
