package models

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
)

// Params are the generation parameters sent with every request.
type Params struct {
	Model string
	// Temperature is sent as given, zero included. Nil leaves the
	// provider's default.
	Temperature *float64
	MaxTokens   int
}

// Float returns a pointer to v, for Params.Temperature.
func Float(v float64) *float64 { return &v }

// Adapter translates between the transcript and one provider's native API.
// Req and Resp are the provider SDK's own request and response types.
type Adapter[Req, Resp any] interface {
	Provider() string
	BuildRequest(turns []conversation.Turn, tools []conversation.ToolDescriptor, p Params) (Req, error)
	Send(ctx context.Context, req Req) (Resp, error)
	Normalize(resp Resp) (conversation.NormalizedResponse, error)
}

// Backend is an Adapter with its native types erased. The orchestrator only
// ever sees this.
type Backend interface {
	Provider() string
	Complete(ctx context.Context, turns []conversation.Turn, tools []conversation.ToolDescriptor, p Params) (conversation.NormalizedResponse, error)
}

// Bind erases the native types of an adapter.
func Bind[Req, Resp any](a Adapter[Req, Resp]) Backend {
	return &boundAdapter[Req, Resp]{adapter: a}
}

type boundAdapter[Req, Resp any] struct {
	adapter Adapter[Req, Resp]
}

func (b *boundAdapter[Req, Resp]) Provider() string { return b.adapter.Provider() }

func (b *boundAdapter[Req, Resp]) Complete(ctx context.Context, turns []conversation.Turn, tools []conversation.ToolDescriptor, p Params) (conversation.NormalizedResponse, error) {
	provider := b.adapter.Provider()
	req, err := b.adapter.BuildRequest(turns, tools, p)
	if err != nil {
		return conversation.NormalizedResponse{}, wrapError(provider, p.Model, ErrProtocol, err)
	}
	resp, err := b.adapter.Send(ctx, req)
	if err != nil {
		return conversation.NormalizedResponse{}, wrapError(provider, p.Model, ErrTransport, err)
	}
	out, err := b.adapter.Normalize(resp)
	if err != nil {
		return conversation.NormalizedResponse{}, wrapError(provider, p.Model, ErrProtocol, err)
	}
	return uniqueCallIDs(provider, out), nil
}

// Close releases the adapter's client if it holds one.
func (b *boundAdapter[Req, Resp]) Close() error {
	if c, ok := b.adapter.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

var (
	// ErrAuth is a missing or rejected credential.
	ErrAuth = errors.New("backend auth error")
	// ErrTransport covers network, HTTP, rate limit and timeout failures.
	ErrTransport = errors.New("backend transport error")
	// ErrProtocol is a request that could not be built or a response that
	// could not be understood.
	ErrProtocol = errors.New("backend protocol error")
)

// BackendError is a failed model round-trip.
type BackendError struct {
	Provider string
	Model    string
	Kind     error
	Err      error
}

func (e *BackendError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Model != "" {
		b.WriteString(" (" + e.Model + ")")
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *BackendError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// wrapError classifies err unless it already is a BackendError.
func wrapError(provider, model string, kind, err error) error {
	var be *BackendError
	if errors.As(err, &be) {
		if be.Model == "" {
			be.Model = model
		}
		return be
	}
	return &BackendError{Provider: provider, Model: model, Kind: kind, Err: err}
}

// authError reports a missing credential before any network call.
func authError(provider, envVar string) error {
	return &BackendError{
		Provider: provider,
		Kind:     ErrAuth,
		Err:      fmt.Errorf("no API key configured, set %s", envVar),
	}
}

// statusError classifies an HTTP status returned by a provider.
func statusError(provider string, status int, err error) error {
	kind := ErrTransport
	if status == 401 || status == 403 {
		kind = ErrAuth
	}
	return &BackendError{Provider: provider, Kind: kind, Err: err}
}
