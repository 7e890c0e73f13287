package agent

import (
	"errors"
	"fmt"

	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
	"github.com/Protocol-Lattice/go-mcp-client/src/models"
)

var (
	// ErrCatalogUnavailable means the tool host could not be listed. Fatal
	// to session creation.
	ErrCatalogUnavailable = errors.New("tool catalog unavailable")
	// ErrBackendAuth is a missing or rejected credential.
	ErrBackendAuth = models.ErrAuth
	// ErrBackendTransport is a network, HTTP, rate limit or timeout failure
	// talking to the model.
	ErrBackendTransport = models.ErrTransport
	// ErrBackendProtocol is a request that could not be built or a response
	// that could not be read or recorded, such as repeated call ids.
	ErrBackendProtocol = models.ErrProtocol
	// ErrLoopExceeded means the model kept requesting tools past the cap.
	ErrLoopExceeded = errors.New("tool-calling loop exceeded iteration cap")
	// ErrAborted means the caller cancelled the query.
	ErrAborted = errors.New("query aborted")

	// Tool failures never surface as errors from SubmitQuery. They are kept
	// in the transcript; ToolCallResult.Kind.Err() maps back to these.
	ErrToolNotFound  = conversation.ErrToolNotFound
	ErrToolExecution = conversation.ErrToolExecution
	ErrToolTimeout   = conversation.ErrToolTimeout
)

// CatalogError reports a tool host that could not be listed.
type CatalogError struct {
	Host string
	Err  error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("%s from %s: %v", ErrCatalogUnavailable, e.Host, e.Err)
}

func (e *CatalogError) Unwrap() []error { return []error{ErrCatalogUnavailable, e.Err} }

// LoopExceededError reports a runaway tool-calling cycle.
type LoopExceededError struct {
	Provider string
	Model    string
	Limit    int
}

func (e *LoopExceededError) Error() string {
	return fmt.Sprintf("%s (%s): model still requesting tools after %d round-trips", e.Provider, e.Model, e.Limit)
}

func (e *LoopExceededError) Is(target error) bool { return target == ErrLoopExceeded }

// AbortError reports a query stopped by cancellation.
type AbortError struct {
	Provider string
	Model    string
	State    State
	Err      error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%s (%s): %s while %s: %v", e.Provider, e.Model, ErrAborted, e.State, e.Err)
}

func (e *AbortError) Unwrap() []error { return []error{ErrAborted, e.Err} }
