package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
	"github.com/Protocol-Lattice/go-mcp-client/src/models"
)

// State is a step of the conversation loop.
type State int

const (
	StateAwaitingModel State = iota
	StateResponded
	StateExecutingTools
	StateToolsCompleted
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "AwaitingModel"
	case StateResponded:
		return "Responded"
	case StateExecutingTools:
		return "ExecutingTools"
	case StateToolsCompleted:
		return "ToolsCompleted"
	case StateDone:
		return "Done"
	case StateAborted:
		return "Aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Observer receives loop events. Either hook may be nil. Hooks run on the
// loop goroutine and must not block.
type Observer struct {
	OnTransition func(from, to State)
	// OnToolCall runs once per call after its batch completes, in request order.
	OnToolCall func(req conversation.ToolCallRequest, res conversation.ToolCallResult)
}

// Orchestrator drives one query: model, tools, model, ... until the model
// answers without requesting tools.
type Orchestrator struct {
	Backend       models.Backend
	Params        models.Params
	Catalog       *ToolCatalog
	Executor      *ToolExecutor
	MaxIterations int
	ModelTimeout  time.Duration
	Observer      Observer
	Logger        *slog.Logger
	Tracer        trace.Tracer
}

// Run continues the transcript, whose last turn is the user query, until a
// final answer. Backend failures, the iteration cap and cancellation end the
// run with an error; the transcript keeps everything appended so far.
func (o *Orchestrator) Run(ctx context.Context, tr *conversation.Transcript) (string, error) {
	limit := o.MaxIterations
	if limit <= 0 {
		limit = defaultMaxIterations
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := o.Tracer
	if tracer == nil {
		tracer = defaultTracer()
	}
	provider := o.Backend.Provider()
	logger = logger.With("provider", provider, "model", o.Params.Model)

	state := StateAwaitingModel
	move := func(to State) {
		logger.Debug("state transition", "from", state.String(), "to", to.String())
		if o.Observer.OnTransition != nil {
			o.Observer.OnTransition(state, to)
		}
		state = to
	}
	abort := func(err error) (string, error) {
		move(StateAborted)
		logger.Error("query aborted", "error", err)
		return "", err
	}
	cancelled := func(err error) (string, error) {
		from := state
		return abort(&AbortError{Provider: provider, Model: o.Params.Model, State: from, Err: err})
	}
	// A reply the transcript cannot hold is the backend's fault, not the caller's.
	malformed := func(err error) (string, error) {
		return abort(&models.BackendError{Provider: provider, Model: o.Params.Model, Kind: models.ErrProtocol, Err: err})
	}

	var (
		iteration int
		resp      conversation.NormalizedResponse
	)
	for {
		switch state {
		case StateAwaitingModel:
			if err := ctx.Err(); err != nil {
				return cancelled(err)
			}
			iteration++
			if iteration > limit {
				return abort(&LoopExceededError{Provider: provider, Model: o.Params.Model, Limit: limit})
			}
			if pending := tr.Pending(); len(pending) > 0 {
				return malformed(fmt.Errorf("%d tool calls still unanswered", len(pending)))
			}
			r, err := o.complete(ctx, tracer, tr.Turns(), iteration)
			if err != nil {
				if ctx.Err() != nil {
					return cancelled(ctx.Err())
				}
				return abort(err)
			}
			if err := r.ValidateCallIDs(); err != nil {
				return malformed(err)
			}
			tr.AppendAssistant(r)
			resp = r
			logger.Debug("model responded", "iteration", iteration, "tool_calls", len(r.ToolCalls()))
			move(StateResponded)

		case StateResponded:
			if resp.Terminal() {
				move(StateDone)
				return resp.Text(), nil
			}
			move(StateExecutingTools)

		case StateExecutingTools:
			calls := resp.ToolCalls()
			results, err := o.Executor.ExecuteBatch(ctx, calls)
			if err != nil {
				return cancelled(err)
			}
			if err := tr.AppendToolResults(results); err != nil {
				return malformed(err)
			}
			if o.Observer.OnToolCall != nil {
				for i, call := range calls {
					o.Observer.OnToolCall(call, results[i])
				}
			}
			move(StateToolsCompleted)

		case StateToolsCompleted:
			move(StateAwaitingModel)

		default:
			return "", fmt.Errorf("orchestrator in terminal state %s", state)
		}
	}
}

func (o *Orchestrator) complete(ctx context.Context, tracer trace.Tracer, turns []conversation.Turn, iteration int) (conversation.NormalizedResponse, error) {
	timeout := o.ModelTimeout
	if timeout <= 0 {
		timeout = defaultModelTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callCtx, end := startSpan(callCtx, tracer, "agent.Backend.Complete",
		attribute.String("llm.provider", o.Backend.Provider()),
		attribute.String("llm.model", o.Params.Model),
		attribute.Int("agent.iteration", iteration),
		attribute.Int("agent.turns", len(turns)),
	)
	resp, err := o.Backend.Complete(callCtx, turns, o.Catalog.List(), o.Params)
	end(err)
	return resp, err
}
