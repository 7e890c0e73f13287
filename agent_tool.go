package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Protocol-Lattice/go-mcp-client/src/concurrent"
	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
	"github.com/Protocol-Lattice/go-mcp-client/src/toolhost"
)

// UnknownToolMessage is the error text of a call to a tool outside the catalog.
const UnknownToolMessage = "unknown tool"

// ToolExecutor runs tool calls against the host. It never fails a query:
// every problem becomes a failed ToolCallResult the model can react to.
type ToolExecutor struct {
	host        toolhost.Host
	catalog     *ToolCatalog
	timeout     time.Duration
	concurrency int
	validate    bool
	logger      *slog.Logger
	tracer      trace.Tracer
}

// ExecutorOptions tune a ToolExecutor. Zero values take the defaults.
type ExecutorOptions struct {
	Timeout                time.Duration
	Concurrency            int
	SkipArgumentValidation bool
	Logger                 *slog.Logger
	Tracer                 trace.Tracer
}

// NewToolExecutor binds a host to the catalog it published.
func NewToolExecutor(host toolhost.Host, catalog *ToolCatalog, opts ExecutorOptions) *ToolExecutor {
	e := &ToolExecutor{
		host:        host,
		catalog:     catalog,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		validate:    !opts.SkipArgumentValidation,
		logger:      opts.Logger,
		tracer:      opts.Tracer,
	}
	if e.timeout <= 0 {
		e.timeout = defaultToolTimeout
	}
	if e.concurrency <= 0 {
		e.concurrency = defaultToolConcurrency
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = defaultTracer()
	}
	return e
}

// Call executes one request.
func (e *ToolExecutor) Call(ctx context.Context, req conversation.ToolCallRequest) conversation.ToolCallResult {
	ctx, end := startSpan(ctx, e.tracer, "agent.Tool.Call",
		attribute.String("tool.name", req.ToolName),
		attribute.String("tool.call_id", req.CallID),
	)
	res := e.call(ctx, req)
	var spanErr error
	if res.Failed {
		spanErr = fmt.Errorf("%s: %w", res.ErrorMessage, res.Kind.Err())
		e.logger.Warn("tool call failed", "tool", req.ToolName, "call_id", req.CallID, "kind", string(res.Kind), "error", res.ErrorMessage)
	} else {
		e.logger.Info("tool call completed", "tool", req.ToolName, "call_id", req.CallID, "bytes", len(res.Output))
	}
	end(spanErr)
	return res
}

func (e *ToolExecutor) call(ctx context.Context, req conversation.ToolCallRequest) conversation.ToolCallResult {
	res := conversation.ToolCallResult{CallID: req.CallID, ToolName: req.ToolName}
	fail := func(kind conversation.FailureKind, msg string) conversation.ToolCallResult {
		res.Failed = true
		res.Kind = kind
		res.ErrorMessage = msg
		return res
	}

	if _, ok := e.catalog.Lookup(req.ToolName); !ok {
		return fail(conversation.FailureToolNotFound, UnknownToolMessage)
	}
	if e.validate {
		if err := e.catalog.Validate(req.ToolName, req.Arguments); err != nil {
			return fail(conversation.FailureToolExecution, fmt.Sprintf("invalid arguments for %s: %v", req.ToolName, err))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		res toolhost.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := e.host.CallTool(callCtx, req.ToolName, req.Arguments)
		done <- outcome{r, err}
	}()

	// The host may ignore its context; the timeout holds regardless.
	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = outcome{err: callCtx.Err()}
	}

	if out.err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return fail(conversation.FailureToolTimeout, fmt.Sprintf("tool %s did not complete within %s", req.ToolName, e.timeout))
		}
		return fail(conversation.FailureToolExecution, fmt.Sprintf("tool %s failed: %v", req.ToolName, out.err))
	}
	if out.res.IsError {
		res.Output = out.res.Content
		return fail(conversation.FailureToolExecution, fmt.Sprintf("tool %s reported an error", req.ToolName))
	}
	res.Output = out.res.Content
	return res
}

// ExecuteBatch runs every call of one assistant turn concurrently and
// returns the results in request order. It only fails when ctx is
// cancelled, in which case no results are returned.
func (e *ToolExecutor) ExecuteBatch(ctx context.Context, calls []conversation.ToolCallRequest) ([]conversation.ToolCallResult, error) {
	return concurrent.ParallelMap(ctx, calls, func(ctx context.Context, req conversation.ToolCallRequest) (conversation.ToolCallResult, error) {
		res := e.Call(ctx, req)
		if err := ctx.Err(); err != nil {
			return res, err
		}
		return res, nil
	}, e.concurrency)
}
