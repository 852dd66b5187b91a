package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/codes"

	"github.com/fitbridge/fitbridge/internal/domain/apperr"
	"github.com/fitbridge/fitbridge/internal/domain/policy"
	"github.com/fitbridge/fitbridge/internal/port/outbound"
	"github.com/fitbridge/fitbridge/internal/telemetry"
)

// serverName is the MCP implementation name announced during initialize.
const serverName = "fitbridge"

// methodToolsCall is the MCP method intercepted by the filter middleware.
const methodToolsCall = "tools/call"

// Engine builds the MCP servers that expose the fitness tools. Every
// transport session gets its own server instance from NewServer, so closing
// a session releases only that session's binding.
type Engine struct {
	version    string
	production bool
	fitness    outbound.FitnessAPI
	filter     policy.Engine
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineVersion sets the version announced to MCP clients.
func WithEngineVersion(v string) EngineOption {
	return func(e *Engine) {
		e.version = v
	}
}

// WithEngineMetrics sets the telemetry instruments for tool call counts and
// durations.
func WithEngineMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithProductionMode switches tool error text to the fixed production
// vocabulary.
func WithProductionMode(enabled bool) EngineOption {
	return func(e *Engine) {
		e.production = enabled
	}
}

// NewEngine creates an engine over the given fitness backend. A nil filter
// disables rule evaluation entirely.
func NewEngine(fitness outbound.FitnessAPI, filter policy.Engine, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		version: "dev",
		fitness: fitness,
		filter:  filter,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = telemetry.DefaultMetrics()
	}
	return e
}

// ToolNames lists the tools every server instance registers, in
// registration order.
func ToolNames() []string {
	return []string{
		"search_exercises",
		"get_exercise",
		"list_equipment",
		"list_workouts",
		"log_weight",
		"list_weight_entries",
	}
}

// NewServer builds an MCP server for one transport session with all six
// fitness tools registered. The filter middleware closes over the session id
// so rules can condition on it.
func (e *Engine) NewServer(sessionID string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: e.version}, nil)
	if e.filter != nil {
		srv.AddReceivingMiddleware(e.policyMiddleware(sessionID))
	}
	e.registerExerciseTools(srv)
	e.registerTrackingTools(srv)
	return srv
}

// Connect builds a server for the session and binds it to the transport.
// The returned server session stays live until it is closed or the transport
// connection ends.
func (e *Engine) Connect(ctx context.Context, sessionID string, t mcp.Transport) (*mcp.ServerSession, error) {
	ss, err := e.NewServer(sessionID).Connect(ctx, t, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "bind mcp server for session %s", sessionID)
	}
	return ss, nil
}

// policyMiddleware intercepts tools/call requests and consults the filter
// before the call reaches its handler. Evaluation failures reject the call.
func (e *Engine) policyMiddleware(sessionID string) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != methodToolsCall {
				return next(ctx, method, req)
			}

			params, ok := req.GetParams().(*mcp.CallToolParamsRaw)
			if !ok || params == nil || params.Name == "" {
				return errorResult("invalid tool call request"), nil
			}

			decision, err := e.filter.Evaluate(ctx, policy.EvaluationContext{
				ToolName:      params.Name,
				ToolArguments: argumentsMap(params),
				SessionID:     sessionID,
				RequestTime:   time.Now(),
			})
			if err != nil {
				e.logger.Error("policy evaluation failed",
					"tool", params.Name,
					"session_id", sessionID,
					"error", err,
				)
				return errorResult("tool call rejected: policy evaluation failed"), nil
			}
			if !decision.Allowed {
				return errorResult(fmt.Sprintf("tool call denied by rule %q", decision.RuleName)), nil
			}

			return next(ctx, method, req)
		}
	}
}

// argumentsMap decodes raw call arguments into a map for rule evaluation.
// Malformed arguments yield nil; the typed handler rejects them later.
func argumentsMap(params *mcp.CallToolParamsRaw) map[string]any {
	if len(params.Arguments) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return nil
	}
	return args
}

// run executes one tool call with a span and call metrics around it. The
// payload is rendered as indented JSON text content.
func (e *Engine) run(ctx context.Context, tool string, fn func(context.Context) (any, error)) (*mcp.CallToolResult, any, error) {
	ctx, span := telemetry.StartSpan(ctx, "tool/"+tool)
	defer span.End()

	start := time.Now()
	payload, err := fn(ctx)
	if err != nil {
		e.metrics.RecordToolCall(ctx, tool, "error", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool call failed")
		e.logger.Warn("tool call failed", "tool", tool, "error", err)
		return errorResult(apperr.AsError(err).ClientMessage(e.production)), nil, nil
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		e.metrics.RecordToolCall(ctx, tool, "error", time.Since(start).Seconds())
		return errorResult("internal error encoding response"), nil, nil
	}

	e.metrics.RecordToolCall(ctx, tool, "ok", time.Since(start).Seconds())
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// errorResult creates an error CallToolResult with a JSON error payload.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(`{"error": %q}`, msg)},
		},
		IsError: true,
	}
}
