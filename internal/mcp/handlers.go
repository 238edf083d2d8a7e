package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/alucardeht/sqlgate-mcp/internal/journal"
	"github.com/alucardeht/sqlgate-mcp/internal/metrics"
	"github.com/alucardeht/sqlgate-mcp/internal/query"
	"github.com/alucardeht/sqlgate-mcp/internal/tools"
	"github.com/alucardeht/sqlgate-mcp/internal/types"
	"github.com/alucardeht/sqlgate-mcp/pkg/protocol"
)

const (
	msgMissingQuery   = "Missing or invalid 'query' parameter"
	msgReadOnlyOnly   = "Only SELECT queries are allowed. DML/DDL statements are not permitted."
	prefixInternal    = "Internal server error"
	prefixSchema      = "Failed to retrieve schema"
	prefixQueryFailed = "Query execution failed"
)

type SchemaDescriber interface {
	Describe(ctx context.Context) (*types.SchemaDescribeResponse, error)
}

type QueryExecutor interface {
	Execute(ctx context.Context, query string) (*types.SQLExecuteResponse, error)
}

type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

type HandlerConfig struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Registry *tools.Registry
	Schema   SchemaDescriber
	Queries  QueryExecutor

	// Journal is optional.
	Journal Recorder
}

func (c *HandlerConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		return errors.New("clock is required")
	}
	if c.Registry == nil {
		return errors.New("registry is required")
	}
	if c.Schema == nil {
		return errors.New("schema describer is required")
	}
	if c.Queries == nil {
		return errors.New("query executor is required")
	}
	return nil
}

// Handler routes JSON-RPC requests to the tool handlers. It is safe for
// concurrent use.
type Handler struct {
	log      *slog.Logger
	clock    clockwork.Clock
	registry *tools.Registry
	schema   SchemaDescriber
	queries  QueryExecutor
	journal  Recorder
}

func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid handler config: %w", err)
	}

	registered := cfg.Registry.Names()
	routed := RoutedTools()
	slices.Sort(registered)
	slices.Sort(routed)
	if !slices.Equal(registered, routed) {
		return nil, fmt.Errorf("tool registry %v does not match routed tools %v", registered, routed)
	}

	return &Handler{
		log:      cfg.Logger,
		clock:    cfg.Clock,
		registry: cfg.Registry,
		schema:   cfg.Schema,
		queries:  cfg.Queries,
		journal:  cfg.Journal,
	}, nil
}

// RoutedTools lists the tool methods Handle dispatches, tools.list excluded.
// It must match the registry catalog.
func RoutedTools() []string {
	return []string{tools.ToolSchemaDescribe, tools.ToolExecuteReadOnly}
}

// Handle never panics and always returns a response carrying req's id.
func (h *Handler) Handle(ctx context.Context, req *protocol.Request) *protocol.Response {
	if req == nil {
		return protocol.NewErrorResponse(nil, protocol.CodeInvalidRequest, "Invalid Request")
	}

	start := h.clock.Now()
	h.log.Debug("mcp: request received", "method", req.Method, "id", req.ID.String())

	result, toolErr := h.dispatch(ctx, req)
	elapsed := h.clock.Since(start)

	var resp *protocol.Response
	if toolErr != nil {
		resp = &protocol.Response{JSONRPC: protocol.Version, ID: req.ID, Error: toolErr.RPCError()}
	} else {
		resp = protocol.NewResult(req.ID, result)
	}

	h.observe(ctx, req, start, elapsed, toolErr)
	return resp
}

func (h *Handler) dispatch(ctx context.Context, req *protocol.Request) (result any, toolErr *tools.ToolError) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("mcp: handler panic recovered",
				"method", req.Method,
				"panic", r,
				"stack", string(debug.Stack()))
			result = nil
			toolErr = tools.NewInternalError(prefixInternal, fmt.Errorf("%v", r))
		}
	}()

	switch req.Method {
	case tools.MethodToolsList:
		return h.handleListTools(), nil
	case tools.ToolSchemaDescribe:
		return h.handleSchemaDescribe(ctx)
	case tools.ToolExecuteReadOnly:
		return h.handleExecuteReadOnly(ctx, req.Params)
	default:
		return nil, tools.NewMethodNotFoundError(req.Method)
	}
}

func (h *Handler) handleListTools() any {
	return h.registry.List()
}

func (h *Handler) handleSchemaDescribe(ctx context.Context) (any, *tools.ToolError) {
	resp, err := h.schema.Describe(ctx)
	if err != nil {
		h.log.Error("mcp: schema describe failed", "error", err)
		return nil, tools.NewInternalError(prefixSchema, err)
	}
	return resp, nil
}

func (h *Handler) handleExecuteReadOnly(ctx context.Context, params protocol.Params) (any, *tools.ToolError) {
	sql, ok := params.String(tools.ParamQuery)
	if !ok {
		return nil, tools.NewInvalidParamsError(msgMissingQuery)
	}

	if !query.IsReadOnly(sql) {
		h.log.Warn("mcp: non-read-only query rejected", "query", sql)
		return nil, tools.NewInvalidParamsError(msgReadOnlyOnly)
	}

	start := h.clock.Now()
	resp, err := h.queries.Execute(ctx, sql)
	if err != nil {
		h.log.Error("mcp: query execution failed", "error", err)
		return nil, tools.NewInternalError(prefixQueryFailed, err)
	}
	resp.ExecutionTimeMs = h.clock.Since(start).Milliseconds()

	return resp, nil
}

func (h *Handler) observe(ctx context.Context, req *protocol.Request, start time.Time, elapsed time.Duration, toolErr *tools.ToolError) {
	code := 0
	if toolErr != nil {
		code = toolErr.Code
	}

	h.log.Info("mcp: request processed",
		"method", req.Method,
		"id", req.ID.String(),
		"duration", elapsed,
		"error", toolErr != nil,
		"code", code)

	label := req.Method
	if !h.routes(label) {
		label = "unknown"
	}
	metrics.RequestsTotal.WithLabelValues(label, strconv.Itoa(code)).Inc()
	metrics.RequestDuration.WithLabelValues(label).Observe(elapsed.Seconds())

	if h.journal == nil {
		return
	}

	requestID, ok := RequestIDFromContext(ctx)
	if !ok {
		requestID = req.ID.String()
	}
	err := h.journal.Record(context.WithoutCancel(ctx), journal.Entry{
		RequestID:  requestID,
		Method:     req.Method,
		Code:       code,
		DurationMs: elapsed.Milliseconds(),
		CreatedAt:  start.UTC(),
	})
	if err != nil {
		h.log.Warn("mcp: failed to journal request", "error", err)
	}
}

func (h *Handler) routes(method string) bool {
	return method == tools.MethodToolsList || slices.Contains(RoutedTools(), method)
}

type requestIDKey struct{}

// WithRequestID tags ctx with a transport-level request id that the journal
// records in place of the JSON-RPC id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}
