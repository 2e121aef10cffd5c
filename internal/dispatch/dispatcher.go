package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/perimeterd/perimeterd/internal/access"
	"github.com/perimeterd/perimeterd/internal/audit"
	"github.com/perimeterd/perimeterd/internal/gateway"
	"github.com/perimeterd/perimeterd/internal/intent"
	"github.com/perimeterd/perimeterd/internal/ops"
	perrs "github.com/perimeterd/perimeterd/internal/platform/errors"
)

const (
	serverName    = "perimeterd"
	serverVersion = "1.0.0"
)

// Dispatcher routes JSON-RPC requests through context binding, authorization,
// and execution. It is stateless per request.
type Dispatcher struct {
	registry *ops.Registry
	gateway  *gateway.Gateway
	audits   *audit.Store
	resolver ContextResolver
	intents  *intent.Resolver
	logger   *log.Logger
	tracer   trace.Tracer
}

// New composes a dispatcher. store may be nil to disable audit records.
func New(registry *ops.Registry, gw *gateway.Gateway, store *audit.Store, resolver ContextResolver, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		gateway:  gw,
		audits:   store,
		resolver: resolver,
		intents:  intent.NewResolver(),
		logger:   logger,
		tracer:   otel.Tracer("perimeterd/dispatch"),
	}
}

// Handle decodes one raw envelope and produces its response. token is the
// caller credential the front-end extracted, empty when it carries none.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte, token string) Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, codeParseError, "parse error")
	}
	return d.Dispatch(ctx, req, token)
}

// Dispatch answers one decoded request.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, token string) Response {
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		return errorResponse(req.ID, codeInvalidRequest, "invalid request")
	}

	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(attribute.String("rpc.method", req.Method)))
	defer span.End()

	caller, err := d.resolver.Resolve(token)
	if err != nil {
		d.logger.Printf("security context rejected: %v", err)
		return errorResponse(req.ID, codeServerError, "security context rejected: "+err.Error())
	}
	span.SetAttributes(
		attribute.String("rpc.caller", caller.CallerID),
		attribute.String("rpc.level", caller.Level.String()),
	)

	switch req.Method {
	case "initialize":
		return d.initialize(ctx, req, caller)
	case "list-operations", "tools/list":
		return d.listOperations(req, caller)
	case "call-operation", "tools/call":
		return d.callOperation(ctx, req, caller)
	case "resolve-intent", "prompts/process":
		return d.resolveIntent(ctx, req, caller)
	default:
		return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (d *Dispatcher) initialize(ctx context.Context, req Request, caller access.Context) Response {
	reachable := d.gateway.Test(ctx) == nil
	return successResponse(req.ID, map[string]any{
		"server": map[string]any{
			"name":    serverName,
			"version": serverVersion,
		},
		"transport":           d.gateway.TransportName(),
		"appliance_reachable": reachable,
		"caller": map[string]any{
			"id":    caller.CallerID,
			"level": caller.Level.String(),
		},
		"allowed_operations": d.registry.AllowedOperations(caller.Level),
	})
}

func (d *Dispatcher) listOperations(req Request, caller access.Context) Response {
	operations := make([]map[string]any, 0)
	for _, op := range d.registry.List() {
		if !access.Check(caller.Level, op.MinLevel) {
			continue
		}
		entry := map[string]any{
			"name":        op.Name,
			"description": op.Description,
			"min_level":   op.MinLevel.String(),
		}
		if op.InputSchema != "" {
			entry["input_schema"] = json.RawMessage(op.InputSchema)
		}
		operations = append(operations, entry)
	}
	return successResponse(req.ID, map[string]any{
		"level":      caller.Level.String(),
		"operations": operations,
	})
}

func (d *Dispatcher) callOperation(ctx context.Context, req Request, caller access.Context) Response {
	var params callParams
	if req.Params == nil || json.Unmarshal(req.Params, &params) != nil || params.Name == "" {
		return errorResponse(req.ID, codeInvalidParams, "call-operation requires an operation name")
	}
	return d.execute(ctx, req.ID, caller, params.Name, params.Arguments)
}

func (d *Dispatcher) resolveIntent(ctx context.Context, req Request, caller access.Context) Response {
	var params resolveParams
	if req.Params == nil || json.Unmarshal(req.Params, &params) != nil {
		return errorResponse(req.ID, codeInvalidParams, "resolve-intent requires text")
	}

	resolution := d.intents.Resolve(params.Text)
	resp := d.execute(ctx, req.ID, caller, resolution.Operation, resolution.Arguments)
	if resp.Error != nil {
		return resp
	}
	return successResponse(req.ID, map[string]any{
		"operation": resolution.Operation,
		"arguments": resolution.Arguments,
		"category":  resolution.Category,
		"result":    resp.Result,
	})
}

// execute runs one named operation for the caller: permission check,
// argument validation, handler, audit record.
func (d *Dispatcher) execute(ctx context.Context, id json.RawMessage, caller access.Context, name string, args map[string]any) Response {
	op, ok := d.registry.Get(name)
	if !ok {
		return errorResponse(id, codeMethodNotFound, fmt.Sprintf("unknown operation %q", name))
	}

	if !access.Check(caller.Level, op.MinLevel) {
		detail := fmt.Sprintf("requires %s, caller holds %s", op.MinLevel, caller.Level)
		d.record(ctx, caller, name, args, audit.OutcomeDenied, detail)
		return errorResponse(id, codeServerError, "permission denied: "+detail)
	}

	if err := op.ValidateArgs(args); err != nil {
		d.record(ctx, caller, name, args, audit.OutcomeError, err.Error())
		return errorResponse(id, codeInvalidParams, err.Error())
	}

	result, err := d.run(ctx, op, args)
	if err != nil {
		d.record(ctx, caller, name, args, audit.OutcomeError, err.Error())
		code, message := errorCode(err)
		return errorResponse(id, code, message)
	}

	d.record(ctx, caller, name, args, audit.OutcomeOK, "")
	return successResponse(id, result)
}

// run invokes the handler, converting a panic into an internal error so one
// bad operation cannot take the whole dispatcher down.
func (d *Dispatcher) run(ctx context.Context, op *ops.Operation, args map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Printf("operation %s panicked: %v", op.Name, r)
			err = perrs.New(perrs.CodeInternal, fmt.Sprintf("operation %s failed", op.Name))
		}
	}()
	return op.Handler(ctx, ops.Deps{Gateway: d.gateway, Registry: d.registry}, args)
}

func (d *Dispatcher) record(ctx context.Context, caller access.Context, operation string, args map[string]any, outcome audit.Outcome, detail string) {
	if d.audits == nil {
		return
	}
	_, err := d.audits.Record(ctx, audit.Entry{
		Operation: operation,
		Caller:    caller.CallerID,
		Level:     caller.Level,
		Arguments: args,
		Outcome:   outcome,
		Detail:    detail,
	})
	if err != nil {
		// An audit failure must not fail the operation itself.
		d.logger.Printf("audit record failed for %s: %v", operation, err)
	}
}

func errorCode(err error) (int, string) {
	var perr *perrs.Error
	if errors.As(err, &perr) {
		switch perr.Code {
		case perrs.CodeInvalidParams:
			return codeInvalidParams, perr.Message
		case perrs.CodeMethodNotFound:
			return codeMethodNotFound, perr.Message
		case perrs.CodePermissionDenied, perrs.CodeContextInvalid:
			return codeServerError, perr.Message
		}
		return codeInternalError, perr.Message
	}
	var terr *gateway.TransportError
	if errors.As(err, &terr) {
		return codeServerError, terr.Error()
	}
	return codeInternalError, "internal error"
}
