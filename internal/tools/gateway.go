package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/commerce-concierge/internal/observability/metrics"
	"github.com/wolfman30/commerce-concierge/internal/tenancy"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

// Backend executes a validated request against the business systems.
type Backend interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Outcome labels used in logs, metrics and the audit trail.
const (
	OutcomeSuccess       = "success"
	OutcomeFailure       = "failure"
	OutcomeInvalidParams = "invalid_params"
	OutcomeNotFound      = "tool_not_found"
	OutcomeInvalidTenant = "invalid_tenant"
	OutcomeIsolation     = "isolation_violation"
	OutcomeTimeout       = "timeout"
	OutcomeError         = "error"
)

// AuditEntry is what the gateway records for every call.
type AuditEntry struct {
	TenantID       string
	RequestID      string
	ConversationID string
	Tool           Name
	Outcome        string
	ErrorCode      string
	Latency        time.Duration
	At             time.Time
}

// AuditSink receives one entry per call. Failures are logged, never surfaced.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Gateway validates, scopes and dispatches tool calls. It holds no
// per-conversation state and is safe for concurrent use.
type Gateway struct {
	backend        Backend
	audit          AuditSink
	logger         *logging.Logger
	metrics        *metrics.EngineMetrics
	tracer         trace.Tracer
	defaultTimeout time.Duration
	paymentTimeout time.Duration
	now            func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithAuditSink sets the audit sink.
func WithAuditSink(sink AuditSink) Option {
	return func(g *Gateway) { g.audit = sink }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithTimeouts overrides the per-call deadlines. Zero values keep the default.
func WithTimeouts(defaultTimeout, paymentTimeout time.Duration) Option {
	return func(g *Gateway) {
		if defaultTimeout > 0 {
			g.defaultTimeout = defaultTimeout
		}
		if paymentTimeout > 0 {
			g.paymentTimeout = paymentTimeout
		}
	}
}

// NewGateway wires a gateway in front of backend.
func NewGateway(backend Backend, opts ...Option) *Gateway {
	if backend == nil {
		panic("tools: backend cannot be nil")
	}
	g := &Gateway{
		backend:        backend,
		logger:         logging.Default(),
		tracer:         otel.Tracer("concierge/tools"),
		defaultTimeout: 4 * time.Second,
		paymentTimeout: 15 * time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TimeoutFor returns the deadline applied to a contract.
func (g *Gateway) TimeoutFor(c Contract) time.Duration {
	if c.Payment {
		return g.paymentTimeout
	}
	return g.defaultTimeout
}

// Invoke runs one tool call. Gateway-level failures (unknown tool, bad
// params, tenant problems, timeouts, backend errors) return a non-nil error
// matching one of the package sentinels together with a failure Result.
// Business failures reported by the backend (for example PRODUCT_NOT_FOUND)
// come back as Success=false with a nil error.
func (g *Gateway) Invoke(ctx context.Context, call Call) (Result, error) {
	start := g.now()
	ctx, span := g.tracer.Start(ctx, "tools.invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool", string(call.Tool)),
		attribute.String("tenant_id", call.TenantID),
		attribute.String("conversation_id", call.ConversationID),
		attribute.String("request_id", call.RequestID),
	)

	res, outcome, err := g.invoke(ctx, call)

	latency := g.now().Sub(start)
	g.record(ctx, call, res, outcome, err, latency)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, res.ErrorCode)
	}
	return res, err
}

func (g *Gateway) invoke(ctx context.Context, call Call) (Result, string, error) {
	contract, ok := Lookup(call.Tool)
	if !ok {
		return Failure(CodeToolNotFound, "unknown tool %q", call.Tool), OutcomeNotFound,
			fmt.Errorf("%w: %q", ErrToolNotFound, call.Tool)
	}

	active, ok := tenancy.TenantIDFromContext(ctx)
	if !ok {
		return Failure(CodeInvalidTenant, "no active tenant"), OutcomeInvalidTenant,
			fmt.Errorf("%w: no active tenant in context", ErrInvalidTenant)
	}
	if res, err := checkEnvelope(call, active); err != nil {
		outcome := OutcomeInvalidParams
		if errors.Is(err, ErrTenantIsolation) {
			outcome = OutcomeIsolation
		}
		return res, outcome, err
	}

	if verr := contract.Validate(call.Params); verr != nil {
		return Failure(verr.Code, "%s", verr.Error()), OutcomeInvalidParams, verr
	}

	params := make(map[string]any, len(call.Params))
	for k, v := range call.Params {
		if !envelopeFields[k] {
			params[k] = v
		}
	}
	req := Request{
		Tool:           call.Tool,
		TenantID:       active,
		RequestID:      call.RequestID,
		ConversationID: call.ConversationID,
		Params:         params,
	}

	res, err := g.execute(ctx, contract, req)
	if err != nil {
		if errors.Is(err, ErrToolTimeout) {
			return Failure(CodeToolTimeout, "%s did not respond in time", call.Tool), OutcomeTimeout, err
		}
		return Failure(CodeToolExecutionError, "%s failed", call.Tool), OutcomeError, err
	}

	if foreign, found := foreignTenant(res.Data, active); found {
		return Failure(CodeTenantIsolationViolation, "result referenced another tenant"), OutcomeIsolation,
			fmt.Errorf("%w: %s returned data for tenant %q", ErrTenantIsolation, call.Tool, foreign)
	}

	if !res.Success {
		switch res.ErrorCode {
		case CodeToolTimeout:
			return res, OutcomeTimeout, fmt.Errorf("%w: backend reported timeout for %s", ErrToolTimeout, call.Tool)
		case CodeToolExecutionError, "":
			if res.ErrorCode == "" {
				res.ErrorCode = CodeToolExecutionError
			}
			return res, OutcomeError, fmt.Errorf("%w: %s: %s", ErrToolExecution, call.Tool, res.ErrorMessage)
		case CodeTenantIsolationViolation, CodeInvalidTenant:
			return res, OutcomeIsolation, fmt.Errorf("%w: backend rejected tenant for %s", ErrTenantIsolation, call.Tool)
		}
		return res, OutcomeFailure, nil
	}
	return res, OutcomeSuccess, nil
}

// checkEnvelope validates identity fields and compares every tenant
// reference with the active tenant.
func checkEnvelope(call Call, active string) (Result, error) {
	if call.TenantID != active {
		return Failure(CodeTenantIsolationViolation, "tenant mismatch"),
			fmt.Errorf("%w: call for %q under active tenant %q", ErrTenantIsolation, call.TenantID, active)
	}
	if raw, ok := call.Params["tenant_id"]; ok {
		if s, _ := raw.(string); s != active {
			return Failure(CodeTenantIsolationViolation, "tenant mismatch"),
				fmt.Errorf("%w: params tenant %v under active tenant %q", ErrTenantIsolation, raw, active)
		}
	}

	var bad []FieldError
	for _, f := range []struct{ name, val string }{
		{"tenant_id", call.TenantID},
		{"request_id", call.RequestID},
		{"conversation_id", call.ConversationID},
	} {
		if !IsUUID(f.val) {
			bad = append(bad, FieldError{Field: f.name, Reason: "invalid uuid"})
		}
	}
	if len(bad) > 0 {
		verr := &ValidationError{Tool: call.Tool, Code: CodeInvalidUUID, Fields: bad}
		return Failure(CodeInvalidUUID, "%s", verr.Error()), verr
	}
	return Result{}, nil
}

type execResult struct {
	res Result
	err error
}

func (g *Gateway) execute(ctx context.Context, contract Contract, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.TimeoutFor(contract))
	defer cancel()

	done := make(chan execResult, 1)
	go func() {
		res, err := g.backend.Execute(ctx, req)
		done <- execResult{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return Result{}, fmt.Errorf("%w: %s: %v", ErrToolTimeout, req.Tool, out.err)
			}
			return Result{}, fmt.Errorf("%w: %s: %v", ErrToolExecution, req.Tool, out.err)
		}
		return out.res, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: %s after %s", ErrToolTimeout, req.Tool, g.TimeoutFor(contract))
		}
		return Result{}, fmt.Errorf("%w: %s: %v", ErrToolExecution, req.Tool, ctx.Err())
	}
}

// foreignTenant walks result data looking for a tenant_id that differs from
// the active tenant.
func foreignTenant(v any, active string) (string, bool) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if k == "tenant_id" {
				if s, ok := val.(string); ok && s != "" && s != active {
					return s, true
				}
			}
			if foreign, ok := foreignTenant(val, active); ok {
				return foreign, true
			}
		}
	case []any:
		for _, val := range t {
			if foreign, ok := foreignTenant(val, active); ok {
				return foreign, true
			}
		}
	case []map[string]any:
		for _, val := range t {
			if foreign, ok := foreignTenant(val, active); ok {
				return foreign, true
			}
		}
	}
	return "", false
}

func (g *Gateway) record(ctx context.Context, call Call, res Result, outcome string, err error, latency time.Duration) {
	attrs := []any{
		"tenant_id", call.TenantID,
		"request_id", call.RequestID,
		"conversation_id", call.ConversationID,
		"tool", string(call.Tool),
		"latency_ms", latency.Milliseconds(),
		"outcome", outcome,
	}
	if res.ErrorCode != "" {
		attrs = append(attrs, "error_code", res.ErrorCode)
	}
	switch {
	case errors.Is(err, ErrTenantIsolation):
		g.logger.CriticalContext(ctx, "tool call violated tenant isolation", append(attrs, "error", err)...)
	case err != nil:
		g.logger.WarnContext(ctx, "tool call failed", append(attrs, "error", err)...)
	default:
		g.logger.InfoContext(ctx, "tool call", attrs...)
	}

	g.metrics.ObserveToolCall(string(call.Tool), outcome, latency.Seconds())

	if g.audit == nil {
		return
	}
	entry := AuditEntry{
		TenantID:       call.TenantID,
		RequestID:      call.RequestID,
		ConversationID: call.ConversationID,
		Tool:           call.Tool,
		Outcome:        outcome,
		ErrorCode:      res.ErrorCode,
		Latency:        latency,
		At:             g.now().UTC(),
	}
	if aerr := g.audit.Record(context.WithoutCancel(ctx), entry); aerr != nil {
		g.logger.WarnContext(ctx, "tool audit record failed", "tool", string(call.Tool), "error", aerr)
	}
}
