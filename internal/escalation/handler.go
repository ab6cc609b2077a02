// Package escalation hands a conversation to a person. The customer always
// gets the handoff reply, even when the ticket could not be created.
package escalation

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/commerce-concierge/internal/observability/metrics"
	"github.com/wolfman30/commerce-concierge/internal/reply"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/internal/tools"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

var tracer = otel.Tracer("concierge/escalation")

// Escalation reasons raised outside the governor and router.
const (
	ReasonToolErrors          = "tool_errors"
	ReasonInsufficientContext = "insufficient_context"
	ReasonPaymentUnavailable  = "payment_unavailable"
	ReasonMissingCustomer     = "missing_customer"
)

var categories = map[string]string{
	"abuse_detected":          "abuse",
	"human_request":           "customer_request",
	"repeated_low_confidence": "understanding",
	"repeated_clarification":  "understanding",
	ReasonToolErrors:          "technical",
	ReasonInsufficientContext: "support",
	ReasonPaymentUnavailable:  "payments",
	ReasonMissingCustomer:     "technical",
}

// CategoryFor maps an escalation reason onto a ticket category.
func CategoryFor(reason string) string {
	if c, ok := categories[reason]; ok {
		return c
	}
	return "general"
}

// Invoker is the slice of the tool gateway the handler needs.
type Invoker interface {
	Invoke(ctx context.Context, call tools.Call) (tools.Result, error)
}

// Handler creates handoff tickets and raises operator alerts on failure.
type Handler struct {
	tools   Invoker
	alerts  AlertSink
	logger  *logging.Logger
	metrics *metrics.EngineMetrics
}

// NewHandler builds a handler. alerts and m may be nil.
func NewHandler(invoker Invoker, alerts AlertSink, logger *logging.Logger, m *metrics.EngineMetrics) *Handler {
	if invoker == nil {
		panic("escalation: tool invoker cannot be nil")
	}
	return &Handler{tools: invoker, alerts: alerts, logger: logging.OrDefault(logger), metrics: m}
}

// Escalate calls handoff_create_ticket for the conversation and returns the
// customer-facing handoff message. The returned error is non-nil only for a
// tenant isolation failure, which the caller must treat as fatal.
func (h *Handler) Escalate(ctx context.Context, st *state.ConversationState, reason string) (reply.Message, error) {
	ctx, span := tracer.Start(ctx, "escalation.escalate")
	defer span.End()
	span.SetAttributes(attribute.String("reason", reason), attribute.String("tenant_id", st.TenantID))

	st.Escalate(reason)
	msg := reply.New(reply.KeyEscalated)
	category := CategoryFor(reason)

	params := map[string]any{
		"reason":   reason,
		"category": category,
		"context":  ticketContext(st),
	}
	if tools.IsUUID(st.CustomerID) {
		params["customer_id"] = st.CustomerID
	}

	res, err := h.tools.Invoke(ctx, tools.Call{
		Tool:           tools.HandoffCreateTicket,
		TenantID:       st.TenantID,
		ConversationID: st.ConversationID,
		RequestID:      st.RequestID,
		Params:         params,
	})
	if err == nil && res.Success {
		if id, ok := res.Data["ticket_id"].(string); ok {
			st.HandoffTicketID = id
		}
		h.metrics.ObserveEscalation(reason, true)
		h.logger.InfoContext(ctx, "conversation escalated",
			"tenant_id", st.TenantID,
			"conversation_id", st.ConversationID,
			"request_id", st.RequestID,
			"reason", reason,
			"ticket_id", st.HandoffTicketID,
		)
		return msg, nil
	}

	h.metrics.ObserveEscalation(reason, false)
	failure := res.ErrorCode
	if err != nil {
		failure = err.Error()
	}
	h.logger.CriticalContext(ctx, "handoff ticket creation failed",
		"tenant_id", st.TenantID,
		"conversation_id", st.ConversationID,
		"request_id", st.RequestID,
		"reason", reason,
		"error", failure,
	)
	h.Alert(ctx, OperatorAlert{
		Kind:           AlertHandoffFailed,
		TenantID:       st.TenantID,
		ConversationID: st.ConversationID,
		RequestID:      st.RequestID,
		Message:        "A customer asked to be handed off but the ticket could not be created.",
		Details:        map[string]any{"reason": reason, "category": category, "error": failure},
	})
	if errors.Is(err, tools.ErrTenantIsolation) {
		return msg, err
	}
	return msg, nil
}

// Alert raises an operator alert. Sink failures are logged, never returned.
func (h *Handler) Alert(ctx context.Context, alert OperatorAlert) {
	if h.alerts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.alerts.Raise(ctx, alert); err != nil {
		h.logger.ErrorContext(ctx, "operator alert delivery failed", "kind", alert.Kind, "tenant_id", alert.TenantID, "error", err)
	}
}

func ticketContext(st *state.ConversationState) map[string]any {
	transcript := make([]any, 0, len(st.Transcript))
	for _, e := range st.Transcript {
		transcript = append(transcript, map[string]any{
			"role": e.Role,
			"text": e.Text,
			"at":   e.At.UTC().Format(time.RFC3339),
		})
	}
	ctx := map[string]any{
		"journey":    st.Journey,
		"step":       st.SalesStep,
		"transcript": transcript,
	}
	if st.OrderID != "" {
		ctx["order_id"] = st.OrderID
	}
	return ctx
}
