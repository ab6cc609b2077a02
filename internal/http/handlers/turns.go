package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/wolfman30/commerce-concierge/internal/http/middleware"
	"github.com/wolfman30/commerce-concierge/internal/orchestrator"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/internal/tenant"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

const maxTurnBody = 64 << 10

// TurnSubmitter hands a turn to the per-conversation dispatcher.
type TurnSubmitter interface {
	Submit(ctx context.Context, in orchestrator.Inbound) (orchestrator.Outbound, error)
}

// StateReader loads persisted conversation state.
type StateReader interface {
	Load(ctx context.Context, tenantID, conversationID string) (*state.ConversationState, error)
}

// TurnsHandler serves the synchronous turn API.
type TurnsHandler struct {
	turns  TurnSubmitter
	states StateReader
	logger *logging.Logger
	now    func() time.Time
}

// NewTurnsHandler builds the handler. states may be nil to disable inspection.
func NewTurnsHandler(turns TurnSubmitter, states StateReader, logger *logging.Logger) *TurnsHandler {
	if turns == nil {
		panic("handlers: turn submitter cannot be nil")
	}
	return &TurnsHandler{
		turns:  turns,
		states: states,
		logger: logging.OrDefault(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// PostTurn runs one inbound message and returns the reply.
func (h *TurnsHandler) PostTurn(w http.ResponseWriter, r *http.Request) {
	var in orchestrator.Inbound
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !callerAllowed(r, in.TenantID) {
		jsonError(w, "tenant not permitted for caller", http.StatusForbidden)
		return
	}
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = h.now()
	}

	out, err := h.turns.Submit(r.Context(), in)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out)
	case errors.Is(err, orchestrator.ErrInvalidInbound):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, tenant.ErrTenantNotFound):
		jsonError(w, "unknown tenant", http.StatusNotFound)
	case errors.Is(err, orchestrator.ErrDispatcherClosed):
		jsonError(w, "shutting down", http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// the turn keeps running; the caller just stopped waiting
		jsonError(w, "turn still in progress", http.StatusGatewayTimeout)
	case out.ResponseText != "":
		h.logger.WarnContext(r.Context(), "turn not persisted, replying with fallback",
			"tenant_id", in.TenantID,
			"conversation_id", in.ConversationID,
			"request_id", out.RequestID,
			"error", err,
		)
		writeJSON(w, http.StatusOK, out)
	default:
		h.logger.ErrorContext(r.Context(), "turn failed", "tenant_id", in.TenantID, "conversation_id", in.ConversationID, "error", err)
		jsonError(w, "turn failed", http.StatusInternalServerError)
	}
}

// conversationView is the operator-facing slice of a conversation record.
// Contact details and the transcript stay out of it.
type conversationView struct {
	TenantID           string    `json:"tenant_id"`
	ConversationID     string    `json:"conversation_id"`
	TurnCount          int       `json:"turn_count"`
	Intent             string    `json:"intent"`
	IntentConfidence   float64   `json:"intent_confidence"`
	Journey            string    `json:"journey"`
	ResponseLanguage   string    `json:"response_language"`
	GovernorClass      string    `json:"governor_class"`
	SalesStep          string    `json:"sales_step,omitempty"`
	OrderID            string    `json:"order_id,omitempty"`
	PaymentStatus      string    `json:"payment_status,omitempty"`
	EscalationRequired bool      `json:"escalation_required"`
	EscalationReason   string    `json:"escalation_reason,omitempty"`
	HandoffTicketID    string    `json:"handoff_ticket_id,omitempty"`
	CasualTurns        int       `json:"casual_turns"`
	SpamTurns          int       `json:"spam_turns"`
	LowConfidenceTurns int       `json:"consecutive_low_confidence"`
	ClarificationLoops int       `json:"clarification_loops"`
	ToolErrors         int       `json:"consecutive_tool_errors"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// GetConversation returns the persisted state summary for a conversation.
func (h *TurnsHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	if h.states == nil {
		jsonError(w, "state inspection disabled", http.StatusNotFound)
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	conversationID := chi.URLParam(r, "conversationID")
	if !callerAllowed(r, tenantID) {
		jsonError(w, "tenant not permitted for caller", http.StatusForbidden)
		return
	}

	st, err := h.states.Load(r.Context(), tenantID, conversationID)
	switch {
	case errors.Is(err, state.ErrNotFound):
		jsonError(w, "conversation not found", http.StatusNotFound)
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "load conversation failed", "tenant_id", tenantID, "conversation_id", conversationID, "error", err)
		jsonError(w, "failed to load conversation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, conversationView{
		TenantID:           st.TenantID,
		ConversationID:     st.ConversationID,
		TurnCount:          st.TurnCount,
		Intent:             st.Intent,
		IntentConfidence:   st.IntentConfidence,
		Journey:            st.Journey,
		ResponseLanguage:   st.ResponseLanguage,
		GovernorClass:      st.GovernorClass,
		SalesStep:          st.SalesStep,
		OrderID:            st.OrderID,
		PaymentStatus:      string(st.PaymentStatus),
		EscalationRequired: st.EscalationRequired,
		EscalationReason:   st.EscalationReason,
		HandoffTicketID:    st.HandoffTicketID,
		CasualTurns:        st.CasualTurns,
		SpamTurns:          st.SpamTurns,
		LowConfidenceTurns: st.ConsecutiveLowConfidence,
		ClarificationLoops: st.ClarificationLoops,
		ToolErrors:         st.ConsecutiveToolErrors,
		UpdatedAt:          st.UpdatedAt,
	})
}

func callerAllowed(r *http.Request, tenantID string) bool {
	claims, ok := httpmiddleware.ServiceClaimsFromContext(r.Context())
	if !ok {
		return true
	}
	return claims.Allows(tenantID)
}
