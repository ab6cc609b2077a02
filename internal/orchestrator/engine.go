// Package orchestrator runs one customer turn end to end: tenant snapshot,
// classification, governor, routing, the selected journey, escalation, reply
// assembly and the optimistic state persist. The Dispatcher in front of it
// serializes turns per conversation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/commerce-concierge/internal/classify"
	"github.com/wolfman30/commerce-concierge/internal/compliance"
	"github.com/wolfman30/commerce-concierge/internal/escalation"
	"github.com/wolfman30/commerce-concierge/internal/governor"
	"github.com/wolfman30/commerce-concierge/internal/journey"
	"github.com/wolfman30/commerce-concierge/internal/observability/metrics"
	"github.com/wolfman30/commerce-concierge/internal/reply"
	"github.com/wolfman30/commerce-concierge/internal/router"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/internal/tenancy"
	"github.com/wolfman30/commerce-concierge/internal/tenant"
	"github.com/wolfman30/commerce-concierge/internal/tools"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

var tracer = otel.Tracer("concierge/orchestrator")

// ErrInvalidInbound is returned for messages missing their identity fields.
var ErrInvalidInbound = errors.New("orchestrator: invalid inbound message")

// recentWindow is how many earlier customer messages classifiers see.
const recentWindow = 3

// Transcript roles.
const (
	roleCustomer  = "customer"
	roleAssistant = "assistant"
)

// Inbound is one customer message addressed to a tenant conversation.
type Inbound struct {
	TenantID       string    `json:"tenant_id"`
	CustomerID     string    `json:"customer_id,omitempty"`
	PhoneE164      string    `json:"phone_e164,omitempty"`
	ConversationID string    `json:"conversation_id"`
	MessageText    string    `json:"message_text"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Validate checks the identity fields every turn needs.
func (in Inbound) Validate() error {
	var missing []string
	if strings.TrimSpace(in.TenantID) == "" {
		missing = append(missing, "tenant_id")
	}
	if strings.TrimSpace(in.ConversationID) == "" {
		missing = append(missing, "conversation_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidInbound, strings.Join(missing, ", "))
	}
	return nil
}

// Outbound is the reply for one turn.
type Outbound struct {
	ConversationID     string `json:"conversation_id"`
	ResponseText       string `json:"response_text"`
	ResponseLanguage   string `json:"response_language"`
	Journey            string `json:"journey"`
	EscalationRequired bool   `json:"escalation_required"`
	RequestID          string `json:"request_id,omitempty"`
}

// Deps are the collaborators an Engine composes. Metrics and Logger may be nil.
type Deps struct {
	Tenants     tenant.Provider
	States      state.Store
	Stage       *classify.Stage
	Governor    *governor.Governor
	Router      *router.Router
	Journeys    journey.Set
	Escalations *escalation.Handler
	Assembler   *reply.Assembler
	Metrics     *metrics.EngineMetrics
	Logger      *logging.Logger
}

// Engine executes turns. It is safe for concurrent use across conversations;
// turns for the same conversation must go through a Dispatcher.
type Engine struct {
	tenants     tenant.Provider
	states      state.Store
	stage       *classify.Stage
	governor    *governor.Governor
	router      *router.Router
	journeys    journey.Set
	escalations *escalation.Handler
	assembler   *reply.Assembler
	keywords    *compliance.Detector
	metrics     *metrics.EngineMetrics
	logger      *logging.Logger
	now         func() time.Time
}

// NewEngine wires an engine and panics when a required collaborator is missing.
func NewEngine(d Deps) *Engine {
	switch {
	case d.Tenants == nil:
		panic("orchestrator: tenant provider cannot be nil")
	case d.States == nil:
		panic("orchestrator: state store cannot be nil")
	case d.Stage == nil:
		panic("orchestrator: classification stage cannot be nil")
	case d.Escalations == nil:
		panic("orchestrator: escalation handler cannot be nil")
	case d.Assembler == nil:
		panic("orchestrator: reply assembler cannot be nil")
	}
	if d.Governor == nil {
		d.Governor = governor.New(0)
	}
	if d.Router == nil {
		d.Router = router.New(0, 0, 0)
	}
	return &Engine{
		tenants:     d.Tenants,
		states:      d.States,
		stage:       d.Stage,
		governor:    d.Governor,
		router:      d.Router,
		journeys:    d.Journeys,
		escalations: d.Escalations,
		assembler:   d.Assembler,
		keywords:    compliance.NewDetector(),
		metrics:     d.Metrics,
		logger:      logging.OrDefault(d.Logger),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HandleTurn runs one turn. The returned Outbound always carries the text to
// send unless the conversation has been disengaged; a non-nil error means the
// turn's state changes were not persisted. Callers deliver the reply either way.
func (e *Engine) HandleTurn(ctx context.Context, in Inbound) (Outbound, error) {
	if err := in.Validate(); err != nil {
		return Outbound{ConversationID: in.ConversationID}, err
	}
	start := e.now()
	requestID := uuid.NewString()
	ctx = tenancy.WithTenantID(ctx, in.TenantID)
	ctx = tenancy.WithRequestID(ctx, requestID)

	ctx, span := tracer.Start(ctx, "orchestrator.turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", in.TenantID),
		attribute.String("conversation_id", in.ConversationID),
		attribute.String("request_id", requestID),
	)

	settings, err := e.tenants.Get(ctx, in.TenantID)
	if err != nil {
		e.logger.ErrorContext(ctx, "tenant settings unavailable", "tenant_id", in.TenantID, "error", err)
		span.RecordError(err)
		out := e.apology(in, requestID, reply.DefaultLanguage, reply.Persona{})
		return out, fmt.Errorf("orchestrator: load tenant: %w", err)
	}
	settings.Normalize()
	persona := reply.Persona{BotName: settings.BotName, Tone: settings.ToneStyle}

	if !settings.Active {
		e.logger.WarnContext(ctx, "tenant kill switch engaged", "tenant_id", in.TenantID, "conversation_id", in.ConversationID)
		e.metrics.ObserveTurn(state.Unknown, "inactive", e.now().Sub(start).Seconds())
		return Outbound{
			ConversationID:   in.ConversationID,
			ResponseText:     e.assembler.Render(settings.DefaultLanguage, persona, []reply.Message{reply.New(reply.KeyServiceUnavailable)}),
			ResponseLanguage: settings.DefaultLanguage,
			Journey:          state.Unknown,
			RequestID:        requestID,
		}, nil
	}

	text, redacted := compliance.RedactPAN(in.MessageText)
	if redacted {
		e.logger.InfoContext(ctx, "card number redacted from inbound message", "tenant_id", in.TenantID, "conversation_id", in.ConversationID)
	}

	var out Outbound
	for attempt := 1; ; attempt++ {
		out, err = e.runTurn(ctx, in, text, settings, requestID)
		if err == nil || !errors.Is(err, state.ErrStateConflict) || attempt > 1 {
			break
		}
		e.metrics.ObserveStateConflict()
		e.logger.WarnContext(ctx, "state conflict, rerunning turn on fresh state",
			"tenant_id", in.TenantID,
			"conversation_id", in.ConversationID,
			"request_id", requestID,
		)
	}

	switch {
	case err == nil:
		e.metrics.ObserveTurn(out.Journey, "ok", e.now().Sub(start).Seconds())
		return out, nil

	case isolation(err):
		e.logger.CriticalContext(ctx, "tenant isolation violation, turn aborted",
			"tenant_id", in.TenantID,
			"conversation_id", in.ConversationID,
			"request_id", requestID,
			"error", err,
		)
		e.escalations.Alert(ctx, escalation.OperatorAlert{
			Kind:           escalation.AlertIsolationViolation,
			TenantID:       in.TenantID,
			ConversationID: in.ConversationID,
			RequestID:      requestID,
			Message:        "A turn touched data outside its tenant and was aborted without saving.",
			Details:        map[string]any{"error": err.Error()},
		})
		e.metrics.ObserveTurn(out.Journey, "isolation", e.now().Sub(start).Seconds())

	case errors.Is(err, state.ErrStateConflict):
		e.metrics.ObserveStateConflict()
		e.logger.ErrorContext(ctx, "state conflict persisted after rerun", "tenant_id", in.TenantID, "conversation_id", in.ConversationID, "request_id", requestID)
		e.metrics.ObserveTurn(out.Journey, "conflict", e.now().Sub(start).Seconds())

	default:
		e.logger.ErrorContext(ctx, "turn failed", "tenant_id", in.TenantID, "conversation_id", in.ConversationID, "request_id", requestID, "error", err)
		e.metrics.ObserveTurn(out.Journey, "error", e.now().Sub(start).Seconds())
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "turn failed")
	lang := out.ResponseLanguage
	if lang == "" {
		lang = settings.DefaultLanguage
	}
	return e.apology(in, requestID, lang, persona), err
}

// runTurn loads state, runs the graph once and persists the result.
func (e *Engine) runTurn(ctx context.Context, in Inbound, text string, settings *tenant.Settings, requestID string) (Outbound, error) {
	out := Outbound{ConversationID: in.ConversationID, RequestID: requestID, Journey: state.Unknown}

	st, err := e.states.Load(ctx, in.TenantID, in.ConversationID)
	switch {
	case errors.Is(err, state.ErrNotFound):
		st = state.New(in.TenantID, in.ConversationID)
	case err != nil:
		return out, fmt.Errorf("orchestrator: load state: %w", err)
	}
	prevTurn := st.TurnCount
	prevLanguage := st.ResponseLanguage

	st.BeginTurn(requestID)
	if err := settings.ApplyTo(st); err != nil {
		return out, fmt.Errorf("orchestrator: apply tenant settings: %w", err)
	}
	if in.CustomerID != "" && st.CustomerID == "" {
		st.CustomerID = in.CustomerID
	}
	if in.PhoneE164 != "" {
		st.PhoneE164 = in.PhoneE164
	}
	if err := e.journeys.SyncPending(ctx, st); err != nil {
		return out, fmt.Errorf("orchestrator: sync preferences: %w", err)
	}

	results := e.stage.Run(ctx, classify.Input{
		Text:             text,
		Recent:           st.RecentCustomerText(recentWindow),
		DefaultLanguage:  st.DefaultLanguage,
		AllowedLanguages: st.AllowedLanguages,
	})
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = e.now()
	}
	st.AppendTranscript(roleCustomer, text, receivedAt)

	st.SetIntent(results.Intent.Label, results.Intent.Confidence)
	st.SetGovernor(results.Governor.Label, results.Governor.Confidence)
	stop := e.keywords.IsStop(text)
	if stop {
		// opt-out keywords are honoured whatever the classifiers said
		st.SetIntent(classify.IntentPreferencesConsent, 1)
		st.SetGovernor(classify.GovernorBusiness, 1)
	}
	e.router.SelectLanguage(st, results.Language)
	out.ResponseLanguage = st.ResponseLanguage

	var msgs []reply.Message
	if st.ResponseLanguage != prevLanguage && (prevLanguage != "" || st.ResponseLanguage != st.DefaultLanguage) {
		msgs = append(msgs, reply.New(reply.KeyLanguageAck))
	}

	decision := e.governor.Evaluate(st)
	e.metrics.ObserveGovernor(st.GovernorClass, string(decision.Outcome))
	msgs = append(msgs, decision.Reply...)

	reason := ""
	if decision.Escalate {
		reason = decision.Reason
	}
	if decision.AllowJourney {
		route := e.route(st, text, stop)
		msgs = append(msgs, route.Reply...)
		if route.Escalate {
			reason = route.Reason
		} else if j, ok := e.journeys[route.Journey]; ok {
			turn := &journey.Turn{State: st, Text: text}
			res := j.Run(ctx, turn)
			if res.Err != nil {
				out.Journey = st.Journey
				return out, fmt.Errorf("orchestrator: %s journey: %w", route.Journey, res.Err)
			}
			msgs = append(msgs, turn.Replies...)
			if res.Escalate {
				reason = res.Reason
			}
		}
	}

	if reason != "" {
		handoff, err := e.escalations.Escalate(ctx, st, reason)
		if err != nil {
			return out, fmt.Errorf("orchestrator: escalate: %w", err)
		}
		// the governor's abuse reply already tells the customer what happens next
		if !decision.Escalate {
			msgs = append(msgs, handoff)
		}
	}

	responseText := e.assembler.Render(st.ResponseLanguage, reply.Persona{BotName: st.BotName, Tone: st.ToneStyle}, msgs)
	st.ResponseText = responseText
	if responseText != "" {
		st.AppendTranscript(roleAssistant, responseText, e.now())
	}
	st.TurnCount++
	st.UpdatedAt = e.now()

	if err := e.states.Save(ctx, st, prevTurn); err != nil {
		return out, fmt.Errorf("orchestrator: save state: %w", err)
	}

	e.logger.InfoContext(ctx, "turn complete",
		"tenant_id", st.TenantID,
		"conversation_id", st.ConversationID,
		"request_id", requestID,
		"intent", st.Intent,
		"intent_confidence", st.IntentConfidence,
		"governor", st.GovernorClass,
		"journey", st.Journey,
		"language", st.ResponseLanguage,
		"escalated", st.EscalationRequired,
	)

	out.ResponseText = responseText
	out.Journey = st.Journey
	out.EscalationRequired = st.EscalationRequired
	return out, nil
}

// route picks the journey. A short answer to a pending sales step goes back
// to sales without consulting the threshold table.
func (e *Engine) route(st *state.ConversationState, text string, stop bool) router.Route {
	if !stop && journey.Continues(st, text) {
		st.Journey = string(router.JourneySales)
		st.ClarificationLoops = 0
		st.ConsecutiveLowConfidence = 0
		return router.Route{Journey: router.JourneySales, Outcome: router.OutcomeRouted}
	}
	return e.router.Route(st)
}

func (e *Engine) apology(in Inbound, requestID, lang string, persona reply.Persona) Outbound {
	return Outbound{
		ConversationID:   in.ConversationID,
		ResponseText:     e.assembler.Render(lang, persona, []reply.Message{reply.New(reply.KeyApology)}),
		ResponseLanguage: lang,
		Journey:          state.Unknown,
		RequestID:        requestID,
	}
}

func isolation(err error) bool {
	return errors.Is(err, tools.ErrTenantIsolation) || errors.Is(err, state.ErrTenantMismatch)
}
