// Package journey holds the business workflows a routed turn runs: sales,
// support, orders, offers and preferences. Journeys state business facts only
// when they come from a tool result of this turn or from the catalog results
// and order totals persisted by the previous one.
package journey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/commerce-concierge/internal/escalation"
	"github.com/wolfman30/commerce-concierge/internal/reply"
	"github.com/wolfman30/commerce-concierge/internal/router"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/internal/tools"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

// ToolErrorLimit is how many failed tool attempts in a row escalate.
const ToolErrorLimit = 2

var (
	// ErrToolUnavailable wraps a transient tool failure that survived the retry.
	ErrToolUnavailable = errors.New("journey: tool unavailable")
	errNoCustomer      = errors.New("journey: no customer identity")
)

// Invoker is the slice of the tool gateway journeys use.
type Invoker interface {
	Invoke(ctx context.Context, call tools.Call) (tools.Result, error)
}

// Turn is the working set handed to a journey.
type Turn struct {
	State   *state.ConversationState
	Text    string
	Replies []reply.Message
}

// Say queues a reply fragment.
func (t *Turn) Say(key reply.Key, kv ...any) {
	t.Replies = append(t.Replies, reply.New(key, kv...))
}

// Outcome reports what the orchestrator must do after a journey ran.
// Err is set only for failures that abort the turn.
type Outcome struct {
	Escalate bool
	Reason   string
	Err      error
}

func escalate(st *state.ConversationState, reason string) Outcome {
	st.Escalate(reason)
	return Outcome{Escalate: true, Reason: reason}
}

// Journey runs one business workflow for a turn.
type Journey interface {
	Run(ctx context.Context, t *Turn) Outcome
}

// Set maps routed journeys to their runners.
type Set map[router.Journey]Journey

// NewSet wires the five journeys over one toolbox.
func NewSet(tb *Toolbox, kbMinConfidence float64) Set {
	return Set{
		router.JourneySales:   NewSales(tb),
		router.JourneySupport: NewSupport(tb, kbMinConfidence),
		router.JourneyOrders:  NewOrders(tb),
		router.JourneyOffers:  NewOffers(tb),
		router.JourneyPrefs:   NewPrefs(tb),
	}
}

// SyncPending writes preference changes held from earlier turns.
func (s Set) SyncPending(ctx context.Context, st *state.ConversationState) error {
	if p, ok := s[router.JourneyPrefs].(*Prefs); ok {
		return p.SyncPending(ctx, st)
	}
	return nil
}

// Toolbox issues tool calls on behalf of journeys: it fills the envelope from
// state, retries a transient failure once, and keeps the consecutive tool
// error counter.
type Toolbox struct {
	tools   Invoker
	backoff time.Duration
	logger  *logging.Logger
}

// NewToolbox builds a toolbox. A zero backoff means 250ms.
func NewToolbox(invoker Invoker, backoff time.Duration, logger *logging.Logger) *Toolbox {
	if invoker == nil {
		panic("journey: tool invoker cannot be nil")
	}
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	return &Toolbox{tools: invoker, backoff: backoff, logger: logging.OrDefault(logger)}
}

func callFor(st *state.ConversationState, name tools.Name, params map[string]any) tools.Call {
	return tools.Call{
		Tool:           name,
		TenantID:       st.TenantID,
		ConversationID: st.ConversationID,
		RequestID:      st.RequestID,
		Params:         params,
	}
}

// Call invokes one tool and updates the error counter on st.
func (tb *Toolbox) Call(ctx context.Context, st *state.ConversationState, name tools.Name, params map[string]any) (tools.Result, error) {
	res, failed, err := tb.attempt(ctx, callFor(st, name, params), st.ConsecutiveToolErrors)
	tb.settle(st, failed, err)
	return res, err
}

// attempt runs a call, retrying once after a transient failure while the
// error budget allows. It never touches state so fan-out batches can run it
// concurrently; failed counts the attempts that failed.
func (tb *Toolbox) attempt(ctx context.Context, call tools.Call, prior int) (res tools.Result, failed int, err error) {
	for {
		res, err = tb.tools.Invoke(ctx, call)
		if !transient(err) {
			return res, failed, err
		}
		failed++
		if failed > 1 || prior+failed >= ToolErrorLimit {
			return res, failed, fmt.Errorf("%w: %s: %w", ErrToolUnavailable, call.Tool, err)
		}
		tb.logger.WarnContext(ctx, "retrying tool call",
			"tool", string(call.Tool),
			"tenant_id", call.TenantID,
			"request_id", call.RequestID,
			"error_code", res.ErrorCode,
		)
		select {
		case <-time.After(tb.backoff):
		case <-ctx.Done():
			return res, failed, fmt.Errorf("%w: %s: %w", ErrToolUnavailable, call.Tool, ctx.Err())
		}
	}
}

func (tb *Toolbox) settle(st *state.ConversationState, failed int, err error) {
	switch {
	case err == nil:
		st.ConsecutiveToolErrors = 0
	case errors.Is(err, ErrToolUnavailable):
		st.ConsecutiveToolErrors += failed
	}
}

func transient(err error) bool {
	return errors.Is(err, tools.ErrToolTimeout) || errors.Is(err, tools.ErrToolExecution)
}

func fatal(err error) bool {
	return errors.Is(err, tools.ErrTenantIsolation) || errors.Is(err, tools.ErrInvalidTenant)
}

// fail converts a tool error into the journey outcome: isolation aborts the
// turn, an exhausted error budget escalates, anything else apologises.
func (tb *Toolbox) fail(ctx context.Context, t *Turn, err error) Outcome {
	switch {
	case fatal(err):
		return Outcome{Err: err}
	case t.State.ConsecutiveToolErrors >= ToolErrorLimit:
		return escalate(t.State, escalation.ReasonToolErrors)
	default:
		tb.logger.WarnContext(ctx, "journey tool call failed",
			"tenant_id", t.State.TenantID,
			"conversation_id", t.State.ConversationID,
			"request_id", t.State.RequestID,
			"error", err,
		)
		t.Say(reply.KeyToolTrouble)
		return Outcome{}
	}
}

// ensureCustomer resolves the customer id through customer_get_or_create
// when the conversation does not carry one yet.
func (tb *Toolbox) ensureCustomer(ctx context.Context, st *state.ConversationState) (string, error) {
	if tools.IsUUID(st.CustomerID) {
		return st.CustomerID, nil
	}
	if st.PhoneE164 == "" {
		return "", errNoCustomer
	}
	params := map[string]any{"phone_e164": st.PhoneE164}
	if st.LanguagePref != "" {
		params["language_pref"] = st.LanguagePref
	}
	res, err := tb.Call(ctx, st, tools.CustomerGetOrCreate, params)
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", fmt.Errorf("journey: customer_get_or_create: %s", res.ErrorCode)
	}
	var customer struct {
		CustomerID string `mapstructure:"customer_id"`
	}
	if err := tools.Decode(res.Data, &customer); err != nil {
		return "", err
	}
	if !tools.IsUUID(customer.CustomerID) {
		return "", fmt.Errorf("journey: customer_get_or_create returned invalid id %q", customer.CustomerID)
	}
	st.CustomerID = customer.CustomerID
	return st.CustomerID, nil
}

// customerOutcome handles an ensureCustomer failure.
func (tb *Toolbox) customerOutcome(ctx context.Context, t *Turn, err error) Outcome {
	if errors.Is(err, errNoCustomer) {
		return escalate(t.State, escalation.ReasonMissingCustomer)
	}
	return tb.fail(ctx, t, err)
}
