// Package router maps a classified turn onto a journey with a fixed
// threshold table and picks the reply language.
package router

import (
	"slices"

	"github.com/wolfman30/commerce-concierge/internal/classify"
	"github.com/wolfman30/commerce-concierge/internal/reply"
	"github.com/wolfman30/commerce-concierge/internal/state"
)

// Journey names a business workflow.
type Journey string

const (
	JourneySales      Journey = "sales"
	JourneySupport    Journey = "support"
	JourneyOrders     Journey = "orders"
	JourneyOffers     Journey = "offers"
	JourneyPrefs      Journey = "prefs"
	JourneyEscalation Journey = "escalation"
	JourneyUnknown    Journey = state.Unknown
)

// Outcome describes how the router handled the turn.
type Outcome string

const (
	OutcomeRouted     Outcome = "routed"
	OutcomeClarify    Outcome = "clarify"
	OutcomeCapability Outcome = "capability"
)

// Escalation reasons raised by the router.
const (
	ReasonHumanRequest          = "human_request"
	ReasonRepeatedLowConfidence = "repeated_low_confidence"
	ReasonRepeatedClarification = "repeated_clarification"
)

// LoopLimit is how many clarify or low-confidence turns in a row escalate.
const LoopLimit = 3

var journeys = map[string]Journey{
	classify.IntentSalesDiscovery:     JourneySales,
	classify.IntentProductQuestion:    JourneySales,
	classify.IntentPaymentHelp:        JourneySales,
	classify.IntentSupportQuestion:    JourneySupport,
	classify.IntentOrderStatus:        JourneyOrders,
	classify.IntentDiscountsOffers:    JourneyOffers,
	classify.IntentPreferencesConsent: JourneyPrefs,
	classify.IntentHumanRequest:       JourneyEscalation,
}

// related lists the intents most often confused with each label, used to
// build the clarifying question.
var related = map[string][]string{
	classify.IntentSalesDiscovery:     {classify.IntentProductQuestion, classify.IntentDiscountsOffers},
	classify.IntentProductQuestion:    {classify.IntentSalesDiscovery, classify.IntentSupportQuestion},
	classify.IntentPaymentHelp:        {classify.IntentOrderStatus, classify.IntentSupportQuestion},
	classify.IntentSupportQuestion:    {classify.IntentOrderStatus, classify.IntentHumanRequest},
	classify.IntentOrderStatus:        {classify.IntentSupportQuestion, classify.IntentPaymentHelp},
	classify.IntentDiscountsOffers:    {classify.IntentSalesDiscovery, classify.IntentPreferencesConsent},
	classify.IntentPreferencesConsent: {classify.IntentDiscountsOffers, classify.IntentSupportQuestion},
	classify.IntentHumanRequest:       {classify.IntentSupportQuestion, classify.IntentOrderStatus},
}

var defaultChoices = []string{classify.IntentSalesDiscovery, classify.IntentOrderStatus, classify.IntentSupportQuestion}

// Route is the router's verdict for one turn.
type Route struct {
	Journey  Journey
	Outcome  Outcome
	Reply    []reply.Message
	Escalate bool
	Reason   string
}

// Router holds the confidence thresholds.
type Router struct {
	routeThreshold    float64
	clarifyThreshold  float64
	languageThreshold float64
}

// New returns a router. Zero thresholds take the defaults 0.70, 0.50 and 0.75.
func New(routeThreshold, clarifyThreshold, languageThreshold float64) *Router {
	if routeThreshold <= 0 {
		routeThreshold = 0.70
	}
	if clarifyThreshold <= 0 {
		clarifyThreshold = 0.50
	}
	if languageThreshold <= 0 {
		languageThreshold = 0.75
	}
	return &Router{
		routeThreshold:    routeThreshold,
		clarifyThreshold:  clarifyThreshold,
		languageThreshold: languageThreshold,
	}
}

// Route applies the threshold table to st.Intent and st.IntentConfidence.
// Both bounds are inclusive on the upper band.
func (r *Router) Route(st *state.ConversationState) Route {
	conf := st.IntentConfidence
	if conf >= r.routeThreshold {
		if j, ok := journeys[st.Intent]; ok {
			st.ClarificationLoops = 0
			st.ConsecutiveLowConfidence = 0
			st.Journey = string(j)
			route := Route{Journey: j, Outcome: OutcomeRouted}
			if j == JourneyEscalation {
				st.Escalate(ReasonHumanRequest)
				route.Escalate, route.Reason = true, ReasonHumanRequest
			}
			return route
		}
		// confident but not actionable (spam_casual, unknown): ask
		return r.clarify(st)
	}
	if conf >= r.clarifyThreshold {
		return r.clarify(st)
	}
	return r.capability(st)
}

func (r *Router) clarify(st *state.ConversationState) Route {
	st.Journey = string(JourneyUnknown)
	st.ConsecutiveLowConfidence = 0
	st.ClarificationLoops++
	route := Route{
		Journey: JourneyUnknown,
		Outcome: OutcomeClarify,
		Reply:   []reply.Message{reply.New(reply.KeyClarify, "Intents", Choices(st.Intent))},
	}
	if st.ClarificationLoops >= LoopLimit {
		// one handoff per streak; the count starts over after it
		st.ClarificationLoops = 0
		st.Escalate(ReasonRepeatedClarification)
		route.Escalate, route.Reason = true, ReasonRepeatedClarification
	}
	return route
}

func (r *Router) capability(st *state.ConversationState) Route {
	st.Journey = string(JourneyUnknown)
	st.ClarificationLoops = 0
	st.ConsecutiveLowConfidence++
	route := Route{
		Journey: JourneyUnknown,
		Outcome: OutcomeCapability,
		Reply:   []reply.Message{reply.New(reply.KeyCapability)},
	}
	if st.ConsecutiveLowConfidence >= LoopLimit {
		st.ConsecutiveLowConfidence = 0
		st.Escalate(ReasonRepeatedLowConfidence)
		route.Escalate, route.Reason = true, ReasonRepeatedLowConfidence
	}
	return route
}

// Choices returns two or three intents to offer in a clarifying question,
// led by the classified intent when it is actionable.
func Choices(intent string) []string {
	rel, ok := related[intent]
	if !ok {
		return slices.Clone(defaultChoices)
	}
	return append([]string{intent}, rel...)
}

// SelectLanguage sets st.ResponseLanguage. A detection at or above the
// language threshold that the tenant allows wins; otherwise the customer's
// saved preference (when allowed) or the tenant default applies. Intent
// routing never depends on this.
func (r *Router) SelectLanguage(st *state.ConversationState, detected classify.Result) {
	st.SetLanguage(detected.Confidence)

	lang := st.DefaultLanguage
	if lang == "" {
		lang = "en"
	}
	if st.LanguagePref != "" && allowed(st, st.LanguagePref) {
		lang = st.LanguagePref
	}
	if detected.Confidence >= r.languageThreshold && detected.Label != classify.LanguageMixed && allowed(st, detected.Label) {
		lang = detected.Label
	}
	st.ResponseLanguage = lang
}

func allowed(st *state.ConversationState, lang string) bool {
	if len(st.AllowedLanguages) == 0 {
		return lang == st.DefaultLanguage
	}
	return slices.Contains(st.AllowedLanguages, lang)
}
