// Package governor limits how much non-business conversation a tenant pays
// for and detects abusive or spammy customers before any journey runs.
package governor

import (
	"github.com/wolfman30/commerce-concierge/internal/classify"
	"github.com/wolfman30/commerce-concierge/internal/reply"
	"github.com/wolfman30/commerce-concierge/internal/state"
)

// Outcome names what the governor decided for a turn.
type Outcome string

const (
	OutcomeProceed        Outcome = "proceed"
	OutcomeAbuse          Outcome = "abuse"
	OutcomeSpamRedirect   Outcome = "spam_redirect"
	OutcomeSpamDisengage  Outcome = "spam_disengage"
	OutcomeCasualReply    Outcome = "casual_reply"
	OutcomeCasualRedirect Outcome = "casual_redirect"
)

// ReasonAbuse is the escalation reason for abusive messages.
const ReasonAbuse = "abuse_detected"

// SpamLimit is the number of spam turns tolerated before disengaging.
const SpamLimit = 2

// chattinessBudget maps max_chattiness_level to allowed casual turns.
var chattinessBudget = map[int]int{0: 0, 1: 1, 2: 2, 3: 4}

// Decision is the governor's verdict. Reply is empty when the governor has
// nothing to say and the journey speaks for the turn.
type Decision struct {
	Outcome      Outcome
	Reply        []reply.Message
	AllowJourney bool
	Escalate     bool
	Reason       string
	Disengage    bool
}

// Governor applies the per-turn cost policy.
type Governor struct {
	clarifyThreshold float64
}

// New returns a governor. Casual turns may still route to a journey when the
// intent confidence is at least clarifyThreshold.
func New(clarifyThreshold float64) *Governor {
	if clarifyThreshold <= 0 || clarifyThreshold > 1 {
		clarifyThreshold = 0.5
	}
	return &Governor{clarifyThreshold: clarifyThreshold}
}

// Budget returns the casual turns allowed for a chattiness level. Levels
// outside the table fall back to the default level.
func Budget(level int) int {
	if b, ok := chattinessBudget[level]; ok {
		return b
	}
	return chattinessBudget[2]
}

// Evaluate applies the policy to st, mutating only the casual and spam
// counters, the disengaged flag and the escalation fields. The first
// matching rule wins: abuse, spam, casual, business.
func (g *Governor) Evaluate(st *state.ConversationState) Decision {
	switch st.GovernorClass {
	case classify.GovernorAbuse:
		st.Escalate(ReasonAbuse)
		return Decision{
			Outcome:  OutcomeAbuse,
			Reply:    []reply.Message{reply.New(reply.KeyAbuseDisengage)},
			Escalate: true,
			Reason:   ReasonAbuse,
		}

	case classify.GovernorSpam:
		st.SpamTurns++
		if st.SpamTurns > SpamLimit {
			d := Decision{Outcome: OutcomeSpamDisengage, Disengage: true}
			// close out once; afterwards stay silent
			if !st.Disengaged {
				d.Reply = []reply.Message{reply.New(reply.KeySpamCloseOut)}
			}
			st.Disengaged = true
			return d
		}
		return Decision{
			Outcome: OutcomeSpamRedirect,
			Reply:   []reply.Message{reply.New(reply.KeySpamRedirect)},
		}

	case classify.GovernorCasual:
		st.CasualTurns++
		if st.CasualTurns > Budget(st.MaxChattinessLevel) {
			return Decision{
				Outcome: OutcomeCasualRedirect,
				Reply:   []reply.Message{reply.New(reply.KeyCasualRedirect)},
			}
		}
		return Decision{
			Outcome:      OutcomeCasualReply,
			Reply:        []reply.Message{reply.New(reply.KeyCasualFriendly)},
			AllowJourney: g.carriesBusiness(st),
		}

	case classify.GovernorBusiness:
		st.CasualTurns = 0
		st.SpamTurns = 0
		st.Disengaged = false
		return Decision{Outcome: OutcomeProceed, AllowJourney: true}

	default:
		// an unusable governor result proceeds but leaves the counters alone
		return Decision{Outcome: OutcomeProceed, AllowJourney: true}
	}
}

// carriesBusiness reports whether a casual message also asks for something.
func (g *Governor) carriesBusiness(st *state.ConversationState) bool {
	switch st.Intent {
	case classify.IntentSpamCasual, classify.Unknown, "":
		return false
	}
	return st.IntentConfidence >= g.clarifyThreshold
}
