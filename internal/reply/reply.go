// Package reply turns the message keys produced by the governor, router and
// journeys into customer-facing text in the turn's response language.
package reply

// Key names one reply template.
type Key string

const (
	KeyLanguageAck        Key = "language_ack"
	KeyServiceUnavailable Key = "service_unavailable"
	KeyApology            Key = "apology"
	KeyToolTrouble        Key = "tool_trouble"

	KeyAbuseDisengage Key = "abuse_disengage"
	KeySpamRedirect   Key = "spam_redirect"
	KeySpamCloseOut   Key = "spam_close_out"
	KeyCasualFriendly Key = "casual_friendly"
	KeyCasualRedirect Key = "casual_redirect"

	KeyClarify    Key = "clarify"
	KeyCapability Key = "capability"
	KeyEscalated  Key = "escalated"

	KeyAskQuery         Key = "ask_query"
	KeySearchResults    Key = "search_results"
	KeyCatalogLink      Key = "catalog_link"
	KeyNoResults        Key = "no_results"
	KeySelectPrompt     Key = "select_prompt"
	KeyOutOfStock       Key = "out_of_stock"
	KeyConfirmOrder     Key = "confirm_order"
	KeyChooseMethod     Key = "choose_method"
	KeyPaymentsDisabled Key = "payments_disabled"
	KeyPaymentSTK       Key = "payment_stk"
	KeyPaymentC2B       Key = "payment_c2b"
	KeyPaymentCard      Key = "payment_card"
	KeyPaymentStatus    Key = "payment_status"
	KeyOrderCancelled   Key = "order_cancelled"

	KeySupportAnswer Key = "support_answer"

	KeyOrderStatus   Key = "order_status"
	KeyOrderNotFound Key = "order_not_found"
	KeyAskOrderID    Key = "ask_order_id"

	KeyOffers         Key = "offers"
	KeyNoOffers       Key = "no_offers"
	KeyCouponApplied  Key = "coupon_applied"
	KeyCouponRejected Key = "coupon_rejected"

	KeyMarketingOptOut      Key = "marketing_opt_out"
	KeyMarketingOptIn       Key = "marketing_opt_in"
	KeyLanguageSwitched     Key = "language_switched"
	KeyNotificationsUpdated Key = "notifications_updated"
	KeyPrefsAsk             Key = "prefs_ask"
	KeyPrefsNotSaved        Key = "prefs_not_saved"
)

// Message is one reply fragment. Data feeds the template; every key the
// template references must be present.
type Message struct {
	Key  Key
	Data map[string]any
}

// New builds a message from alternating key/value pairs.
func New(key Key, kv ...any) Message {
	m := Message{Key: key, Data: make(map[string]any, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		name, ok := kv[i].(string)
		if !ok {
			continue
		}
		m.Data[name] = kv[i+1]
	}
	return m
}

// Offer is an offer line shown to the customer.
type Offer struct {
	Code        string
	Description string
}

// Persona carries the tenant voice applied to every fragment.
type Persona struct {
	BotName string
	Tone    string
}
