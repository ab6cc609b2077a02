// Package state defines the per-conversation record the orchestrator owns and
// the stores that persist it between turns.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Store.Load when no record exists for the key.
	ErrNotFound = errors.New("state: conversation not found")
	// ErrStateConflict means another writer persisted the key since it was loaded.
	ErrStateConflict = errors.New("state: concurrent update conflict")
	// ErrTenantMismatch is an isolation failure: a record or reference does
	// not belong to the tenant that owns the conversation.
	ErrTenantMismatch = errors.New("state: tenant mismatch")
)

// Unknown is the label used when a classifier produced no usable result.
const Unknown = "unknown"

// MaxPersistedResults caps how many catalog results survive between turns.
const MaxPersistedResults = 6

// MaxTranscript bounds the transcript window kept for escalation context.
const MaxTranscript = 10

// PaymentStatus tracks the last known state of a payment request.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
	PaymentUnknown PaymentStatus = "unknown"
)

// ParsePaymentStatus maps a tool status string onto a PaymentStatus.
func ParsePaymentStatus(raw string) PaymentStatus {
	switch PaymentStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentPending:
		return PaymentPending
	case PaymentPaid:
		return PaymentPaid
	case PaymentFailed:
		return PaymentFailed
	default:
		return PaymentUnknown
	}
}

// CatalogItem is a catalog entry as returned by catalog_search/catalog_get_item.
type CatalogItem struct {
	ItemID   string   `json:"item_id" mapstructure:"item_id" yaml:"item_id"`
	Name     string   `json:"name" mapstructure:"name" yaml:"name"`
	Price    float64  `json:"price" mapstructure:"price" yaml:"price"`
	Currency string   `json:"currency,omitempty" mapstructure:"currency" yaml:"currency"`
	InStock  bool     `json:"in_stock" mapstructure:"in_stock" yaml:"in_stock"`
	Stock    int      `json:"stock,omitempty" mapstructure:"stock" yaml:"stock"`
	Variants []string `json:"variants,omitempty" mapstructure:"variants" yaml:"variants"`
}

// CartLine is one entry in the working cart.
type CartLine struct {
	ItemID  string `json:"item_id"`
	Qty     int    `json:"qty"`
	Variant string `json:"variant,omitempty"`
}

// OrderTotals are the amounts last quoted by order_create or order_apply_coupon.
type OrderTotals struct {
	Currency string  `json:"currency" mapstructure:"currency"`
	Subtotal float64 `json:"subtotal" mapstructure:"subtotal"`
	Discount float64 `json:"discount" mapstructure:"discount"`
	Total    float64 `json:"total" mapstructure:"total"`
}

// KBSnippet is a knowledge-base passage returned by kb_retrieve.
type KBSnippet struct {
	Text   string  `json:"text" mapstructure:"text" yaml:"text"`
	Source string  `json:"source" mapstructure:"source" yaml:"source"`
	Score  float64 `json:"score" mapstructure:"score" yaml:"score"`
}

// TranscriptEntry is one line of the bounded transcript window.
type TranscriptEntry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// ConversationState is the full per-(tenant, conversation) record.
type ConversationState struct {
	TenantID       string `json:"tenant_id"`
	ConversationID string `json:"conversation_id"`
	CustomerID     string `json:"customer_id,omitempty"`
	PhoneE164      string `json:"phone_e164,omitempty"`
	RequestID      string `json:"-"`

	// Tenant snapshot, refreshed at turn start.
	BotName            string          `json:"bot_name"`
	ToneStyle          string          `json:"tone_style"`
	DefaultLanguage    string          `json:"default_language"`
	AllowedLanguages   []string        `json:"allowed_languages"`
	MaxChattinessLevel int             `json:"max_chattiness_level"`
	CatalogLinkBase    string          `json:"catalog_link_base"`
	PaymentsEnabled    map[string]bool `json:"payments_enabled"`

	LanguagePref      string          `json:"language_pref,omitempty"`
	MarketingOptIn    bool            `json:"marketing_opt_in"`
	NotificationPrefs map[string]bool `json:"notification_prefs,omitempty"`
	// PendingPreferences holds changes not yet written to the customer record.
	PendingPreferences map[string]any `json:"pending_preferences,omitempty"`

	Intent             string  `json:"intent"`
	IntentConfidence   float64 `json:"intent_confidence"`
	Journey            string  `json:"journey"`
	ResponseLanguage   string  `json:"response_language"`
	LanguageConfidence float64 `json:"language_confidence"`
	GovernorClass      string  `json:"governor_class"`
	GovernorConfidence float64 `json:"governor_confidence"`

	LastCatalogQuery     string            `json:"last_catalog_query,omitempty"`
	LastCatalogFilters   map[string]string `json:"last_catalog_filters,omitempty"`
	LastCatalogResults   []CatalogItem     `json:"last_catalog_results,omitempty"`
	Cart                 []CartLine        `json:"cart,omitempty"`
	OrderID              string            `json:"order_id,omitempty"`
	OrderTotals          *OrderTotals      `json:"order_totals,omitempty"`
	PaymentRequestID     string            `json:"payment_request_id,omitempty"`
	PaymentStatus        PaymentStatus     `json:"payment_status,omitempty"`
	SalesStep            string            `json:"sales_step,omitempty"`
	PendingPaymentMethod string            `json:"pending_payment_method,omitempty"`
	AvailableMethods     []string          `json:"available_methods,omitempty"`
	AppliedOffers        []string          `json:"applied_offers,omitempty"`

	KBSnippets []KBSnippet `json:"kb_snippets,omitempty"`

	EscalationRequired bool   `json:"escalation_required"`
	EscalationReason   string `json:"escalation_reason,omitempty"`
	HandoffTicketID    string `json:"handoff_ticket_id,omitempty"`

	TurnCount                int `json:"turn_count"`
	CasualTurns              int `json:"casual_turns"`
	SpamTurns                int `json:"spam_turns"`
	ConsecutiveLowConfidence int `json:"consecutive_low_confidence"`
	ConsecutiveToolErrors    int `json:"consecutive_tool_errors"`
	ClarificationLoops       int `json:"clarification_loops"`
	CatalogRejections        int `json:"catalog_rejections"`

	// Disengaged is set once the governor has closed out a spam conversation.
	Disengaged bool `json:"disengaged,omitempty"`

	Transcript []TranscriptEntry `json:"transcript,omitempty"`

	ResponseText string `json:"response_text,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns the initial state for a conversation: counters zero, journey unknown.
func New(tenantID, conversationID string) *ConversationState {
	now := time.Now().UTC()
	return &ConversationState{
		TenantID:         tenantID,
		ConversationID:   conversationID,
		Intent:           Unknown,
		Journey:          Unknown,
		GovernorClass:    Unknown,
		PaymentStatus:    PaymentUnknown,
		PaymentsEnabled:  map[string]bool{},
		AllowedLanguages: []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Key returns the storage key shared by every backend.
func Key(tenantID, conversationID string) string {
	return tenantID + ":" + conversationID
}

// Clone returns a deep copy. Stores hand out clones so callers never alias
// another slot's record.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("state: clone marshal: %v", err))
	}
	var out ConversationState
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("state: clone unmarshal: %v", err))
	}
	out.RequestID = s.RequestID
	return &out
}

// BeginTurn clears the per-turn fields before classification runs.
func (s *ConversationState) BeginTurn(requestID string) {
	s.RequestID = requestID
	s.ResponseText = ""
	s.Intent = Unknown
	s.IntentConfidence = 0
	s.GovernorClass = Unknown
	s.GovernorConfidence = 0
	s.LanguageConfidence = 0
	s.EscalationRequired = false
	s.EscalationReason = ""
	if s.Journey != "support" {
		s.KBSnippets = nil
	}
	s.Journey = Unknown
}

// SetIntent records the intent classification, clamping confidence to [0, 1].
func (s *ConversationState) SetIntent(label string, confidence float64) {
	s.Intent, s.IntentConfidence = normalize(label, confidence)
}

// SetLanguage records the language classification.
func (s *ConversationState) SetLanguage(confidence float64) {
	s.LanguageConfidence = Clamp(confidence)
}

// SetGovernor records the governor classification.
func (s *ConversationState) SetGovernor(label string, confidence float64) {
	s.GovernorClass, s.GovernorConfidence = normalize(label, confidence)
}

func normalize(label string, confidence float64) (string, float64) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Unknown, 0
	}
	return label, Clamp(confidence)
}

// Clamp bounds a confidence into [0, 1]. NaN maps to 0.
func Clamp(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SetCatalogResults stores at most MaxPersistedResults items.
func (s *ConversationState) SetCatalogResults(items []CatalogItem) {
	if len(items) > MaxPersistedResults {
		items = items[:MaxPersistedResults]
	}
	s.LastCatalogResults = append([]CatalogItem(nil), items...)
}

// AddToCart appends a cart line. Negative quantities are rejected.
func (s *ConversationState) AddToCart(line CartLine) error {
	if line.Qty < 0 {
		return fmt.Errorf("state: negative quantity %d for item %s", line.Qty, line.ItemID)
	}
	if line.Qty == 0 {
		return nil
	}
	for i := range s.Cart {
		if s.Cart[i].ItemID == line.ItemID && s.Cart[i].Variant == line.Variant {
			s.Cart[i].Qty += line.Qty
			return nil
		}
	}
	s.Cart = append(s.Cart, line)
	return nil
}

// AppendTranscript adds an entry and trims the window to MaxTranscript.
func (s *ConversationState) AppendTranscript(role, text string, at time.Time) {
	s.Transcript = append(s.Transcript, TranscriptEntry{Role: role, Text: text, At: at})
	if n := len(s.Transcript); n > MaxTranscript {
		s.Transcript = append([]TranscriptEntry(nil), s.Transcript[n-MaxTranscript:]...)
	}
}

// RecentCustomerText returns up to n of the latest customer messages, oldest first.
func (s *ConversationState) RecentCustomerText(n int) []string {
	var out []string
	for i := len(s.Transcript) - 1; i >= 0 && len(out) < n; i-- {
		if s.Transcript[i].Role == "customer" {
			out = append([]string{s.Transcript[i].Text}, out...)
		}
	}
	return out
}

// Escalate marks the turn for human handoff. The first reason set in a turn wins.
func (s *ConversationState) Escalate(reason string) {
	if s.EscalationRequired && s.EscalationReason != "" {
		return
	}
	s.EscalationRequired = true
	s.EscalationReason = reason
}

// Validate checks the record invariants that do not depend on a backend.
func (s *ConversationState) Validate() error {
	if strings.TrimSpace(s.TenantID) == "" {
		return errors.New("state: tenant_id required")
	}
	if strings.TrimSpace(s.ConversationID) == "" {
		return errors.New("state: conversation_id required")
	}
	for _, c := range []float64{s.IntentConfidence, s.LanguageConfidence, s.GovernorConfidence} {
		if c < 0 || c > 1 {
			return fmt.Errorf("state: confidence %v out of range", c)
		}
	}
	for _, line := range s.Cart {
		if line.Qty < 0 {
			return fmt.Errorf("state: negative quantity for item %s", line.ItemID)
		}
	}
	if s.MaxChattinessLevel < 0 || s.MaxChattinessLevel > 3 {
		return fmt.Errorf("state: max_chattiness_level %d out of range", s.MaxChattinessLevel)
	}
	return nil
}

// CheckTenant returns ErrTenantMismatch when tenantID differs from the owner.
func (s *ConversationState) CheckTenant(tenantID string) error {
	if s.TenantID != tenantID {
		return fmt.Errorf("%w: state owned by %q, caller %q", ErrTenantMismatch, s.TenantID, tenantID)
	}
	return nil
}
