// Package tools is the tool contract gateway: the only path through which a
// conversation turn reads or changes business data.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Name identifies one of the fixed tool contracts.
type Name string

const (
	CatalogSearch             Name = "catalog_search"
	CatalogGetItem            Name = "catalog_get_item"
	CustomerGetOrCreate       Name = "customer_get_or_create"
	CustomerUpdatePreferences Name = "customer_update_preferences"
	OrderCreate               Name = "order_create"
	OrderGetStatus            Name = "order_get_status"
	OrderApplyCoupon          Name = "order_apply_coupon"
	OffersGetApplicable       Name = "offers_get_applicable"
	PaymentGetMethods         Name = "payment_get_methods"
	PaymentInitiateSTK        Name = "payment_initiate_stk"
	PaymentInitiateC2B        Name = "payment_initiate_c2b"
	PaymentCreateCardLink     Name = "payment_create_card_link"
	PaymentGetStatus          Name = "payment_get_status"
	KBRetrieve                Name = "kb_retrieve"
	HandoffCreateTicket       Name = "handoff_create_ticket"
)

// Error codes carried in Result.ErrorCode.
const (
	CodeMissingParams             = "MISSING_PARAMS"
	CodeInvalidUUID               = "INVALID_UUID"
	CodeInvalidTenant             = "INVALID_TENANT"
	CodeCustomerNotFound          = "CUSTOMER_NOT_FOUND"
	CodeProductNotFound           = "PRODUCT_NOT_FOUND"
	CodeOrderNotFound             = "ORDER_NOT_FOUND"
	CodeInsufficientStock         = "INSUFFICIENT_STOCK"
	CodePaymentMethodNotAvailable = "PAYMENT_METHOD_NOT_AVAILABLE"
	CodeToolExecutionError        = "TOOL_EXECUTION_ERROR"
	CodeToolTimeout               = "TOOL_TIMEOUT"
	CodeToolNotFound              = "TOOL_NOT_FOUND"
	CodeInvalidParams             = "INVALID_PARAMS"
	CodeTenantIsolationViolation  = "TENANT_ISOLATION_VIOLATION"
)

var (
	ErrToolNotFound    = errors.New("tools: tool not found")
	ErrInvalidParams   = errors.New("tools: invalid params")
	ErrInvalidTenant   = errors.New("tools: invalid tenant")
	ErrTenantIsolation = errors.New("tools: tenant isolation violation")
	ErrToolTimeout     = errors.New("tools: tool timeout")
	ErrToolExecution   = errors.New("tools: tool execution error")
)

// Call is one invocation as issued by a journey.
type Call struct {
	Tool           Name
	TenantID       string
	ConversationID string
	RequestID      string
	Params         map[string]any
}

// Request is the wire envelope sent to a backend. Params are flattened next
// to the identity fields.
type Request struct {
	Tool           Name           `json:"-"`
	TenantID       string         `json:"tenant_id"`
	RequestID      string         `json:"request_id"`
	ConversationID string         `json:"conversation_id"`
	Params         map[string]any `json:"-"`
}

// MarshalJSON flattens Params into the envelope object.
func (r Request) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Params)+3)
	for k, v := range r.Params {
		out[k] = v
	}
	out["tenant_id"] = r.TenantID
	out["request_id"] = r.RequestID
	out["conversation_id"] = r.ConversationID
	return json.Marshal(out)
}

// UnmarshalJSON splits identity fields from tool-specific params.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.TenantID, _ = raw["tenant_id"].(string)
	r.RequestID, _ = raw["request_id"].(string)
	r.ConversationID, _ = raw["conversation_id"].(string)
	delete(raw, "tenant_id")
	delete(raw, "request_id")
	delete(raw, "conversation_id")
	r.Params = raw
	return nil
}

// Result is the uniform tool response. Success=false is authoritative.
type Result struct {
	Success      bool           `json:"success"`
	Data         map[string]any `json:"data"`
	ErrorCode    string         `json:"error_code"`
	ErrorMessage string         `json:"error_message"`
}

type wireResult struct {
	Success      bool           `json:"success"`
	Data         map[string]any `json:"data"`
	ErrorCode    *string        `json:"error_code"`
	ErrorMessage *string        `json:"error_message"`
}

// MarshalJSON encodes empty error fields as null.
func (r Result) MarshalJSON() ([]byte, error) {
	w := wireResult{Success: r.Success, Data: r.Data}
	if r.ErrorCode != "" {
		w.ErrorCode = &r.ErrorCode
	}
	if r.ErrorMessage != "" {
		w.ErrorMessage = &r.ErrorMessage
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts null error fields.
func (r *Result) UnmarshalJSON(data []byte) error {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Success = w.Success
	r.Data = w.Data
	r.ErrorCode, r.ErrorMessage = "", ""
	if w.ErrorCode != nil {
		r.ErrorCode = *w.ErrorCode
	}
	if w.ErrorMessage != nil {
		r.ErrorMessage = *w.ErrorMessage
	}
	return nil
}

// Failure builds an unsuccessful result.
func Failure(code, format string, args ...any) Result {
	return Result{ErrorCode: code, ErrorMessage: fmt.Sprintf(format, args...)}
}

// Success builds a successful result.
func Success(data map[string]any) Result {
	return Result{Success: true, Data: data}
}

// Retryable reports whether the failure is transient.
func (r Result) Retryable() bool {
	return !r.Success && (r.ErrorCode == CodeToolExecutionError || r.ErrorCode == CodeToolTimeout)
}

// Contract declares one tool's parameter schema and timeout class.
type Contract struct {
	Name    Name
	Fields  []Field
	Payment bool
}

var registry = map[Name]Contract{
	CatalogSearch: {Name: CatalogSearch, Fields: []Field{
		{Name: "query", Kind: KindString, Required: true},
		{Name: "filters", Kind: KindObject},
		{Name: "limit", Kind: KindInt, Min: 1, Max: 6},
		{Name: "customer_id", Kind: KindUUID},
	}},
	CatalogGetItem: {Name: CatalogGetItem, Fields: []Field{
		{Name: "item_id", Kind: KindString, Required: true},
		{Name: "variant", Kind: KindString},
	}},
	CustomerGetOrCreate: {Name: CustomerGetOrCreate, Fields: []Field{
		{Name: "phone_e164", Kind: KindString, Required: true},
		{Name: "language_pref", Kind: KindString},
	}},
	CustomerUpdatePreferences: {Name: CustomerUpdatePreferences, Fields: []Field{
		{Name: "customer_id", Kind: KindUUID, Required: true},
		{Name: "language_pref", Kind: KindString},
		{Name: "marketing_opt_in", Kind: KindBool},
		{Name: "notification_prefs", Kind: KindObject},
	}},
	OrderCreate: {Name: OrderCreate, Fields: []Field{
		{Name: "customer_id", Kind: KindUUID, Required: true},
		{Name: "items", Kind: KindArray, Required: true},
		{Name: "currency", Kind: KindString},
	}},
	OrderGetStatus: {Name: OrderGetStatus, Fields: []Field{
		{Name: "order_id", Kind: KindString, Required: true},
		{Name: "customer_id", Kind: KindUUID},
	}},
	OrderApplyCoupon: {Name: OrderApplyCoupon, Fields: []Field{
		{Name: "order_id", Kind: KindUUID, Required: true},
		{Name: "coupon_code", Kind: KindString, Required: true},
	}},
	OffersGetApplicable: {Name: OffersGetApplicable, Fields: []Field{
		{Name: "customer_id", Kind: KindUUID},
		{Name: "order_id", Kind: KindUUID},
		{Name: "item_ids", Kind: KindArray},
	}},
	PaymentGetMethods: {Name: PaymentGetMethods, Fields: []Field{
		{Name: "order_id", Kind: KindUUID, Required: true},
	}},
	PaymentInitiateSTK: {Name: PaymentInitiateSTK, Payment: true, Fields: []Field{
		{Name: "order_id", Kind: KindUUID, Required: true},
		{Name: "phone_e164", Kind: KindString, Required: true},
		{Name: "amount", Kind: KindNumber, Required: true},
		{Name: "currency", Kind: KindString},
	}},
	PaymentInitiateC2B: {Name: PaymentInitiateC2B, Payment: true, Fields: []Field{
		{Name: "order_id", Kind: KindUUID, Required: true},
		{Name: "amount", Kind: KindNumber, Required: true},
		{Name: "currency", Kind: KindString},
	}},
	PaymentCreateCardLink: {Name: PaymentCreateCardLink, Payment: true, Fields: []Field{
		{Name: "order_id", Kind: KindUUID, Required: true},
		{Name: "amount", Kind: KindNumber, Required: true},
		{Name: "currency", Kind: KindString},
	}},
	PaymentGetStatus: {Name: PaymentGetStatus, Fields: []Field{
		{Name: "payment_request_id", Kind: KindString, Required: true},
	}},
	KBRetrieve: {Name: KBRetrieve, Fields: []Field{
		{Name: "query", Kind: KindString, Required: true},
		{Name: "top_k", Kind: KindInt, Min: 1, Max: 8},
		{Name: "min_confidence", Kind: KindNumber},
		{Name: "language", Kind: KindString},
	}},
	HandoffCreateTicket: {Name: HandoffCreateTicket, Fields: []Field{
		{Name: "customer_id", Kind: KindUUID},
		{Name: "reason", Kind: KindString, Required: true},
		{Name: "category", Kind: KindString, Required: true},
		{Name: "context", Kind: KindObject, Required: true},
	}},
}

// Lookup returns the contract registered under name.
func Lookup(name Name) (Contract, bool) {
	c, ok := registry[name]
	return c, ok
}

// Contracts lists every registered contract ordered by name.
func Contracts() []Contract {
	out := make([]Contract, 0, len(registry))
	for _, c := range registry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
