package tools

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/commerce-concierge/internal/state"
)

// Offer is a promotion a tenant exposes through offers_get_applicable.
type Offer struct {
	Code            string  `json:"code" yaml:"code"`
	Description     string  `json:"description" yaml:"description"`
	DiscountPercent float64 `json:"discount_percent" yaml:"discount_percent"`
}

// Fixture is the business data one tenant exposes through a MemoryBackend.
type Fixture struct {
	Currency       string              `yaml:"currency"`
	Catalog        []state.CatalogItem `yaml:"catalog"`
	TotalOverride  int                 `yaml:"total_override"`
	Offers         []Offer             `yaml:"offers"`
	PaymentMethods []string            `yaml:"payment_methods"`
	KB             []state.KBSnippet   `yaml:"kb"`
}

type memCustomer struct {
	id    string
	phone string
	prefs map[string]any
}

type memOrder struct {
	id       string
	tenantID string
	status   string
	totals   state.OrderTotals
	coupon   string
}

type memPayment struct {
	tenantID string
	orderID  string
	status   string
}

// Ticket is a handoff recorded by the MemoryBackend.
type Ticket struct {
	ID       string
	TenantID string
	Params   map[string]any
}

// OverrideFunc replaces the built-in behaviour of one tool.
type OverrideFunc func(ctx context.Context, req Request) (Result, error)

// MemoryBackend serves deterministic business data from in-process fixtures.
// It backs local simulation and tests.
type MemoryBackend struct {
	mu        sync.Mutex
	fixtures  map[string]*Fixture
	customers map[string]map[string]*memCustomer
	orders    map[string]*memOrder
	payments  map[string]*memPayment
	tickets   []Ticket
	calls     map[Name]int
	failures  map[Name][]string
	delays    map[Name]time.Duration
	overrides map[Name]OverrideFunc
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		fixtures:  make(map[string]*Fixture),
		customers: make(map[string]map[string]*memCustomer),
		orders:    make(map[string]*memOrder),
		payments:  make(map[string]*memPayment),
		calls:     make(map[Name]int),
		failures:  make(map[Name][]string),
		delays:    make(map[Name]time.Duration),
		overrides: make(map[Name]OverrideFunc),
	}
}

// SetFixture installs the data for one tenant.
func (m *MemoryBackend) SetFixture(tenantID string, f Fixture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.Currency == "" {
		f.Currency = "KES"
	}
	m.fixtures[tenantID] = &f
}

// AddCustomer registers a known customer for a tenant.
func (m *MemoryBackend) AddCustomer(tenantID, customerID, phone string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenantCustomers(tenantID)[customerID] = &memCustomer{id: customerID, phone: phone, prefs: map[string]any{}}
}

// CustomerPrefs returns a copy of the preferences stored for a customer.
func (m *MemoryBackend) CustomerPrefs(tenantID, customerID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.tenantCustomers(tenantID)[customerID]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(c.prefs))
	for k, v := range c.prefs {
		out[k] = v
	}
	return out
}

// FailNext queues error codes returned by the next calls to name.
func (m *MemoryBackend) FailNext(name Name, codes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[name] = append(m.failures[name], codes...)
}

// SetDelay makes every call to name sleep for d (or until ctx is done).
func (m *MemoryBackend) SetDelay(name Name, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[name] = d
}

// Override replaces the handler for name.
func (m *MemoryBackend) Override(name Name, fn OverrideFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[name] = fn
}

// Calls returns how many requests reached the backend for name.
func (m *MemoryBackend) Calls(name Name) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// Tickets returns the handoff tickets created so far.
func (m *MemoryBackend) Tickets() []Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Ticket(nil), m.tickets...)
}

// Execute dispatches req to the matching handler.
func (m *MemoryBackend) Execute(ctx context.Context, req Request) (Result, error) {
	m.mu.Lock()
	m.calls[req.Tool]++
	delay := m.delays[req.Tool]
	override := m.overrides[req.Tool]
	var failCode string
	if queue := m.failures[req.Tool]; len(queue) > 0 {
		failCode, m.failures[req.Tool] = queue[0], queue[1:]
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if failCode != "" {
		return Failure(failCode, "injected failure"), nil
	}
	if override != nil {
		return override(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	fx, ok := m.fixtures[req.TenantID]
	if !ok {
		return Failure(CodeInvalidTenant, "tenant has no data"), nil
	}

	switch req.Tool {
	case CatalogSearch:
		return m.catalogSearch(req, fx), nil
	case CatalogGetItem:
		return m.catalogGetItem(req, fx), nil
	case CustomerGetOrCreate:
		return m.customerGetOrCreate(req), nil
	case CustomerUpdatePreferences:
		return m.customerUpdatePreferences(req), nil
	case OrderCreate:
		return m.orderCreate(req, fx), nil
	case OrderGetStatus:
		return m.orderGetStatus(req), nil
	case OrderApplyCoupon:
		return m.orderApplyCoupon(req, fx), nil
	case OffersGetApplicable:
		return m.offersGetApplicable(req, fx), nil
	case PaymentGetMethods:
		return m.paymentGetMethods(req, fx), nil
	case PaymentInitiateSTK, PaymentInitiateC2B, PaymentCreateCardLink:
		return m.paymentInitiate(req, fx), nil
	case PaymentGetStatus:
		return m.paymentGetStatus(req), nil
	case KBRetrieve:
		return m.kbRetrieve(req, fx), nil
	case HandoffCreateTicket:
		return m.handoffCreateTicket(req), nil
	}
	return Failure(CodeToolNotFound, "no handler for %s", req.Tool), nil
}

func (m *MemoryBackend) tenantCustomers(tenantID string) map[string]*memCustomer {
	c, ok := m.customers[tenantID]
	if !ok {
		c = make(map[string]*memCustomer)
		m.customers[tenantID] = c
	}
	return c
}

func itemData(tenantID string, it state.CatalogItem) map[string]any {
	variants := make([]any, len(it.Variants))
	for i, v := range it.Variants {
		variants[i] = v
	}
	return map[string]any{
		"tenant_id": tenantID,
		"item_id":   it.ItemID,
		"name":      it.Name,
		"price":     it.Price,
		"currency":  it.Currency,
		"in_stock":  it.InStock,
		"stock":     it.Stock,
		"variants":  variants,
	}
}

func totalsData(t state.OrderTotals) map[string]any {
	return map[string]any{
		"currency": t.Currency,
		"subtotal": t.Subtotal,
		"discount": t.Discount,
		"total":    t.Total,
	}
}

func words(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

func (m *MemoryBackend) catalogSearch(req Request, fx *Fixture) Result {
	query, _ := req.Params["query"].(string)
	limit := 6
	if n, ok := asInt(req.Params["limit"]); ok && n > 0 {
		limit = n
	}
	terms := words(query)
	filters, _ := req.Params["filters"].(map[string]any)
	for _, v := range filters {
		if s, ok := v.(string); ok {
			terms = append(terms, words(s)...)
		}
	}

	var matches []any
	for _, it := range fx.Catalog {
		name := strings.ToLower(it.Name)
		for _, term := range terms {
			if strings.Contains(name, term) {
				matches = append(matches, itemData(req.TenantID, it))
				break
			}
		}
	}
	total := len(matches)
	if fx.TotalOverride > 0 {
		total = fx.TotalOverride
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	if matches == nil {
		matches = []any{}
	}
	return Success(map[string]any{"items": matches, "total_matches_estimate": total})
}

func (m *MemoryBackend) catalogGetItem(req Request, fx *Fixture) Result {
	id, _ := req.Params["item_id"].(string)
	for _, it := range fx.Catalog {
		if it.ItemID == id {
			return Success(itemData(req.TenantID, it))
		}
	}
	return Failure(CodeProductNotFound, "item %s not found", id)
}

func (m *MemoryBackend) customerGetOrCreate(req Request) Result {
	phone, _ := req.Params["phone_e164"].(string)
	customers := m.tenantCustomers(req.TenantID)
	for _, c := range customers {
		if c.phone == phone {
			return Success(customerData(req.TenantID, c, false))
		}
	}
	c := &memCustomer{id: uuid.NewString(), phone: phone, prefs: map[string]any{}}
	if lang, ok := req.Params["language_pref"].(string); ok {
		c.prefs["language_pref"] = lang
	}
	customers[c.id] = c
	return Success(customerData(req.TenantID, c, true))
}

func customerData(tenantID string, c *memCustomer, created bool) map[string]any {
	out := map[string]any{
		"tenant_id":   tenantID,
		"customer_id": c.id,
		"created":     created,
	}
	for k, v := range c.prefs {
		out[k] = v
	}
	return out
}

func (m *MemoryBackend) customerUpdatePreferences(req Request) Result {
	id, _ := req.Params["customer_id"].(string)
	c, ok := m.tenantCustomers(req.TenantID)[id]
	if !ok {
		return Failure(CodeCustomerNotFound, "customer %s not found", id)
	}
	for _, key := range []string{"language_pref", "marketing_opt_in", "notification_prefs"} {
		if v, ok := req.Params[key]; ok {
			c.prefs[key] = v
		}
	}
	return Success(customerData(req.TenantID, c, false))
}

func findItem(fx *Fixture, id string) (state.CatalogItem, bool) {
	for _, it := range fx.Catalog {
		if it.ItemID == id {
			return it, true
		}
	}
	return state.CatalogItem{}, false
}

func (m *MemoryBackend) orderCreate(req Request, fx *Fixture) Result {
	customerID, _ := req.Params["customer_id"].(string)
	if _, ok := m.tenantCustomers(req.TenantID)[customerID]; !ok {
		return Failure(CodeCustomerNotFound, "customer %s not found", customerID)
	}
	lines, _ := req.Params["items"].([]any)
	if len(lines) == 0 {
		return Failure(CodeMissingParams, "order has no items")
	}
	totals := state.OrderTotals{Currency: fx.Currency}
	for _, raw := range lines {
		line, _ := raw.(map[string]any)
		id, _ := line["item_id"].(string)
		qty, _ := asInt(line["qty"])
		it, ok := findItem(fx, id)
		if !ok {
			return Failure(CodeProductNotFound, "item %s not found", id)
		}
		if qty <= 0 {
			return Failure(CodeInvalidParams, "quantity for %s must be positive", id)
		}
		if !it.InStock || (it.Stock > 0 && qty > it.Stock) {
			return Failure(CodeInsufficientStock, "not enough stock for %s", id)
		}
		if it.Currency != "" {
			totals.Currency = it.Currency
		}
		totals.Subtotal += it.Price * float64(qty)
	}
	totals.Total = totals.Subtotal
	o := &memOrder{id: uuid.NewString(), tenantID: req.TenantID, status: "created", totals: totals}
	m.orders[o.id] = o
	return Success(map[string]any{
		"tenant_id": req.TenantID,
		"order_id":  o.id,
		"status":    o.status,
		"totals":    totalsData(o.totals),
	})
}

func (m *MemoryBackend) lookupOrder(tenantID string, raw any) (*memOrder, bool) {
	id, _ := raw.(string)
	o, ok := m.orders[id]
	if !ok || o.tenantID != tenantID {
		return nil, false
	}
	return o, true
}

func (m *MemoryBackend) orderGetStatus(req Request) Result {
	o, ok := m.lookupOrder(req.TenantID, req.Params["order_id"])
	if !ok {
		return Failure(CodeOrderNotFound, "order not found")
	}
	paymentStatus := "unknown"
	for _, p := range m.payments {
		if p.orderID == o.id {
			paymentStatus = p.status
		}
	}
	return Success(map[string]any{
		"tenant_id":      req.TenantID,
		"order_id":       o.id,
		"status":         o.status,
		"payment_status": paymentStatus,
		"totals":         totalsData(o.totals),
	})
}

func (m *MemoryBackend) orderApplyCoupon(req Request, fx *Fixture) Result {
	o, ok := m.lookupOrder(req.TenantID, req.Params["order_id"])
	if !ok {
		return Failure(CodeOrderNotFound, "order not found")
	}
	code, _ := req.Params["coupon_code"].(string)
	for _, offer := range fx.Offers {
		if strings.EqualFold(offer.Code, code) {
			discount := math.Round(o.totals.Subtotal*offer.DiscountPercent) / 100
			o.totals.Discount = discount
			o.totals.Total = o.totals.Subtotal - discount
			o.coupon = offer.Code
			return Success(map[string]any{
				"tenant_id": req.TenantID,
				"order_id":  o.id,
				"coupon":    offer.Code,
				"totals":    totalsData(o.totals),
			})
		}
	}
	return Failure(CodeInvalidParams, "coupon %s is not applicable", code)
}

func (m *MemoryBackend) offersGetApplicable(req Request, fx *Fixture) Result {
	offers := make([]any, 0, len(fx.Offers))
	for _, o := range fx.Offers {
		offers = append(offers, map[string]any{
			"code":             o.Code,
			"description":      o.Description,
			"discount_percent": o.DiscountPercent,
		})
	}
	return Success(map[string]any{"offers": offers})
}

func (m *MemoryBackend) paymentGetMethods(req Request, fx *Fixture) Result {
	if _, ok := m.lookupOrder(req.TenantID, req.Params["order_id"]); !ok {
		return Failure(CodeOrderNotFound, "order not found")
	}
	methods := make([]any, len(fx.PaymentMethods))
	for i, method := range fx.PaymentMethods {
		methods[i] = method
	}
	return Success(map[string]any{"methods": methods})
}

var paymentMethodFor = map[Name]string{
	PaymentInitiateSTK:    "stk",
	PaymentInitiateC2B:    "c2b",
	PaymentCreateCardLink: "card",
}

func (m *MemoryBackend) paymentInitiate(req Request, fx *Fixture) Result {
	method := paymentMethodFor[req.Tool]
	available := false
	for _, pm := range fx.PaymentMethods {
		if pm == method {
			available = true
		}
	}
	if !available {
		return Failure(CodePaymentMethodNotAvailable, "%s is not enabled", method)
	}
	o, ok := m.lookupOrder(req.TenantID, req.Params["order_id"])
	if !ok {
		return Failure(CodeOrderNotFound, "order not found")
	}
	amount, _ := asFloat(req.Params["amount"])
	if math.Abs(amount-o.totals.Total) > 0.005 {
		return Failure(CodeInvalidParams, "amount does not match order total")
	}
	id := uuid.NewString()
	m.payments[id] = &memPayment{tenantID: req.TenantID, orderID: o.id, status: "pending"}
	o.status = "awaiting_payment"
	data := map[string]any{
		"tenant_id":          req.TenantID,
		"payment_request_id": id,
		"status":             "pending",
		"amount":             o.totals.Total,
		"currency":           o.totals.Currency,
	}
	switch method {
	case "c2b":
		data["paybill"] = "400200"
		data["account_ref"] = strings.ToUpper(o.id[:8])
	case "card":
		data["link"] = "https://pay.example.com/l/" + id
	}
	return Success(data)
}

func (m *MemoryBackend) paymentGetStatus(req Request) Result {
	id, _ := req.Params["payment_request_id"].(string)
	p, ok := m.payments[id]
	if !ok || p.tenantID != req.TenantID {
		return Failure(CodeOrderNotFound, "payment request not found")
	}
	return Success(map[string]any{"tenant_id": req.TenantID, "payment_request_id": id, "status": p.status})
}

// SetPaymentStatus lets tests and simulations settle a payment.
func (m *MemoryBackend) SetPaymentStatus(paymentRequestID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[paymentRequestID]; ok {
		p.status = status
		if o, ok := m.orders[p.orderID]; ok && status == "paid" {
			o.status = "paid"
		}
	}
}

func (m *MemoryBackend) kbRetrieve(req Request, fx *Fixture) Result {
	query, _ := req.Params["query"].(string)
	topK := 8
	if n, ok := asInt(req.Params["top_k"]); ok && n > 0 {
		topK = n
	}
	terms := words(query)
	type scored struct {
		s     state.KBSnippet
		score float64
	}
	var hits []scored
	for _, sn := range fx.KB {
		if len(terms) == 0 {
			break
		}
		text := strings.ToLower(sn.Text + " " + sn.Source)
		matched := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		score := float64(matched) / float64(len(terms))
		if sn.Score > 0 {
			score = sn.Score
		}
		hits = append(hits, scored{s: sn, score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	snippets := make([]any, 0, len(hits))
	for _, h := range hits {
		snippets = append(snippets, map[string]any{"text": h.s.Text, "source": h.s.Source, "score": h.score})
	}
	return Success(map[string]any{"snippets": snippets})
}

func (m *MemoryBackend) handoffCreateTicket(req Request) Result {
	t := Ticket{ID: fmt.Sprintf("T-%s", strings.ToUpper(uuid.NewString()[:8])), TenantID: req.TenantID, Params: req.Params}
	m.tickets = append(m.tickets, t)
	return Success(map[string]any{"tenant_id": req.TenantID, "ticket_id": t.ID})
}
