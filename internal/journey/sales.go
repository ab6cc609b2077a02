package journey

import (
	"context"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/commerce-concierge/internal/classify"
	"github.com/wolfman30/commerce-concierge/internal/escalation"
	"github.com/wolfman30/commerce-concierge/internal/reply"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/internal/tools"
)

// Sales steps persisted in state.SalesStep.
const (
	StepSelect   = "select"
	StepConfirm  = "confirm"
	StepMethod   = "pay_method"
	StepAwaiting = "awaiting_payment"
)

const (
	searchLimit = 6
	// broadResults is the match estimate above which an unfiltered search
	// answers with a catalog link instead of a list.
	broadResults = 50
	// RejectionLimit is how many rejected result lists send the customer to
	// the catalog.
	RejectionLimit = 2
)

var initiateTool = map[string]tools.Name{
	"stk":  tools.PaymentInitiateSTK,
	"c2b":  tools.PaymentInitiateC2B,
	"card": tools.PaymentCreateCardLink,
}

// Sales runs discovery, selection, order creation and payment.
type Sales struct {
	tb *Toolbox
}

// NewSales builds the sales journey.
func NewSales(tb *Toolbox) *Sales {
	return &Sales{tb: tb}
}

// Continues reports whether text answers the sales step in progress, such
// as "yes" at confirmation or "2" after a result list. Those replies carry
// little intent signal on their own.
func Continues(st *state.ConversationState, text string) bool {
	switch st.SalesStep {
	case StepSelect:
		if isRejection(text) {
			return true
		}
		_, ok := selectItem(text, st.LastCatalogResults)
		return ok
	case StepConfirm:
		return isAffirmative(text) || isNegative(text)
	case StepMethod:
		return paymentMethod(text) != "" || isNegative(text)
	case StepAwaiting:
		return isAffirmative(text) || paymentMethod(text) != ""
	}
	return false
}

// Run advances the sales flow by one step.
func (s *Sales) Run(ctx context.Context, t *Turn) Outcome {
	st := t.State
	switch st.SalesStep {
	case StepAwaiting:
		if st.Intent == classify.IntentPaymentHelp || Continues(st, t.Text) || extractQuery(t.Text) == "" {
			return s.checkPayment(ctx, t)
		}
	case StepConfirm:
		return s.confirm(ctx, t)
	case StepMethod:
		return s.chooseMethod(ctx, t)
	case StepSelect:
		if isRejection(t.Text) {
			return s.reject(ctx, t)
		}
		if item, ok := selectItem(t.Text, st.LastCatalogResults); ok {
			return s.order(ctx, t, item)
		}
	default:
		if st.Intent == classify.IntentPaymentHelp && st.PaymentRequestID != "" {
			return s.checkPayment(ctx, t)
		}
		if isRejection(t.Text) && st.LastCatalogQuery != "" {
			return s.reject(ctx, t)
		}
	}
	return s.search(ctx, t, nil)
}

func (s *Sales) search(ctx context.Context, t *Turn, exclude []state.CatalogItem) Outcome {
	st := t.State
	query, filters := extractQuery(t.Text), extractFilters(t.Text)
	switch {
	case exclude != nil:
		query, filters = st.LastCatalogQuery, st.LastCatalogFilters
	case query == "" && len(filters) > 0:
		query = st.LastCatalogQuery
	}
	if query == "" {
		if st.SalesStep == StepSelect && len(st.LastCatalogResults) > 0 {
			t.Say(reply.KeySelectPrompt)
		} else {
			t.Say(reply.KeyAskQuery)
		}
		return Outcome{}
	}
	if exclude == nil && !strings.EqualFold(query, st.LastCatalogQuery) {
		st.CatalogRejections = 0
	}

	params := map[string]any{"query": query, "limit": searchLimit}
	if len(filters) > 0 {
		f := make(map[string]any, len(filters))
		for k, v := range filters {
			f[k] = v
		}
		params["filters"] = f
	}
	if tools.IsUUID(st.CustomerID) {
		params["customer_id"] = st.CustomerID
	}
	res, err := s.tb.Call(ctx, st, tools.CatalogSearch, params)
	if err != nil {
		return s.tb.fail(ctx, t, err)
	}
	var found struct {
		Items []state.CatalogItem `mapstructure:"items"`
		Total int                 `mapstructure:"total_matches_estimate"`
	}
	if !res.Success {
		found.Items = nil
	} else if err := tools.Decode(res.Data, &found); err != nil {
		return s.tb.fail(ctx, t, err)
	}
	st.LastCatalogQuery, st.LastCatalogFilters = query, filters

	if found.Total >= broadResults && len(filters) == 0 && st.CatalogLinkBase != "" {
		return s.sendCatalogLink(t)
	}
	items := found.Items[:0]
	for _, it := range found.Items {
		if shown(exclude, it.ItemID) || overBudget(it, filters) {
			continue
		}
		items = append(items, it)
	}
	if len(items) == 0 {
		st.SalesStep = ""
		st.SetCatalogResults(nil)
		t.Say(reply.KeyNoResults, "Query", query)
		return Outcome{}
	}
	st.SetCatalogResults(items)
	st.SalesStep = StepSelect
	t.Say(reply.KeySearchResults, "Items", st.LastCatalogResults)
	return Outcome{}
}

func shown(items []state.CatalogItem, id string) bool {
	return slices.ContainsFunc(items, func(it state.CatalogItem) bool { return it.ItemID == id })
}

func overBudget(it state.CatalogItem, filters map[string]string) bool {
	raw, ok := filters["max_price"]
	if !ok {
		return false
	}
	limit, err := strconv.ParseFloat(raw, 64)
	return err == nil && it.Price > limit
}

func (s *Sales) sendCatalogLink(t *Turn) Outcome {
	st := t.State
	link := strings.TrimRight(st.CatalogLinkBase, "/")
	if st.LastCatalogQuery != "" {
		link += "?q=" + url.QueryEscape(st.LastCatalogQuery)
	}
	st.SalesStep = ""
	st.SetCatalogResults(nil)
	t.Say(reply.KeyCatalogLink, "Link", link)
	return Outcome{}
}

func (s *Sales) reject(ctx context.Context, t *Turn) Outcome {
	st := t.State
	st.CatalogRejections++
	if st.CatalogRejections >= RejectionLimit && st.CatalogLinkBase != "" {
		return s.sendCatalogLink(t)
	}
	seen := append([]state.CatalogItem{}, st.LastCatalogResults...)
	return s.search(ctx, t, seen)
}

func (s *Sales) order(ctx context.Context, t *Turn, picked state.CatalogItem) Outcome {
	st := t.State
	customerID, err := s.tb.ensureCustomer(ctx, st)
	if err != nil {
		return s.tb.customerOutcome(ctx, t, err)
	}

	res, err := s.tb.Call(ctx, st, tools.CatalogGetItem, map[string]any{"item_id": picked.ItemID})
	if err != nil {
		return s.tb.fail(ctx, t, err)
	}
	if !res.Success {
		t.Say(reply.KeyOutOfStock, "Name", picked.Name)
		return Outcome{}
	}
	var item state.CatalogItem
	if err := tools.Decode(res.Data, &item); err != nil {
		return s.tb.fail(ctx, t, err)
	}
	qty := quantity(t.Text)
	if !item.InStock || (item.Stock > 0 && qty > item.Stock) {
		t.Say(reply.KeyOutOfStock, "Name", item.Name)
		return Outcome{}
	}

	st.Cart = nil
	if err := st.AddToCart(state.CartLine{ItemID: item.ItemID, Qty: qty}); err != nil {
		return s.tb.fail(ctx, t, err)
	}
	res, err = s.tb.Call(ctx, st, tools.OrderCreate, map[string]any{
		"customer_id": customerID,
		"items":       []any{map[string]any{"item_id": item.ItemID, "qty": qty}},
	})
	if err != nil {
		return s.tb.fail(ctx, t, err)
	}
	if !res.Success {
		if res.ErrorCode == tools.CodeInsufficientStock {
			t.Say(reply.KeyOutOfStock, "Name", item.Name)
			return Outcome{}
		}
		t.Say(reply.KeyToolTrouble)
		return Outcome{}
	}
	var created struct {
		OrderID string            `mapstructure:"order_id"`
		Totals  state.OrderTotals `mapstructure:"totals"`
	}
	if err := tools.Decode(res.Data, &created); err != nil {
		return s.tb.fail(ctx, t, err)
	}
	st.OrderID = created.OrderID
	st.OrderTotals = &created.Totals
	st.PaymentRequestID, st.PaymentStatus, st.PendingPaymentMethod = "", "", ""
	st.AppliedOffers, st.AvailableMethods = nil, nil
	st.CatalogRejections = 0
	if !slices.ContainsFunc(st.LastCatalogResults, func(it state.CatalogItem) bool { return it.ItemID == item.ItemID }) {
		st.SetCatalogResults(append([]state.CatalogItem{item}, st.LastCatalogResults...))
	}

	offers, err := s.quote(ctx, st)
	if err != nil {
		return Outcome{Err: err}
	}
	st.SalesStep = StepConfirm
	if st.ConsecutiveToolErrors >= ToolErrorLimit {
		return escalate(st, escalation.ReasonToolErrors)
	}
	showConfirm(t, offers)
	return Outcome{}
}

// quote fetches applicable offers and payment methods for the new order in
// parallel. A single failure leaves the confirmation without offers and
// methods are fetched again at payment time; the caller escalates once both
// calls have used up the error budget. Only isolation errors return.
func (s *Sales) quote(ctx context.Context, st *state.ConversationState) ([]reply.Offer, error) {
	offersCall := callFor(st, tools.OffersGetApplicable, map[string]any{
		"customer_id": st.CustomerID,
		"order_id":    st.OrderID,
		"item_ids":    cartItemIDs(st),
	})
	methodsCall := callFor(st, tools.PaymentGetMethods, map[string]any{"order_id": st.OrderID})
	prior := st.ConsecutiveToolErrors

	var (
		offersRes, methodsRes       tools.Result
		offersFailed, methodsFailed int
		offersErr, methodsErr       error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		offersRes, offersFailed, offersErr = s.tb.attempt(gctx, offersCall, prior)
		if fatal(offersErr) {
			return offersErr
		}
		return nil
	})
	g.Go(func() error {
		methodsRes, methodsFailed, methodsErr = s.tb.attempt(gctx, methodsCall, prior)
		if fatal(methodsErr) {
			return methodsErr
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.tb.settle(st, offersFailed, offersErr)
	s.tb.settle(st, methodsFailed, methodsErr)

	var offers []reply.Offer
	if offersErr == nil && offersRes.Success {
		offers = decodeOffers(offersRes)
	}
	if methodsErr == nil && methodsRes.Success {
		st.AvailableMethods = enabledMethods(st, methodsRes)
	}
	return offers, nil
}

func cartItemIDs(st *state.ConversationState) []any {
	ids := make([]any, 0, len(st.Cart))
	for _, line := range st.Cart {
		ids = append(ids, line.ItemID)
	}
	return ids
}

func decodeOffers(res tools.Result) []reply.Offer {
	var data struct {
		Offers []reply.Offer `mapstructure:"offers"`
	}
	if err := tools.Decode(res.Data, &data); err != nil {
		return nil
	}
	return data.Offers
}

// enabledMethods keeps the methods the tool reports that the tenant has
// switched on, in the tool's order.
func enabledMethods(st *state.ConversationState, res tools.Result) []string {
	var data struct {
		Methods []string `mapstructure:"methods"`
	}
	if err := tools.Decode(res.Data, &data); err != nil {
		return nil
	}
	out := make([]string, 0, len(data.Methods))
	for _, m := range data.Methods {
		m = strings.ToLower(m)
		if _, known := initiateTool[m]; known && st.PaymentsEnabled[m] && !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out
}

func cartSummary(st *state.ConversationState) (name string, qty int) {
	if len(st.Cart) == 0 {
		return "", 0
	}
	line := st.Cart[0]
	name = line.ItemID
	for _, it := range st.LastCatalogResults {
		if it.ItemID == line.ItemID {
			name = it.Name
			break
		}
	}
	return name, line.Qty
}

func showConfirm(t *Turn, offers []reply.Offer) {
	name, qty := cartSummary(t.State)
	t.Say(reply.KeyConfirmOrder, "Qty", qty, "Name", name, "Totals", *t.State.OrderTotals, "Offers", offers)
}

func (s *Sales) confirm(ctx context.Context, t *Turn) Outcome {
	st := t.State
	if st.OrderID == "" || st.OrderTotals == nil {
		st.SalesStep = ""
		return s.search(ctx, t, nil)
	}
	switch {
	case isAffirmative(t.Text):
		return s.toPayment(ctx, t)
	case isNegative(t.Text):
		abandon(st)
		t.Say(reply.KeyOrderCancelled)
		return Outcome{}
	case wantsNewSearch(st, t.Text):
		abandon(st)
		return s.search(ctx, t, nil)
	}
	showConfirm(t, nil)
	return Outcome{}
}

func wantsNewSearch(st *state.ConversationState, text string) bool {
	if st.Intent != classify.IntentSalesDiscovery && st.Intent != classify.IntentProductQuestion {
		return false
	}
	return extractQuery(text) != ""
}

// abandon leaves the order unpaid and clears the working cart.
func abandon(st *state.ConversationState) {
	st.SalesStep = ""
	st.Cart = nil
	st.OrderID = ""
	st.OrderTotals = nil
	st.AvailableMethods = nil
	st.AppliedOffers = nil
	st.PendingPaymentMethod = ""
}

func (s *Sales) toPayment(ctx context.Context, t *Turn) Outcome {
	st := t.State
	if len(st.AvailableMethods) == 0 {
		res, err := s.tb.Call(ctx, st, tools.PaymentGetMethods, map[string]any{"order_id": st.OrderID})
		if err != nil {
			return s.tb.fail(ctx, t, err)
		}
		if res.Success {
			st.AvailableMethods = enabledMethods(st, res)
		}
	}
	switch len(st.AvailableMethods) {
	case 0:
		t.Say(reply.KeyPaymentsDisabled)
		return escalate(st, escalation.ReasonPaymentUnavailable)
	case 1:
		return s.initiate(ctx, t, st.AvailableMethods[0])
	}
	st.SalesStep = StepMethod
	askMethod(t)
	return Outcome{}
}

func askMethod(t *Turn) {
	st := t.State
	t.Say(reply.KeyChooseMethod, "Currency", st.OrderTotals.Currency, "Amount", st.OrderTotals.Total, "Methods", st.AvailableMethods)
}

func (s *Sales) chooseMethod(ctx context.Context, t *Turn) Outcome {
	st := t.State
	if st.OrderID == "" || st.OrderTotals == nil {
		st.SalesStep = ""
		return s.search(ctx, t, nil)
	}
	if isNegative(t.Text) && paymentMethod(t.Text) == "" {
		abandon(st)
		t.Say(reply.KeyOrderCancelled)
		return Outcome{}
	}
	method := paymentMethod(t.Text)
	if n := ordinal(t.Text); method == "" && n >= 1 && n <= len(st.AvailableMethods) {
		method = st.AvailableMethods[n-1]
	}
	if method == "" || !slices.Contains(st.AvailableMethods, method) {
		askMethod(t)
		return Outcome{}
	}
	return s.initiate(ctx, t, method)
}

func (s *Sales) initiate(ctx context.Context, t *Turn, method string) Outcome {
	st := t.State
	totals := *st.OrderTotals
	params := map[string]any{"order_id": st.OrderID, "amount": totals.Total}
	if totals.Currency != "" {
		params["currency"] = totals.Currency
	}
	if method == "stk" {
		if st.PhoneE164 == "" {
			st.AvailableMethods = slices.DeleteFunc(st.AvailableMethods, func(m string) bool { return m == "stk" })
			return s.reoffer(t)
		}
		params["phone_e164"] = st.PhoneE164
	}
	res, err := s.tb.Call(ctx, st, initiateTool[method], params)
	if err != nil {
		return s.tb.fail(ctx, t, err)
	}
	if !res.Success {
		if res.ErrorCode == tools.CodePaymentMethodNotAvailable {
			st.AvailableMethods = slices.DeleteFunc(st.AvailableMethods, func(m string) bool { return m == method })
			return s.reoffer(t)
		}
		t.Say(reply.KeyToolTrouble)
		return Outcome{}
	}
	var started struct {
		PaymentRequestID string  `mapstructure:"payment_request_id"`
		Status           string  `mapstructure:"status"`
		Amount           float64 `mapstructure:"amount"`
		Currency         string  `mapstructure:"currency"`
		Paybill          string  `mapstructure:"paybill"`
		AccountRef       string  `mapstructure:"account_ref"`
		Link             string  `mapstructure:"link"`
	}
	if err := tools.Decode(res.Data, &started); err != nil {
		return s.tb.fail(ctx, t, err)
	}
	st.PaymentRequestID = started.PaymentRequestID
	st.PaymentStatus = state.ParsePaymentStatus(started.Status)
	st.PendingPaymentMethod = method
	st.SalesStep = StepAwaiting

	amount, currency := totals.Total, totals.Currency
	if started.Amount > 0 {
		amount = started.Amount
	}
	if started.Currency != "" {
		currency = started.Currency
	}
	switch method {
	case "c2b":
		t.Say(reply.KeyPaymentC2B, "Currency", currency, "Amount", amount, "Paybill", started.Paybill, "AccountRef", started.AccountRef)
	case "card":
		t.Say(reply.KeyPaymentCard, "Currency", currency, "Amount", amount, "Link", started.Link)
	default:
		t.Say(reply.KeyPaymentSTK, "Currency", currency, "Amount", amount)
	}
	return Outcome{}
}

// reoffer asks again after a method dropped out.
func (s *Sales) reoffer(t *Turn) Outcome {
	st := t.State
	if len(st.AvailableMethods) == 0 {
		t.Say(reply.KeyPaymentsDisabled)
		return escalate(st, escalation.ReasonPaymentUnavailable)
	}
	st.SalesStep = StepMethod
	askMethod(t)
	return Outcome{}
}

func (s *Sales) checkPayment(ctx context.Context, t *Turn) Outcome {
	st := t.State
	if st.PaymentRequestID == "" {
		if st.OrderID != "" && st.OrderTotals != nil {
			return s.toPayment(ctx, t)
		}
		return s.search(ctx, t, nil)
	}
	res, err := s.tb.Call(ctx, st, tools.PaymentGetStatus, map[string]any{"payment_request_id": st.PaymentRequestID})
	if err != nil {
		return s.tb.fail(ctx, t, err)
	}
	if !res.Success {
		t.Say(reply.KeyToolTrouble)
		return Outcome{}
	}
	var status struct {
		Status string `mapstructure:"status"`
	}
	if err := tools.Decode(res.Data, &status); err != nil {
		return s.tb.fail(ctx, t, err)
	}
	st.PaymentStatus = state.ParsePaymentStatus(status.Status)
	orderID := st.OrderID
	switch st.PaymentStatus {
	case state.PaymentPaid:
		st.SalesStep = ""
		st.Cart = nil
		st.PendingPaymentMethod = ""
	case state.PaymentFailed:
		st.SalesStep = StepMethod
	}
	t.Say(reply.KeyPaymentStatus, "OrderID", shortID(orderID), "Status", string(st.PaymentStatus))
	if st.PaymentStatus == state.PaymentFailed && st.OrderTotals != nil && len(st.AvailableMethods) > 0 {
		askMethod(t)
	}
	return Outcome{}
}

// shortID is the customer-facing order reference.
func shortID(id string) string {
	if validOrderID(id) {
		return strings.ToUpper(id[:8])
	}
	return id
}
