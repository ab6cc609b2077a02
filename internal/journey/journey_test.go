package journey

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/commerce-concierge/internal/escalation"
	"github.com/wolfman30/commerce-concierge/internal/reply"
	"github.com/wolfman30/commerce-concierge/internal/router"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/internal/tenancy"
	"github.com/wolfman30/commerce-concierge/internal/tools"
)

const (
	tenantID  = "0d7c1f3a-2b4e-4c6d-8e9f-a1b2c3d4e5f6"
	otherTen  = "9a8b7c6d-5e4f-4a3b-9c2d-1e0f9a8b7c6d"
	convID    = "7e6d5c4b-3a29-4181-9f0e-d1c2b3a49586"
	reqID     = "3c2b1a09-8f7e-4d6c-8b5a-493827160594"
	knownCust = "6f5e4d3c-2b1a-4098-8f7e-6d5c4b3a2918"
)

type harness struct {
	backend *tools.MemoryBackend
	gateway *tools.Gateway
	set     Set
	ctx     context.Context
	st      *state.ConversationState
}

func testFixture() tools.Fixture {
	return tools.Fixture{
		Currency: "KES",
		Catalog: []state.CatalogItem{
			{ItemID: "iphone-15", Name: "iPhone 15", Price: 120000, Currency: "KES", InStock: true, Stock: 4},
			{ItemID: "iphone-14", Name: "iPhone 14", Price: 95000, Currency: "KES", InStock: true, Stock: 2},
			{ItemID: "galaxy-phone", Name: "Galaxy Phone", Price: 60000, Currency: "KES", InStock: false},
		},
		Offers:         []tools.Offer{{Code: "SAVE10", Description: "10% off phones", DiscountPercent: 10}},
		PaymentMethods: []string{"stk", "c2b", "card"},
		KB: []state.KBSnippet{
			{Text: "Returns are accepted within 14 days with a receipt.", Source: "returns-policy", Score: 0.9},
			{Text: "Shipping to Mombasa takes three days.", Source: "shipping", Score: 0.3},
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := tools.NewMemoryBackend()
	backend.SetFixture(tenantID, testFixture())
	gw := tools.NewGateway(backend)
	tb := NewToolbox(gw, time.Millisecond, nil)

	st := state.New(tenantID, convID)
	st.BeginTurn(reqID)
	st.PhoneE164 = "+254700000001"
	st.DefaultLanguage = "en"
	st.AllowedLanguages = []string{"en", "sw"}
	st.ResponseLanguage = "en"
	st.PaymentsEnabled = map[string]bool{"stk": true, "c2b": true, "card": true}

	return &harness{
		backend: backend,
		gateway: gw,
		set:     NewSet(tb, 0.6),
		ctx:     tenancy.WithTenantID(context.Background(), tenantID),
		st:      st,
	}
}

func (h *harness) run(j router.Journey, intent, text string) (*Turn, Outcome) {
	h.st.Intent = intent
	turn := &Turn{State: h.st, Text: text}
	out := h.set[j].Run(h.ctx, turn)
	return turn, out
}

func keys(msgs []reply.Message) []reply.Key {
	out := make([]reply.Key, len(msgs))
	for i, m := range msgs {
		out[i] = m.Key
	}
	return out
}

func TestNewSetCoversBusinessJourneys(t *testing.T) {
	h := newHarness(t)
	for _, j := range []router.Journey{router.JourneySales, router.JourneySupport, router.JourneyOrders, router.JourneyOffers, router.JourneyPrefs} {
		assert.NotNil(t, h.set[j], j)
	}
}

func TestNewToolboxPanicsWithoutInvoker(t *testing.T) {
	assert.Panics(t, func() { NewToolbox(nil, 0, nil) })
}

func TestTransientFailureRetriedOnce(t *testing.T) {
	h := newHarness(t)
	h.backend.FailNext(tools.CatalogSearch, tools.CodeToolExecutionError)

	turn, out := h.run(router.JourneySales, "product_question", "iphone")
	require.NoError(t, out.Err)
	assert.False(t, out.Escalate)
	assert.Equal(t, []reply.Key{reply.KeySearchResults}, keys(turn.Replies))
	assert.Equal(t, 2, h.backend.Calls(tools.CatalogSearch))
	assert.Zero(t, h.st.ConsecutiveToolErrors)
}

func TestRepeatedToolFailuresEscalate(t *testing.T) {
	h := newHarness(t)
	h.backend.FailNext(tools.CatalogSearch, tools.CodeToolTimeout, tools.CodeToolExecutionError)

	turn, out := h.run(router.JourneySales, "product_question", "iphone")
	require.NoError(t, out.Err)
	assert.True(t, out.Escalate)
	assert.Equal(t, escalation.ReasonToolErrors, out.Reason)
	assert.True(t, h.st.EscalationRequired)
	assert.Equal(t, 2, h.st.ConsecutiveToolErrors)
	assert.Empty(t, turn.Replies)
}

func TestSingleFailureAfterEarlierErrorIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.st.ConsecutiveToolErrors = 1
	h.backend.FailNext(tools.CatalogSearch, tools.CodeToolExecutionError)

	_, out := h.run(router.JourneySales, "product_question", "iphone")
	assert.True(t, out.Escalate)
	assert.Equal(t, 1, h.backend.Calls(tools.CatalogSearch))
}

func TestBusinessFailureDoesNotCountAsToolError(t *testing.T) {
	h := newHarness(t)
	h.backend.FailNext(tools.CatalogSearch, tools.CodeProductNotFound)

	turn, out := h.run(router.JourneySales, "product_question", "iphone")
	assert.False(t, out.Escalate)
	assert.Equal(t, []reply.Key{reply.KeyNoResults}, keys(turn.Replies))
	assert.Zero(t, h.st.ConsecutiveToolErrors)
}

func TestIsolationFailureAbortsTurn(t *testing.T) {
	h := newHarness(t)
	h.ctx = tenancy.WithTenantID(context.Background(), otherTen)

	turn, out := h.run(router.JourneySales, "product_question", "iphone")
	require.ErrorIs(t, out.Err, tools.ErrTenantIsolation)
	assert.Empty(t, turn.Replies)
}

func TestEnsureCustomerReusesKnownID(t *testing.T) {
	h := newHarness(t)
	h.st.CustomerID = knownCust
	tb := NewToolbox(h.gateway, time.Millisecond, nil)

	id, err := tb.ensureCustomer(h.ctx, h.st)
	require.NoError(t, err)
	assert.Equal(t, knownCust, id)
	assert.Zero(t, h.backend.Calls(tools.CustomerGetOrCreate))
}

func TestEnsureCustomerCreatesFromPhone(t *testing.T) {
	h := newHarness(t)
	tb := NewToolbox(h.gateway, time.Millisecond, nil)

	id, err := tb.ensureCustomer(h.ctx, h.st)
	require.NoError(t, err)
	assert.True(t, tools.IsUUID(id))
	assert.Equal(t, id, h.st.CustomerID)
}

func TestEnsureCustomerWithoutPhone(t *testing.T) {
	h := newHarness(t)
	h.st.PhoneE164 = ""
	tb := NewToolbox(h.gateway, time.Millisecond, nil)

	_, err := tb.ensureCustomer(h.ctx, h.st)
	require.ErrorIs(t, err, errNoCustomer)
}
