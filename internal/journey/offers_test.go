package journey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/commerce-concierge/internal/reply"
	"github.com/wolfman30/commerce-concierge/internal/router"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/internal/tools"
)

func withOpenOrder(t *testing.T, h *harness) {
	t.Helper()
	h.st.CustomerID = knownCust
	h.st.OrderID = openOrder(t, h)
	h.st.OrderTotals = &state.OrderTotals{Currency: "KES", Subtotal: 120000, Total: 120000}
	h.st.Cart = []state.CartLine{{ItemID: "iphone-15", Qty: 1}}
	h.st.SetCatalogResults([]state.CatalogItem{{ItemID: "iphone-15", Name: "iPhone 15", Price: 120000, Currency: "KES", InStock: true}})
	h.st.SalesStep = StepConfirm
}

func TestOffersListed(t *testing.T) {
	h := newHarness(t)

	turn, out := h.run(router.JourneyOffers, "discounts_offers", "any offers today?")
	require.NoError(t, out.Err)
	require.Equal(t, []reply.Key{reply.KeyOffers}, keys(turn.Replies))
	assert.Equal(t, []reply.Offer{{Code: "SAVE10", Description: "10% off phones"}}, turn.Replies[0].Data["Offers"])
}

func TestNoOffers(t *testing.T) {
	h := newHarness(t)
	fx := testFixture()
	fx.Offers = nil
	h.backend.SetFixture(tenantID, fx)

	turn, _ := h.run(router.JourneyOffers, "discounts_offers", "punguzo?")
	assert.Equal(t, []reply.Key{reply.KeyNoOffers}, keys(turn.Replies))
}

func TestCouponAppliedToOpenOrder(t *testing.T) {
	h := newHarness(t)
	withOpenOrder(t, h)

	turn, out := h.run(router.JourneyOffers, "discounts_offers", "use code save10")
	require.NoError(t, out.Err)
	require.Equal(t, []reply.Key{reply.KeyCouponApplied, reply.KeyConfirmOrder}, keys(turn.Replies))
	assert.Equal(t, "SAVE10", turn.Replies[0].Data["Code"])

	require.NotNil(t, h.st.OrderTotals)
	assert.Equal(t, 12000.0, h.st.OrderTotals.Discount)
	assert.Equal(t, 108000.0, h.st.OrderTotals.Total)
	assert.Equal(t, []string{"SAVE10"}, h.st.AppliedOffers)
	assert.Equal(t, StepConfirm, h.st.SalesStep)
	assert.Equal(t, *h.st.OrderTotals, turn.Replies[1].Data["Totals"])
}

func TestCouponRejected(t *testing.T) {
	h := newHarness(t)
	withOpenOrder(t, h)

	turn, _ := h.run(router.JourneyOffers, "discounts_offers", "coupon BOGUS1")
	require.Equal(t, []reply.Key{reply.KeyCouponRejected}, keys(turn.Replies))
	assert.Equal(t, 120000.0, h.st.OrderTotals.Total)
	assert.Empty(t, h.st.AppliedOffers)
}

func TestCouponNotAppliedAfterPaymentStarted(t *testing.T) {
	h := newHarness(t)
	withOpenOrder(t, h)
	h.st.PaymentRequestID = "pay-1"

	turn, _ := h.run(router.JourneyOffers, "discounts_offers", "SAVE10")
	assert.Equal(t, []reply.Key{reply.KeyOffers}, keys(turn.Replies))
	assert.Zero(t, h.backend.Calls(tools.OrderApplyCoupon))
}
