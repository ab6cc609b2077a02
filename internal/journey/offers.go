package journey

import (
	"context"
	"slices"

	"github.com/wolfman30/commerce-concierge/internal/reply"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/internal/tools"
)

// Offers lists promotions and applies a coupon to the open order.
type Offers struct {
	tb *Toolbox
}

// NewOffers builds the offers journey.
func NewOffers(tb *Toolbox) *Offers {
	return &Offers{tb: tb}
}

// Run lists applicable offers, or applies the code the customer sent when an
// unpaid order is open.
func (o *Offers) Run(ctx context.Context, t *Turn) Outcome {
	st := t.State
	params := map[string]any{}
	if tools.IsUUID(st.CustomerID) {
		params["customer_id"] = st.CustomerID
	}
	if validOrderID(st.OrderID) {
		params["order_id"] = st.OrderID
	}
	if len(st.Cart) > 0 {
		params["item_ids"] = cartItemIDs(st)
	}
	res, err := o.tb.Call(ctx, st, tools.OffersGetApplicable, params)
	if err != nil {
		return o.tb.fail(ctx, t, err)
	}
	var offers []reply.Offer
	if res.Success {
		offers = decodeOffers(res)
	}

	codes := make([]string, len(offers))
	for i, off := range offers {
		codes[i] = off.Code
	}
	if code := couponCode(t.Text, codes); code != "" && o.canApply(st) {
		return o.apply(ctx, t, code)
	}
	if len(offers) == 0 {
		t.Say(reply.KeyNoOffers)
		return Outcome{}
	}
	t.Say(reply.KeyOffers, "Offers", offers)
	return Outcome{}
}

func (o *Offers) canApply(st *state.ConversationState) bool {
	return validOrderID(st.OrderID) && st.OrderTotals != nil && st.PaymentRequestID == ""
}

func (o *Offers) apply(ctx context.Context, t *Turn, code string) Outcome {
	st := t.State
	res, err := o.tb.Call(ctx, st, tools.OrderApplyCoupon, map[string]any{
		"order_id":    st.OrderID,
		"coupon_code": code,
	})
	if err != nil {
		return o.tb.fail(ctx, t, err)
	}
	if !res.Success {
		t.Say(reply.KeyCouponRejected, "Code", code)
		return Outcome{}
	}
	var applied struct {
		Coupon string            `mapstructure:"coupon"`
		Totals state.OrderTotals `mapstructure:"totals"`
	}
	if err := tools.Decode(res.Data, &applied); err != nil {
		return o.tb.fail(ctx, t, err)
	}
	if applied.Coupon != "" {
		code = applied.Coupon
	}
	st.OrderTotals = &applied.Totals
	if !slices.Contains(st.AppliedOffers, code) {
		st.AppliedOffers = append(st.AppliedOffers, code)
	}
	st.SalesStep = StepConfirm
	t.Say(reply.KeyCouponApplied, "Code", code)
	showConfirm(t, nil)
	return Outcome{}
}
