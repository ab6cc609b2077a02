package journey

import (
	"context"
	"strings"

	"github.com/wolfman30/commerce-concierge/internal/reply"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/internal/tools"
)

// Orders reports order and payment status. It reads only.
type Orders struct {
	tb *Toolbox
}

// NewOrders builds the orders journey.
func NewOrders(tb *Toolbox) *Orders {
	return &Orders{tb: tb}
}

// Run looks up the referenced order, or the conversation's current one.
func (o *Orders) Run(ctx context.Context, t *Turn) Outcome {
	st := t.State
	ref := orderReference(t.Text)
	switch {
	case ref == "":
		ref = st.OrderID
	case st.OrderID != "" && strings.EqualFold(ref, shortID(st.OrderID)):
		ref = st.OrderID
	}
	if ref == "" {
		t.Say(reply.KeyAskOrderID)
		return Outcome{}
	}

	params := map[string]any{"order_id": ref}
	if tools.IsUUID(st.CustomerID) {
		params["customer_id"] = st.CustomerID
	}
	res, err := o.tb.Call(ctx, st, tools.OrderGetStatus, params)
	if err != nil {
		return o.tb.fail(ctx, t, err)
	}
	if !res.Success {
		if res.ErrorCode == tools.CodeOrderNotFound {
			t.Say(reply.KeyOrderNotFound, "OrderID", shortID(ref))
			return Outcome{}
		}
		t.Say(reply.KeyToolTrouble)
		return Outcome{}
	}
	var order struct {
		OrderID       string `mapstructure:"order_id"`
		Status        string `mapstructure:"status"`
		PaymentStatus string `mapstructure:"payment_status"`
		ETA           string `mapstructure:"eta"`
	}
	if err := tools.Decode(res.Data, &order); err != nil {
		return o.tb.fail(ctx, t, err)
	}
	if order.OrderID == "" {
		order.OrderID = ref
	}
	t.Say(reply.KeyOrderStatus, "OrderID", shortID(order.OrderID), "Status", order.Status, "ETA", order.ETA)
	if ps := state.ParsePaymentStatus(order.PaymentStatus); ps != state.PaymentUnknown {
		t.Say(reply.KeyPaymentStatus, "OrderID", shortID(order.OrderID), "Status", string(ps))
	}
	return Outcome{}
}
