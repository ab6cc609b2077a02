package journey

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/commerce-concierge/internal/state"
)

func TestExtractQuery(t *testing.T) {
	cases := map[string]string{
		"niaje, bei ya iPhone?":             "iPhone",
		"do you have samsung galaxy s24":    "samsung galaxy s24",
		"nataka simu ya Tecno chini ya 20k": "simu Tecno",
		"how much is the airpods pro":       "airpods pro",
		"hello there":                       "there",
		"I want to buy something":           "",
	}
	for in, want := range cases {
		assert.Equal(t, want, extractQuery(in), in)
	}
}

func TestExtractFilters(t *testing.T) {
	assert.Nil(t, extractFilters("iphone"))
	assert.Equal(t, map[string]string{"color": "black", "size": "256gb"}, extractFilters("black iphone 256 GB"))
	assert.Equal(t, map[string]string{"max_price": "20000"}, extractFilters("simu chini ya 20k"))
	assert.Equal(t, map[string]string{"max_price": "15000", "size": "m"}, extractFilters("dress size M under KES 15,000"))
}

func TestSelectItem(t *testing.T) {
	items := []state.CatalogItem{
		{ItemID: "a", Name: "iPhone 15"},
		{ItemID: "b", Name: "iPhone 15 Pro"},
		{ItemID: "c", Name: "Galaxy S24"},
	}
	cases := []struct {
		text string
		want string
	}{
		{"1", "a"},
		{"#3", "c"},
		{"the second one", "b"},
		{"ya pili", "b"},
		{"last", "c"},
		{"option 2", "b"},
		{"I'll take the iPhone 15 Pro", "b"},
		{"galaxy", "c"},
	}
	for _, tc := range cases {
		got, ok := selectItem(tc.text, items)
		if assert.True(t, ok, tc.text) {
			assert.Equal(t, tc.want, got.ItemID, tc.text)
		}
	}
	for _, text := range []string{"7", "iphone", "do you have headphones"} {
		_, ok := selectItem(text, items)
		assert.False(t, ok, text)
	}
}

func TestQuantity(t *testing.T) {
	assert.Equal(t, 1, quantity("iPhone 15"))
	assert.Equal(t, 3, quantity("3 pcs of the first one"))
	assert.Equal(t, 2, quantity("x2 please"))
	assert.Equal(t, 2, quantity("vipande 2"))
}

func TestAffirmativeNegative(t *testing.T) {
	for _, s := range []string{"yes", "Ndio", "sawa sawa", "ok go ahead", "confirm"} {
		assert.True(t, isAffirmative(s), s)
		assert.False(t, isNegative(s), s)
	}
	for _, s := range []string{"no", "hapana", "cancel it", "nope"} {
		assert.True(t, isNegative(s), s)
		assert.False(t, isAffirmative(s), s)
	}
}

func TestPaymentMethod(t *testing.T) {
	cases := map[string]string{
		"mpesa":                 "stk",
		"M-Pesa on my phone":    "stk",
		"paybill":               "c2b",
		"lipa na mpesa paybill": "c2b",
		"card":                  "card",
		"nitalipa kwa kadi":     "card",
		"later":                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, paymentMethod(in), in)
	}
}

func TestOrderReference(t *testing.T) {
	assert.Equal(t, "8c1e2f00-1a2b-4c3d-9e8f-0a1b2c3d4e5f", orderReference("status of 8C1E2F00-1A2B-4C3D-9E8F-0A1B2C3D4E5F please"))
	assert.Equal(t, "A1B2C3", orderReference("where is order #A1B2C3"))
	assert.Equal(t, "12345", orderReference("oda namba 12345"))
	assert.Empty(t, orderReference("where is my order?"))
	assert.Empty(t, orderReference("order status"))
}

func TestCouponCode(t *testing.T) {
	known := []string{"SAVE10", "KARIBU"}
	assert.Equal(t, "SAVE10", couponCode("apply save10 please", known))
	assert.Equal(t, "KARIBU", couponCode("tumia KARIBU", known))
	assert.Equal(t, "BOGUS1", couponCode("code bogus1", known))
	assert.Empty(t, couponCode("any discounts?", known))
}

func TestNotificationChange(t *testing.T) {
	ch, on, ok := notificationChange("turn off sms notifications")
	assert.True(t, ok)
	assert.Equal(t, "sms", ch)
	assert.False(t, on)

	ch, on, ok = notificationChange("washa arifa za whatsapp")
	assert.True(t, ok)
	assert.Equal(t, "whatsapp", ch)
	assert.True(t, on)

	_, _, ok = notificationChange("notifications please")
	assert.False(t, ok)
}

func TestLanguageChoice(t *testing.T) {
	assert.Equal(t, "sw", languageChoice("reply in Kiswahili"))
	assert.Equal(t, "en", languageChoice("english please"))
	assert.Empty(t, languageChoice("french"))
}
