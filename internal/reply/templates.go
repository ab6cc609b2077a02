package reply

// DefaultLanguage is used when a turn's language has no template set.
const DefaultLanguage = "en"

var catalog = map[string]map[Key]string{
	"en": {
		KeyLanguageAck:        `I'll continue in English.`,
		KeyServiceUnavailable: `Sorry, {{.BotName}} is not available right now. Please try again later.`,
		KeyApology:            `Sorry, something went wrong on our side. Reply "agent" if you would like to talk to a person.`,
		KeyToolTrouble:        `I'm having trouble reaching our system right now. Please try again in a moment.`,

		KeyAbuseDisengage: `I'm going to pause this chat here. A member of our team will follow up with you.`,
		KeySpamRedirect:   `I can help with products, orders, payments and offers. What are you looking for today?`,
		KeySpamCloseOut:   `Thanks for reaching out. This chat is now closed.`,
		KeyCasualFriendly: `{{if eq .Tone "formal"}}Hello, this is {{.BotName}}.{{else}}Hey! {{.BotName}} here 😊{{end}}`,
		KeyCasualRedirect: `Happy to chat, but I'm best at helping you shop. What can I find for you?`,

		KeyClarify:    `Just to be sure, do you want {{choices .Intents}}?`,
		KeyCapability: `I can help you find products, check an order, make a payment or see current offers. What would you like to do?`,
		KeyEscalated:  `I'm connecting you to a person from our team. They will reply here shortly.`,

		KeyAskQuery:      `What product are you looking for?`,
		KeySearchResults: "Here's what I found:\n{{range .Items}}• {{.Name}}: {{money .Currency .Price}}{{if not .InStock}} (out of stock){{end}}\n{{end}}Which one would you like?",
		KeyCatalogLink:   `There are a lot of options for that. Browse the full catalog here: {{.Link}}`,
		KeyNoResults:     `I couldn't find anything for "{{.Query}}". Could you describe it another way?`,
		KeySelectPrompt:  `Which one would you like? Reply with the item name or its position in the list.`,
		KeyOutOfStock:    `Sorry, {{.Name}} is out of stock right now. Would you like to see something similar?`,
		KeyConfirmOrder: "Your order: {{.Qty}} x {{.Name}}\nSubtotal: {{money .Totals.Currency .Totals.Subtotal}}" +
			"{{if .Totals.Discount}}\nDiscount: -{{money .Totals.Currency .Totals.Discount}}{{end}}" +
			"\nTotal: {{money .Totals.Currency .Totals.Total}}" +
			"{{if .Offers}}\nOffers you can use:\n{{range .Offers}}• {{.Code}}: {{.Description}}\n{{end}}{{else}}\n{{end}}" +
			`Reply "yes" to confirm this amount.`,
		KeyChooseMethod:     "How would you like to pay {{money .Currency .Amount}}?\n{{range .Methods}}• {{method .}}\n{{end}}",
		KeyPaymentsDisabled: `Online payment isn't available for this order. I'm passing it to our team to complete with you.`,
		KeyPaymentSTK:       `I've sent an M-Pesa request for {{money .Currency .Amount}} to your phone. Enter your PIN to complete the payment.`,
		KeyPaymentC2B:       `Pay {{money .Currency .Amount}} via M-Pesa Paybill {{.Paybill}}, account {{.AccountRef}}. I'll confirm once it arrives.`,
		KeyPaymentCard:      `Pay {{money .Currency .Amount}} by card here: {{.Link}}`,
		KeyPaymentStatus:    `Payment for order {{.OrderID}}: {{status .Status}}.`,
		KeyOrderCancelled:   `No problem, I've left that order unpaid. Tell me if you'd like something else.`,

		KeySupportAnswer: "Here's what I found:\n{{range .Snippets}}• {{.Text}} [{{.Source}}]\n{{end}}",

		KeyOrderStatus:   `Order {{.OrderID}}: {{status .Status}}{{if .ETA}}, expected {{.ETA}}{{end}}.`,
		KeyOrderNotFound: `I couldn't find order {{.OrderID}}. Please check the number and send it again.`,
		KeyAskOrderID:    `Please share your order number.`,

		KeyOffers:         "Current offers:\n{{range .Offers}}• {{.Code}}: {{.Description}}\n{{end}}Send a code to apply it to your order.",
		KeyNoOffers:       `There are no offers available right now.`,
		KeyCouponApplied:  `Code {{.Code}} applied to your order.`,
		KeyCouponRejected: `Sorry, the code {{.Code}} can't be applied to this order.`,

		KeyMarketingOptOut:      `You won't receive marketing messages from us anymore. Reply START to opt back in.`,
		KeyMarketingOptIn:       `You're subscribed to offers and news from us. Reply STOP any time to opt out.`,
		KeyLanguageSwitched:     `Done, I'll reply in {{language .Language}} from now on.`,
		KeyNotificationsUpdated: `{{if .Enabled}}Turned on{{else}}Turned off{{end}} {{.Channel}} notifications.`,
		KeyPrefsAsk:             `Which setting would you like to change: language, marketing messages or notifications?`,
		KeyPrefsNotSaved:        `Sorry, I couldn't save that change to your account. Please try again later.`,
	},
	"sw": {
		KeyLanguageAck:        `Nitaendelea kwa Kiswahili.`,
		KeyServiceUnavailable: `Samahani, {{.BotName}} haipatikani kwa sasa. Tafadhali jaribu tena baadaye.`,
		KeyApology:            `Samahani, kuna hitilafu upande wetu. Andika "mhudumu" ukitaka kuongea na mtu.`,
		KeyToolTrouble:        `Nina shida kufikia mfumo wetu kwa sasa. Tafadhali jaribu tena baada ya muda mfupi.`,

		KeyAbuseDisengage: `Nitasitisha mazungumzo haya hapa. Mhudumu wetu atawasiliana nawe.`,
		KeySpamRedirect:   `Naweza kukusaidia na bidhaa, oda, malipo na ofa. Unatafuta nini leo?`,
		KeySpamCloseOut:   `Asante kwa kuwasiliana. Mazungumzo haya yamefungwa.`,
		KeyCasualFriendly: `{{if eq .Tone "formal"}}Habari, mimi ni {{.BotName}}.{{else}}Mambo! Ni {{.BotName}} hapa 😊{{end}}`,
		KeyCasualRedirect: `Nafurahi kuongea nawe, lakini kazi yangu kubwa ni kukusaidia kununua. Nikutafutie nini?`,

		KeyClarify:    `Ili nihakikishe, unataka {{choices .Intents}}?`,
		KeyCapability: `Naweza kukusaidia kupata bidhaa, kuangalia oda, kulipa au kuona ofa zilizopo. Ungependa nini?`,
		KeyEscalated:  `Nakuunganisha na mhudumu wetu. Atakujibu hapa hivi punde.`,

		KeyAskQuery:      `Unatafuta bidhaa gani?`,
		KeySearchResults: "Hivi ndivyo nilivyopata:\n{{range .Items}}• {{.Name}}: {{money .Currency .Price}}{{if not .InStock}} (imeisha){{end}}\n{{end}}Ungependa ipi?",
		KeyCatalogLink:   `Kuna chaguo nyingi kwa hilo. Angalia katalogi kamili hapa: {{.Link}}`,
		KeyNoResults:     `Sikupata chochote kwa "{{.Query}}". Unaweza kueleza kwa njia nyingine?`,
		KeySelectPrompt:  `Ungependa ipi? Jibu kwa jina la bidhaa au nafasi yake kwenye orodha.`,
		KeyOutOfStock:    `Samahani, {{.Name}} imeisha kwa sasa. Ungependa kuona kitu kinachofanana?`,
		KeyConfirmOrder: "Oda yako: {{.Qty}} x {{.Name}}\nJumla ndogo: {{money .Totals.Currency .Totals.Subtotal}}" +
			"{{if .Totals.Discount}}\nPunguzo: -{{money .Totals.Currency .Totals.Discount}}{{end}}" +
			"\nJumla: {{money .Totals.Currency .Totals.Total}}" +
			"{{if .Offers}}\nOfa unazoweza kutumia:\n{{range .Offers}}• {{.Code}}: {{.Description}}\n{{end}}{{else}}\n{{end}}" +
			`Jibu "ndio" kuthibitisha kiasi hiki.`,
		KeyChooseMethod:     "Ungependa kulipa {{money .Currency .Amount}} vipi?\n{{range .Methods}}• {{method .}}\n{{end}}",
		KeyPaymentsDisabled: `Malipo ya mtandaoni hayapatikani kwa oda hii. Nakupeleka kwa mhudumu wetu akusaidie kukamilisha.`,
		KeyPaymentSTK:       `Nimetuma ombi la M-Pesa la {{money .Currency .Amount}} kwenye simu yako. Weka PIN yako kukamilisha malipo.`,
		KeyPaymentC2B:       `Lipa {{money .Currency .Amount}} kupitia M-Pesa Paybill {{.Paybill}}, akaunti {{.AccountRef}}. Nitathibitisha yakifika.`,
		KeyPaymentCard:      `Lipa {{money .Currency .Amount}} kwa kadi hapa: {{.Link}}`,
		KeyPaymentStatus:    `Malipo ya oda {{.OrderID}}: {{status .Status}}.`,
		KeyOrderCancelled:   `Sawa, nimeiacha oda hiyo bila kulipwa. Niambie ukihitaji kitu kingine.`,

		KeySupportAnswer: "Hiki ndicho nilichopata:\n{{range .Snippets}}• {{.Text}} [{{.Source}}]\n{{end}}",

		KeyOrderStatus:   `Oda {{.OrderID}}: {{status .Status}}{{if .ETA}}, inatarajiwa {{.ETA}}{{end}}.`,
		KeyOrderNotFound: `Sikupata oda {{.OrderID}}. Tafadhali hakiki namba na uitume tena.`,
		KeyAskOrderID:    `Tafadhali nitumie namba ya oda yako.`,

		KeyOffers:         "Ofa zilizopo:\n{{range .Offers}}• {{.Code}}: {{.Description}}\n{{end}}Tuma msimbo kuutumia kwenye oda yako.",
		KeyNoOffers:       `Hakuna ofa kwa sasa.`,
		KeyCouponApplied:  `Msimbo {{.Code}} umetumika kwenye oda yako.`,
		KeyCouponRejected: `Samahani, msimbo {{.Code}} hauwezi kutumika kwenye oda hii.`,

		KeyMarketingOptOut:      `Hutapokea tena ujumbe wa matangazo kutoka kwetu. Jibu START kujiunga tena.`,
		KeyMarketingOptIn:       `Umejiunga na ofa na habari zetu. Jibu STOP wakati wowote kujiondoa.`,
		KeyLanguageSwitched:     `Sawa, nitakujibu kwa {{language .Language}} kuanzia sasa.`,
		KeyNotificationsUpdated: `Arifa za {{.Channel}} {{if .Enabled}}zimewashwa{{else}}zimezimwa{{end}}.`,
		KeyPrefsAsk:             `Ungependa kubadilisha nini: lugha, ujumbe wa matangazo au arifa?`,
		KeyPrefsNotSaved:        `Samahani, sikuweza kuhifadhi mabadiliko hayo kwenye akaunti yako. Tafadhali jaribu tena baadaye.`,
	},
}

var vocabulary = map[string]struct {
	intents   map[string]string
	methods   map[string]string
	statuses  map[string]string
	languages map[string]string
	or        string
}{
	"en": {
		intents: map[string]string{
			"sales_discovery":     "to shop for a product",
			"product_question":    "to ask about a product",
			"support_question":    "help with a problem",
			"order_status":        "to check an order",
			"discounts_offers":    "to see offers",
			"preferences_consent": "to change your settings",
			"payment_help":        "help with a payment",
			"human_request":       "to talk to a person",
		},
		methods:   map[string]string{"stk": "M-Pesa (prompt on your phone)", "c2b": "M-Pesa Paybill", "card": "Card"},
		statuses:  map[string]string{"pending": "pending", "paid": "paid", "failed": "failed", "processing": "being prepared", "shipped": "on the way", "delivered": "delivered", "cancelled": "cancelled"},
		languages: map[string]string{"en": "English", "sw": "Swahili"},
		or:        "or",
	},
	"sw": {
		intents: map[string]string{
			"sales_discovery":     "kununua bidhaa",
			"product_question":    "kuuliza kuhusu bidhaa",
			"support_question":    "msaada kuhusu tatizo",
			"order_status":        "kuangalia oda",
			"discounts_offers":    "kuona ofa",
			"preferences_consent": "kubadilisha mipangilio",
			"payment_help":        "msaada wa malipo",
			"human_request":       "kuongea na mtu",
		},
		methods:   map[string]string{"stk": "M-Pesa (ombi kwenye simu yako)", "c2b": "M-Pesa Paybill", "card": "Kadi"},
		statuses:  map[string]string{"pending": "inasubiri", "paid": "imelipwa", "failed": "imeshindikana", "processing": "inaandaliwa", "shipped": "iko njiani", "delivered": "imefika", "cancelled": "imeghairiwa"},
		languages: map[string]string{"en": "Kiingereza", "sw": "Kiswahili"},
		or:        "au",
	},
}
