package journey

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/internal/tools"
)

var stopwords = map[string]bool{
	// en
	"a": true, "an": true, "the": true, "i": true, "im": true, "me": true, "my": true, "you": true,
	"do": true, "does": true, "have": true, "has": true, "is": true, "are": true, "any": true,
	"want": true, "need": true, "looking": true, "for": true, "to": true, "buy": true, "get": true,
	"show": true, "please": true, "pls": true, "how": true, "much": true, "price": true, "cost": true,
	"of": true, "what": true, "whats": true, "can": true, "could": true, "would": true, "like": true,
	"hi": true, "hello": true, "hey": true, "some": true, "with": true, "in": true, "and": true,
	"something": true, "else": true, "other": true, "another": true, "one": true, "ones": true,
	"under": true, "below": true, "less": true, "than": true, "color": true, "colour": true, "size": true,
	// sw
	"niaje": true, "mambo": true, "habari": true, "sasa": true, "bei": true, "ya": true, "ni": true,
	"gani": true, "nataka": true, "ninataka": true, "natafuta": true, "nina": true, "je": true,
	"mna": true, "una": true, "kuna": true, "na": true, "kwa": true, "tafadhali": true, "naomba": true,
	"nionyeshe": true, "ngapi": true, "kiasi": true, "chini": true, "rangi": true, "saizi": true,
	"nyingine": true, "kingine": true,
}

var (
	wordRe     = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}'-]*`)
	maxPriceRe = regexp.MustCompile(`(?i)\b(?:under|below|less than|chini ya)\s*(?:kes|ksh|usd|\$)?\s*([\d,]+(?:\.\d+)?)\s*(k)?\b`)
	colorRe    = regexp.MustCompile(`(?i)\b(black|white|blue|red|green|gold|silver|pink|purple|grey|gray|nyeusi|nyeupe|bluu|nyekundu|kijani)\b`)
	sizeRe     = regexp.MustCompile(`(?i)\b(?:size|saizi)\s+([a-z0-9]+)\b|\b(\d{2,4}\s?(?:gb|tb))\b`)

	rejectionRe   = regexp.MustCompile(`(?i)\b(something else|other (?:ones|options)|none of (?:these|them)|not (?:these|those|that)|show me more|don'?t like|kitu kingine|nyingine|sipendi|hizi hapana)\b`)
	affirmativeRe = regexp.MustCompile(`(?i)^\s*(yes|yeah|yep|yup|ok|okay|sure|confirm|confirmed|go ahead|proceed|ndio|ndiyo|sawa|poa|thibitisha|endelea)\b`)
	negativeRe    = regexp.MustCompile(`(?i)^\s*(no|nope|nah|cancel|stop that|don'?t|hapana|la|ghairi|acha)\b`)

	ordinalDigitRe = regexp.MustCompile(`(?i)^\s*#?(\d)\s*[.)]?\s*$|\b(?:number|no\.?|option|namba)\s*#?(\d)\b`)
	qtyRe          = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:x|pcs|pieces|units|vipande)\b|\b(?:x|vipande)\s*(\d{1,2})\b`)

	orderRefRe  = regexp.MustCompile(`(?i)\b(?:order|oda)\s*(?:no\.?|number|namba)?\s*#?\s*([a-z0-9-]{4,})\b`)
	uuidRe      = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	couponRe    = regexp.MustCompile(`(?i)\b(?:code|coupon|promo|msimbo|kuponi)\s*[:#]?\s*([a-z0-9]{3,20})\b`)
	methodC2BRe = regexp.MustCompile(`(?i)\b(c2b|paybill|pay bill|lipa na m-?pesa paybill)\b`)
	methodCard  = regexp.MustCompile(`(?i)\b(card|kadi|visa|mastercard)\b`)
	methodSTKRe = regexp.MustCompile(`(?i)\b(stk|m-?pesa|mpesa|simu|phone)\b`)

	langEnRe = regexp.MustCompile(`(?i)\b(english|kiingereza)\b`)
	langSwRe = regexp.MustCompile(`(?i)\b(swahili|kiswahili)\b`)

	optOutRe = regexp.MustCompile(`(?i)\b(stop|unsubscribe|opt ?out|no more (?:offers|messages|promotions)|sitisha|sitaki (?:ujumbe|matangazo))\b`)
	optInRe  = regexp.MustCompile(`(?i)\b(start|subscribe|opt ?in|send me (?:offers|deals)|anza|jiunge)\b`)

	channelRe = regexp.MustCompile(`(?i)\b(sms|whatsapp|email|push)\b`)
	offRe     = regexp.MustCompile(`(?i)\b(off|disable|turn off|stop|zima|zimisha)\b`)
	onRe      = regexp.MustCompile(`(?i)\b(on|enable|turn on|washa)\b`)
)

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5, "sixth": 6,
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"kwanza": 1, "pili": 2, "tatu": 3, "nne": 4, "tano": 5, "sita": 6,
	"last": -1, "mwisho": -1,
}

// extractQuery strips greetings and filler so "niaje, bei ya iPhone?" becomes "iPhone".
func extractQuery(text string) string {
	text = maxPriceRe.ReplaceAllString(text, " ")
	var kept []string
	for _, w := range wordRe.FindAllString(text, -1) {
		if stopwords[strings.ToLower(strings.Trim(w, "'-"))] {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// extractFilters pulls the structured filters catalog_search understands.
func extractFilters(text string) map[string]string {
	filters := map[string]string{}
	if m := colorRe.FindStringSubmatch(text); m != nil {
		filters["color"] = strings.ToLower(m[1])
	}
	if m := sizeRe.FindStringSubmatch(text); m != nil {
		size := m[1]
		if size == "" {
			size = m[2]
		}
		filters["size"] = strings.ToLower(strings.ReplaceAll(size, " ", ""))
	}
	if m := maxPriceRe.FindStringSubmatch(text); m != nil {
		raw := strings.ReplaceAll(m[1], ",", "")
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			if m[2] != "" {
				v *= 1000
			}
			filters["max_price"] = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

func isRejection(text string) bool   { return rejectionRe.MatchString(text) }
func isAffirmative(text string) bool { return affirmativeRe.MatchString(text) }
func isNegative(text string) bool    { return negativeRe.MatchString(text) }

// selectItem resolves a choice against the results shown last turn, by
// position or by name. It returns false when nothing matched.
func selectItem(text string, items []state.CatalogItem) (state.CatalogItem, bool) {
	if len(items) == 0 {
		return state.CatalogItem{}, false
	}
	if n := ordinal(text); n != 0 {
		if n == -1 {
			n = len(items)
		}
		if n >= 1 && n <= len(items) {
			return items[n-1], true
		}
		return state.CatalogItem{}, false
	}
	lower := strings.ToLower(text)
	var best state.CatalogItem
	bestLen := 0
	for _, it := range items {
		name := strings.ToLower(it.Name)
		if name != "" && strings.Contains(lower, name) && len(name) > bestLen {
			best, bestLen = it, len(name)
		}
	}
	if bestLen > 0 {
		return best, true
	}
	// Fall back to the single item whose name contains every query word.
	words := strings.Fields(strings.ToLower(extractQuery(text)))
	if len(words) == 0 {
		return state.CatalogItem{}, false
	}
	var hits []state.CatalogItem
	for _, it := range items {
		name := strings.ToLower(it.Name)
		all := true
		for _, w := range words {
			if !strings.Contains(name, w) {
				all = false
				break
			}
		}
		if all {
			hits = append(hits, it)
		}
	}
	if len(hits) == 1 {
		return hits[0], true
	}
	return state.CatalogItem{}, false
}

func ordinal(text string) int {
	if m := ordinalDigitRe.FindStringSubmatch(text); m != nil {
		d := m[1]
		if d == "" {
			d = m[2]
		}
		n, _ := strconv.Atoi(d)
		return n
	}
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) > 4 {
		return 0
	}
	for _, f := range fields {
		if n, ok := ordinalWords[strings.Trim(f, ".,!?")]; ok {
			return n
		}
	}
	return 0
}

func quantity(text string) int {
	if m := qtyRe.FindStringSubmatch(text); m != nil {
		d := m[1]
		if d == "" {
			d = m[2]
		}
		if n, err := strconv.Atoi(d); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

// paymentMethod maps customer wording onto stk, c2b or card.
func paymentMethod(text string) string {
	switch {
	case methodC2BRe.MatchString(text):
		return "c2b"
	case methodCard.MatchString(text):
		return "card"
	case methodSTKRe.MatchString(text):
		return "stk"
	}
	return ""
}

func orderReference(text string) string {
	if id := uuidRe.FindString(text); id != "" {
		return strings.ToLower(id)
	}
	if m := orderRefRe.FindStringSubmatch(text); m != nil {
		ref := m[1]
		switch strings.ToLower(ref) {
		case "status", "yangu", "iko", "where":
			return ""
		}
		if strings.IndexFunc(ref, func(r rune) bool { return r >= '0' && r <= '9' }) < 0 {
			return ""
		}
		return ref
	}
	return ""
}

// couponCode finds a known offer code in text, or an explicit "code X".
func couponCode(text string, known []string) string {
	upper := strings.ToUpper(text)
	for _, code := range known {
		if code == "" {
			continue
		}
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToUpper(code)) + `\b`)
		if re.MatchString(upper) {
			return code
		}
	}
	if m := couponRe.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

func languageChoice(text string) string {
	switch {
	case langSwRe.MatchString(text):
		return "sw"
	case langEnRe.MatchString(text):
		return "en"
	}
	return ""
}

// notificationChange reports a channel toggle such as "turn off sms".
func notificationChange(text string) (channel string, enabled bool, ok bool) {
	m := channelRe.FindStringSubmatch(text)
	if m == nil {
		return "", false, false
	}
	channel = strings.ToLower(m[1])
	switch {
	case offRe.MatchString(text):
		return channel, false, true
	case onRe.MatchString(text):
		return channel, true, true
	}
	return "", false, false
}

func isOptOut(text string) bool { return optOutRe.MatchString(text) }
func isOptIn(text string) bool  { return optInRe.MatchString(text) }

func validOrderID(id string) bool { return tools.IsUUID(id) }
