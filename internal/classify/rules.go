package classify

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

type weightedPattern struct {
	regex  *regexp.Regexp
	weight float64
}

func p(expr string, weight float64) weightedPattern {
	return weightedPattern{regex: regexp.MustCompile(expr), weight: weight}
}

// score returns the best weight among matching patterns plus a small bonus
// for each additional match, capped below 1.
func score(patterns []weightedPattern, text string) (float64, int) {
	best, hits := 0.0, 0
	for _, pat := range patterns {
		if pat.regex.MatchString(text) {
			hits++
			if pat.weight > best {
				best = pat.weight
			}
		}
	}
	if hits > 1 {
		best += 0.04 * float64(hits-1)
	}
	return min(best, 0.97), hits
}

var intentPatterns = map[string][]weightedPattern{
	IntentProductQuestion: {
		p(`(?i)\b(price|cost|how much)\b`, 0.86),
		p(`(?i)\bbei\b`, 0.86),
		p(`(?i)\b(in stock|available|availability|colou?rs?|sizes?|specs?)\b`, 0.78),
		p(`(?i)\b(iphone|samsung|laptop|phone|tv|shoes?|dress|shirt)\b`, 0.62),
		p(`(?i)\b(inapatikana|ipo|zipo)\b`, 0.76),
	},
	IntentSalesDiscovery: {
		p(`(?i)\b(i want|i need|looking for|show me|do you (have|sell)|buy|purchase)\b`, 0.84),
		p(`(?i)\b(nataka|nahitaji|nunua|natafuta)\b`, 0.84),
		p(`(?i)\b(recommend|suggest|options)\b`, 0.72),
		p(`(?i)^\s*(\d|first|second|third|the (first|second|third|last) one)\s*$`, 0.8),
		p(`(?i)\b(take|i'?ll take|add)\b.*\b(one|it|that)\b`, 0.8),
		p(`(?i)^\s*(yes|confirm|ndio|sawa)\b`, 0.6),
	},
	IntentSupportQuestion: {
		p(`(?i)\b(return|refund|warranty|exchange|broken|damaged|not working|policy|delivery time|shipping)\b`, 0.84),
		p(`(?i)\b(how (do|can) i|what is your)\b`, 0.66),
		p(`(?i)\b(rudisha|imeharibika|dhamana|usafirishaji)\b`, 0.82),
	},
	IntentOrderStatus: {
		p(`(?i)\b(where is my|track|tracking|status of)\b.*\b(order|package|delivery|parcel)\b`, 0.92),
		p(`(?i)\border\s*(status|#|number|no\.?)\b`, 0.9),
		p(`(?i)\b(oda|agizo|mzigo) (yangu|wangu)\b`, 0.88),
	},
	IntentDiscountsOffers: {
		p(`(?i)\b(discount|offer|promo|coupon|voucher|deal|sale)s?\b`, 0.88),
		p(`(?i)\b(punguzo|ofa)\b`, 0.88),
	},
	IntentPreferencesConsent: {
		p(`(?i)^\s*(please\s+)?(stop|stopall|unsubscribe|end|quit)\b`, 0.97),
		p(`(?i)\b(opt\s*(out|in)|unsubscribe|no more (messages|promotions)|marketing)\b`, 0.9),
		p(`(?i)\b(speak|reply|talk to me|respond) in (english|swahili|kiswahili)\b`, 0.9),
		p(`(?i)\b(acha|sitaki) (ujumbe|matangazo)\b`, 0.9),
		p(`(?i)\bnotifications?\b`, 0.74),
	},
	IntentPaymentHelp: {
		p(`(?i)\b(m-?pesa|mpesa|stk|paybill|card|pay|payment|paid|lipa)\b`, 0.82),
		p(`(?i)\b(payment (failed|didn'?t go through)|can'?t pay)\b`, 0.9),
	},
	IntentHumanRequest: {
		p(`(?i)\b(human|real person|agent|representative|manager|speak to someone|customer care)\b`, 0.93),
		p(`(?i)\b(mtu halisi|wakala|mhudumu|ongea na mtu)\b`, 0.93),
	},
}

var casualPatterns = []weightedPattern{
	p(`(?i)^\s*(hi|hello|hey|yo|hola|good (morning|afternoon|evening))\W*$`, 0.9),
	p(`(?i)^\s*(niaje|mambo|habari|sasa|vipi|hujambo)\W*$`, 0.9),
	p(`(?i)\b(how are you|what'?s up|how'?s (it going|your day)|lol|haha|thanks|thank you|asante)\b`, 0.8),
	p(`(?i)\b(joke|weather|football|bored)\b`, 0.7),
}

var spamPatterns = []weightedPattern{
	p(`(?i)https?://\S+`, 0.7),
	p(`(?i)\b(win|won|winner|prize|lottery|crypto|bitcoin|investment opportunity|click here|free money)\b`, 0.88),
}

// looksFlooded catches long single-character runs and the same word repeated
// back to back, which RE2 cannot express without backreferences.
func looksFlooded(text string) bool {
	run, prev := 0, rune(0)
	for _, r := range text {
		if r == prev {
			run++
			if run >= 8 {
				return true
			}
		} else {
			run, prev = 1, r
		}
	}
	words := strings.Fields(strings.ToLower(text))
	repeat := 1
	for i := 1; i < len(words); i++ {
		if words[i] == words[i-1] {
			repeat++
			if repeat >= 5 {
				return true
			}
		} else {
			repeat = 1
		}
	}
	return false
}

var abusePatterns = []weightedPattern{
	p(`(?i)\b(idiot|stupid|moron|useless bot|shut up|f+u+c+k+|bitch|bastard)\b`, 0.93),
	p(`(?i)\b(kill you|i will hurt|threat(en)?)\b`, 0.97),
	p(`(?i)\b(mjinga|pumbavu|fala|malaya)\b`, 0.93),
}

// RuleIntent classifies intent from weighted keyword patterns.
type RuleIntent struct{}

// Classify returns the best scoring intent. Unmatched text scores 0.2 unknown.
func (RuleIntent) Classify(_ context.Context, in Input) (Result, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return UnknownResult(), nil
	}
	type candidate struct {
		label string
		score float64
	}
	var cands []candidate
	for label, patterns := range intentPatterns {
		if s, hits := score(patterns, text); hits > 0 {
			cands = append(cands, candidate{label: label, score: s})
		}
	}
	if len(cands) == 0 {
		if s, hits := score(casualPatterns, text); hits > 0 {
			return Result{Label: IntentSpamCasual, Confidence: s}, nil
		}
		return Result{Label: Unknown, Confidence: 0.2}, nil
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score == cands[j].score {
			return cands[i].label < cands[j].label
		}
		return cands[i].score > cands[j].score
	})
	best := cands[0]
	// A close runner-up lowers confidence so the router asks instead of guessing.
	if len(cands) > 1 && best.score-cands[1].score < 0.05 {
		best.score -= 0.2
	}
	return Result{Label: best.label, Confidence: best.score}, nil
}

// RuleGovernor classifies turn cost: abuse, spam, casual or business.
type RuleGovernor struct{}

// Classify checks abuse first, then spam, then casual chatter without a
// business signal. Everything else is business.
func (RuleGovernor) Classify(_ context.Context, in Input) (Result, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Result{Label: GovernorSpam, Confidence: 0.6}, nil
	}
	if s, hits := score(abusePatterns, text); hits > 0 {
		return Result{Label: GovernorAbuse, Confidence: s}, nil
	}
	if looksFlooded(text) {
		return Result{Label: GovernorSpam, Confidence: 0.8}, nil
	}
	if s, hits := score(spamPatterns, text); hits > 0 && !hasBusinessSignal(text) {
		return Result{Label: GovernorSpam, Confidence: s}, nil
	}
	casual, casualHits := score(casualPatterns, text)
	if casualHits > 0 {
		if hasBusinessSignal(text) {
			return Result{Label: GovernorCasual, Confidence: 0.6}, nil
		}
		return Result{Label: GovernorCasual, Confidence: casual}, nil
	}
	return Result{Label: GovernorBusiness, Confidence: 0.85}, nil
}

func hasBusinessSignal(text string) bool {
	for _, patterns := range intentPatterns {
		if _, hits := score(patterns, text); hits > 0 {
			return true
		}
	}
	return false
}

var lexicons = map[string]map[string]bool{
	"en": set("the", "a", "is", "are", "i", "you", "my", "what", "how", "much", "price", "want", "need",
		"please", "order", "where", "do", "have", "can", "hello", "hi", "thanks", "yes", "no", "and", "for",
		"of", "to", "show", "me", "cost", "return", "stop"),
	"sw": set("niaje", "mambo", "habari", "sasa", "bei", "ya", "na", "ni", "nataka", "nahitaji", "je", "gani",
		"kiasi", "yangu", "wangu", "asante", "sawa", "ndio", "hapana", "tafadhali", "oda", "agizo", "lipa",
		"punguzo", "rudisha", "hii", "hiyo", "kwa", "wa", "za", "nini", "vipi", "acha", "sitaki", "iko", "ipo"),
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

var tokenSplit = regexp.MustCompile(`[^\p{L}\p{N}']+`)

// RuleLanguage detects language from small stopword lexicons.
type RuleLanguage struct{}

// Classify counts lexicon hits per language. A message with no hits keeps
// the default language at a confidence too low to override it.
func (RuleLanguage) Classify(_ context.Context, in Input) (Result, error) {
	counts := map[string]int{}
	total := 0
	for _, tok := range tokenSplit.Split(strings.ToLower(in.Text), -1) {
		if tok == "" {
			continue
		}
		for lang, words := range lexicons {
			if words[tok] {
				counts[lang]++
				total++
			}
		}
	}
	def := in.DefaultLanguage
	if def == "" {
		def = "en"
	}
	if total == 0 {
		return Result{Label: def, Confidence: 0.5}, nil
	}

	bestLang, bestCount := "", 0
	langs := make([]string, 0, len(counts))
	for lang := range counts {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		if counts[lang] > bestCount {
			bestLang, bestCount = lang, counts[lang]
		}
	}
	share := float64(bestCount) / float64(total)
	if share < 0.65 {
		return Result{Label: LanguageMixed, Confidence: 0.6}, nil
	}
	conf := 0.7 + 0.05*float64(min(bestCount, 5))
	conf = conf * share
	return Result{Label: bestLang, Confidence: min(conf, 0.95)}, nil
}
