// Package classify holds the three turn classifiers (intent, language,
// governor). Classifiers are pure decision functions: they see the message
// and light context, never tenant business data.
package classify

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"
)

// ErrClassification is returned when a classifier cannot produce a result.
var ErrClassification = errors.New("classify: classifier unavailable")

// Kind names one of the three classifiers.
type Kind string

const (
	KindIntent   Kind = "intent"
	KindLanguage Kind = "language"
	KindGovernor Kind = "governor"
)

// Unknown is the label for an absent or unusable result.
const Unknown = "unknown"

// Intent labels.
const (
	IntentSalesDiscovery     = "sales_discovery"
	IntentProductQuestion    = "product_question"
	IntentSupportQuestion    = "support_question"
	IntentOrderStatus        = "order_status"
	IntentDiscountsOffers    = "discounts_offers"
	IntentPreferencesConsent = "preferences_consent"
	IntentPaymentHelp        = "payment_help"
	IntentHumanRequest       = "human_request"
	IntentSpamCasual         = "spam_casual"
)

// Intents is the closed intent label set.
var Intents = []string{
	IntentSalesDiscovery, IntentProductQuestion, IntentSupportQuestion, IntentOrderStatus,
	IntentDiscountsOffers, IntentPreferencesConsent, IntentPaymentHelp, IntentHumanRequest,
	IntentSpamCasual, Unknown,
}

// Governor labels.
const (
	GovernorBusiness = "business"
	GovernorCasual   = "casual"
	GovernorSpam     = "spam"
	GovernorAbuse    = "abuse"
)

// GovernorClasses is the closed governor label set.
var GovernorClasses = []string{GovernorBusiness, GovernorCasual, GovernorSpam, GovernorAbuse}

// LanguageMixed is returned when a message mixes languages without a clear majority.
const LanguageMixed = "mixed"

var languageCode = regexp.MustCompile(`^[a-z]{2,3}$`)

// Input is what a classifier sees for one turn.
type Input struct {
	Text             string
	Recent           []string
	DefaultLanguage  string
	AllowedLanguages []string
}

// Result is a label with a confidence in [0, 1].
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// UnknownResult encodes the absence of a result.
func UnknownResult() Result {
	return Result{Label: Unknown, Confidence: 0}
}

// Classifier maps an input to a labelled result.
type Classifier interface {
	Classify(ctx context.Context, in Input) (Result, error)
}

// Func adapts a function to Classifier.
type Func func(ctx context.Context, in Input) (Result, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, in Input) (Result, error) { return f(ctx, in) }

// Static always returns the same result. Tests use it to pin classifier output.
type Static Result

// Classify returns the fixed result.
func (s Static) Classify(context.Context, Input) (Result, error) { return Result(s), nil }

// Sanitize forces a result into the label set for kind and clamps its
// confidence. Anything outside the set becomes UnknownResult.
func Sanitize(kind Kind, r Result) Result {
	r.Label = strings.ToLower(strings.TrimSpace(r.Label))
	if r.Confidence != r.Confidence || r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	var ok bool
	switch kind {
	case KindIntent:
		ok = slices.Contains(Intents, r.Label)
	case KindGovernor:
		ok = slices.Contains(GovernorClasses, r.Label)
	case KindLanguage:
		ok = r.Label == LanguageMixed || languageCode.MatchString(r.Label)
	}
	if !ok || r.Label == Unknown {
		return UnknownResult()
	}
	return r
}
