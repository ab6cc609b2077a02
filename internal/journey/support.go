package journey

import (
	"context"
	"sort"
	"strings"

	"github.com/wolfman30/commerce-concierge/internal/escalation"
	"github.com/wolfman30/commerce-concierge/internal/reply"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/internal/tools"
)

const (
	kbTopK = 8
	// maxSnippetsShown bounds how many passages one answer quotes.
	maxSnippetsShown = 3
)

// Support answers from the tenant knowledge base only. With nothing above
// the confidence floor the conversation goes to a person.
type Support struct {
	tb            *Toolbox
	minConfidence float64
}

// NewSupport builds the support journey.
func NewSupport(tb *Toolbox, minConfidence float64) *Support {
	return &Support{tb: tb, minConfidence: minConfidence}
}

// Run retrieves knowledge-base passages for the customer's question.
func (s *Support) Run(ctx context.Context, t *Turn) Outcome {
	st := t.State
	query := strings.TrimSpace(t.Text)
	if query == "" {
		return escalate(st, escalation.ReasonInsufficientContext)
	}
	params := map[string]any{
		"query":          query,
		"top_k":          kbTopK,
		"min_confidence": s.minConfidence,
	}
	if st.ResponseLanguage != "" {
		params["language"] = st.ResponseLanguage
	}
	res, err := s.tb.Call(ctx, st, tools.KBRetrieve, params)
	if err != nil {
		return s.tb.fail(ctx, t, err)
	}
	var found struct {
		Snippets []state.KBSnippet `mapstructure:"snippets"`
	}
	if res.Success {
		if err := tools.Decode(res.Data, &found); err != nil {
			return s.tb.fail(ctx, t, err)
		}
	}

	kept := make([]state.KBSnippet, 0, len(found.Snippets))
	for _, sn := range found.Snippets {
		if sn.Score >= s.minConfidence && strings.TrimSpace(sn.Text) != "" {
			kept = append(kept, sn)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	st.KBSnippets = kept
	if len(kept) == 0 {
		return escalate(st, escalation.ReasonInsufficientContext)
	}
	if len(kept) > maxSnippetsShown {
		kept = kept[:maxSnippetsShown]
	}
	t.Say(reply.KeySupportAnswer, "Snippets", kept)
	return Outcome{}
}
