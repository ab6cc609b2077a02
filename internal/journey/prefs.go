package journey

import (
	"context"
	"errors"
	"slices"

	"github.com/wolfman30/commerce-concierge/internal/compliance"
	"github.com/wolfman30/commerce-concierge/internal/escalation"
	"github.com/wolfman30/commerce-concierge/internal/reply"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/internal/tools"
)

// Prefs changes marketing consent, reply language and notification channels.
// Consent changes apply to the conversation before the customer record is
// updated so an opt-out holds even when the tool is down or the customer is
// not known yet.
type Prefs struct {
	tb       *Toolbox
	keywords *compliance.Detector
}

// NewPrefs builds the preferences journey.
func NewPrefs(tb *Toolbox) *Prefs {
	return &Prefs{tb: tb, keywords: compliance.NewDetector()}
}

// Run applies the first preference change found in the message.
func (p *Prefs) Run(ctx context.Context, t *Turn) Outcome {
	st := t.State
	if lang := languageChoice(t.Text); lang != "" && !p.keywords.IsStop(t.Text) {
		if !languageAllowed(st, lang) {
			t.Say(reply.KeyPrefsAsk)
			return Outcome{}
		}
		st.LanguagePref = lang
		st.ResponseLanguage = lang
		return p.persist(ctx, t, map[string]any{"language_pref": lang},
			reply.New(reply.KeyLanguageSwitched, "Language", lang))
	}
	if channel, enabled, ok := notificationChange(t.Text); ok {
		if st.NotificationPrefs == nil {
			st.NotificationPrefs = map[string]bool{}
		}
		st.NotificationPrefs[channel] = enabled
		prefs := make(map[string]any, len(st.NotificationPrefs))
		for k, v := range st.NotificationPrefs {
			prefs[k] = v
		}
		return p.persist(ctx, t, map[string]any{"notification_prefs": prefs},
			reply.New(reply.KeyNotificationsUpdated, "Channel", channel, "Enabled", enabled))
	}
	switch {
	case p.keywords.IsStop(t.Text) || isOptOut(t.Text):
		st.MarketingOptIn = false
		return p.persist(ctx, t, map[string]any{"marketing_opt_in": false}, reply.New(reply.KeyMarketingOptOut))
	case p.keywords.IsStart(t.Text) || isOptIn(t.Text):
		st.MarketingOptIn = true
		return p.persist(ctx, t, map[string]any{"marketing_opt_in": true}, reply.New(reply.KeyMarketingOptIn))
	}
	t.Say(reply.KeyPrefsAsk)
	return Outcome{}
}

func languageAllowed(st *state.ConversationState, lang string) bool {
	return lang == st.DefaultLanguage || slices.Contains(st.AllowedLanguages, lang)
}

// hold merges change into the preferences waiting for the customer record.
func hold(st *state.ConversationState, change map[string]any) {
	if st.PendingPreferences == nil {
		st.PendingPreferences = make(map[string]any, len(change))
	}
	for k, v := range change {
		st.PendingPreferences[k] = v
	}
}

// withPending returns the held preferences overlaid with change.
func withPending(st *state.ConversationState, change map[string]any) map[string]any {
	out := make(map[string]any, len(st.PendingPreferences)+len(change)+1)
	for k, v := range st.PendingPreferences {
		out[k] = v
	}
	for k, v := range change {
		out[k] = v
	}
	return out
}

// persist writes the change, plus anything held from earlier turns, to the
// customer record and confirms it. When the record is out of reach the change
// applies to the conversation, is held for SyncPending and is confirmed. A
// rejection by the tool is not confirmed.
func (p *Prefs) persist(ctx context.Context, t *Turn, change map[string]any, confirm reply.Message) Outcome {
	st := t.State
	customerID, err := p.tb.ensureCustomer(ctx, st)
	if errors.Is(err, errNoCustomer) {
		hold(st, change)
		p.tb.logger.InfoContext(ctx, "preference held until the customer is known",
			"tenant_id", st.TenantID, "conversation_id", st.ConversationID)
		t.Replies = append(t.Replies, confirm)
		return Outcome{}
	}
	if err == nil {
		update := withPending(st, change)
		update["customer_id"] = customerID
		var res tools.Result
		res, err = p.tb.Call(ctx, st, tools.CustomerUpdatePreferences, update)
		if err == nil {
			if !res.Success {
				p.tb.logger.WarnContext(ctx, "customer preference update rejected",
					"tenant_id", st.TenantID, "request_id", st.RequestID, "error_code", res.ErrorCode)
				t.Say(reply.KeyPrefsNotSaved)
				return Outcome{}
			}
			st.PendingPreferences = nil
			t.Replies = append(t.Replies, confirm)
			return Outcome{}
		}
	}
	if fatal(err) {
		return Outcome{Err: err}
	}
	p.tb.logger.WarnContext(ctx, "customer preference update failed",
		"tenant_id", st.TenantID, "request_id", st.RequestID, "error", err)
	hold(st, change)
	t.Replies = append(t.Replies, confirm)
	if st.ConsecutiveToolErrors >= ToolErrorLimit {
		return escalate(st, escalation.ReasonToolErrors)
	}
	return Outcome{}
}

// SyncPending writes held preferences once the customer can be resolved.
// Transient failures keep them for a later turn; a rejection drops them.
// Only isolation failures are returned.
func (p *Prefs) SyncPending(ctx context.Context, st *state.ConversationState) error {
	if len(st.PendingPreferences) == 0 {
		return nil
	}
	customerID, err := p.tb.ensureCustomer(ctx, st)
	if errors.Is(err, errNoCustomer) {
		return nil
	}
	if err == nil {
		update := withPending(st, nil)
		update["customer_id"] = customerID
		var res tools.Result
		res, err = p.tb.Call(ctx, st, tools.CustomerUpdatePreferences, update)
		if err == nil {
			if !res.Success {
				p.tb.logger.ErrorContext(ctx, "held preferences rejected, dropping them",
					"tenant_id", st.TenantID, "request_id", st.RequestID, "error_code", res.ErrorCode)
			}
			st.PendingPreferences = nil
			return nil
		}
	}
	if fatal(err) {
		return err
	}
	p.tb.logger.WarnContext(ctx, "held preferences not synced yet",
		"tenant_id", st.TenantID, "request_id", st.RequestID, "error", err)
	return nil
}
