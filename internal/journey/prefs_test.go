package journey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/commerce-concierge/internal/escalation"
	"github.com/wolfman30/commerce-concierge/internal/reply"
	"github.com/wolfman30/commerce-concierge/internal/router"
	"github.com/wolfman30/commerce-concierge/internal/tools"
)

func TestStopOptsOut(t *testing.T) {
	h := newHarness(t)
	h.backend.AddCustomer(tenantID, knownCust, h.st.PhoneE164)
	h.st.CustomerID = knownCust
	h.st.MarketingOptIn = true

	turn, out := h.run(router.JourneyPrefs, "preferences_consent", "STOP")
	require.NoError(t, out.Err)
	assert.Equal(t, []reply.Key{reply.KeyMarketingOptOut}, keys(turn.Replies))
	assert.False(t, h.st.MarketingOptIn)
	assert.Equal(t, 1, h.backend.Calls(tools.CustomerUpdatePreferences))
}

func TestOptOutHoldsWhenToolFails(t *testing.T) {
	h := newHarness(t)
	h.backend.AddCustomer(tenantID, knownCust, h.st.PhoneE164)
	h.st.CustomerID = knownCust
	h.st.MarketingOptIn = true
	h.backend.FailNext(tools.CustomerUpdatePreferences, tools.CodeToolExecutionError, tools.CodeToolExecutionError)

	turn, out := h.run(router.JourneyPrefs, "preferences_consent", "unsubscribe")
	assert.False(t, h.st.MarketingOptIn)
	assert.Equal(t, []reply.Key{reply.KeyMarketingOptOut}, keys(turn.Replies))
	assert.True(t, out.Escalate)
	assert.Equal(t, escalation.ReasonToolErrors, out.Reason)
	assert.Equal(t, map[string]any{"marketing_opt_in": false}, h.st.PendingPreferences)
}

func TestRejectedOptOutIsNotConfirmed(t *testing.T) {
	h := newHarness(t)
	h.st.CustomerID = knownCust // unknown to the backend
	h.st.MarketingOptIn = true

	turn, out := h.run(router.JourneyPrefs, "preferences_consent", "STOP")
	require.NoError(t, out.Err)
	assert.Equal(t, []reply.Key{reply.KeyPrefsNotSaved}, keys(turn.Replies))
	assert.False(t, h.st.MarketingOptIn)
	assert.Empty(t, h.st.PendingPreferences)
}

func TestSwahiliStopWithoutCustomer(t *testing.T) {
	h := newHarness(t)
	h.st.PhoneE164 = ""
	h.st.MarketingOptIn = true

	turn, out := h.run(router.JourneyPrefs, "preferences_consent", "sitisha")
	assert.False(t, out.Escalate)
	assert.False(t, h.st.MarketingOptIn)
	assert.Equal(t, []reply.Key{reply.KeyMarketingOptOut}, keys(turn.Replies))
	assert.Zero(t, h.backend.Calls(tools.CustomerUpdatePreferences))
	assert.Equal(t, map[string]any{"marketing_opt_in": false}, h.st.PendingPreferences)
}

func TestHeldPreferencesSyncOnceCustomerKnown(t *testing.T) {
	h := newHarness(t)
	h.st.PhoneE164 = ""
	h.run(router.JourneyPrefs, "preferences_consent", "sitisha")
	h.run(router.JourneyPrefs, "preferences_consent", "reply in kiswahili")

	// still no identity: nothing to sync against
	require.NoError(t, h.set.SyncPending(h.ctx, h.st))
	assert.Zero(t, h.backend.Calls(tools.CustomerUpdatePreferences))

	h.backend.AddCustomer(tenantID, knownCust, "+254700000001")
	h.st.CustomerID = knownCust
	require.NoError(t, h.set.SyncPending(h.ctx, h.st))

	assert.Equal(t, 1, h.backend.Calls(tools.CustomerUpdatePreferences))
	assert.Empty(t, h.st.PendingPreferences)
	prefs := h.backend.CustomerPrefs(tenantID, knownCust)
	assert.Equal(t, false, prefs["marketing_opt_in"])
	assert.Equal(t, "sw", prefs["language_pref"])
}

func TestHeldPreferencesSurviveToolOutage(t *testing.T) {
	h := newHarness(t)
	h.backend.AddCustomer(tenantID, knownCust, h.st.PhoneE164)
	h.st.CustomerID = knownCust
	h.st.PendingPreferences = map[string]any{"marketing_opt_in": false}
	h.backend.FailNext(tools.CustomerUpdatePreferences, tools.CodeToolExecutionError, tools.CodeToolExecutionError)

	require.NoError(t, h.set.SyncPending(h.ctx, h.st))
	assert.Equal(t, map[string]any{"marketing_opt_in": false}, h.st.PendingPreferences)

	require.NoError(t, h.set.SyncPending(h.ctx, h.st))
	assert.Empty(t, h.st.PendingPreferences)
	assert.Equal(t, false, h.backend.CustomerPrefs(tenantID, knownCust)["marketing_opt_in"])
}

func TestStartOptsIn(t *testing.T) {
	h := newHarness(t)

	turn, _ := h.run(router.JourneyPrefs, "preferences_consent", "START")
	assert.True(t, h.st.MarketingOptIn)
	assert.Equal(t, []reply.Key{reply.KeyMarketingOptIn}, keys(turn.Replies))
	assert.Equal(t, 1, h.backend.Calls(tools.CustomerUpdatePreferences))
}

func TestLanguageSwitch(t *testing.T) {
	h := newHarness(t)

	turn, _ := h.run(router.JourneyPrefs, "preferences_consent", "reply in kiswahili")
	require.Equal(t, []reply.Key{reply.KeyLanguageSwitched}, keys(turn.Replies))
	assert.Equal(t, "sw", h.st.LanguagePref)
	assert.Equal(t, "sw", h.st.ResponseLanguage)
}

func TestLanguageSwitchNotAllowed(t *testing.T) {
	h := newHarness(t)
	h.st.AllowedLanguages = []string{"en"}

	turn, _ := h.run(router.JourneyPrefs, "preferences_consent", "swahili please")
	assert.Equal(t, []reply.Key{reply.KeyPrefsAsk}, keys(turn.Replies))
	assert.Empty(t, h.st.LanguagePref)
	assert.Equal(t, "en", h.st.ResponseLanguage)
}

func TestNotificationToggle(t *testing.T) {
	h := newHarness(t)

	turn, _ := h.run(router.JourneyPrefs, "preferences_consent", "turn off sms notifications")
	require.Equal(t, []reply.Key{reply.KeyNotificationsUpdated}, keys(turn.Replies))
	assert.Equal(t, map[string]bool{"sms": false}, h.st.NotificationPrefs)
}

func TestPrefsAsksWhatToChange(t *testing.T) {
	h := newHarness(t)

	turn, _ := h.run(router.JourneyPrefs, "preferences_consent", "my settings")
	assert.Equal(t, []reply.Key{reply.KeyPrefsAsk}, keys(turn.Replies))
}
