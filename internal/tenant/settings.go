// Package tenant holds the read-only per-tenant settings snapshot and the
// operational kill switch.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/wolfman30/commerce-concierge/internal/state"
)

var (
	// ErrTenantNotFound is returned when no settings exist for a tenant id.
	ErrTenantNotFound = errors.New("tenant: not found")
	// ErrTenantInactive is returned when the kill switch is engaged.
	ErrTenantInactive = errors.New("tenant: inactive")
)

// DefaultChattiness is used when a tenant does not configure one.
const DefaultChattiness = 2

// Settings is the tenant configuration the orchestrator snapshots each turn.
type Settings struct {
	TenantID           string          `json:"tenant_id" yaml:"tenant_id"`
	BotName            string          `json:"bot_name" yaml:"bot_name"`
	ToneStyle          string          `json:"tone_style" yaml:"tone_style"`
	DefaultLanguage    string          `json:"default_language" yaml:"default_language"`
	AllowedLanguages   []string        `json:"allowed_languages" yaml:"allowed_languages"`
	MaxChattinessLevel *int            `json:"max_chattiness_level,omitempty" yaml:"max_chattiness_level"`
	CatalogLinkBase    string          `json:"catalog_link_base" yaml:"catalog_link_base"`
	PaymentsEnabled    map[string]bool `json:"payments_enabled" yaml:"payments_enabled"`
	Currency           string          `json:"currency,omitempty" yaml:"currency"`
	Active             bool            `json:"active" yaml:"active"`
}

// Provider supplies settings and the kill-switch flag.
type Provider interface {
	Get(ctx context.Context, tenantID string) (*Settings, error)
}

// Normalize fills defaults and makes sure the default language is allowed.
func (s *Settings) Normalize() {
	s.DefaultLanguage = strings.ToLower(strings.TrimSpace(s.DefaultLanguage))
	if s.DefaultLanguage == "" {
		s.DefaultLanguage = "en"
	}
	langs := make([]string, 0, len(s.AllowedLanguages)+1)
	for _, l := range s.AllowedLanguages {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" && !slices.Contains(langs, l) {
			langs = append(langs, l)
		}
	}
	if !slices.Contains(langs, s.DefaultLanguage) {
		langs = append([]string{s.DefaultLanguage}, langs...)
	}
	s.AllowedLanguages = langs
	if s.BotName == "" {
		s.BotName = "Assistant"
	}
	if s.ToneStyle == "" {
		s.ToneStyle = "friendly"
	}
	if s.PaymentsEnabled == nil {
		s.PaymentsEnabled = map[string]bool{}
	}
}

// Chattiness returns the configured level clamped to 0..3.
func (s *Settings) Chattiness() int {
	if s.MaxChattinessLevel == nil {
		return DefaultChattiness
	}
	return min(max(*s.MaxChattinessLevel, 0), 3)
}

// Validate checks fields an operator must supply.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.TenantID) == "" {
		return errors.New("tenant: tenant_id required")
	}
	if s.MaxChattinessLevel != nil && (*s.MaxChattinessLevel < 0 || *s.MaxChattinessLevel > 3) {
		return fmt.Errorf("tenant: max_chattiness_level %d out of range 0-3", *s.MaxChattinessLevel)
	}
	for method := range s.PaymentsEnabled {
		switch method {
		case "stk", "c2b", "card":
		default:
			return fmt.Errorf("tenant: unknown payment method %q", method)
		}
	}
	return nil
}

// ApplyTo copies the snapshot onto the conversation state. It refuses to
// touch state that belongs to another tenant.
func (s *Settings) ApplyTo(st *state.ConversationState) error {
	if err := st.CheckTenant(s.TenantID); err != nil {
		return err
	}
	st.BotName = s.BotName
	st.ToneStyle = s.ToneStyle
	st.DefaultLanguage = s.DefaultLanguage
	st.AllowedLanguages = append([]string(nil), s.AllowedLanguages...)
	st.MaxChattinessLevel = s.Chattiness()
	st.CatalogLinkBase = s.CatalogLinkBase
	st.PaymentsEnabled = make(map[string]bool, len(s.PaymentsEnabled))
	for k, v := range s.PaymentsEnabled {
		st.PaymentsEnabled[k] = v
	}
	return nil
}
