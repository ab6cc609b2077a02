package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps tenant settings as JSON, with the kill switch under its
// own key so operators can flip it without rewriting the settings document.
type RedisStore struct {
	redis *redis.Client
}

var _ Provider = (*RedisStore)(nil)

// NewRedisStore builds a settings store on the given client.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		panic("tenant: redis client cannot be nil")
	}
	return &RedisStore{redis: client}
}

func settingsKey(tenantID string) string {
	return fmt.Sprintf("concierge:tenant:settings:%s", tenantID)
}

func killSwitchKey(tenantID string) string {
	return fmt.Sprintf("concierge:tenant:disabled:%s", tenantID)
}

// Get loads settings for tenantID. Active reflects the kill switch.
func (s *RedisStore) Get(ctx context.Context, tenantID string) (*Settings, error) {
	pipe := s.redis.Pipeline()
	settingsCmd := pipe.Get(ctx, settingsKey(tenantID))
	killCmd := pipe.Exists(ctx, killSwitchKey(tenantID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("tenant: get settings: %w", err)
	}

	data, err := settingsCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenant: get settings: %w", err)
	}

	var cfg Settings
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("tenant: unmarshal settings: %w", err)
	}
	cfg.Normalize()
	cfg.Active = killCmd.Val() == 0
	return &cfg, nil
}

// Set writes settings. Active on the document is ignored; use SetActive.
func (s *RedisStore) Set(ctx context.Context, cfg *Settings) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("tenant: marshal settings: %w", err)
	}
	if err := s.redis.Set(ctx, settingsKey(cfg.TenantID), data, 0).Err(); err != nil {
		return fmt.Errorf("tenant: set settings: %w", err)
	}
	return nil
}

// SetActive flips the kill switch for a tenant.
func (s *RedisStore) SetActive(ctx context.Context, tenantID string, active bool) error {
	var err error
	if active {
		err = s.redis.Del(ctx, killSwitchKey(tenantID)).Err()
	} else {
		err = s.redis.Set(ctx, killSwitchKey(tenantID), "1", 0).Err()
	}
	if err != nil {
		return fmt.Errorf("tenant: set active: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Provider for tests and simulations.
type MemoryStore struct {
	mu       sync.RWMutex
	settings map[string]Settings
}

var _ Provider = (*MemoryStore)(nil)

// NewMemoryStore seeds a store with the given settings.
func NewMemoryStore(seed ...Settings) *MemoryStore {
	m := &MemoryStore{settings: make(map[string]Settings)}
	for _, s := range seed {
		s.Normalize()
		m.settings[s.TenantID] = s
	}
	return m
}

// Get returns a copy of the stored settings.
func (m *MemoryStore) Get(_ context.Context, tenantID string) (*Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	s.AllowedLanguages = append([]string(nil), s.AllowedLanguages...)
	enabled := make(map[string]bool, len(s.PaymentsEnabled))
	for k, v := range s.PaymentsEnabled {
		enabled[k] = v
	}
	s.PaymentsEnabled = enabled
	return &s, nil
}

// SetActive flips the kill switch for a tenant.
func (m *MemoryStore) SetActive(tenantID string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.settings[tenantID]; ok {
		s.Active = active
		m.settings[tenantID] = s
	}
}
