package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

// Load returns a copy of the stored record.
func (m *MemoryStore) Load(_ context.Context, tenantID, conversationID string) (*ConversationState, error) {
	m.mu.Lock()
	data, ok := m.records[Key(tenantID, conversationID)]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	var st ConversationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("state: decode memory record: %w", err)
	}
	if err := st.CheckTenant(tenantID); err != nil {
		return nil, err
	}
	return &st, nil
}

// Save stores a copy of st if the stored turn_count equals prevTurn.
func (m *MemoryStore) Save(_ context.Context, st *ConversationState, prevTurn int) error {
	if err := st.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("state: encode memory record: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(st.TenantID, st.ConversationID)
	if current, ok := m.records[key]; ok {
		var meta recordMeta
		if err := json.Unmarshal(current, &meta); err != nil {
			return fmt.Errorf("state: decode memory record: %w", err)
		}
		if err := meta.check(st.TenantID, prevTurn); err != nil {
			return err
		}
	} else if prevTurn != 0 {
		return ErrStateConflict
	}
	m.records[key] = data
	return nil
}

// recordMeta is the subset of a stored record needed for the optimistic check.
type recordMeta struct {
	TenantID  string `json:"tenant_id"`
	TurnCount int    `json:"turn_count"`
}

func (r recordMeta) check(tenantID string, prevTurn int) error {
	if r.TenantID != tenantID {
		return fmt.Errorf("%w: stored record owned by %q", ErrTenantMismatch, r.TenantID)
	}
	if r.TurnCount != prevTurn {
		return fmt.Errorf("%w: stored turn %d, expected %d", ErrStateConflict, r.TurnCount, prevTurn)
	}
	return nil
}
