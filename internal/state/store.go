package state

import "context"

// Store persists ConversationState keyed by (tenant_id, conversation_id).
//
// Save is optimistic: it succeeds only when the stored record's turn_count
// still equals prevTurn (or no record exists and prevTurn is 0). Otherwise it
// returns ErrStateConflict and leaves the stored record untouched.
type Store interface {
	Load(ctx context.Context, tenantID, conversationID string) (*ConversationState, error)
	Save(ctx context.Context, st *ConversationState, prevTurn int) error
}
