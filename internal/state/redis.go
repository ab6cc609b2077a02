package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultStateTTL = 30 * 24 * time.Hour

// RedisStore keeps one JSON document per conversation and uses WATCH/MULTI
// for the optimistic turn_count check.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore builds a Redis-backed store. A zero ttl uses 30 days.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("state: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &RedisStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("concierge.internal.state"),
	}
}

func redisKey(tenantID, conversationID string) string {
	return fmt.Sprintf("concierge:state:%s:%s", tenantID, conversationID)
}

// Load fetches and decodes the state for a conversation.
func (s *RedisStore) Load(ctx context.Context, tenantID, conversationID string) (*ConversationState, error) {
	ctx, span := s.tracer.Start(ctx, "state.load")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", tenantID))

	data, err := s.redis.Get(ctx, redisKey(tenantID, conversationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("state: load: %w", err)
	}

	var st ConversationState
	if err := json.Unmarshal(data, &st); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("state: decode: %w", err)
	}
	if err := st.CheckTenant(tenantID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &st, nil
}

// Save writes st when the stored turn_count still equals prevTurn.
func (s *RedisStore) Save(ctx context.Context, st *ConversationState, prevTurn int) error {
	ctx, span := s.tracer.Start(ctx, "state.save")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", st.TenantID),
		attribute.Int("turn_count", st.TurnCount),
	)

	if err := st.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(st)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("state: encode: %w", err)
	}
	key := redisKey(st.TenantID, st.ConversationID)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if prevTurn != 0 {
				return fmt.Errorf("%w: record missing, expected turn %d", ErrStateConflict, prevTurn)
			}
		case err != nil:
			return fmt.Errorf("state: read for update: %w", err)
		default:
			var meta recordMeta
			if err := json.Unmarshal(current, &meta); err != nil {
				return fmt.Errorf("state: decode for update: %w", err)
			}
			if err := meta.check(st.TenantID, prevTurn); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	if err := s.redis.Watch(ctx, txf, key); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			err = fmt.Errorf("%w: key modified during transaction", ErrStateConflict)
		}
		span.RecordError(err)
		if errors.Is(err, ErrStateConflict) || errors.Is(err, ErrTenantMismatch) {
			return err
		}
		return fmt.Errorf("state: save: %w", err)
	}
	return nil
}
