package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// dynamoRecord wraps the JSON-encoded state with the attributes used for
// conditional writes and TTL expiry.
type dynamoRecord struct {
	PK             string `dynamodbav:"pk"`
	TenantID       string `dynamodbav:"tenantId"`
	ConversationID string `dynamodbav:"conversationId"`
	TurnCount      int    `dynamodbav:"turnCount"`
	State          string `dynamodbav:"state"`
	UpdatedAt      string `dynamodbav:"updatedAt"`
	ExpiresAt      int64  `dynamodbav:"expiresAt,omitempty"`
}

// DynamoStore persists state in a DynamoDB table keyed by "pk".
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore builds a store backed by the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, tableName string, ttl time.Duration) *DynamoStore {
	if client == nil {
		panic("state: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("state: table name cannot be empty")
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &DynamoStore{client: client, tableName: tableName, ttl: ttl}
}

// Load fetches the record for a conversation.
func (s *DynamoStore) Load(ctx context.Context, tenantID, conversationID string) (*ConversationState, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: Key(tenantID, conversationID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("state: fetch record: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var rec dynamoRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("state: decode record: %w", err)
	}
	var st ConversationState
	if err := json.Unmarshal([]byte(rec.State), &st); err != nil {
		return nil, fmt.Errorf("state: decode state document: %w", err)
	}
	if err := st.CheckTenant(tenantID); err != nil {
		return nil, err
	}
	return &st, nil
}

// Save performs a conditional put guarded by turnCount and tenantId.
func (s *DynamoStore) Save(ctx context.Context, st *ConversationState, prevTurn int) error {
	if err := st.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("state: encode state document: %w", err)
	}
	now := time.Now().UTC()
	item, err := attributevalue.MarshalMap(dynamoRecord{
		PK:             Key(st.TenantID, st.ConversationID),
		TenantID:       st.TenantID,
		ConversationID: st.ConversationID,
		TurnCount:      st.TurnCount,
		State:          string(doc),
		UpdatedAt:      now.Format(time.RFC3339Nano),
		ExpiresAt:      now.Add(s.ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("state: marshal record: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}
	if prevTurn == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(pk)")
	} else {
		input.ConditionExpression = aws.String("turnCount = :prev AND tenantId = :tenant")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev":   &types.AttributeValueMemberN{Value: strconv.Itoa(prevTurn)},
			":tenant": &types.AttributeValueMemberS{Value: st.TenantID},
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: conditional put rejected at turn %d", ErrStateConflict, prevTurn)
		}
		return fmt.Errorf("state: persist record: %w", err)
	}
	return nil
}
