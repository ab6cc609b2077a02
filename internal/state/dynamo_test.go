package state

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type mockDynamo struct {
	putInput  *dynamodb.PutItemInput
	putErr    error
	getInput  *dynamodb.GetItemInput
	getOutput *dynamodb.GetItemOutput
	getErr    error
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = in
	if m.putErr != nil {
		return nil, m.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.getInput = in
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getOutput == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return m.getOutput, nil
}

func TestDynamoStore_SaveFirstTurnRequiresAbsentItem(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoStore(mock, "conversation_state", 0)

	st := New("t1", "c1")
	st.TurnCount = 1
	if err := store.Save(context.Background(), st, 0); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	if expr := mock.putInput.ConditionExpression; expr == nil || *expr != "attribute_not_exists(pk)" {
		t.Fatalf("expected create-only condition, got %v", expr)
	}

	var rec dynamoRecord
	if err := attributevalue.UnmarshalMap(mock.putInput.Item, &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.PK != "t1:c1" || rec.TurnCount != 1 || rec.ExpiresAt == 0 {
		t.Fatalf("unexpected record: %#v", rec)
	}
}

func TestDynamoStore_SaveLaterTurnChecksVersion(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoStore(mock, "conversation_state", 0)

	st := New("t1", "c1")
	st.TurnCount = 5
	if err := store.Save(context.Background(), st, 4); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	prev, ok := mock.putInput.ExpressionAttributeValues[":prev"].(*types.AttributeValueMemberN)
	if !ok || prev.Value != "4" {
		t.Fatalf("expected :prev=4, got %#v", mock.putInput.ExpressionAttributeValues[":prev"])
	}
}

func TestDynamoStore_ConditionalFailureIsConflict(t *testing.T) {
	mock := &mockDynamo{putErr: &types.ConditionalCheckFailedException{}}
	store := NewDynamoStore(mock, "conversation_state", 0)

	st := New("t1", "c1")
	st.TurnCount = 2
	err := store.Save(context.Background(), st, 1)
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
}

func TestDynamoStore_Load(t *testing.T) {
	st := New("t1", "c1")
	st.TurnCount = 3
	st.BotName = "Duka"
	doc, _ := json.Marshal(st)
	item, err := attributevalue.MarshalMap(dynamoRecord{PK: "t1:c1", TenantID: "t1", TurnCount: 3, State: string(doc)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	mock := &mockDynamo{getOutput: &dynamodb.GetItemOutput{Item: item}}
	store := NewDynamoStore(mock, "conversation_state", 0)

	loaded, err := store.Load(context.Background(), "t1", "c1")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded.BotName != "Duka" || loaded.TurnCount != 3 {
		t.Fatalf("unexpected state: %#v", loaded)
	}
	if !*mock.getInput.ConsistentRead {
		t.Fatal("expected consistent read")
	}
}

func TestDynamoStore_LoadMissing(t *testing.T) {
	store := NewDynamoStore(&mockDynamo{}, "conversation_state", 0)
	_, err := store.Load(context.Background(), "t1", "c1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
