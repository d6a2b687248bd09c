package idempotency

import (
	"context"
	"strings"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type mockDynamo struct {
	items map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	k := in.Item["idempotency_key"].(*types.AttributeValueMemberS).Value
	if in.ConditionExpression != nil {
		if _, exists := m.items[k]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.items[k] = in.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	k := in.Key["idempotency_key"].(*types.AttributeValueMemberS).Value
	item, ok := m.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	k := in.Key["idempotency_key"].(*types.AttributeValueMemberS).Value
	item, ok := m.items[k]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	// apply "SET a = :x, b = :y"
	expr := strings.TrimPrefix(*in.UpdateExpression, "SET ")
	for _, clause := range strings.Split(expr, ", ") {
		parts := strings.SplitN(clause, " = ", 2)
		attr := parts[0]
		if mapped, ok := in.ExpressionAttributeNames[attr]; ok {
			attr = mapped
		}
		item[attr] = in.ExpressionAttributeValues[parts[1]]
	}
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	return &dyn.DeleteItemOutput{}, nil
}
func (m *mockDynamo) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	return &dyn.QueryOutput{}, nil
}
func (m *mockDynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return &dyn.TransactWriteItemsOutput{}, nil
}

func TestCreateIfNotExists(t *testing.T) {
	store := NewStore(newMockDynamo(), "idempotency", 48*time.Hour)

	created, err := store.CreateIfNotExists(context.Background(), "ws_CO_1", "o1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("first create should succeed")
	}

	created, err = store.CreateIfNotExists(context.Background(), "ws_CO_1", "o1")
	if err != nil {
		t.Fatalf("duplicate create should not error: %v", err)
	}
	if created {
		t.Fatal("duplicate create should report created=false")
	}

	rec, err := store.Get(context.Background(), "ws_CO_1")
	if err != nil || rec == nil {
		t.Fatalf("get: %v %v", rec, err)
	}
	if rec.Status != StatusInProgress || rec.OrderID != "o1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.ExpiresAt <= rec.CreatedAt.Unix() {
		t.Fatalf("ttl not in the future: %+v", rec)
	}
}

func TestMarkDoneAndFailed(t *testing.T) {
	store := NewStore(newMockDynamo(), "idempotency", time.Hour)

	if _, err := store.CreateIfNotExists(context.Background(), "ws_CO_1", "o1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.MarkDone(context.Background(), "ws_CO_1", "settled"); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	rec, _ := store.Get(context.Background(), "ws_CO_1")
	if rec.Status != StatusDone || rec.Outcome != "settled" {
		t.Fatalf("unexpected record after MarkDone: %+v", rec)
	}

	if _, err := store.CreateIfNotExists(context.Background(), "ws_CO_2", "o2"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.MarkFailed(context.Background(), "ws_CO_2", "transact write failed"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	rec, _ = store.Get(context.Background(), "ws_CO_2")
	if rec.Status != StatusFailed || rec.Note == "" {
		t.Fatalf("unexpected record after MarkFailed: %+v", rec)
	}
}

func TestGet_Missing(t *testing.T) {
	store := NewStore(newMockDynamo(), "idempotency", time.Hour)
	rec, err := store.Get(context.Background(), "nope")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got %+v %v", rec, err)
	}
}
