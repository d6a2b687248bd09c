package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/shambadirect/marketplace-backend/internal/aws"
)

// IndexFarmerID is the GSI for a farmer's withdrawal history.
const IndexFarmerID = "farmer_id-index"

// Store encapsulates operations on the withdrawals table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new withdrawals Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create persists a new pending withdrawal.
func (s *Store) Create(ctx context.Context, w Withdrawal) error {
	item, err := attributevalue.MarshalMap(w)
	if err != nil {
		return fmt.Errorf("marshal withdrawal: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(withdrawal_id)"),
	})
	if err != nil {
		return fmt.Errorf("put withdrawal: %w", err)
	}
	return nil
}

// Get fetches a withdrawal by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, withdrawalID string) (*Withdrawal, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"withdrawal_id": &types.AttributeValueMemberS{Value: withdrawalID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get withdrawal: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var w Withdrawal
	if err := attributevalue.UnmarshalMap(out.Item, &w); err != nil {
		return nil, fmt.Errorf("unmarshal withdrawal: %w", err)
	}
	return &w, nil
}

// ByFarmer returns a farmer's withdrawal history.
func (s *Store) ByFarmer(ctx context.Context, farmerID string) ([]Withdrawal, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(IndexFarmerID),
		KeyConditionExpression: awsString("farmer_id = :fid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":fid": &types.AttributeValueMemberS{Value: farmerID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query withdrawals: %w", err)
	}
	withdrawals := make([]Withdrawal, 0, len(out.Items))
	for _, item := range out.Items {
		var w Withdrawal
		if err := attributevalue.UnmarshalMap(item, &w); err != nil {
			return nil, fmt.Errorf("unmarshal withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, w)
	}
	return withdrawals, nil
}

// ApproveTx builds the transact item flipping PENDING -> APPROVED.
// The condition makes the decision at-most-once.
func (s *Store) ApproveTx(withdrawalID string, decidedAt time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.tableName,
			Key: map[string]types.AttributeValue{
				"withdrawal_id": &types.AttributeValueMemberS{Value: withdrawalID},
			},
			UpdateExpression:         awsString("SET #s = :approved, decided_at = :da"),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":approved": &types.AttributeValueMemberS{Value: StatusApproved},
				":pending":  &types.AttributeValueMemberS{Value: StatusPending},
				":da":       &types.AttributeValueMemberS{Value: decidedAt.UTC().Format(time.RFC3339)},
			},
			ConditionExpression: awsString("#s = :pending"),
		},
	}
}

// ErrNotPending signals a conditional decision found the withdrawal in
// a terminal state.
var ErrNotPending = errors.New("withdrawal not pending")

// Reject flips PENDING -> REJECTED. No balances move.
func (s *Store) Reject(ctx context.Context, withdrawalID string, decidedAt time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"withdrawal_id": &types.AttributeValueMemberS{Value: withdrawalID},
		},
		UpdateExpression:         awsString("SET #s = :rejected, decided_at = :da"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rejected": &types.AttributeValueMemberS{Value: StatusRejected},
			":pending":  &types.AttributeValueMemberS{Value: StatusPending},
			":da":       &types.AttributeValueMemberS{Value: decidedAt.UTC().Format(time.RFC3339)},
		},
		ConditionExpression: awsString("#s = :pending"),
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrNotPending
		}
		return fmt.Errorf("reject withdrawal: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
