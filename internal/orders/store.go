package orders

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

// GSI names.
const (
	IndexCheckoutRequestID = "checkout_request_id-index"
	IndexOrderID           = "order_id-index"
)

// ErrStatusMismatch signals a conditional status update found the order
// in a different state than expected.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// Store encapsulates operations on the orders and suborders tables.
type Store struct {
	client         aws.DynamoDBAPI
	tableName      string
	subOrdersTable string
	nowFunc        func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, ordersTable, subOrdersTable string) *Store {
	return &Store{
		client:         client,
		tableName:      ordersTable,
		subOrdersTable: subOrdersTable,
		nowFunc:        time.Now,
	}
}

// CreateWithSubOrders atomically persists the order and all of its
// sub-orders in one TransactWriteItems call. Each put is guarded with
// attribute_not_exists so a retried create never overwrites.
func (s *Store) CreateWithSubOrders(ctx context.Context, order Order, subOrders []SubOrder) error {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	transactItems := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &s.tableName,
				Item:                orderMap,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			},
		},
	}

	for i := range subOrders {
		so := subOrders[i]
		if so.CreatedAt.IsZero() {
			so.CreatedAt = now
		}
		so.UpdatedAt = now
		soMap, merr := attributevalue.MarshalMap(so)
		if merr != nil {
			return fmt.Errorf("marshal suborder item: %w", merr)
		}
		transactItems = append(transactItems, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           &s.subOrdersTable,
				Item:                soMap,
				ConditionExpression: awsString("attribute_not_exists(suborder_id)"),
			},
		})
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("transaction canceled (order already exists?): %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetByCheckoutRequestID resolves an order by the gateway correlation
// token via the GSI. Returns (nil, nil) if no order matches.
func (s *Store) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*Order, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(IndexCheckoutRequestID),
		KeyConditionExpression: awsString("checkout_request_id = :crid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":crid": &types.AttributeValueMemberS{Value: checkoutRequestID},
		},
		Limit: awsInt32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query by checkout request id: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Items[0], &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// SubOrdersByOrder returns all sub-orders linked to an order.
func (s *Store) SubOrdersByOrder(ctx context.Context, orderID string) ([]SubOrder, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.subOrdersTable,
		IndexName:              awsString(IndexOrderID),
		KeyConditionExpression: awsString("order_id = :oid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":oid": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query suborders: %w", err)
	}
	subOrders := make([]SubOrder, 0, len(out.Items))
	for _, item := range out.Items {
		var so SubOrder
		if err := attributevalue.UnmarshalMap(item, &so); err != nil {
			return nil, fmt.Errorf("unmarshal suborder: %w", err)
		}
		subOrders = append(subOrders, so)
	}
	return subOrders, nil
}

// SetCheckoutRequestID stores the gateway correlation token on the order.
func (s *Store) SetCheckoutRequestID(ctx context.Context, orderID, checkoutRequestID string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:    awsString("SET checkout_request_id = :crid, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(order_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":crid": &types.AttributeValueMemberS{Value: checkoutRequestID},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("set checkout request id: %w", err)
	}
	return nil
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Returns ErrStatusMismatch if the order is not in the expected state.
func (s *Store) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("#s = :expected"),
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// MarkUnpaid records a failed payment attempt. Conditional on the order
// not already being paid: a failure callback racing a success must never
// regress a paid order, so the conditional no-op is deliberate.
func (s *Store) MarkUnpaid(ctx context.Context, orderID string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression: awsString("SET payment_status = :unpaid, is_paid = :f, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":unpaid": &types.AttributeValueMemberS{Value: PaymentUnpaid},
			":paid":   &types.AttributeValueMemberS{Value: PaymentPaid},
			":f":      &types.AttributeValueMemberBOOL{Value: false},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("payment_status <> :paid"),
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			// already paid; nothing to record
			return nil
		}
		return fmt.Errorf("mark unpaid: %w", err)
	}
	return nil
}

// MarkPaidTx builds the transact item flipping an order UNPAID -> PAID.
// The condition is the idempotence guard for the whole settlement
// transaction: a replayed callback cancels the transaction before any
// ledger credit is applied.
func (s *Store) MarkPaidTx(orderID string, paidAt time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.tableName,
			Key: map[string]types.AttributeValue{
				"order_id": &types.AttributeValueMemberS{Value: orderID},
			},
			UpdateExpression: awsString("SET payment_status = :paid, is_paid = :t, paid_at = :pa, updated_at = :pa"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":paid":   &types.AttributeValueMemberS{Value: PaymentPaid},
				":unpaid": &types.AttributeValueMemberS{Value: PaymentUnpaid},
				":t":      &types.AttributeValueMemberBOOL{Value: true},
				":pa":     &types.AttributeValueMemberS{Value: paidAt.UTC().Format(time.RFC3339)},
			},
			ConditionExpression: awsString("payment_status = :unpaid"),
		},
	}
}

// CompleteDelivery flips the order to COMPLETED with delivered_at set.
// Conditions: the order is paid and not already completed.
func (s *Store) CompleteDelivery(ctx context.Context, orderID string, deliveredAt time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         awsString("SET #s = :completed, delivered_at = :da, updated_at = :da"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed": &types.AttributeValueMemberS{Value: StatusCompleted},
			":paid":      &types.AttributeValueMemberS{Value: PaymentPaid},
			":da":        &types.AttributeValueMemberS{Value: deliveredAt.UTC().Format(time.RFC3339)},
		},
		ConditionExpression: awsString("payment_status = :paid AND #s <> :completed"),
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("complete delivery: %w", err)
	}
	return nil
}

// SubOrderDeliveredTx builds the transact item flipping a sub-order
// PENDING -> DELIVERED.
func (s *Store) SubOrderDeliveredTx(subOrderID string, deliveredAt time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.subOrdersTable,
			Key: map[string]types.AttributeValue{
				"suborder_id": &types.AttributeValueMemberS{Value: subOrderID},
			},
			UpdateExpression:         awsString("SET #s = :delivered, updated_at = :ua"),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":delivered": &types.AttributeValueMemberS{Value: SubOrderDelivered},
				":pending":   &types.AttributeValueMemberS{Value: SubOrderPending},
				":ua":        &types.AttributeValueMemberS{Value: deliveredAt.UTC().Format(time.RFC3339)},
			},
			ConditionExpression: awsString("#s = :pending"),
		},
	}
}

// Delete removes an order and its sub-orders. Used only as the
// compensating action when order creation fails partway.
func (s *Store) Delete(ctx context.Context, orderID string, subOrderIDs []string) error {
	if _, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	}); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	for _, id := range subOrderIDs {
		if _, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
			TableName: &s.subOrdersTable,
			Key: map[string]types.AttributeValue{
				"suborder_id": &types.AttributeValueMemberS{Value: id},
			},
		}); err != nil {
			return fmt.Errorf("delete suborder %s: %w", id, err)
		}
	}
	return nil
}

func awsString(s string) *string { return &s }
func awsInt32(n int32) *int32    { return &n }
