package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/shambadirect/marketplace-backend/internal/aws"
)

// Store holds the accounts and transactions tables. Balance mutations
// are exposed as TransactWriteItem builders so the settlement and
// withdrawal engines can compose them into a single atomic write with
// their own state transitions. Every mutation is an ADD delta with a
// guard condition; a balance is never overwritten from input.
type Store struct {
	client            aws.DynamoDBAPI
	accountsTable     string
	transactionsTable string
	nowFunc           func() time.Time
}

// NewStore creates a new ledger Store.
func NewStore(client aws.DynamoDBAPI, accountsTable, transactionsTable string) *Store {
	return &Store{
		client:            client,
		accountsTable:     accountsTable,
		transactionsTable: transactionsTable,
		nowFunc:           time.Now,
	}
}

// GetFarmerAccount fetches a farmer account. A farmer with no account
// yet gets a zero-valued account: accounts are created lazily by the
// first settlement credit (ADD on a missing item creates it).
func (s *Store) GetFarmerAccount(ctx context.Context, farmerID string) (*FarmerAccount, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.accountsTable,
		Key: map[string]types.AttributeValue{
			"account_id": &types.AttributeValueMemberS{Value: farmerID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get farmer account: %w", err)
	}
	if len(out.Item) == 0 {
		return &FarmerAccount{AccountID: farmerID}, nil
	}
	var acct FarmerAccount
	if err := attributevalue.UnmarshalMap(out.Item, &acct); err != nil {
		return nil, fmt.Errorf("unmarshal farmer account: %w", err)
	}
	return &acct, nil
}

// GetSystemAccount fetches the singleton platform account.
func (s *Store) GetSystemAccount(ctx context.Context) (*SystemAccount, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.accountsTable,
		Key: map[string]types.AttributeValue{
			"account_id": &types.AttributeValueMemberS{Value: SystemAccountID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get system account: %w", err)
	}
	if len(out.Item) == 0 {
		return &SystemAccount{AccountID: SystemAccountID}, nil
	}
	var acct SystemAccount
	if err := attributevalue.UnmarshalMap(out.Item, &acct); err != nil {
		return nil, fmt.Errorf("unmarshal system account: %w", err)
	}
	return &acct, nil
}

// CreditFarmerTx builds the transact item crediting a settlement amount
// to a farmer: total and pending both grow by the sub-order subtotal.
// ADD creates the account on first credit.
func (s *Store) CreditFarmerTx(farmerID string, amount float64) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.accountsTable,
			Key: map[string]types.AttributeValue{
				"account_id": &types.AttributeValueMemberS{Value: farmerID},
			},
			UpdateExpression: awsString("ADD total_earnings :amt, pending_earnings :amt"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":amt": numberAttr(amount),
			},
		},
	}
}

// ReleasePendingTx builds the transact item moving a delivered
// sub-order's subtotal from pending to available. Guarded so a
// concurrent release can never drive pending negative.
func (s *Store) ReleasePendingTx(farmerID string, amount float64) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.accountsTable,
			Key: map[string]types.AttributeValue{
				"account_id": &types.AttributeValueMemberS{Value: farmerID},
			},
			UpdateExpression: awsString("ADD pending_earnings :neg, available_earnings :amt"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":amt": numberAttr(amount),
				":neg": numberAttr(-amount),
			},
			ConditionExpression: awsString("pending_earnings >= :amt"),
		},
	}
}

// PayOutTx builds the transact item applying an approved withdrawal on
// the farmer side: available shrinks, paid grows.
func (s *Store) PayOutTx(farmerID string, amount float64) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.accountsTable,
			Key: map[string]types.AttributeValue{
				"account_id": &types.AttributeValueMemberS{Value: farmerID},
			},
			UpdateExpression: awsString("ADD available_earnings :neg, paid_earnings :amt"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":amt": numberAttr(amount),
				":neg": numberAttr(-amount),
			},
			ConditionExpression: awsString("available_earnings >= :amt"),
		},
	}
}

// CreditSystemTx builds the transact item growing the platform balance
// by a paid order's total.
func (s *Store) CreditSystemTx(amount float64) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.accountsTable,
			Key: map[string]types.AttributeValue{
				"account_id": &types.AttributeValueMemberS{Value: SystemAccountID},
			},
			UpdateExpression: awsString("ADD balance :amt"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":amt": numberAttr(amount),
			},
		},
	}
}

// DebitSystemTx builds the transact item shrinking the platform balance
// for an approved withdrawal, guarded against overdraw.
func (s *Store) DebitSystemTx(amount float64) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.accountsTable,
			Key: map[string]types.AttributeValue{
				"account_id": &types.AttributeValueMemberS{Value: SystemAccountID},
			},
			UpdateExpression: awsString("ADD balance :neg"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":neg": numberAttr(-amount),
				":amt": numberAttr(amount),
			},
			ConditionExpression: awsString("balance >= :amt"),
		},
	}
}

// PutTransactionTx builds the transact item appending an audit entry.
// The attribute_not_exists guard keeps the table strictly append-only.
func (s *Store) PutTransactionTx(tx Transaction) (types.TransactWriteItem, error) {
	if tx.TransactionID == "" {
		tx.TransactionID = uuid.NewString()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = s.nowFunc().UTC()
	}
	item, err := attributevalue.MarshalMap(tx)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal transaction: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.transactionsTable,
			Item:                item,
			ConditionExpression: awsString("attribute_not_exists(transaction_id)"),
		},
	}, nil
}

func awsString(s string) *string { return &s }

func numberAttr(v float64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v, 'f', -1, 64)}
}
