package catalog

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/shambadirect/marketplace-backend/internal/aws"
)

// Product is the slice of the catalog the order pipeline needs: a price
// snapshot source and a stock figure. Product CRUD lives elsewhere.
type Product struct {
	ProductID         string  `dynamodbav:"product_id"` // PK
	Name              string  `dynamodbav:"name"`
	FarmerID          string  `dynamodbav:"farmer_id"`
	UnitPrice         float64 `dynamodbav:"unit_price"`
	AvailableQuantity int     `dynamodbav:"available_quantity"`
}

// Store is a read-only view over the products table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Get fetches a product by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}
