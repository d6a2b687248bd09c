package orders

import (
	"context"
	"strings"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a minimal in-memory DynamoDB. It applies puts, deletes
// and SET updates, and evaluates just the condition expressions the
// stores in this package use.
type mockDynamo struct {
	tables    map[string]map[string]map[string]types.AttributeValue
	transacts []*dyn.TransactWriteItemsInput
	updates   []*dyn.UpdateItemInput
	deletes   []string
}

var tableKeys = map[string]string{
	"orders":    "order_id",
	"suborders": "suborder_id",
	"products":  "product_id",
}

func newMockDynamo() *mockDynamo {
	tables := map[string]map[string]map[string]types.AttributeValue{}
	for name := range tableKeys {
		tables[name] = map[string]map[string]types.AttributeValue{}
	}
	return &mockDynamo{tables: tables}
}

func keyValue(key map[string]types.AttributeValue, attr string) string {
	v, ok := key[attr].(*types.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return v.Value
}

func stringAttr(item map[string]types.AttributeValue, attr string) string {
	v, ok := item[attr].(*types.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return v.Value
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	table := *in.TableName
	item, ok := m.tables[table][keyValue(in.Key, tableKeys[table])]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	table := *in.TableName
	k := stringAttr(in.Item, tableKeys[table])
	if in.ConditionExpression != nil && strings.Contains(*in.ConditionExpression, "attribute_not_exists") {
		if _, exists := m.tables[table][k]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.tables[table][k] = in.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.updates = append(m.updates, in)
	table := *in.TableName
	k := keyValue(in.Key, tableKeys[table])
	item, ok := m.tables[table][k]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if in.ConditionExpression != nil {
		cond := *in.ConditionExpression
		switch {
		case strings.Contains(cond, "#s = :expected"):
			if stringAttr(item, "status") != stringAttr(in.ExpressionAttributeValues, ":expected") {
				return nil, &types.ConditionalCheckFailedException{}
			}
		case strings.Contains(cond, "payment_status <> :paid"):
			if stringAttr(item, "payment_status") == stringAttr(in.ExpressionAttributeValues, ":paid") {
				return nil, &types.ConditionalCheckFailedException{}
			}
		case strings.Contains(cond, "payment_status = :paid"):
			if stringAttr(item, "payment_status") != stringAttr(in.ExpressionAttributeValues, ":paid") ||
				stringAttr(item, "status") == stringAttr(in.ExpressionAttributeValues, ":completed") {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}
	applySet(item, in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	table := *in.TableName
	k := keyValue(in.Key, tableKeys[table])
	delete(m.tables[table], k)
	m.deletes = append(m.deletes, table+"/"+k)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *mockDynamo) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	table := *in.TableName
	// "attr = :val" key conditions only
	parts := strings.SplitN(*in.KeyConditionExpression, " = ", 2)
	attr, ref := parts[0], parts[1]
	want := stringAttr(in.ExpressionAttributeValues, ref)

	out := &dyn.QueryOutput{}
	for _, item := range m.tables[table] {
		if stringAttr(item, attr) == want {
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.transacts = append(m.transacts, in)
	for _, item := range in.TransactItems {
		if item.Put == nil {
			continue
		}
		table := *item.Put.TableName
		m.tables[table][stringAttr(item.Put.Item, tableKeys[table])] = item.Put.Item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// applySet applies a "SET a = :x, b = :y" expression to an item.
func applySet(item map[string]types.AttributeValue, expr *string, names map[string]string, values map[string]types.AttributeValue) {
	if expr == nil || !strings.HasPrefix(*expr, "SET ") {
		return
	}
	for _, clause := range strings.Split(strings.TrimPrefix(*expr, "SET "), ", ") {
		parts := strings.SplitN(clause, " = ", 2)
		attr := parts[0]
		if mapped, ok := names[attr]; ok {
			attr = mapped
		}
		if v, ok := values[parts[1]]; ok {
			item[attr] = v
		}
	}
}
