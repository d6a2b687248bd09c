package orders

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/shambadirect/marketplace-backend/internal/catalog"
	"github.com/shambadirect/marketplace-backend/internal/mpesa"
)

type fakeGateway struct {
	resp *mpesa.STKPushResponse
	err  error
	reqs []mpesa.STKPushRequest
}

func (g *fakeGateway) STKPush(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
	g.reqs = append(g.reqs, req)
	if g.err != nil {
		return nil, g.err
	}
	return g.resp, nil
}

func seedProduct(t *testing.T, m *mockDynamo, p catalog.Product) {
	t.Helper()
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		t.Fatalf("marshal product: %v", err)
	}
	m.tables["products"][p.ProductID] = item
}

func newTestService(mock *mockDynamo, gw mpesa.Gateway) *Service {
	svc := NewService(NewStore(mock, "orders", "suborders"), catalog.NewStore(mock, "products"), gw, nil)
	seq := 0
	svc.idFunc = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	svc.nowFunc = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestCreateOrder_PartitionsByFarmer(t *testing.T) {
	mock := newMockDynamo()
	seedProduct(t, mock, catalog.Product{ProductID: "p1", Name: "Maize", FarmerID: "f1", UnitPrice: 100, AvailableQuantity: 10})
	seedProduct(t, mock, catalog.Product{ProductID: "p2", Name: "Beans", FarmerID: "f2", UnitPrice: 50, AvailableQuantity: 10})
	seedProduct(t, mock, catalog.Product{ProductID: "p3", Name: "Kale", FarmerID: "f1", UnitPrice: 25, AvailableQuantity: 10})

	gw := &fakeGateway{resp: &mpesa.STKPushResponse{CheckoutRequestID: "ws_CO_1"}}
	svc := newTestService(mock, gw)

	order, err := svc.Create(context.Background(), CreateOrderInput{
		BuyerID:     "b1",
		PhoneNumber: "254712345678",
		Items: []CartItem{
			{ProductID: "p1", Quantity: 2}, // f1: 200
			{ProductID: "p2", Quantity: 2}, // f2: 100
			{ProductID: "p3", Quantity: 4}, // f1: 100
		},
		Tax:      10,
		Shipping: 40,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if order.Total != 450 {
		t.Fatalf("expected total 450, got %v", order.Total)
	}
	if order.CheckoutRequestID != "ws_CO_1" {
		t.Fatalf("checkout request id not set: %+v", order)
	}
	if len(order.SubOrderIDs) != 2 {
		t.Fatalf("expected 2 suborders, got %v", order.SubOrderIDs)
	}

	subs, err := NewStore(mock, "orders", "suborders").SubOrdersByOrder(context.Background(), order.OrderID)
	if err != nil {
		t.Fatalf("suborders: %v", err)
	}
	bySubtotal := map[string]float64{}
	for _, so := range subs {
		bySubtotal[so.FarmerID] = so.Subtotal
		if so.Status != SubOrderPending {
			t.Errorf("suborder %s status %s, want PENDING", so.SubOrderID, so.Status)
		}
	}
	if bySubtotal["f1"] != 300 || bySubtotal["f2"] != 100 {
		t.Fatalf("unexpected subtotals: %v", bySubtotal)
	}

	if len(gw.reqs) != 1 || gw.reqs[0].Amount != 450 || gw.reqs[0].OrderID != order.OrderID {
		t.Fatalf("unexpected gateway request: %+v", gw.reqs)
	}

	stored, _ := NewStore(mock, "orders", "suborders").Get(context.Background(), order.OrderID)
	if stored.CheckoutRequestID != "ws_CO_1" {
		t.Fatalf("stored order missing checkout request id: %+v", stored)
	}
}

func TestCreateOrder_ProductNotFound(t *testing.T) {
	mock := newMockDynamo()
	svc := newTestService(mock, &fakeGateway{})

	_, err := svc.Create(context.Background(), CreateOrderInput{
		BuyerID:     "b1",
		PhoneNumber: "254712345678",
		Items:       []CartItem{{ProductID: "ghost", Quantity: 1}},
	})
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	mock := newMockDynamo()
	seedProduct(t, mock, catalog.Product{ProductID: "p1", FarmerID: "f1", UnitPrice: 100, AvailableQuantity: 1})
	svc := newTestService(mock, &fakeGateway{})

	_, err := svc.Create(context.Background(), CreateOrderInput{
		BuyerID:     "b1",
		PhoneNumber: "254712345678",
		Items:       []CartItem{{ProductID: "p1", Quantity: 5}},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if len(mock.transacts) != 0 {
		t.Fatalf("nothing should be persisted, got %d transactions", len(mock.transacts))
	}
}

func TestCreateOrder_GatewayDown_KeepsOrder(t *testing.T) {
	mock := newMockDynamo()
	seedProduct(t, mock, catalog.Product{ProductID: "p1", FarmerID: "f1", UnitPrice: 100, AvailableQuantity: 10})
	gw := &fakeGateway{err: mpesa.ErrGatewayUnavailable}
	svc := newTestService(mock, gw)

	order, err := svc.Create(context.Background(), CreateOrderInput{
		BuyerID:     "b1",
		PhoneNumber: "254712345678",
		Items:       []CartItem{{ProductID: "p1", Quantity: 1}},
	})
	if !errors.Is(err, ErrPaymentInitiationFailed) {
		t.Fatalf("expected ErrPaymentInitiationFailed, got %v", err)
	}
	if order == nil {
		t.Fatal("order should be returned so the buyer can retry payment")
	}

	// the order survives, unpaid, for a later retry
	stored, _ := NewStore(mock, "orders", "suborders").Get(context.Background(), order.OrderID)
	if stored == nil || stored.PaymentStatus != PaymentUnpaid {
		t.Fatalf("expected stored unpaid order, got %+v", stored)
	}
}

func TestCreateOrder_InvalidPhone_RollsBack(t *testing.T) {
	mock := newMockDynamo()
	seedProduct(t, mock, catalog.Product{ProductID: "p1", FarmerID: "f1", UnitPrice: 100, AvailableQuantity: 10})
	gw := &fakeGateway{err: mpesa.ErrInvalidPhoneNumber}
	svc := newTestService(mock, gw)

	order, err := svc.Create(context.Background(), CreateOrderInput{
		BuyerID:     "b1",
		PhoneNumber: "12345",
		Items:       []CartItem{{ProductID: "p1", Quantity: 1}},
	})
	if !errors.Is(err, mpesa.ErrInvalidPhoneNumber) {
		t.Fatalf("expected ErrInvalidPhoneNumber, got %v", err)
	}
	if order != nil {
		t.Fatalf("no order expected, got %+v", order)
	}
	if len(mock.tables["orders"]) != 0 || len(mock.tables["suborders"]) != 0 {
		t.Fatal("compensating delete did not run")
	}
}

func TestAcceptAndShip(t *testing.T) {
	mock := newMockDynamo()
	svc := newTestService(mock, &fakeGateway{})
	seedOrder(t, mock, Order{OrderID: "o1", Status: StatusPending, PaymentStatus: PaymentUnpaid})

	if err := svc.Accept(context.Background(), "o1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// shipping requires payment confirmation
	if err := svc.Ship(context.Background(), "o1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ship unpaid: expected ErrInvalidTransition, got %v", err)
	}

	seedOrder(t, mock, Order{OrderID: "o2", Status: StatusAccepted, PaymentStatus: PaymentPaid})
	if err := svc.Ship(context.Background(), "o2"); err != nil {
		t.Fatalf("ship paid accepted: %v", err)
	}

	// a second accept is not a legal transition
	if err := svc.Accept(context.Background(), "o1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double accept: expected ErrInvalidTransition, got %v", err)
	}

	if err := svc.Accept(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing order: expected ErrNotFound, got %v", err)
	}
}
