package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shambadirect/marketplace-backend/internal/catalog"
	"github.com/shambadirect/marketplace-backend/internal/mpesa"
)

// Errors surfaced by the service.
var (
	ErrNotFound                = errors.New("order not found")
	ErrProductNotFound         = errors.New("product not found")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrPaymentInitiationFailed = errors.New("payment initiation failed")
	ErrInvalidTransition       = errors.New("invalid status transition")
)

// CartItem is one requested line in a new order.
type CartItem struct {
	ProductID string
	Quantity  int
}

// CreateOrderInput is the service-level input for order creation.
type CreateOrderInput struct {
	BuyerID     string
	PhoneNumber string
	Items       []CartItem
	Tax         float64
	Shipping    float64
}

// Service orchestrates order creation and status advancement.
type Service struct {
	store   *Store
	catalog *catalog.Store
	gateway mpesa.Gateway
	log     *logrus.Entry
	nowFunc func() time.Time
	idFunc  func() string
}

// NewService wires the order store, product catalog and payment gateway.
func NewService(store *Store, cat *catalog.Store, gateway mpesa.Gateway, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.WithField("component", "orders")
	}
	return &Service{
		store:   store,
		catalog: cat,
		gateway: gateway,
		log:     log,
		nowFunc: time.Now,
		idFunc:  uuid.NewString,
	}
}

// Create places an order: validates stock, partitions the cart by
// farmer into sub-orders, persists everything atomically, then asks the
// gateway to push a payment request to the buyer's phone.
//
// If payment initiation fails the order is kept in PENDING/UNPAID and
// the error is ErrPaymentInitiationFailed (the caller may retry the
// whole creation); any other post-persist failure triggers a
// compensating delete so a half-created order is never visible.
func (s *Service) Create(ctx context.Context, in CreateOrderInput) (*Order, error) {
	now := s.nowFunc().UTC()
	orderID := s.idFunc()

	// Resolve each line against the catalog: price snapshot, farmer
	// attribution and stock check.
	lines := make([]Item, 0, len(in.Items))
	for _, ci := range in.Items {
		product, err := s.catalog.Get(ctx, ci.ProductID)
		if err != nil {
			return nil, fmt.Errorf("resolve product %s: %w", ci.ProductID, err)
		}
		if product == nil {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, ci.ProductID)
		}
		if ci.Quantity > product.AvailableQuantity {
			return nil, fmt.Errorf("%w: product %s has %d available, %d requested",
				ErrInsufficientStock, ci.ProductID, product.AvailableQuantity, ci.Quantity)
		}
		lines = append(lines, Item{
			ProductID: product.ProductID,
			Name:      product.Name,
			FarmerID:  product.FarmerID,
			Quantity:  ci.Quantity,
			UnitPrice: product.UnitPrice,
		})
	}

	subOrders := s.partitionByFarmer(orderID, lines, now)

	var itemsTotal float64
	subOrderIDs := make([]string, 0, len(subOrders))
	for _, so := range subOrders {
		itemsTotal += so.Subtotal
		subOrderIDs = append(subOrderIDs, so.SubOrderID)
	}

	order := Order{
		OrderID:       orderID,
		BuyerID:       in.BuyerID,
		Items:         lines,
		Total:         itemsTotal + in.Tax + in.Shipping,
		Tax:           in.Tax,
		Shipping:      in.Shipping,
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
		SubOrderIDs:   subOrderIDs,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateWithSubOrders(ctx, order, subOrders); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	pushResp, err := s.gateway.STKPush(ctx, mpesa.STKPushRequest{
		PhoneNumber: in.PhoneNumber,
		Amount:      order.Total,
		OrderID:     orderID,
	})
	if err != nil {
		// The order stays pending/unpaid; the buyer is told the payment
		// request failed and may retry. Phone/amount validation errors
		// pass through unchanged so the caller can report them as such.
		s.log.WithError(err).WithField("order_id", orderID).Warn("payment initiation failed")
		if errors.Is(err, mpesa.ErrInvalidPhoneNumber) || errors.Is(err, mpesa.ErrInvalidAmount) {
			s.rollback(ctx, orderID, subOrderIDs)
			return nil, err
		}
		return &order, fmt.Errorf("%w: %v", ErrPaymentInitiationFailed, err)
	}

	if err := s.store.SetCheckoutRequestID(ctx, orderID, pushResp.CheckoutRequestID); err != nil {
		s.rollback(ctx, orderID, subOrderIDs)
		return nil, fmt.Errorf("persist correlation token: %w", err)
	}
	order.CheckoutRequestID = pushResp.CheckoutRequestID

	s.log.WithFields(logrus.Fields{
		"order_id":            orderID,
		"buyer_id":            in.BuyerID,
		"total":               order.Total,
		"sub_orders":          len(subOrders),
		"checkout_request_id": pushResp.CheckoutRequestID,
	}).Info("order created, payment requested")

	return &order, nil
}

// Get returns an order with its sub-orders.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, []SubOrder, error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, ErrNotFound
	}
	subOrders, err := s.store.SubOrdersByOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, subOrders, nil
}

// Accept advances PENDING -> ACCEPTED.
func (s *Service) Accept(ctx context.Context, orderID string) error {
	return s.advance(ctx, orderID, StatusAccepted, false)
}

// Ship advances ACCEPTED -> SHIPPED. Goods are only released after
// payment confirmation.
func (s *Service) Ship(ctx context.Context, orderID string) error {
	return s.advance(ctx, orderID, StatusShipped, true)
}

func (s *Service) advance(ctx context.Context, orderID, target string, requirePaid bool) error {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrNotFound
	}
	if requirePaid && order.PaymentStatus != PaymentPaid {
		return fmt.Errorf("%w: order %s is not paid", ErrInvalidTransition, orderID)
	}
	if !CanTransition(order.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, target)
	}
	if err := s.store.UpdateStatus(ctx, orderID, order.Status, target); err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			return fmt.Errorf("%w: order %s changed concurrently", ErrInvalidTransition, orderID)
		}
		return err
	}
	return nil
}

// partitionByFarmer groups lines into one sub-order per farmer.
// Farmers are sorted so sub-order construction is deterministic.
func (s *Service) partitionByFarmer(orderID string, lines []Item, now time.Time) []SubOrder {
	byFarmer := map[string][]Item{}
	for _, line := range lines {
		byFarmer[line.FarmerID] = append(byFarmer[line.FarmerID], line)
	}

	farmers := make([]string, 0, len(byFarmer))
	for farmerID := range byFarmer {
		farmers = append(farmers, farmerID)
	}
	sort.Strings(farmers)

	subOrders := make([]SubOrder, 0, len(farmers))
	for _, farmerID := range farmers {
		var subtotal float64
		for _, line := range byFarmer[farmerID] {
			subtotal += float64(line.Quantity) * line.UnitPrice
		}
		subOrders = append(subOrders, SubOrder{
			SubOrderID: s.idFunc(),
			OrderID:    orderID,
			FarmerID:   farmerID,
			Items:      byFarmer[farmerID],
			Subtotal:   subtotal,
			Status:     SubOrderPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	return subOrders
}

func (s *Service) rollback(ctx context.Context, orderID string, subOrderIDs []string) {
	if err := s.store.Delete(ctx, orderID, subOrderIDs); err != nil {
		// Surfaced for manual cleanup; the creation error is what the
		// caller sees.
		s.log.WithError(err).WithField("order_id", orderID).Error("compensating delete failed")
	}
}
