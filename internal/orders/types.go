package orders

import "time"

// Order statuses. An order only moves forward:
// PENDING -> ACCEPTED -> SHIPPED -> COMPLETED, or to CANCELLED from any
// state before COMPLETED.
const (
	StatusPending   = "PENDING"
	StatusAccepted  = "ACCEPTED"
	StatusShipped   = "SHIPPED"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
)

// Payment statuses.
const (
	PaymentUnpaid = "UNPAID"
	PaymentPaid   = "PAID"
)

// Sub-order statuses.
const (
	SubOrderPending   = "PENDING"
	SubOrderDelivered = "DELIVERED"
)

// CanTransition reports whether an order may move from -> to.
// Status checks live here so handlers and engines never scatter ad hoc
// string comparisons.
func CanTransition(from, to string) bool {
	switch to {
	case StatusAccepted:
		return from == StatusPending
	case StatusShipped:
		return from == StatusAccepted
	case StatusCompleted:
		return from == StatusShipped || from == StatusAccepted || from == StatusPending
	case StatusCancelled:
		return from != StatusCompleted && from != StatusCancelled
	default:
		return false
	}
}

// Item is one order line: a product snapshot at purchase time.
type Item struct {
	ProductID string  `dynamodbav:"product_id" json:"product_id"`
	Name      string  `dynamodbav:"name,omitempty" json:"name,omitempty"`
	FarmerID  string  `dynamodbav:"farmer_id" json:"farmer_id"`
	Quantity  int     `dynamodbav:"quantity" json:"quantity"`
	UnitPrice float64 `dynamodbav:"unit_price" json:"unit_price"`
}

// Order represents the item stored in the orders DynamoDB table.
type Order struct {
	OrderID           string     `dynamodbav:"order_id" json:"order_id"` // PK
	BuyerID           string     `dynamodbav:"buyer_id" json:"buyer_id"`
	Items             []Item     `dynamodbav:"items" json:"items"`
	Total             float64    `dynamodbav:"total" json:"total"`
	Tax               float64    `dynamodbav:"tax" json:"tax"`
	Shipping          float64    `dynamodbav:"shipping" json:"shipping"`
	Status            string     `dynamodbav:"status" json:"status"`
	PaymentStatus     string     `dynamodbav:"payment_status" json:"payment_status"`
	IsPaid            bool       `dynamodbav:"is_paid" json:"is_paid"`
	CheckoutRequestID string     `dynamodbav:"checkout_request_id,omitempty" json:"checkout_request_id,omitempty"` // gateway correlation token, GSI
	SubOrderIDs       []string   `dynamodbav:"sub_order_ids,omitempty" json:"sub_order_ids,omitempty"`
	CreatedAt         time.Time  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `dynamodbav:"updated_at" json:"updated_at"`
	PaidAt            *time.Time `dynamodbav:"paid_at,omitempty" json:"paid_at,omitempty"`
	DeliveredAt       *time.Time `dynamodbav:"delivered_at,omitempty" json:"delivered_at,omitempty"`
}

// SubOrder is the portion of an order belonging to one farmer.
// Subtotal is the sum of quantity*unit_price over its lines; tax and
// shipping stay at order level and are retained by the platform.
type SubOrder struct {
	SubOrderID string    `dynamodbav:"suborder_id" json:"suborder_id"` // PK
	OrderID    string    `dynamodbav:"order_id" json:"order_id"`       // GSI order_id-index
	FarmerID   string    `dynamodbav:"farmer_id" json:"farmer_id"`
	Items      []Item    `dynamodbav:"items" json:"items"`
	Subtotal   float64   `dynamodbav:"subtotal" json:"subtotal"`
	Status     string    `dynamodbav:"status" json:"status"` // PENDING | DELIVERED
	CreatedAt  time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt  time.Time `dynamodbav:"updated_at" json:"updated_at"`
}
