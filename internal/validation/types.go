package validation

// OrderItem represents a single order line item as submitted by the buyer.
type OrderItem struct {
	ProductID string  `json:"product_id" validate:"required"`      // catalog reference
	Quantity  int     `json:"quantity" validate:"required,min=1"`  // must be >= 1
	UnitPrice float64 `json:"unit_price" validate:"required,gt=0"` // client's price snapshot
}

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	PhoneNumber string      `json:"phone_number" validate:"required"`     // payer's M-Pesa number
	Items       []OrderItem `json:"items" validate:"required,min=1,dive"` // at least one item
	Tax         float64     `json:"tax" validate:"gte=0"`
	Shipping    float64     `json:"shipping" validate:"gte=0"`
	Total       float64     `json:"total" validate:"required,gt=0"`       // total amount client claims
}

// WithdrawalRequest is the payload for POST /withdrawals
type WithdrawalRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

// WithdrawalDecisionRequest is the payload for POST /withdrawals/:id/decision
type WithdrawalDecisionRequest struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
}
