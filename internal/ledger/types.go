package ledger

import "time"

// SystemAccountID is the well-known key of the singleton platform
// account in the accounts table.
const SystemAccountID = "SYSTEM"

// Transaction directions.
const (
	DirectionCredit = "CREDIT"
	DirectionDebit  = "DEBIT"
)

// Transaction categories.
const (
	CategoryOrderPayment     = "ORDER_PAYMENT"
	CategoryWithdrawalPayout = "WITHDRAWAL_PAYOUT"
	CategoryRefund           = "REFUND"
)

// FarmerAccount holds a farmer's earning buckets. The invariant
// total == pending + available + paid holds at all times: settlement
// adds to total+pending, delivery moves pending->available, withdrawal
// approval moves available->paid. Nothing else touches the buckets.
type FarmerAccount struct {
	AccountID         string    `dynamodbav:"account_id" json:"account_id"` // farmer ID, PK
	TotalEarnings     float64   `dynamodbav:"total_earnings" json:"total_earnings"`
	PendingEarnings   float64   `dynamodbav:"pending_earnings" json:"pending_earnings"`
	AvailableEarnings float64   `dynamodbav:"available_earnings" json:"available_earnings"`
	PaidEarnings      float64   `dynamodbav:"paid_earnings" json:"paid_earnings"`
	UpdatedAt         time.Time `dynamodbav:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// SystemAccount is the platform's pooled custody of buyer funds not yet
// disbursed to farmers.
type SystemAccount struct {
	AccountID string  `dynamodbav:"account_id" json:"account_id"` // always SYSTEM
	Balance   float64 `dynamodbav:"balance" json:"balance"`
}

// Transaction is an immutable audit entry. Never updated or deleted.
type Transaction struct {
	TransactionID string            `dynamodbav:"transaction_id" json:"transaction_id"` // PK
	Actor         string            `dynamodbav:"actor" json:"actor"`                   // user ID
	ActorRole     string            `dynamodbav:"actor_role" json:"actor_role"`         // buyer | farmer | admin
	Direction     string            `dynamodbav:"direction" json:"direction"`           // CREDIT | DEBIT
	Category      string            `dynamodbav:"category" json:"category"`
	Amount        float64           `dynamodbav:"amount" json:"amount"`
	Reference     string            `dynamodbav:"reference,omitempty" json:"reference,omitempty"` // e.g. order or withdrawal ID
	Metadata      map[string]string `dynamodbav:"metadata,omitempty" json:"metadata,omitempty"`
	Timestamp     time.Time         `dynamodbav:"timestamp" json:"timestamp"`
}
