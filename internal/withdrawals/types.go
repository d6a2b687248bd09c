package withdrawals

import "time"

// Withdrawal statuses. APPROVED and REJECTED are terminal.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

// Decision actions.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Withdrawal is a farmer's request to move available earnings out of
// the platform, subject to admin approval.
type Withdrawal struct {
	WithdrawalID string     `dynamodbav:"withdrawal_id" json:"withdrawal_id"` // PK
	FarmerID     string     `dynamodbav:"farmer_id" json:"farmer_id"`         // GSI farmer_id-index
	Amount       float64    `dynamodbav:"amount" json:"amount"`
	Status       string     `dynamodbav:"status" json:"status"`
	RequestedAt  time.Time  `dynamodbav:"requested_at" json:"requested_at"`
	DecidedAt    *time.Time `dynamodbav:"decided_at,omitempty" json:"decided_at,omitempty"`
}
