package idempotency

import "time"

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Record is the shape persisted in the idempotency DynamoDB table.
// The key is the gateway's checkout request ID, so the same callback
// delivered twice (gateway retry, SQS redelivery) maps to one record.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK, checkout request ID
	Status         string    `dynamodbav:"status"`
	OrderID        string    `dynamodbav:"order_id,omitempty"`
	Outcome        string    `dynamodbav:"outcome,omitempty"` // settled | replay | payment_failed
	Note           string    `dynamodbav:"note,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}
