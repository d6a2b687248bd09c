package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	awsx "github.com/shambadirect/marketplace-backend/internal/aws"
	"github.com/shambadirect/marketplace-backend/internal/ledger"
)

// Errors surfaced by the service.
var (
	ErrNotFound                  = errors.New("withdrawal not found")
	ErrInvalidAmount             = errors.New("withdrawal amount must be positive")
	ErrInsufficientFunds         = errors.New("insufficient available earnings")
	ErrAlreadyProcessed          = errors.New("withdrawal already processed")
	ErrInsufficientFarmerBalance = errors.New("farmer has insufficient available earnings")
	ErrInsufficientSystemBalance = errors.New("system has insufficient funds")
	ErrUnknownAction             = errors.New("unknown decision action")
)

// Service validates withdrawal requests and applies admin decisions.
type Service struct {
	dynamo  awsx.DynamoDBAPI
	store   *Store
	ledger  *ledger.Store
	metrics *awsx.MetricsRecorder
	log     *logrus.Entry
	nowFunc func() time.Time
	idFunc  func() string
}

// NewService wires the withdrawal store and the ledger.
func NewService(dynamo awsx.DynamoDBAPI, store *Store, ledgerStore *ledger.Store, metrics *awsx.MetricsRecorder, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.WithField("component", "withdrawals")
	}
	return &Service{
		dynamo:  dynamo,
		store:   store,
		ledger:  ledgerStore,
		metrics: metrics,
		log:     log,
		nowFunc: time.Now,
		idFunc:  uuid.NewString,
	}
}

// Request creates a pending withdrawal for amount <= the farmer's
// available earnings. The check here is advisory (the balance can move
// before approval); the approval transaction re-validates with
// condition expressions.
func (s *Service) Request(ctx context.Context, farmerID string, amount float64) (*Withdrawal, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	acct, err := s.ledger.GetFarmerAccount(ctx, farmerID)
	if err != nil {
		return nil, err
	}
	if amount > acct.AvailableEarnings {
		return nil, fmt.Errorf("%w: requested %.2f, available %.2f", ErrInsufficientFunds, amount, acct.AvailableEarnings)
	}

	w := Withdrawal{
		WithdrawalID: s.idFunc(),
		FarmerID:     farmerID,
		Amount:       amount,
		Status:       StatusPending,
		RequestedAt:  s.nowFunc().UTC(),
	}
	if err := s.store.Create(ctx, w); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"withdrawal_id": w.WithdrawalID,
		"farmer_id":     farmerID,
		"amount":        amount,
	}).Info("withdrawal requested")
	return &w, nil
}

// Decide applies an admin decision to a pending withdrawal.
//
// Approval is one transaction: withdrawal PENDING -> APPROVED, farmer
// available -> paid, system balance debit, audit record. Any condition
// failing cancels the whole write, so a withdrawal can never flip to
// approved without the balances moving with it.
func (s *Service) Decide(ctx context.Context, withdrawalID, action string) (*Withdrawal, error) {
	w, err := s.store.Get(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, withdrawalID)
	}
	if w.Status != StatusPending {
		return nil, fmt.Errorf("%w: status %s", ErrAlreadyProcessed, w.Status)
	}

	now := s.nowFunc().UTC()
	switch action {
	case ActionReject:
		if err := s.store.Reject(ctx, withdrawalID, now); err != nil {
			if errors.Is(err, ErrNotPending) {
				return nil, fmt.Errorf("%w: decided concurrently", ErrAlreadyProcessed)
			}
			return nil, err
		}
		w.Status = StatusRejected

	case ActionApprove:
		auditTx, err := s.ledger.PutTransactionTx(ledger.Transaction{
			Actor:     w.FarmerID,
			ActorRole: "farmer",
			Direction: ledger.DirectionCredit,
			Category:  ledger.CategoryWithdrawalPayout,
			Amount:    w.Amount,
			Reference: w.WithdrawalID,
			Timestamp: now,
		})
		if err != nil {
			return nil, err
		}

		// Item order matters: cancellation reasons are positional and
		// mapped to typed errors below.
		_, err = s.dynamo.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				s.store.ApproveTx(withdrawalID, now),
				s.ledger.PayOutTx(w.FarmerID, w.Amount),
				s.ledger.DebitSystemTx(w.Amount),
				auditTx,
			},
		})
		if err != nil {
			var tce *types.TransactionCanceledException
			if errors.As(err, &tce) {
				switch failedConditionIndex(tce) {
				case 0:
					return nil, fmt.Errorf("%w: decided concurrently", ErrAlreadyProcessed)
				case 1:
					return nil, ErrInsufficientFarmerBalance
				case 2:
					return nil, ErrInsufficientSystemBalance
				}
			}
			return nil, fmt.Errorf("approve transact write: %w", err)
		}
		w.Status = StatusApproved
		if s.metrics != nil {
			s.metrics.Count(ctx, "WithdrawalsApproved", 1, nil)
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	w.DecidedAt = &now
	s.log.WithFields(logrus.Fields{
		"withdrawal_id": withdrawalID,
		"farmer_id":     w.FarmerID,
		"amount":        w.Amount,
		"status":        w.Status,
	}).Info("withdrawal decided")
	return w, nil
}

// History returns a farmer's withdrawals.
func (s *Service) History(ctx context.Context, farmerID string) ([]Withdrawal, error) {
	return s.store.ByFarmer(ctx, farmerID)
}

// failedConditionIndex returns the index of the first transact item
// cancelled by its condition, or -1.
func failedConditionIndex(tce *types.TransactionCanceledException) int {
	for i, reason := range tce.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return i
		}
	}
	return -1
}
