// Package settlement converts confirmed payments into farmer ledger
// credits and releases earnings on delivery confirmation. This is the
// only code that mutates balances together with order state, and it
// does so in single DynamoDB transactions so money is never created,
// destroyed, or double-counted.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	awsx "github.com/shambadirect/marketplace-backend/internal/aws"
	"github.com/shambadirect/marketplace-backend/internal/idempotency"
	"github.com/shambadirect/marketplace-backend/internal/ledger"
	"github.com/shambadirect/marketplace-backend/internal/orders"
)

// Settlement outcomes recorded on the idempotency marker.
const (
	OutcomeSettled       = "settled"
	OutcomeReplay        = "replay"
	OutcomePaymentFailed = "payment_failed"
)

// inProgressStaleAfter is how long an IN_PROGRESS marker is trusted. A
// worker that crashed mid-settlement leaves its marker behind; past
// this window a redelivered callback retries instead of waiting out the
// marker TTL. The order-row condition keeps the retry at-most-once.
const inProgressStaleAfter = 5 * time.Minute

var (
	// ErrMissingToken marks a callback without a correlation token.
	ErrMissingToken = errors.New("callback missing checkout request id")
	// ErrUnpaidOrder rejects delivery confirmation of an unpaid order.
	ErrUnpaidOrder = errors.New("cannot deliver unpaid order")
	// ErrAlreadyCompleted rejects a second delivery confirmation.
	ErrAlreadyCompleted = errors.New("order already completed")
)

// CallbackResult is the normalized payload of a gateway payment callback.
type CallbackResult struct {
	ResultCode        int
	ResultDesc        string
	CheckoutRequestID string
	ReceiptNumber     string
	PhoneNumber       string
}

// Success reports whether the gateway classified the payment as successful.
func (r CallbackResult) Success() bool { return r.ResultCode == 0 }

// Engine applies payment results and delivery confirmations.
type Engine struct {
	dynamo  awsx.DynamoDBAPI
	orders  *orders.Store
	ledger  *ledger.Store
	idemp   *idempotency.Store
	metrics *awsx.MetricsRecorder
	log     *logrus.Entry
	nowFunc func() time.Time
}

// NewEngine wires the stores. The engine issues the composed
// TransactWriteItems itself because it is the one caller that owns all
// table names involved.
func NewEngine(dynamo awsx.DynamoDBAPI, orderStore *orders.Store, ledgerStore *ledger.Store, idempStore *idempotency.Store, metrics *awsx.MetricsRecorder, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.WithField("component", "settlement")
	}
	return &Engine{
		dynamo:  dynamo,
		orders:  orderStore,
		ledger:  ledgerStore,
		idemp:   idempStore,
		metrics: metrics,
		log:     log,
		nowFunc: time.Now,
	}
}

// ProcessCallback settles one payment callback.
//
// Success path, all in one transaction: flip the order UNPAID -> PAID
// (the condition that makes the whole settlement at-most-once), credit
// each sub-order's farmer (total + pending), credit the system balance
// with the order total, and append the buyer's audit record. A replayed
// callback cancels on the condition and mutates nothing.
//
// Failure path: the order is marked unpaid; no ledger mutation.
func (e *Engine) ProcessCallback(ctx context.Context, result CallbackResult) error {
	if result.CheckoutRequestID == "" {
		return ErrMissingToken
	}
	log := e.log.WithField("checkout_request_id", result.CheckoutRequestID)

	order, err := e.orders.GetByCheckoutRequestID(ctx, result.CheckoutRequestID)
	if err != nil {
		return fmt.Errorf("resolve order: %w", err)
	}
	if order == nil {
		return fmt.Errorf("%w: no order for checkout request %s", orders.ErrNotFound, result.CheckoutRequestID)
	}
	log = log.WithField("order_id", order.OrderID)

	// Marker first: a DONE marker short-circuits replays before any
	// write is attempted. The order-row condition below remains the
	// authoritative guard.
	created, err := e.idemp.CreateIfNotExists(ctx, result.CheckoutRequestID, order.OrderID)
	if err != nil {
		return fmt.Errorf("idempotency marker: %w", err)
	}
	if !created {
		rec, gerr := e.idemp.Get(ctx, result.CheckoutRequestID)
		if gerr != nil {
			return fmt.Errorf("idempotency lookup: %w", gerr)
		}
		switch {
		case rec == nil:
			// marker expired between Put and Get; fall through and rely
			// on the transaction condition
		case rec.Status == idempotency.StatusDone:
			log.WithField("outcome", rec.Outcome).Info("duplicate callback, already settled")
			e.count(ctx, "SettlementReplaysSkipped")
			return nil
		case rec.Status == idempotency.StatusInProgress:
			age := e.nowFunc().UTC().Sub(rec.UpdatedAt)
			if age < inProgressStaleAfter {
				log.Info("duplicate callback, settlement in flight")
				return nil
			}
			log.WithField("marker_age", age.String()).Warn("stale in-progress marker, retrying settlement")
		}
		// StatusFailed or stale: previous attempt died, retry below.
	}

	if !result.Success() {
		if err := e.orders.MarkUnpaid(ctx, order.OrderID); err != nil {
			_ = e.idemp.MarkFailed(ctx, result.CheckoutRequestID, err.Error())
			return fmt.Errorf("record failed payment: %w", err)
		}
		log.WithFields(logrus.Fields{
			"result_code": result.ResultCode,
			"result_desc": result.ResultDesc,
		}).Info("payment failed, no ledger mutation")
		return e.idemp.MarkDone(ctx, result.CheckoutRequestID, OutcomePaymentFailed)
	}

	if order.PaymentStatus == orders.PaymentPaid {
		log.Info("order already paid, treating callback as replay")
		e.count(ctx, "SettlementReplaysSkipped")
		return e.idemp.MarkDone(ctx, result.CheckoutRequestID, OutcomeReplay)
	}

	subOrders, err := e.orders.SubOrdersByOrder(ctx, order.OrderID)
	if err != nil {
		return fmt.Errorf("load suborders: %w", err)
	}

	now := e.nowFunc().UTC()
	transactItems := []types.TransactWriteItem{e.orders.MarkPaidTx(order.OrderID, now)}
	for _, so := range subOrders {
		transactItems = append(transactItems, e.ledger.CreditFarmerTx(so.FarmerID, so.Subtotal))
	}
	transactItems = append(transactItems, e.ledger.CreditSystemTx(order.Total))

	auditTx, err := e.ledger.PutTransactionTx(ledger.Transaction{
		Actor:     order.BuyerID,
		ActorRole: "buyer",
		Direction: ledger.DirectionDebit,
		Category:  ledger.CategoryOrderPayment,
		Amount:    order.Total,
		Reference: order.OrderID,
		Metadata: map[string]string{
			"method":  "mpesa",
			"receipt": result.ReceiptNumber,
			"phone":   result.PhoneNumber,
		},
		Timestamp: now,
	})
	if err != nil {
		return err
	}
	transactItems = append(transactItems, auditTx)

	_, err = e.dynamo.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && cancelledOnCondition(tce, 0) {
			// The order flipped to PAID between our read and the write:
			// a concurrent duplicate won the race. Nothing was credited
			// here; the winner did all the crediting.
			log.Info("settlement transaction cancelled on paid-order condition, replay")
			e.count(ctx, "SettlementReplaysSkipped")
			return e.idemp.MarkDone(ctx, result.CheckoutRequestID, OutcomeReplay)
		}
		_ = e.idemp.MarkFailed(ctx, result.CheckoutRequestID, err.Error())
		return fmt.Errorf("settlement transact write: %w", err)
	}

	log.WithFields(logrus.Fields{
		"total":      order.Total,
		"sub_orders": len(subOrders),
		"receipt":    result.ReceiptNumber,
	}).Info("payment settled, farmers credited")
	e.count(ctx, "SettlementsApplied")

	return e.idemp.MarkDone(ctx, result.CheckoutRequestID, OutcomeSettled)
}

// MarkDelivered confirms delivery of a paid order: the order goes to
// COMPLETED, each sub-order to DELIVERED, and each sub-order's subtotal
// moves from the farmer's pending to available earnings.
//
// The per-farmer transfer is paired with its sub-order flip in one
// small transaction. A farmer whose pending balance cannot cover the
// subtotal is skipped with a warning instead of failing the whole
// confirmation; that is a recoverable inconsistency left for manual
// reconciliation.
func (e *Engine) MarkDelivered(ctx context.Context, orderID string) (*orders.Order, error) {
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", orders.ErrNotFound, orderID)
	}
	if order.PaymentStatus != orders.PaymentPaid {
		return nil, fmt.Errorf("%w: order %s", ErrUnpaidOrder, orderID)
	}
	if order.Status == orders.StatusCompleted {
		return nil, fmt.Errorf("%w: order %s", ErrAlreadyCompleted, orderID)
	}

	now := e.nowFunc().UTC()
	if err := e.orders.CompleteDelivery(ctx, orderID, now); err != nil {
		if errors.Is(err, orders.ErrStatusMismatch) {
			// lost the race with a concurrent confirmation
			return nil, fmt.Errorf("%w: order %s", ErrAlreadyCompleted, orderID)
		}
		return nil, err
	}

	subOrders, err := e.orders.SubOrdersByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load suborders: %w", err)
	}

	for _, so := range subOrders {
		if so.Status == orders.SubOrderDelivered {
			continue
		}
		_, err := e.dynamo.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				e.orders.SubOrderDeliveredTx(so.SubOrderID, now),
				e.ledger.ReleasePendingTx(so.FarmerID, so.Subtotal),
			},
		})
		if err != nil {
			var tce *types.TransactionCanceledException
			if errors.As(err, &tce) {
				e.log.WithFields(logrus.Fields{
					"order_id":    orderID,
					"suborder_id": so.SubOrderID,
					"farmer_id":   so.FarmerID,
					"subtotal":    so.Subtotal,
				}).Warn("earnings release skipped: pending balance insufficient or suborder already delivered")
				continue
			}
			return nil, fmt.Errorf("release earnings for suborder %s: %w", so.SubOrderID, err)
		}
	}

	order.Status = orders.StatusCompleted
	order.DeliveredAt = &now
	order.UpdatedAt = now
	e.count(ctx, "DeliveriesConfirmed")
	return order, nil
}

func (e *Engine) count(ctx context.Context, metric string) {
	if e.metrics != nil {
		e.metrics.Count(ctx, metric, 1, nil)
	}
}

// cancelledOnCondition reports whether the transact item at idx was the
// one cancelled by its condition expression.
func cancelledOnCondition(tce *types.TransactionCanceledException, idx int) bool {
	if idx >= len(tce.CancellationReasons) {
		return false
	}
	reason := tce.CancellationReasons[idx]
	return reason.Code != nil && *reason.Code == "ConditionalCheckFailed"
}
