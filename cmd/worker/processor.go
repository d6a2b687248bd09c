package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	awsx "github.com/shambadirect/marketplace-backend/internal/aws"
	"github.com/shambadirect/marketplace-backend/internal/handlers"
	"github.com/shambadirect/marketplace-backend/internal/idempotency"
	"github.com/shambadirect/marketplace-backend/internal/ledger"
	"github.com/shambadirect/marketplace-backend/internal/orders"
	"github.com/shambadirect/marketplace-backend/internal/settlement"
)

// Processor consumes payment-callback messages and applies settlement.
type Processor struct {
	engine *settlement.Engine
	log    *logrus.Entry
}

// NewProcessor wires the settlement engine from AWS clients and table names.
func NewProcessor(clients *awsx.AWSClients, log *logrus.Entry) *Processor {
	ordersStore := orders.NewStore(clients.DynamoDB, os.Getenv("ORDERS_TABLE"), os.Getenv("SUBORDERS_TABLE"))
	ledgerStore := ledger.NewStore(clients.DynamoDB, os.Getenv("ACCOUNTS_TABLE"), os.Getenv("TRANSACTIONS_TABLE"))
	idempStore := idempotency.NewStore(clients.DynamoDB, os.Getenv("IDEMPOTENCY_TABLE"), 48*time.Hour)
	metrics := awsx.NewMetricsRecorder(clients.CloudWatch)

	return &Processor{
		engine: settlement.NewEngine(clients.DynamoDB, ordersStore, ledgerStore, idempStore, metrics, log),
		log:    log,
	}
}

func newProcessorWithEngine(engine *settlement.Engine, log *logrus.Entry) *Processor {
	return &Processor{engine: engine, log: log}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			p.log.WithError(err).Error("worker error")
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg handlers.CallbackMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	log := p.log.WithFields(logrus.Fields{
		"checkout_request_id": msg.CheckoutRequestID,
		"correlation_id":      msg.CorrelationID,
	})
	log.Info("processing payment callback")

	err := p.engine.ProcessCallback(ctx, settlement.CallbackResult{
		ResultCode:        msg.ResultCode,
		ResultDesc:        msg.ResultDesc,
		CheckoutRequestID: msg.CheckoutRequestID,
		ReceiptNumber:     msg.ReceiptNumber,
		PhoneNumber:       msg.PhoneNumber,
	})
	if errors.Is(err, orders.ErrNotFound) {
		// No order matches this token. Retrying will not help; let the
		// message exhaust its receive count and land in the DLQ.
		return fmt.Errorf("no order for checkout request %s: %w", msg.CheckoutRequestID, err)
	}
	return err
}
