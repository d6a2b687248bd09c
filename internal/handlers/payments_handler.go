package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/shambadirect/marketplace-backend/internal/mpesa"
	"github.com/shambadirect/marketplace-backend/internal/orders"
	"github.com/shambadirect/marketplace-backend/internal/settlement"
)

// CallbackMessage is the payload forwarded from the callback endpoint
// to the settlement worker over SQS.
type CallbackMessage struct {
	ResultCode        int    `json:"result_code"`
	ResultDesc        string `json:"result_desc,omitempty"`
	CheckoutRequestID string `json:"checkout_request_id"`
	ReceiptNumber     string `json:"receipt_number,omitempty"`
	PhoneNumber       string `json:"phone_number,omitempty"`
	CorrelationID     string `json:"correlation_id,omitempty"`
}

// RegisterPaymentRoutes registers the public gateway callback endpoint.
//
// The endpoint returns 200 for every identifiable callback: payment
// success and payment failure are both valid terminal business
// outcomes, not transport errors. Only malformed or unidentifiable
// payloads get a non-200.
func RegisterPaymentRoutes(r *gin.Engine, cfg HandlerConfig) {
	log := logrus.WithField("component", "payments-callback")

	r.POST("/payments/callback", func(c *gin.Context) {
		ctx := c.Request.Context()

		var envelope mpesa.CallbackEnvelope
		if err := c.ShouldBindJSON(&envelope); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_callback_body"})
			return
		}
		cb := envelope.Body.StkCallback
		if cb.CheckoutRequestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_checkout_request_id"})
			return
		}

		msg := CallbackMessage{
			ResultCode:        cb.ResultCode,
			ResultDesc:        cb.ResultDesc,
			CheckoutRequestID: cb.CheckoutRequestID,
			ReceiptNumber:     envelope.MetadataValue("MpesaReceiptNumber"),
			PhoneNumber:       envelope.MetadataValue("PhoneNumber"),
			CorrelationID:     c.GetHeader("X-Request-Id"),
		}

		if cfg.Publisher != nil {
			payload, _ := json.Marshal(msg)
			attrs := map[string]string{
				"checkout_request_id": cb.CheckoutRequestID,
				"correlation_id":      msg.CorrelationID,
			}
			if err := cfg.Publisher.SendCallbackMessage(ctx, string(payload), attrs); err != nil {
				// the gateway will retry on non-200
				log.WithError(err).Error("failed to enqueue callback")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue_failed"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"message": "callback received"})
			return
		}

		// No queue configured: settle in-process.
		err := cfg.Settlement.ProcessCallback(ctx, settlement.CallbackResult{
			ResultCode:        cb.ResultCode,
			ResultDesc:        cb.ResultDesc,
			CheckoutRequestID: cb.CheckoutRequestID,
			ReceiptNumber:     msg.ReceiptNumber,
			PhoneNumber:       msg.PhoneNumber,
		})
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"message": "callback processed"})
		case errors.Is(err, orders.ErrNotFound):
			log.WithField("checkout_request_id", cb.CheckoutRequestID).Error("callback for unknown order")
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
		default:
			log.WithError(err).Error("settlement failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "settlement_failed"})
		}
	})
}
