package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shambadirect/marketplace-backend/internal/aws"
	"github.com/shambadirect/marketplace-backend/internal/ledger"
	"github.com/shambadirect/marketplace-backend/internal/mpesa"
	"github.com/shambadirect/marketplace-backend/internal/orders"
	"github.com/shambadirect/marketplace-backend/internal/settlement"
	"github.com/shambadirect/marketplace-backend/internal/validation"
	"github.com/shambadirect/marketplace-backend/internal/withdrawals"
)

// HandlerConfig groups dependencies for the API handlers.
type HandlerConfig struct {
	Orders      *orders.Service
	Settlement  *settlement.Engine
	Withdrawals *withdrawals.Service
	Ledger      *ledger.Store
	Auth        Authenticator
	Publisher   *aws.Publisher // nil -> callbacks are settled synchronously
	Metrics     *aws.MetricsRecorder
}

// RegisterOrdersRoutes registers the order endpoints.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	r.POST("/orders", RequireRole(cfg.Auth, RoleBuyer), func(c *gin.Context) {
		ctx := c.Request.Context()
		id := identityFrom(c)

		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		in := orders.CreateOrderInput{
			BuyerID:     id.UserID,
			PhoneNumber: req.PhoneNumber,
			Tax:         req.Tax,
			Shipping:    req.Shipping,
		}
		for _, it := range req.Items {
			in.Items = append(in.Items, orders.CartItem{ProductID: it.ProductID, Quantity: it.Quantity})
		}

		order, err := cfg.Orders.Create(ctx, in)
		switch {
		case err == nil:
			if cfg.Metrics != nil {
				cfg.Metrics.Count(ctx, "OrdersCreated", 1, nil)
			}
			c.JSON(http.StatusCreated, gin.H{
				"order":               order,
				"checkout_request_id": order.CheckoutRequestID,
			})
		case errors.Is(err, orders.ErrProductNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found", "msg": err.Error()})
		case errors.Is(err, orders.ErrInsufficientStock):
			c.JSON(http.StatusConflict, gin.H{"error": "insufficient_stock", "msg": err.Error()})
		case errors.Is(err, mpesa.ErrInvalidPhoneNumber), errors.Is(err, mpesa.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payment_details", "msg": err.Error()})
		case errors.Is(err, orders.ErrPaymentInitiationFailed):
			// the order was kept in pending/unpaid; the client may retry
			resp := gin.H{"error": "payment_initiation_failed", "msg": err.Error()}
			if order != nil {
				resp["order_id"] = order.OrderID
			}
			c.JSON(http.StatusBadGateway, resp)
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "order_creation_failed", "msg": err.Error()})
		}
	})

	r.GET("/orders/:id", RequireRole(cfg.Auth, RoleBuyer, RoleFarmer, RoleAdmin), func(c *gin.Context) {
		id := identityFrom(c)
		order, subOrders, err := cfg.Orders.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, orders.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "order_lookup_failed", "msg": err.Error()})
			return
		}
		if id.Role == RoleBuyer && order.BuyerID != id.UserID {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": order, "sub_orders": subOrders})
	})

	r.PUT("/orders/:id/accept", RequireRole(cfg.Auth, RoleFarmer, RoleAdmin), func(c *gin.Context) {
		advanceOrder(c, cfg, cfg.Orders.Accept)
	})

	r.PUT("/orders/:id/ship", RequireRole(cfg.Auth, RoleFarmer, RoleAdmin), func(c *gin.Context) {
		advanceOrder(c, cfg, cfg.Orders.Ship)
	})

	r.PATCH("/orders/:id/deliver", RequireRole(cfg.Auth, RoleAdmin), func(c *gin.Context) {
		order, err := cfg.Settlement.MarkDelivered(c.Request.Context(), c.Param("id"))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"order": order})
		case errors.Is(err, orders.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
		case errors.Is(err, settlement.ErrUnpaidOrder):
			c.JSON(http.StatusConflict, gin.H{"error": "order_not_paid", "msg": err.Error()})
		case errors.Is(err, settlement.ErrAlreadyCompleted):
			c.JSON(http.StatusConflict, gin.H{"error": "order_already_completed", "msg": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "delivery_confirmation_failed", "msg": err.Error()})
		}
	})
}

func advanceOrder(c *gin.Context, cfg HandlerConfig, advance func(ctx context.Context, orderID string) error) {
	err := advance(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "order updated"})
	case errors.Is(err, orders.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
	case errors.Is(err, orders.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "msg": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order_update_failed", "msg": err.Error()})
	}
}
