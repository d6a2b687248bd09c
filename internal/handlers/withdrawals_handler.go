package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shambadirect/marketplace-backend/internal/validation"
	"github.com/shambadirect/marketplace-backend/internal/withdrawals"
)

// RegisterWithdrawalsRoutes registers withdrawal request and decision endpoints.
func RegisterWithdrawalsRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	r.POST("/withdrawals", RequireRole(cfg.Auth, RoleFarmer), func(c *gin.Context) {
		id := identityFrom(c)

		var req validation.WithdrawalRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		w, err := cfg.Withdrawals.Request(c.Request.Context(), id.UserID, req.Amount)
		switch {
		case err == nil:
			c.JSON(http.StatusCreated, gin.H{"message": "withdrawal request submitted", "withdrawal": w})
		case errors.Is(err, withdrawals.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "msg": err.Error()})
		case errors.Is(err, withdrawals.ErrInsufficientFunds):
			c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient_funds", "msg": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "withdrawal_request_failed", "msg": err.Error()})
		}
	})

	r.POST("/withdrawals/:id/decision", RequireRole(cfg.Auth, RoleAdmin), func(c *gin.Context) {
		var req validation.WithdrawalDecisionRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		w, err := cfg.Withdrawals.Decide(c.Request.Context(), c.Param("id"), req.Action)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"withdrawal": w})
		case errors.Is(err, withdrawals.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "withdrawal_not_found"})
		case errors.Is(err, withdrawals.ErrAlreadyProcessed):
			c.JSON(http.StatusConflict, gin.H{"error": "withdrawal_already_processed", "msg": err.Error()})
		case errors.Is(err, withdrawals.ErrInsufficientFarmerBalance):
			c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient_farmer_balance", "msg": err.Error()})
		case errors.Is(err, withdrawals.ErrInsufficientSystemBalance):
			c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient_system_balance", "msg": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "withdrawal_decision_failed", "msg": err.Error()})
		}
	})
}
