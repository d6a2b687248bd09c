package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterAccountsRoutes registers the farmer account balance endpoint.
func RegisterAccountsRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.GET("/farmers/me/account", RequireRole(cfg.Auth, RoleFarmer), func(c *gin.Context) {
		id := identityFrom(c)

		account, err := cfg.Ledger.GetFarmerAccount(c.Request.Context(), id.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "account_lookup_failed", "msg": err.Error()})
			return
		}

		history, err := cfg.Withdrawals.History(c.Request.Context(), id.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "withdrawal_history_failed", "msg": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"account": account, "withdrawals": history})
	})
}
