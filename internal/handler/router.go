package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter wires the HTTP surface: account, deposit, withdrawal and the
// payment processor webhook.
func SetupRouter(h *Handler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.GET("/transactions", h.ListTransactions)
			account.POST("/exchange", h.ExchangePoints)
		}

		deposit := api.Group("/deposit")
		{
			deposit.POST("/create", h.CreateDeposit)
			deposit.GET("/list", h.ListDeposits)
		}

		withdraw := api.Group("/withdraw")
		{
			withdraw.POST("/execute", h.Withdraw)
			withdraw.GET("/list", h.ListWithdrawals)
		}

		webhook := api.Group("/webhook")
		{
			webhook.POST("/payment", h.PaymentCallback)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
