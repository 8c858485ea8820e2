package handler

import (
	"strconv"

	"custodian/internal/service"
	"custodian/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Handler bundles every HTTP endpoint with its service dependencies.
type Handler struct {
	accountService  *service.AccountService
	depositService  *service.DepositService
	withdrawService *service.WithdrawService
	webhookService  *service.WebhookService
}

func NewHandler(accounts *service.AccountService, deposits *service.DepositService, withdrawals *service.WithdrawService, webhooks *service.WebhookService) *Handler {
	return &Handler{
		accountService:  accounts,
		depositService:  deposits,
		withdrawService: withdrawals,
		webhookService:  webhooks,
	}
}

var reasonCodes = map[service.Reason]int{
	service.ReasonInvalidAddress:          response.CodeInvalidAddress,
	service.ReasonAmountTooLow:            response.CodeAmountTooLow,
	service.ReasonAmountTooHigh:           response.CodeAmountTooHigh,
	service.ReasonRateLimit:               response.CodeRateLimit,
	service.ReasonPriceUnavailable:        response.CodePriceUnavailable,
	service.ReasonInsufficientBalance:     response.CodeInsufficientBalance,
	service.ReasonWalletInsufficientFunds: response.CodeWalletInsufficientFunds,
	service.ReasonTransactionFailed:       response.CodeTransactionFailed,
	service.ReasonNoCreditableAmount:      response.CodeNoCreditableAmount,
	service.ReasonInsufficientPoints:      response.CodeInsufficientPoints,
	service.ReasonWeeklyCapReached:        response.CodeWeeklyCapReached,
}

// writeError maps an expected money-movement failure to its business code
// and everything else to a 500-style envelope.
func writeError(c *gin.Context, err error) {
	if moneyErr, ok := service.AsMoneyError(err); ok {
		code, found := reasonCodes[moneyErr.Reason]
		if !found {
			code = response.CodeBusinessError
		}
		response.Error(c, code, string(moneyErr.Reason), moneyErr.Message)
		return
	}
	response.ServerError(c, err.Error())
}

func userIDQuery(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "invalid user_id")
		return 0, false
	}
	return userID, true
}

// ============================================================
// Account endpoints
// ============================================================

// GetBalance returns the custodial balance and points of one user.
// GET /api/v1/account/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := userIDQuery(c)
	if !ok {
		return
	}

	account, err := h.accountService.GetAccount(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id": account.UserID,
		"balance": account.Balance,
		"points":  account.Points,
	})
}

// ListTransactions returns the most recent ledger entries of one user.
// GET /api/v1/account/transactions?user_id=xxx&limit=20
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := userIDQuery(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	transactions, err := h.accountService.ListTransactions(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"list": transactions})
}

// ExchangePointsRequest converts activity points into balance.
type ExchangePointsRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
	Points int64 `json:"points" binding:"required,gt=0"`
}

// ExchangePoints converts points into USD balance, capped per ISO week.
// POST /api/v1/account/exchange
func (h *Handler) ExchangePoints(c *gin.Context) {
	var req ExchangePointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	credited, err := h.accountService.ExchangePoints(c.Request.Context(), req.UserID, req.Points)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"points":   req.Points,
		"credited": credited,
	})
}

// ============================================================
// Deposit endpoints
// ============================================================

// CreateDepositRequest opens a new deposit intent.
type CreateDepositRequest struct {
	UserID    int64           `json:"user_id" binding:"required"`
	AmountUSD decimal.Decimal `json:"amount_usd" binding:"required"`
}

// CreateDeposit quotes the exact asset amount the user must transfer.
// POST /api/v1/deposit/create
func (h *Handler) CreateDeposit(c *gin.Context) {
	var req CreateDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	if req.AmountUSD.LessThanOrEqual(decimal.Zero) {
		response.ParamError(c, "amount_usd must be positive")
		return
	}

	intent, err := h.depositService.CreateIntent(c.Request.Context(), req.UserID, req.AmountUSD)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"intent_id":      intent.IntentID,
		"expected_asset": intent.ExpectedAsset,
		"expected_usd":   intent.ExpectedUSD,
		"expires_at":     intent.ExpiresAt,
	})
}

// ListDeposits returns a user's recent deposit intents.
// GET /api/v1/deposit/list?user_id=xxx&limit=20
func (h *Handler) ListDeposits(c *gin.Context) {
	userID, ok := userIDQuery(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	intents, err := h.depositService.ListIntents(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"list": intents})
}

// ============================================================
// Withdrawal endpoints
// ============================================================

// WithdrawRequest debits the balance and pays out on chain.
type WithdrawRequest struct {
	UserID      int64           `json:"user_id" binding:"required"`
	AmountUSD   decimal.Decimal `json:"amount_usd" binding:"required"`
	Destination string          `json:"destination" binding:"required"`
}

// Withdraw executes a full withdrawal: debit, submit, confirm.
// POST /api/v1/withdraw/execute
func (h *Handler) Withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.withdrawService.Withdraw(c.Request.Context(), req.UserID, req.AmountUSD, req.Destination)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// ListWithdrawals returns a user's recent withdrawals.
// GET /api/v1/withdraw/list?user_id=xxx&limit=20
func (h *Handler) ListWithdrawals(c *gin.Context) {
	userID, ok := userIDQuery(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	withdrawals, err := h.withdrawService.ListWithdrawals(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"list": withdrawals})
}

// ============================================================
// Payment processor webhook
// ============================================================

// PaymentCallback ingests a payment processor delivery. Always answers 200
// with accepted=true unless the payload itself is unusable, so the processor
// only retries deliveries we could never process.
// POST /api/v1/webhook/payment
func (h *Handler) PaymentCallback(c *gin.Context) {
	var payload service.CallbackPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.ParamError(c, "invalid payload: "+err.Error())
		return
	}

	result, err := h.webhookService.HandleCallback(c.Request.Context(), &payload)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"accepted":  result.Accepted,
		"duplicate": result.Duplicate,
		"credited":  result.Credited,
	})
}
