package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess     = 0
	CodeParamError  = 400
	CodeServerError = 500
)

// Business codes, one per machine-readable money-movement reason.
const (
	CodeInvalidAddress          = 1001
	CodeAmountTooLow            = 1002
	CodeAmountTooHigh           = 1003
	CodeRateLimit               = 1004
	CodePriceUnavailable        = 1005
	CodeInsufficientBalance     = 1006
	CodeWalletInsufficientFunds = 1007
	CodeTransactionFailed       = 1008
	CodeNoCreditableAmount      = 1009
	CodeInsufficientPoints      = 1010
	CodeWeeklyCapReached        = 1011
	CodeBusinessError           = 1999
)

type Response struct {
	Code    int         `json:"code"`
	Reason  string      `json:"reason,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, reason, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Reason:  reason,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, "bad_request", message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, "internal_error", message)
}
