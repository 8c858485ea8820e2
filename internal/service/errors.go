package service

import (
	"errors"
	"fmt"
)

// Reason is the machine-readable code attached to every expected
// money-movement failure. Handlers and the bot map these to user-facing
// responses; anything without a Reason is an internal error.
type Reason string

const (
	ReasonInvalidAddress          Reason = "invalid_address"
	ReasonAmountTooLow            Reason = "amount_too_low"
	ReasonAmountTooHigh           Reason = "amount_too_high"
	ReasonRateLimit               Reason = "rate_limit"
	ReasonPriceUnavailable        Reason = "price_unavailable"
	ReasonInsufficientBalance     Reason = "insufficient_balance"
	ReasonWalletInsufficientFunds Reason = "wallet_insufficient_funds"
	ReasonTransactionFailed       Reason = "transaction_failed"
	ReasonNoCreditableAmount      Reason = "no_creditable_amount"
	ReasonInsufficientPoints      Reason = "insufficient_points"
	ReasonWeeklyCapReached        Reason = "weekly_cap_reached"
)

// MoneyError is an expected, user-reportable failure of a money-movement
// operation. The operation it came from performed no partial mutation.
type MoneyError struct {
	Reason  Reason
	Message string
}

func (e *MoneyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func NewMoneyError(reason Reason, format string, args ...interface{}) *MoneyError {
	return &MoneyError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// AsMoneyError unwraps err into a MoneyError if it is one.
func AsMoneyError(err error) (*MoneyError, bool) {
	var me *MoneyError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}
