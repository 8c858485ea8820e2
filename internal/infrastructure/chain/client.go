package chain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TxStatus is the observed state of a submitted transfer.
type TxStatus int

const (
	TxStatusUnknown TxStatus = iota
	TxStatusPending
	TxStatusConfirmed
	TxStatusFailed
)

// InboundTransfer is one observed transfer into the custodial wallet.
type InboundTransfer struct {
	Ref    string // settlement transaction reference
	Amount decimal.Decimal
	Time   time.Time
}

// Client is the settlement network as seen by the core: an untrusted,
// possibly slow, possibly inconsistent oracle. Callers never assume immediate
// consistency; deposit matching and withdrawal confirmation both tolerate
// lag and re-reads.
type Client interface {
	// GetBalance returns the custodial wallet's on-chain balance in asset units.
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
	// GetRecentInbound lists recent transfers into the given address, newest first.
	GetRecentInbound(ctx context.Context, address string, limit int) ([]InboundTransfer, error)
	// SubmitTransfer signs and broadcasts an outbound transfer with the
	// custodial key, returning the transaction reference.
	SubmitTransfer(ctx context.Context, to string, amount decimal.Decimal) (string, error)
	// GetTransactionStatus looks up a previously submitted transfer.
	GetTransactionStatus(ctx context.Context, ref string) (TxStatus, error)
	// ValidateAddress reports whether the string parses as a well-formed
	// address for this network.
	ValidateAddress(address string) bool
}
