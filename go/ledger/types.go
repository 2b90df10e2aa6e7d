package ledger

import (
	"errors"
	"time"
)

// Entry is one immutable double-entry row.
type Entry struct {
	EntryID       string
	TransactionID string
	AccountName   string
	Direction     string // DEBIT or CREDIT
	AmountCents   int64
	CreatedAt     time.Time
}

const (
	DirectionDebit  = "DEBIT"
	DirectionCredit = "CREDIT"

	AccountCustomerCash       = "customer_cash"
	AccountMerchantReceivable = "merchant_receivable"
	AccountPlatformFee        = "platform_fee"
	AccountClearing           = "clearing"
)

// TransactionSummary is the reconciliation view of one transaction.
type TransactionSummary struct {
	TransactionID string `json:"transaction_id"`
	DebitsCents   int64  `json:"debits_cents"`
	CreditsCents  int64  `json:"credits_cents"`
	Balanced      bool   `json:"balanced"`
}

var (
	// ErrLedgerImbalance aborts a posting whose entries do not balance.
	ErrLedgerImbalance = errors.New("ledger transaction does not balance")

	// ErrNotFound is returned for unknown transactions.
	ErrNotFound = errors.New("transaction not found")
)
