package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// LedgerReceipt is the acknowledgment returned by the external ledger for a
// confirmed transaction. BlockNumber is nil when the ledger did not report
// inclusion yet.
type LedgerReceipt struct {
	TxID        string
	BlockNumber *uint64
}

// LedgerClient is the opaque append-only ledger the billing engine anchors
// snapshots to. Calls block until the transaction is confirmed or the
// context deadline expires; implementations own timeout and retry policy.
type LedgerClient interface {
	// CommitMonthlyUsage submits a snapshot's totals for a wallet
	CommitMonthlyUsage(ctx context.Context, wallet string, year, month int, totalBytes uint64, billedAmount decimal.Decimal, hash string) (*LedgerReceipt, error)

	// SettlePayment reconciles the payment outcome for a committed period
	SettlePayment(ctx context.Context, wallet string, year, month int, success bool) (*LedgerReceipt, error)
}
