package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/pinstor/backend/internal/domain/billing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// NoopClient stands in for the settlement gateway when no RPC endpoint is
// configured. Calls are logged and answered with deterministic synthetic
// receipts so the rest of the billing pipeline behaves exactly as it does
// against a real gateway.
type NoopClient struct {
	logger *zap.Logger
	block  atomic.Uint64
}

// NewNoopClient creates a ledger client that never leaves the process
func NewNoopClient(logger *zap.Logger) *NoopClient {
	return &NoopClient{logger: logger}
}

// CommitMonthlyUsage records the call and returns a synthetic receipt
func (c *NoopClient) CommitMonthlyUsage(ctx context.Context, wallet string, year, month int, totalBytes uint64, billedAmount decimal.Decimal, hash string) (*billing.LedgerReceipt, error) {
	c.logger.Info("Noop ledger commit",
		zap.String("wallet", wallet),
		zap.Int("year", year),
		zap.Int("month", month),
		zap.Uint64("total_bytes", totalBytes),
		zap.String("billed_amount", billedAmount.String()),
	)
	return c.receipt(fmt.Sprintf("commit:%s:%d:%d:%s", wallet, year, month, hash)), nil
}

// SettlePayment records the call and returns a synthetic receipt
func (c *NoopClient) SettlePayment(ctx context.Context, wallet string, year, month int, success bool) (*billing.LedgerReceipt, error) {
	c.logger.Info("Noop ledger settle",
		zap.String("wallet", wallet),
		zap.Int("year", year),
		zap.Int("month", month),
		zap.Bool("success", success),
	)
	return c.receipt(fmt.Sprintf("settle:%s:%d:%d:%t", wallet, year, month, success)), nil
}

func (c *NoopClient) receipt(seed string) *billing.LedgerReceipt {
	sum := sha256.Sum256([]byte(seed))
	block := c.block.Add(1)
	return &billing.LedgerReceipt{
		TxID:        "0x" + hex.EncodeToString(sum[:]),
		BlockNumber: &block,
	}
}
