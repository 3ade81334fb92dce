package billing

import (
	"context"

	"github.com/pinstor/backend/internal/domain/billing"
	"github.com/pinstor/backend/internal/domain/shared"
	"github.com/pinstor/backend/internal/domain/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CommitOutcome is the terminal state of one user's ledger commit attempt
type CommitOutcome string

const (
	// OutcomeCommitted means the snapshot was anchored and the receipt stored
	OutcomeCommitted CommitOutcome = "committed"
	// OutcomeSkippedNoWallet means the user has no settlement identity;
	// the snapshot exists but no ledger call was made
	OutcomeSkippedNoWallet CommitOutcome = "skipped_no_wallet"
	// OutcomeSkippedZeroBytes means the period total was zero; the snapshot
	// exists but no ledger call was made
	OutcomeSkippedZeroBytes CommitOutcome = "skipped_zero_bytes"
)

// LedgerCommitter submits finished snapshots to the external ledger and
// records the resulting receipt on the snapshot.
type LedgerCommitter struct {
	ledger       billing.LedgerClient
	snapshotRepo billing.SnapshotRepository
	logger       *zap.Logger
}

// NewLedgerCommitter creates a new ledger committer
func NewLedgerCommitter(ledger billing.LedgerClient, snapshotRepo billing.SnapshotRepository, logger *zap.Logger) *LedgerCommitter {
	return &LedgerCommitter{
		ledger:       ledger,
		snapshotRepo: snapshotRepo,
		logger:       logger,
	}
}

// Commit anchors the snapshot to the ledger. Users without a settlement
// identity and periods with zero bytes are valid terminal skip states; no
// ledger interaction happens for them.
func (c *LedgerCommitter) Commit(ctx context.Context, user *storage.User, snapshot *billing.UsageSnapshot) (CommitOutcome, *billing.LedgerReceipt, error) {
	if user == nil || snapshot == nil {
		return "", nil, shared.NewValidationError("User and snapshot are required")
	}

	if !user.HasWallet() {
		c.logger.Warn("User has no wallet address; snapshot only, skipping ledger commit",
			zap.String("user_id", user.ID.String()),
			zap.Int("year", snapshot.Year),
			zap.Int("month", snapshot.Month))
		return OutcomeSkippedNoWallet, nil, nil
	}

	if snapshot.TotalBytes == 0 {
		c.logger.Info("User has zero bytes this period; skipping ledger commit",
			zap.String("user_id", user.ID.String()),
			zap.Int("year", snapshot.Year),
			zap.Int("month", snapshot.Month))
		return OutcomeSkippedZeroBytes, nil, nil
	}

	receipt, err := c.ledger.CommitMonthlyUsage(ctx, user.Wallet.String(),
		snapshot.Year, snapshot.Month, snapshot.TotalBytes, snapshot.BilledAmount, snapshot.Hash)
	if err != nil {
		return "", nil, shared.NewDependencyError("Ledger commit failed", err)
	}

	if err := c.snapshotRepo.RecordCommit(ctx, snapshot.ID, receipt.TxID, receipt.BlockNumber); err != nil {
		return "", nil, shared.NewDependencyError("Failed to record ledger receipt", err)
	}

	c.logger.Info("Committed monthly usage to ledger",
		zap.String("wallet", user.Wallet.String()),
		zap.Uint64("total_bytes", snapshot.TotalBytes),
		zap.String("tx_id", receipt.TxID))

	return OutcomeCommitted, receipt, nil
}

// SettlementReconciler reconciles a payment-settlement outcome against the
// stored snapshot.
type SettlementReconciler struct {
	ledger       billing.LedgerClient
	snapshotRepo billing.SnapshotRepository
	logger       *zap.Logger
}

// NewSettlementReconciler creates a new settlement reconciler
func NewSettlementReconciler(ledger billing.LedgerClient, snapshotRepo billing.SnapshotRepository, logger *zap.Logger) *SettlementReconciler {
	return &SettlementReconciler{
		ledger:       ledger,
		snapshotRepo: snapshotRepo,
		logger:       logger,
	}
}

// Settle submits the payment outcome to the ledger and records it on the
// snapshot. Requires an existing snapshot for (user, year, month); fails
// with NOT_FOUND and performs no ledger call otherwise.
func (r *SettlementReconciler) Settle(ctx context.Context, user *storage.User, year, month int, success bool) (*billing.LedgerReceipt, error) {
	if user == nil || user.ID == uuid.Nil {
		return nil, shared.NewValidationError("User is required")
	}
	if !user.HasWallet() {
		return nil, shared.NewValidationError("User has no settlement identity")
	}

	snapshot, err := r.snapshotRepo.FindByUserAndPeriod(ctx, user.ID, year, month)
	if err != nil {
		return nil, shared.NewDependencyError("Failed to load usage snapshot", err)
	}
	if snapshot == nil {
		return nil, shared.NewNotFoundError("No usage snapshot exists for this user and period")
	}

	receipt, err := r.ledger.SettlePayment(ctx, user.Wallet.String(), year, month, success)
	if err != nil {
		return nil, shared.NewDependencyError("Ledger settlement failed", err)
	}

	if err := r.snapshotRepo.RecordSettlement(ctx, snapshot.ID, success, receipt.TxID, receipt.BlockNumber); err != nil {
		return nil, shared.NewDependencyError("Failed to record settlement", err)
	}

	r.logger.Info("Settled payment on ledger",
		zap.String("wallet", user.Wallet.String()),
		zap.Int("year", year),
		zap.Int("month", month),
		zap.Bool("success", success),
		zap.String("tx_id", receipt.TxID))

	return receipt, nil
}
