package billing

import (
	"context"
	"time"

	"github.com/pinstor/backend/internal/domain/billing"
	"github.com/pinstor/backend/internal/domain/shared"
	"github.com/pinstor/backend/internal/domain/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserBillingState is the per-user position in the batch pipeline
type UserBillingState string

const (
	StatePending          UserBillingState = "pending"
	StateAggregated       UserBillingState = "aggregated"
	StateSnapshotWritten  UserBillingState = "snapshot_written"
	StateSkippedNoWallet  UserBillingState = "skipped_no_wallet"
	StateSkippedZeroBytes UserBillingState = "skipped_zero_bytes"
	StateCommitted        UserBillingState = "committed"
	StateFailed           UserBillingState = "failed"
)

// UserBillingResult records the terminal state of one user in a batch run.
// Error is set only for StateFailed and names the step that failed via the
// state the user last reached.
type UserBillingResult struct {
	UserID     uuid.UUID        `json:"user_id"`
	Wallet     *string          `json:"wallet,omitempty"`
	State      UserBillingState `json:"state"`
	TotalBytes uint64           `json:"total_bytes"`
	TxID       *string          `json:"tx_id,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// BatchReport is the partial-success report of a full batch run
type BatchReport struct {
	Year       int                 `json:"year"`
	Month      int                 `json:"month"`
	Start      time.Time           `json:"start"`
	End        time.Time           `json:"end"`
	TotalUsers int                 `json:"total_users"`
	Committed  int                 `json:"committed"`
	Skipped    int                 `json:"skipped"`
	Failed     int                 `json:"failed"`
	Results    []UserBillingResult `json:"results"`
}

// BillingBatchRunner drives the monthly pipeline across all users:
// resolve period, aggregate, store snapshot, commit to ledger. Execution is
// strictly sequential, which bounds ledger RPC concurrency to one in flight.
// One user's failure never halts the batch; re-running the batch for the
// same period is the recovery mechanism and is safe because the snapshot
// upsert is idempotent.
type BillingBatchRunner struct {
	userRepo        storage.UserRepository
	aggregator      *UsageAggregator
	snapshotService *SnapshotService
	committer       *LedgerCommitter
	locker          PeriodLocker
	anchor          billing.PeriodAnchor
	logger          *zap.Logger
	now             func() time.Time
}

// NewBillingBatchRunner creates a new batch runner. A nil now defaults to
// time.Now.
func NewBillingBatchRunner(
	userRepo storage.UserRepository,
	aggregator *UsageAggregator,
	snapshotService *SnapshotService,
	committer *LedgerCommitter,
	locker PeriodLocker,
	anchor billing.PeriodAnchor,
	logger *zap.Logger,
	now func() time.Time,
) *BillingBatchRunner {
	if now == nil {
		now = time.Now
	}
	return &BillingBatchRunner{
		userRepo:        userRepo,
		aggregator:      aggregator,
		snapshotService: snapshotService,
		committer:       committer,
		locker:          locker,
		anchor:          anchor,
		logger:          logger,
		now:             now,
	}
}

// Run processes all users for the period resolved at invocation time.
// Returns an error only for fatal startup failures (user listing); per-user
// failures are captured in the report.
func (r *BillingBatchRunner) Run(ctx context.Context) (*BatchReport, error) {
	window := billing.ResolvePeriod(r.now(), r.anchor)

	r.logger.Info("Starting monthly billing batch",
		zap.Int("year", window.Year),
		zap.Int("month", window.Month),
		zap.Time("window_start", window.Start),
		zap.Time("window_end", window.End))

	users, err := r.userRepo.FindAll(ctx)
	if err != nil {
		return nil, shared.WrapDomainError(shared.CodeFatal, "Failed to list users", err)
	}

	report := &BatchReport{
		Year:       window.Year,
		Month:      window.Month,
		Start:      window.Start,
		End:        window.End,
		TotalUsers: len(users),
		Results:    make([]UserBillingResult, 0, len(users)),
	}

	for _, user := range users {
		result := r.processUser(ctx, user, window)
		switch result.State {
		case StateCommitted:
			report.Committed++
		case StateSkippedNoWallet, StateSkippedZeroBytes:
			report.Skipped++
		case StateFailed:
			report.Failed++
		}
		report.Results = append(report.Results, result)
	}

	r.logger.Info("Monthly billing batch completed",
		zap.Int("total", report.TotalUsers),
		zap.Int("committed", report.Committed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))

	return report, nil
}

// processUser walks one user through the state machine. Any error is
// terminal for this run: the state freezes at Failed and the batch moves on.
func (r *BillingBatchRunner) processUser(ctx context.Context, user *storage.User, window billing.BillingPeriod) UserBillingResult {
	result := UserBillingResult{
		UserID: user.ID,
		Wallet: user.WalletString(),
		State:  StatePending,
	}

	// The period lock spans aggregate-then-store so an interactive delta can
	// never interleave between the recomputed total and its overwrite.
	release, err := r.locker.AcquirePeriodLock(ctx, user.ID, window.Year, window.Month)
	if err != nil {
		return r.fail(result, shared.NewDependencyError("Failed to acquire period lock", err))
	}

	totalBytes, err := r.aggregator.Aggregate(ctx, user.ID, window)
	if err != nil {
		release()
		return r.fail(result, err)
	}
	result.State = StateAggregated
	result.TotalBytes = totalBytes

	snapshot, err := r.snapshotService.StoreRecomputed(ctx, user, window, totalBytes)
	release()
	if err != nil {
		return r.fail(result, err)
	}
	result.State = StateSnapshotWritten

	outcome, receipt, err := r.committer.Commit(ctx, user, snapshot)
	if err != nil {
		return r.fail(result, err)
	}

	switch outcome {
	case OutcomeSkippedNoWallet:
		result.State = StateSkippedNoWallet
	case OutcomeSkippedZeroBytes:
		result.State = StateSkippedZeroBytes
	case OutcomeCommitted:
		result.State = StateCommitted
		result.TxID = &receipt.TxID
	}

	return result
}

func (r *BillingBatchRunner) fail(result UserBillingResult, err error) UserBillingResult {
	r.logger.Error("Billing failed for user",
		zap.String("user_id", result.UserID.String()),
		zap.String("last_state", string(result.State)),
		zap.Error(err))
	result.State = StateFailed
	result.Error = err.Error()
	return result
}
