package billing

import (
	"context"
	"time"

	"github.com/pinstor/backend/internal/domain/billing"
	"github.com/pinstor/backend/internal/domain/shared"
	"github.com/pinstor/backend/internal/domain/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PeriodLocker serializes writers for one (user, period) snapshot row. The
// interactive delta path and the batch recompute path both take this lock so
// a batch overwrite can never interleave with an in-flight increment.
type PeriodLocker interface {
	// AcquirePeriodLock blocks until the lock is held or ctx expires and
	// returns the release function.
	AcquirePeriodLock(ctx context.Context, userID uuid.UUID, year, month int) (release func(), err error)
}

// SnapshotService owns reads and writes of usage snapshots: the batch
// recompute-and-overwrite path, the interactive additive-delta path, and the
// ledger bookkeeping mutations.
type SnapshotService struct {
	snapshotRepo billing.SnapshotRepository
	userRepo     storage.UserRepository
	aggregator   *UsageAggregator
	locker       PeriodLocker
	rate         billing.RatePolicy
	anchor       billing.PeriodAnchor
	logger       *zap.Logger
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(
	snapshotRepo billing.SnapshotRepository,
	userRepo storage.UserRepository,
	aggregator *UsageAggregator,
	locker PeriodLocker,
	rate billing.RatePolicy,
	anchor billing.PeriodAnchor,
	logger *zap.Logger,
) *SnapshotService {
	if rate == nil {
		rate = billing.IdentityRatePolicy{}
	}
	return &SnapshotService{
		snapshotRepo: snapshotRepo,
		userRepo:     userRepo,
		aggregator:   aggregator,
		locker:       locker,
		rate:         rate,
		anchor:       anchor,
		logger:       logger,
	}
}

// RecomputeAndStore re-derives the user's total for the window from upload
// records and overwrites the snapshot's accounting fields. The period lock
// spans aggregation and store, so interactive deltas are either absorbed
// into the recomputed total or applied strictly after it. Ledger-commit and
// settlement fields on an existing row survive untouched, and re-running
// with an unchanged upload set reproduces the identical hash.
func (s *SnapshotService) RecomputeAndStore(ctx context.Context, user *storage.User, window billing.BillingPeriod) (*billing.UsageSnapshot, error) {
	if user == nil || user.ID == uuid.Nil {
		return nil, shared.NewValidationError("User is required")
	}

	release, err := s.locker.AcquirePeriodLock(ctx, user.ID, window.Year, window.Month)
	if err != nil {
		return nil, shared.NewDependencyError("Failed to acquire period lock", err)
	}
	defer release()

	totalBytes, err := s.aggregator.Aggregate(ctx, user.ID, window)
	if err != nil {
		return nil, err
	}

	return s.StoreRecomputed(ctx, user, window, totalBytes)
}

// StoreRecomputed derives billed amount and hash from an already aggregated
// total and upserts the snapshot's accounting fields. Callers owning the
// aggregate-then-store sequence (the batch runner) must hold the period
// lock; interactive callers use RecomputeAndStore instead.
func (s *SnapshotService) StoreRecomputed(ctx context.Context, user *storage.User, window billing.BillingPeriod, totalBytes uint64) (*billing.UsageSnapshot, error) {
	if user == nil || user.ID == uuid.Nil {
		return nil, shared.NewValidationError("User is required")
	}

	billedAmount := s.rate.Rate(totalBytes)
	hash := billing.SnapshotHash(user.WalletString(), window.Year, window.Month, totalBytes, billedAmount)

	snapshot, err := billing.NewUsageSnapshot(user.ID, window.Year, window.Month, totalBytes, billedAmount, hash)
	if err != nil {
		return nil, err
	}

	stored, err := s.snapshotRepo.Upsert(ctx, snapshot)
	if err != nil {
		return nil, shared.NewDependencyError("Failed to store usage snapshot", err)
	}

	s.logger.Info("Usage snapshot stored",
		zap.String("user_id", user.ID.String()),
		zap.Int("year", window.Year),
		zap.Int("month", window.Month),
		zap.Uint64("total_bytes", totalBytes),
		zap.String("billed_amount", billedAmount.String()))

	return stored, nil
}

// AddUsageDelta applies an interactive per-upload increment to the current
// period's snapshot, creating the row on first observation. The increment is
// temporary bookkeeping: the hash is refreshed when the batch recomputes the
// period from upload records.
func (s *SnapshotService) AddUsageDelta(ctx context.Context, userID uuid.UUID, now time.Time, bytes uint64) (*billing.UsageSnapshot, error) {
	if userID == uuid.Nil {
		return nil, shared.NewValidationError("User ID cannot be empty")
	}

	year, month := billing.CurrentPeriodLabel(now, s.anchor)

	release, err := s.locker.AcquirePeriodLock(ctx, userID, year, month)
	if err != nil {
		return nil, shared.NewDependencyError("Failed to acquire period lock", err)
	}
	defer release()

	amountDelta := s.rate.Rate(bytes)
	snapshot, err := s.snapshotRepo.AddDelta(ctx, userID, year, month, bytes, amountDelta)
	if err != nil {
		return nil, shared.NewDependencyError("Failed to apply usage delta", err)
	}

	s.logger.Debug("Applied interactive usage delta",
		zap.String("user_id", userID.String()),
		zap.Int("year", year),
		zap.Int("month", month),
		zap.Uint64("bytes_delta", bytes))

	return snapshot, nil
}

// RecordCommit stores the ledger receipt on an existing snapshot
func (s *SnapshotService) RecordCommit(ctx context.Context, snapshotID uuid.UUID, txID string, block *uint64) error {
	if snapshotID == uuid.Nil || txID == "" {
		return shared.NewValidationError("Snapshot ID and transaction ID are required")
	}
	if err := s.snapshotRepo.RecordCommit(ctx, snapshotID, txID, block); err != nil {
		if shared.IsNotFound(err) {
			return err
		}
		return shared.NewDependencyError("Failed to record ledger commit", err)
	}
	return nil
}

// RecordSettlement stores a settlement outcome against the (user, year,
// month) snapshot. Fails with NOT_FOUND when no snapshot exists.
func (s *SnapshotService) RecordSettlement(ctx context.Context, userID uuid.UUID, year, month int, paid bool, txID string, block *uint64) error {
	snapshot, err := s.snapshotRepo.FindByUserAndPeriod(ctx, userID, year, month)
	if err != nil {
		return shared.NewDependencyError("Failed to load usage snapshot", err)
	}
	if snapshot == nil {
		return shared.NewNotFoundError("No usage snapshot exists for this user and period")
	}

	if err := s.snapshotRepo.RecordSettlement(ctx, snapshot.ID, paid, txID, block); err != nil {
		return shared.NewDependencyError("Failed to record settlement", err)
	}
	return nil
}

// CurrentUsage is the snapshot query surface for interactive collaborators.
type CurrentUsage struct {
	Year         int             `json:"year"`
	Month        int             `json:"month"`
	TotalBytes   uint64          `json:"total_bytes"`
	BilledAmount decimal.Decimal `json:"billed_amount"`
	Hash         *string         `json:"hash"`
	CommitTxID   *string         `json:"commit_tx_id"`
	Paid         bool            `json:"paid"`
}

// GetCurrentUsage reads the current-period snapshot for a user, returning a
// zero-valued synthetic result when no row exists yet.
func (s *SnapshotService) GetCurrentUsage(ctx context.Context, userID uuid.UUID, now time.Time) (*CurrentUsage, error) {
	if userID == uuid.Nil {
		return nil, shared.NewValidationError("User ID cannot be empty")
	}

	year, month := billing.CurrentPeriodLabel(now, s.anchor)

	snapshot, err := s.snapshotRepo.FindByUserAndPeriod(ctx, userID, year, month)
	if err != nil {
		return nil, shared.NewDependencyError("Failed to load usage snapshot", err)
	}
	if snapshot == nil {
		return &CurrentUsage{
			Year:         year,
			Month:        month,
			BilledAmount: decimal.Zero,
		}, nil
	}

	return &CurrentUsage{
		Year:         snapshot.Year,
		Month:        snapshot.Month,
		TotalBytes:   snapshot.TotalBytes,
		BilledAmount: snapshot.BilledAmount,
		Hash:         &snapshot.Hash,
		CommitTxID:   snapshot.CommitTxID,
		Paid:         snapshot.Paid,
	}, nil
}
