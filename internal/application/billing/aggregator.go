package billing

import (
	"context"

	"github.com/pinstor/backend/internal/domain/billing"
	"github.com/pinstor/backend/internal/domain/shared"
	"github.com/pinstor/backend/internal/domain/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UsageAggregator sums the bytes a user uploaded within a billing window.
//
// Accounting is per association, not per distinct file: when two users share
// the same content each is charged the full size, while a single user
// re-uploading owned content contributes nothing extra because the
// association is unique. Uploads outside the window contribute zero
// regardless of their similarity group.
type UsageAggregator struct {
	userFileRepo storage.UserFileRepository
	logger       *zap.Logger
}

// NewUsageAggregator creates a new usage aggregator
func NewUsageAggregator(userFileRepo storage.UserFileRepository, logger *zap.Logger) *UsageAggregator {
	return &UsageAggregator{
		userFileRepo: userFileRepo,
		logger:       logger,
	}
}

// Aggregate computes the user's total uploaded bytes inside the window
func (a *UsageAggregator) Aggregate(ctx context.Context, userID uuid.UUID, window billing.BillingPeriod) (uint64, error) {
	if userID == uuid.Nil {
		return 0, shared.NewValidationError("User ID cannot be empty")
	}

	records, err := a.userFileRepo.UploadsForUser(ctx, userID)
	if err != nil {
		return 0, shared.NewDependencyError("Failed to load upload records", err)
	}

	total := SumInWindow(records, window)

	a.logger.Debug("Aggregated usage",
		zap.String("user_id", userID.String()),
		zap.Int("uploads", len(records)),
		zap.Uint64("total_bytes", total),
		zap.Time("window_start", window.Start),
		zap.Time("window_end", window.End))

	return total, nil
}

// SumInWindow filters records to start <= uploadedAt < end and sums sizes
func SumInWindow(records []storage.UploadRecord, window billing.BillingPeriod) uint64 {
	var total uint64
	for _, r := range records {
		if window.Contains(r.UploadedAt) {
			total += r.Size
		}
	}
	return total
}
