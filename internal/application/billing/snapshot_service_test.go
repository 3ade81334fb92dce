package billing

import (
	"context"
	"testing"
	"time"

	"github.com/pinstor/backend/internal/domain/billing"
	"github.com/pinstor/backend/internal/domain/shared"
	"github.com/pinstor/backend/internal/domain/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSnapshotService(snapshotRepo *mockSnapshotRepo, userFileRepo *mockUserFileRepo) *SnapshotService {
	logger := zap.NewNop()
	anchor := billing.NewPeriodAnchor(2, 10, time.UTC)
	return NewSnapshotService(
		snapshotRepo,
		new(mockUserRepo),
		NewUsageAggregator(userFileRepo, logger),
		noopLocker{},
		billing.IdentityRatePolicy{},
		anchor,
		logger,
	)
}

func TestSnapshotService_RecomputeAndStore(t *testing.T) {
	ctx := context.Background()
	window := testWindow(t)

	t.Run("stores recomputed totals with canonical hash", func(t *testing.T) {
		snapshotRepo := new(mockSnapshotRepo)
		userFileRepo := new(mockUserFileRepo)
		user := storage.NewUserWithWallet(mustWallet("0xabcdef0123456789abcdef0123456789abcdef01"))

		userFileRepo.On("UploadsForUser", ctx, user.ID).Return([]storage.UploadRecord{
			{FileID: uuid.New(), Size: 4096, UploadedAt: window.Start.Add(time.Hour)},
		}, nil)

		var captured *billing.UsageSnapshot
		snapshotRepo.On("Upsert", ctx, mock.AnythingOfType("*billing.UsageSnapshot")).
			Run(func(args mock.Arguments) {
				captured = args.Get(1).(*billing.UsageSnapshot)
			}).
			Return(func(ctx context.Context, s *billing.UsageSnapshot) *billing.UsageSnapshot { return s }, nil)

		service := newTestSnapshotService(snapshotRepo, userFileRepo)

		stored, err := service.RecomputeAndStore(ctx, user, window)

		require.NoError(t, err)
		require.NotNil(t, captured)
		assert.Equal(t, uint64(4096), stored.TotalBytes)
		assert.True(t, decimal.NewFromInt(4096).Equal(stored.BilledAmount))

		wantHash := billing.SnapshotHash(user.WalletString(), window.Year, window.Month, 4096, decimal.NewFromInt(4096))
		assert.Equal(t, wantHash, stored.Hash)
		snapshotRepo.AssertExpectations(t)
	})

	t.Run("identical inputs reproduce the identical hash", func(t *testing.T) {
		snapshotRepo := new(mockSnapshotRepo)
		userFileRepo := new(mockUserFileRepo)
		user := storage.NewUserWithWallet(mustWallet("0xabcdef0123456789abcdef0123456789abcdef01"))

		userFileRepo.On("UploadsForUser", ctx, user.ID).Return([]storage.UploadRecord{
			{FileID: uuid.New(), Size: 100, UploadedAt: window.Start.Add(time.Hour)},
		}, nil)
		snapshotRepo.On("Upsert", ctx, mock.AnythingOfType("*billing.UsageSnapshot")).
			Return(func(ctx context.Context, s *billing.UsageSnapshot) *billing.UsageSnapshot { return s }, nil)

		service := newTestSnapshotService(snapshotRepo, userFileRepo)

		first, err := service.RecomputeAndStore(ctx, user, window)
		require.NoError(t, err)
		second, err := service.RecomputeAndStore(ctx, user, window)
		require.NoError(t, err)

		assert.Equal(t, first.Hash, second.Hash)
		assert.Equal(t, first.TotalBytes, second.TotalBytes)
	})

	t.Run("user without wallet hashes against the sentinel", func(t *testing.T) {
		snapshotRepo := new(mockSnapshotRepo)
		userFileRepo := new(mockUserFileRepo)
		user := storage.NewUser()

		userFileRepo.On("UploadsForUser", ctx, user.ID).Return([]storage.UploadRecord{}, nil)
		snapshotRepo.On("Upsert", ctx, mock.AnythingOfType("*billing.UsageSnapshot")).
			Return(func(ctx context.Context, s *billing.UsageSnapshot) *billing.UsageSnapshot { return s }, nil)

		service := newTestSnapshotService(snapshotRepo, userFileRepo)

		stored, err := service.RecomputeAndStore(ctx, user, window)

		require.NoError(t, err)
		assert.Equal(t, billing.SnapshotHash(nil, window.Year, window.Month, 0, decimal.Zero), stored.Hash)
	})

	t.Run("rejects nil user", func(t *testing.T) {
		service := newTestSnapshotService(new(mockSnapshotRepo), new(mockUserFileRepo))

		_, err := service.RecomputeAndStore(ctx, nil, window)
		assert.True(t, shared.IsValidation(err))
	})
}

func TestSnapshotService_AddUsageDelta(t *testing.T) {
	ctx := context.Background()

	t.Run("applies delta under the current period label", func(t *testing.T) {
		snapshotRepo := new(mockSnapshotRepo)
		userID := uuid.New()
		now := time.Date(2025, 11, 20, 14, 0, 0, 0, time.UTC)

		want := &billing.UsageSnapshot{UserID: userID, Year: 2025, Month: 11, TotalBytes: 512}
		snapshotRepo.On("AddDelta", ctx, userID, 2025, 11, uint64(512), decimal.NewFromInt(512)).
			Return(want, nil)

		service := newTestSnapshotService(snapshotRepo, new(mockUserFileRepo))

		got, err := service.AddUsageDelta(ctx, userID, now, 512)

		require.NoError(t, err)
		assert.Equal(t, want, got)
		snapshotRepo.AssertExpectations(t)
	})

	t.Run("rejects empty user ID", func(t *testing.T) {
		service := newTestSnapshotService(new(mockSnapshotRepo), new(mockUserFileRepo))

		_, err := service.AddUsageDelta(ctx, uuid.Nil, time.Now(), 1)
		assert.True(t, shared.IsValidation(err))
	})
}

func TestSnapshotService_RecordSettlement(t *testing.T) {
	ctx := context.Background()

	t.Run("fails with NotFound when no snapshot exists", func(t *testing.T) {
		snapshotRepo := new(mockSnapshotRepo)
		userID := uuid.New()
		snapshotRepo.On("FindByUserAndPeriod", ctx, userID, 2025, 11).Return(nil, nil)

		service := newTestSnapshotService(snapshotRepo, new(mockUserFileRepo))

		err := service.RecordSettlement(ctx, userID, 2025, 11, true, "0xtx", nil)

		assert.True(t, shared.IsNotFound(err))
		snapshotRepo.AssertNotCalled(t, "RecordSettlement", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("records settlement on existing snapshot", func(t *testing.T) {
		snapshotRepo := new(mockSnapshotRepo)
		userID := uuid.New()
		snapshotID := uuid.New()
		block := uint64(812)

		snapshotRepo.On("FindByUserAndPeriod", ctx, userID, 2025, 11).
			Return(&billing.UsageSnapshot{ID: snapshotID, UserID: userID, Year: 2025, Month: 11}, nil)
		snapshotRepo.On("RecordSettlement", ctx, snapshotID, true, "0xtx", &block).Return(nil)

		service := newTestSnapshotService(snapshotRepo, new(mockUserFileRepo))

		require.NoError(t, service.RecordSettlement(ctx, userID, 2025, 11, true, "0xtx", &block))
		snapshotRepo.AssertExpectations(t)
	})
}

func TestSnapshotService_GetCurrentUsage(t *testing.T) {
	ctx := context.Background()

	t.Run("returns synthetic zero result when no row exists", func(t *testing.T) {
		snapshotRepo := new(mockSnapshotRepo)
		userID := uuid.New()
		now := time.Date(2025, 11, 20, 14, 0, 0, 0, time.UTC)
		snapshotRepo.On("FindByUserAndPeriod", ctx, userID, 2025, 11).Return(nil, nil)

		service := newTestSnapshotService(snapshotRepo, new(mockUserFileRepo))

		usage, err := service.GetCurrentUsage(ctx, userID, now)

		require.NoError(t, err)
		assert.Equal(t, 2025, usage.Year)
		assert.Equal(t, 11, usage.Month)
		assert.Equal(t, uint64(0), usage.TotalBytes)
		assert.True(t, usage.BilledAmount.IsZero())
		assert.Nil(t, usage.Hash)
		assert.Nil(t, usage.CommitTxID)
		assert.False(t, usage.Paid)
	})

	t.Run("returns stored snapshot fields", func(t *testing.T) {
		snapshotRepo := new(mockSnapshotRepo)
		userID := uuid.New()
		now := time.Date(2025, 11, 20, 14, 0, 0, 0, time.UTC)
		tx := "0xdeadbeef"

		snapshotRepo.On("FindByUserAndPeriod", ctx, userID, 2025, 11).Return(&billing.UsageSnapshot{
			UserID:       userID,
			Year:         2025,
			Month:        11,
			TotalBytes:   9000,
			BilledAmount: decimal.NewFromInt(9000),
			Hash:         "0xabc",
			CommitTxID:   &tx,
			Paid:         true,
		}, nil)

		service := newTestSnapshotService(snapshotRepo, new(mockUserFileRepo))

		usage, err := service.GetCurrentUsage(ctx, userID, now)

		require.NoError(t, err)
		assert.Equal(t, uint64(9000), usage.TotalBytes)
		require.NotNil(t, usage.Hash)
		assert.Equal(t, "0xabc", *usage.Hash)
		require.NotNil(t, usage.CommitTxID)
		assert.Equal(t, tx, *usage.CommitTxID)
		assert.True(t, usage.Paid)
	})
}
