package billing

import (
	"context"
	"time"

	"github.com/pinstor/backend/internal/domain/billing"
	"github.com/pinstor/backend/internal/domain/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// mockSnapshotRepo is a mock implementation of billing.SnapshotRepository
type mockSnapshotRepo struct {
	mock.Mock
}

func (m *mockSnapshotRepo) Upsert(ctx context.Context, snapshot *billing.UsageSnapshot) (*billing.UsageSnapshot, error) {
	args := m.Called(ctx, snapshot)
	if fn, ok := args.Get(0).(func(context.Context, *billing.UsageSnapshot) *billing.UsageSnapshot); ok {
		return fn(ctx, snapshot), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.UsageSnapshot), args.Error(1)
}

func (m *mockSnapshotRepo) AddDelta(ctx context.Context, userID uuid.UUID, year, month int, bytesDelta uint64, amountDelta decimal.Decimal) (*billing.UsageSnapshot, error) {
	args := m.Called(ctx, userID, year, month, bytesDelta, amountDelta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.UsageSnapshot), args.Error(1)
}

func (m *mockSnapshotRepo) RecordCommit(ctx context.Context, snapshotID uuid.UUID, txID string, block *uint64) error {
	args := m.Called(ctx, snapshotID, txID, block)
	return args.Error(0)
}

func (m *mockSnapshotRepo) RecordSettlement(ctx context.Context, snapshotID uuid.UUID, paid bool, txID string, block *uint64) error {
	args := m.Called(ctx, snapshotID, paid, txID, block)
	return args.Error(0)
}

func (m *mockSnapshotRepo) FindByUserAndPeriod(ctx context.Context, userID uuid.UUID, year, month int) (*billing.UsageSnapshot, error) {
	args := m.Called(ctx, userID, year, month)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.UsageSnapshot), args.Error(1)
}

func (m *mockSnapshotRepo) FindByID(ctx context.Context, id uuid.UUID) (*billing.UsageSnapshot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.UsageSnapshot), args.Error(1)
}

// mockUserRepo is a mock implementation of storage.UserRepository
type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Save(ctx context.Context, user *storage.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepo) Update(ctx context.Context, user *storage.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id uuid.UUID) (*storage.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.User), args.Error(1)
}

func (m *mockUserRepo) FindByWallet(ctx context.Context, wallet storage.WalletAddress) (*storage.User, error) {
	args := m.Called(ctx, wallet)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.User), args.Error(1)
}

func (m *mockUserRepo) FindAll(ctx context.Context) ([]*storage.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*storage.User), args.Error(1)
}

// mockUserFileRepo is a mock implementation of storage.UserFileRepository
type mockUserFileRepo struct {
	mock.Mock
}

func (m *mockUserFileRepo) Attach(ctx context.Context, userID, fileID uuid.UUID, uploadedAt time.Time) (bool, error) {
	args := m.Called(ctx, userID, fileID, uploadedAt)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserFileRepo) UploadsForUser(ctx context.Context, userID uuid.UUID) ([]storage.UploadRecord, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.UploadRecord), args.Error(1)
}

func (m *mockUserFileRepo) ListForUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]storage.FileListing, int64, error) {
	args := m.Called(ctx, userID, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]storage.FileListing), args.Get(1).(int64), args.Error(2)
}

// mockLedgerClient is a mock implementation of billing.LedgerClient
type mockLedgerClient struct {
	mock.Mock
}

func (m *mockLedgerClient) CommitMonthlyUsage(ctx context.Context, wallet string, year, month int, totalBytes uint64, billedAmount decimal.Decimal, hash string) (*billing.LedgerReceipt, error) {
	args := m.Called(ctx, wallet, year, month, totalBytes, billedAmount, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.LedgerReceipt), args.Error(1)
}

func (m *mockLedgerClient) SettlePayment(ctx context.Context, wallet string, year, month int, success bool) (*billing.LedgerReceipt, error) {
	args := m.Called(ctx, wallet, year, month, success)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.LedgerReceipt), args.Error(1)
}

// noopLocker satisfies PeriodLocker without any real locking
type noopLocker struct{}

func (noopLocker) AcquirePeriodLock(ctx context.Context, userID uuid.UUID, year, month int) (func(), error) {
	return func() {}, nil
}

func mustWallet(raw string) storage.WalletAddress {
	w, err := storage.NewWalletAddress(raw)
	if err != nil {
		panic(err)
	}
	return w
}
