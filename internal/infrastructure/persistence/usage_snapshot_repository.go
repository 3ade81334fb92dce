package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/pinstor/backend/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UsageSnapshotModel is the GORM model for per-user monthly usage snapshots
type UsageSnapshotModel struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserID       uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_snapshot_user_period,priority:1"`
	Year         int             `gorm:"not null;uniqueIndex:idx_snapshot_user_period,priority:2"`
	Month        int             `gorm:"not null;uniqueIndex:idx_snapshot_user_period,priority:3"`
	TotalBytes   uint64          `gorm:"not null;default:0"`
	BilledAmount decimal.Decimal `gorm:"type:decimal(38,18);not null;default:0"`
	Hash         string          `gorm:"type:varchar(66);not null"`
	CommitTxID   *string         `gorm:"type:varchar(128)"`
	CommitBlock  *uint64
	Paid         bool    `gorm:"not null;default:false"`
	SettleTxID   *string `gorm:"type:varchar(128)"`
	SettleBlock  *uint64
	CreatedAt    time.Time       `gorm:"not null"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

// TableName returns the table name for the model
func (UsageSnapshotModel) TableName() string {
	return "usage_snapshots"
}

// ToEntity converts the model to a domain entity
func (m *UsageSnapshotModel) ToEntity() *billing.UsageSnapshot {
	return &billing.UsageSnapshot{
		ID:           m.ID,
		UserID:       m.UserID,
		Year:         m.Year,
		Month:        m.Month,
		TotalBytes:   m.TotalBytes,
		BilledAmount: m.BilledAmount,
		Hash:         m.Hash,
		CommitTxID:   m.CommitTxID,
		CommitBlock:  m.CommitBlock,
		Paid:         m.Paid,
		SettleTxID:   m.SettleTxID,
		SettleBlock:  m.SettleBlock,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// UsageSnapshotModelFromEntity creates a model from a domain entity
func UsageSnapshotModelFromEntity(e *billing.UsageSnapshot) *UsageSnapshotModel {
	return &UsageSnapshotModel{
		ID:           e.ID,
		UserID:       e.UserID,
		Year:         e.Year,
		Month:        e.Month,
		TotalBytes:   e.TotalBytes,
		BilledAmount: e.BilledAmount,
		Hash:         e.Hash,
		CommitTxID:   e.CommitTxID,
		CommitBlock:  e.CommitBlock,
		Paid:         e.Paid,
		SettleTxID:   e.SettleTxID,
		SettleBlock:  e.SettleBlock,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

// UsageSnapshotRepository implements the billing.SnapshotRepository interface
type UsageSnapshotRepository struct {
	db *gorm.DB
}

// NewUsageSnapshotRepository creates a new usage snapshot repository
func NewUsageSnapshotRepository(db *gorm.DB) *UsageSnapshotRepository {
	return &UsageSnapshotRepository{db: db}
}

// Upsert creates or overwrites the snapshot for (user, year, month). Only
// the accounting columns are overwritten; commit and settlement receipts
// already recorded on the row survive a recompute.
func (r *UsageSnapshotRepository) Upsert(ctx context.Context, snapshot *billing.UsageSnapshot) (*billing.UsageSnapshot, error) {
	model := UsageSnapshotModelFromEntity(snapshot)

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "year"}, {Name: "month"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_bytes",
			"billed_amount",
			"hash",
			"updated_at",
		}),
	}).Create(model).Error
	if err != nil {
		return nil, err
	}

	return r.FindByUserAndPeriod(ctx, snapshot.UserID, snapshot.Year, snapshot.Month)
}

// AddDelta atomically increments the snapshot's running totals, creating the
// row with the placeholder hash when no snapshot exists yet for the period.
// The placeholder is replaced by the canonical hash on the next recompute.
func (r *UsageSnapshotRepository) AddDelta(ctx context.Context, userID uuid.UUID, year, month int, bytesDelta uint64, amountDelta decimal.Decimal) (*billing.UsageSnapshot, error) {
	now := time.Now().UTC()
	model := &UsageSnapshotModel{
		ID:           uuid.New(),
		UserID:       userID,
		Year:         year,
		Month:        month,
		TotalBytes:   bytesDelta,
		BilledAmount: amountDelta,
		Hash:         billing.PlaceholderHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "year"}, {Name: "month"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_bytes":   gorm.Expr("total_bytes + ?", bytesDelta),
			"billed_amount": gorm.Expr("billed_amount + ?", amountDelta),
			"updated_at":    now,
		}),
	}).Create(model).Error
	if err != nil {
		return nil, err
	}

	return r.FindByUserAndPeriod(ctx, userID, year, month)
}

// RecordCommit stores the ledger commit receipt on an existing snapshot
func (r *UsageSnapshotRepository) RecordCommit(ctx context.Context, snapshotID uuid.UUID, txID string, block *uint64) error {
	result := r.db.WithContext(ctx).Model(&UsageSnapshotModel{}).
		Where("id = ?", snapshotID).
		Updates(map[string]interface{}{
			"commit_tx_id": txID,
			"commit_block": block,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecordSettlement stores the payment outcome on an existing snapshot
func (r *UsageSnapshotRepository) RecordSettlement(ctx context.Context, snapshotID uuid.UUID, paid bool, txID string, block *uint64) error {
	result := r.db.WithContext(ctx).Model(&UsageSnapshotModel{}).
		Where("id = ?", snapshotID).
		Updates(map[string]interface{}{
			"paid":         paid,
			"settle_tx_id": txID,
			"settle_block": block,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindByUserAndPeriod retrieves the snapshot for (user, year, month), nil
// when none exists
func (r *UsageSnapshotRepository) FindByUserAndPeriod(ctx context.Context, userID uuid.UUID, year, month int) (*billing.UsageSnapshot, error) {
	var model UsageSnapshotModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND year = ? AND month = ?", userID, year, month).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindByID retrieves a snapshot by its ID, nil when absent
func (r *UsageSnapshotRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.UsageSnapshot, error) {
	var model UsageSnapshotModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}
