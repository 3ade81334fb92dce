package persistence

import (
	"context"
	"time"

	"github.com/pinstor/backend/internal/domain/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserFileModel is the GORM model for the user-to-file upload association
type UserFileModel struct {
	UserID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	FileID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UploadedAt time.Time `gorm:"not null;index"`
}

// TableName returns the table name for the model
func (UserFileModel) TableName() string {
	return "user_files"
}

// UserFileRepository implements the storage.UserFileRepository interface
type UserFileRepository struct {
	db *gorm.DB
}

// NewUserFileRepository creates a new user file repository
func NewUserFileRepository(db *gorm.DB) *UserFileRepository {
	return &UserFileRepository{db: db}
}

// Attach records that the user uploaded the file. Idempotent: a re-upload
// of already-owned content keeps the original association and UploadedAt.
// Returns whether a new association was created.
func (r *UserFileRepository) Attach(ctx context.Context, userID, fileID uuid.UUID, uploadedAt time.Time) (bool, error) {
	model := &UserFileModel{
		UserID:     userID,
		FileID:     fileID,
		UploadedAt: uploadedAt,
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "file_id"}},
		DoNothing: true,
	}).Create(model)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// UploadsForUser returns the user's upload records joined with file sizes
func (r *UserFileRepository) UploadsForUser(ctx context.Context, userID uuid.UUID) ([]storage.UploadRecord, error) {
	var records []storage.UploadRecord
	err := r.db.WithContext(ctx).
		Table("user_files").
		Select("user_files.file_id, files.size, user_files.uploaded_at").
		Joins("JOIN files ON files.id = user_files.file_id").
		Where("user_files.user_id = ?", userID).
		Order("user_files.uploaded_at ASC").
		Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ListForUser returns one page of the user's files, newest upload first,
// with the user's total file count.
func (r *UserFileRepository) ListForUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]storage.FileListing, int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Table("user_files").
		Where("user_files.user_id = ?", userID).
		Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	var listings []storage.FileListing
	err = r.db.WithContext(ctx).
		Table("user_files").
		Where("user_files.user_id = ?", userID).
		Select("user_files.file_id, files.content_id, files.size, files.group_id, user_files.uploaded_at").
		Joins("JOIN files ON files.id = user_files.file_id").
		Order("user_files.uploaded_at DESC").
		Offset(offset).
		Limit(limit).
		Scan(&listings).Error
	if err != nil {
		return nil, 0, err
	}
	return listings, total, nil
}
