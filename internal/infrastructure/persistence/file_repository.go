package persistence

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	"github.com/pinstor/backend/internal/domain/shared"
	"github.com/pinstor/backend/internal/domain/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FileModel is the GORM model for deduplicated file records
type FileModel struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ContentID   string     `gorm:"type:varchar(128);not null;uniqueIndex"`
	Fingerprint string     `gorm:"type:varchar(128);not null;index"`
	Size        uint64     `gorm:"not null"`
	GroupID     *uuid.UUID `gorm:"type:uuid;index"`
	Seq         int64      `gorm:"not null;index"`
	CreatedAt   time.Time  `gorm:"not null"`
	UpdatedAt   time.Time  `gorm:"not null"`
}

// TableName returns the table name for the model
func (FileModel) TableName() string {
	return "files"
}

// ToEntity converts the model to a domain entity
func (m *FileModel) ToEntity() *storage.File {
	return &storage.File{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ContentID:   m.ContentID,
		Fingerprint: m.Fingerprint,
		Size:        m.Size,
		GroupID:     m.GroupID,
		Seq:         m.Seq,
	}
}

// FileModelFromEntity creates a model from a domain entity
func FileModelFromEntity(e *storage.File) *FileModel {
	return &FileModel{
		ID:          e.ID,
		ContentID:   e.ContentID,
		Fingerprint: e.Fingerprint,
		Size:        e.Size,
		GroupID:     e.GroupID,
		Seq:         e.Seq,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// FileRepository implements the storage.FileRepository interface
type FileRepository struct {
	db *gorm.DB
}

// NewFileRepository creates a new file repository
func NewFileRepository(db *gorm.DB) *FileRepository {
	return &FileRepository{db: db}
}

// FindByContentID retrieves a file by content identifier, nil when absent
func (r *FileRepository) FindByContentID(ctx context.Context, contentID string) (*storage.File, error) {
	var model FileModel
	if err := r.db.WithContext(ctx).
		Where("content_id = ?", contentID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// fingerprintLockKey derives the advisory lock key that serializes group
// assignment for one fingerprint.
func fingerprintLockKey(fingerprint string) int64 {
	h := fnv.New64a()
	h.Write([]byte(fingerprint))
	return int64(h.Sum64())
}

// lockFingerprint takes a transaction-scoped lock on the fingerprint so
// only one group assignment for it runs at a time. Postgres holds the
// advisory lock until the transaction ends; sqlite already runs writers
// one at a time.
func lockFingerprint(tx *gorm.DB, fingerprint string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", fingerprintLockKey(fingerprint)).Error
}

// CreateWithGroup persists a new file and assigns its similarity group.
// The earliest stored file with the same fingerprint lends its group; an
// earliest file that predates grouping (NULL group) is promoted to root of
// the group the newcomer joins; with no fingerprint match the new file
// anchors a fresh group of its own. Assignment per fingerprint is
// serialized through lockFingerprint, so two concurrent first uploads of a
// fingerprint cannot both become group roots.
func (r *FileRepository) CreateWithGroup(ctx context.Context, file *storage.File) (*storage.File, error) {
	model := FileModelFromEntity(file)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockFingerprint(tx, model.Fingerprint); err != nil {
			return err
		}

		var maxSeq int64
		if err := tx.Model(&FileModel{}).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		model.Seq = maxSeq + 1

		var root FileModel
		err := tx.Where("fingerprint = ?", model.Fingerprint).
			Order("seq ASC").
			First(&root).Error
		switch {
		case err == nil:
			if root.GroupID == nil {
				if err := tx.Model(&FileModel{}).
					Where("id = ?", root.ID).
					Update("group_id", root.ID).Error; err != nil {
					return err
				}
				root.GroupID = &root.ID
			}
			model.GroupID = root.GroupID
		case errors.Is(err, gorm.ErrRecordNotFound):
			gid := model.ID
			model.GroupID = &gid
		default:
			return err
		}

		return tx.Create(model).Error
	})
	if err != nil {
		return nil, err
	}

	return model.ToEntity(), nil
}

// FindByID retrieves a file by ID, nil when absent
func (r *FileRepository) FindByID(ctx context.Context, id uuid.UUID) (*storage.File, error) {
	var model FileModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}
