package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/pinstor/backend/internal/domain/shared"
	"github.com/pinstor/backend/internal/domain/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserModel is the GORM model for storage users. Wallet is nullable and
// unique: accounts created without a settlement identity carry NULL until
// the one-time backfill.
type UserModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Wallet    *string   `gorm:"type:varchar(42);uniqueIndex"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (UserModel) TableName() string {
	return "users"
}

// ToEntity converts the model to a domain entity
func (m *UserModel) ToEntity() (*storage.User, error) {
	user := &storage.User{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
	}
	if m.Wallet != nil {
		wallet, err := storage.NewWalletAddress(*m.Wallet)
		if err != nil {
			return nil, err
		}
		user.Wallet = &wallet
	}
	return user, nil
}

// UserModelFromEntity creates a model from a domain entity
func UserModelFromEntity(e *storage.User) *UserModel {
	return &UserModel{
		ID:        e.ID,
		Wallet:    e.WalletString(),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

// UserRepository implements the storage.UserRepository interface
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Save persists a new user
func (r *UserRepository) Save(ctx context.Context, user *storage.User) error {
	return r.db.WithContext(ctx).Create(UserModelFromEntity(user)).Error
}

// Update persists changes to an existing user
func (r *UserRepository) Update(ctx context.Context, user *storage.User) error {
	result := r.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"wallet":     user.WalletString(),
			"updated_at": user.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindByID retrieves a user by ID, nil when absent
func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*storage.User, error) {
	var model UserModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity()
}

// FindByWallet retrieves a user by wallet address, nil when absent
func (r *UserRepository) FindByWallet(ctx context.Context, wallet storage.WalletAddress) (*storage.User, error) {
	var model UserModel
	if err := r.db.WithContext(ctx).
		Where("wallet = ?", wallet.String()).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity()
}

// FindAll retrieves all users ordered by creation time
func (r *UserRepository) FindAll(ctx context.Context) ([]*storage.User, error) {
	var userModels []UserModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&userModels).Error; err != nil {
		return nil, err
	}

	users := make([]*storage.User, 0, len(userModels))
	for i := range userModels {
		user, err := userModels[i].ToEntity()
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}
