package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/pinstor/backend/internal/domain/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupUserFileTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&UserModel{}, &FileModel{}, &UserFileModel{})
	require.NoError(t, err)

	return db
}

func TestUserFileRepository_Attach(t *testing.T) {
	db := setupUserFileTestDB(t)
	repo := NewUserFileRepository(db)
	ctx := context.Background()

	userID := uuid.New()
	fileID := uuid.New()
	uploadedAt := time.Date(2025, 11, 10, 12, 0, 0, 0, time.UTC)

	t.Run("creates a new association", func(t *testing.T) {
		created, err := repo.Attach(ctx, userID, fileID, uploadedAt)
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("re-attach is a no-op keeping the original timestamp", func(t *testing.T) {
		created, err := repo.Attach(ctx, userID, fileID, uploadedAt.Add(48*time.Hour))
		require.NoError(t, err)
		assert.False(t, created)

		var model UserFileModel
		require.NoError(t, db.First(&model, "user_id = ? AND file_id = ?", userID, fileID).Error)
		assert.True(t, model.UploadedAt.Equal(uploadedAt))
	})

	t.Run("same file for a different user is a new association", func(t *testing.T) {
		created, err := repo.Attach(ctx, uuid.New(), fileID, uploadedAt)
		require.NoError(t, err)
		assert.True(t, created)
	})
}

func TestUserFileRepository_UploadsForUser(t *testing.T) {
	db := setupUserFileTestDB(t)
	userFiles := NewUserFileRepository(db)
	files := NewFileRepository(db)
	ctx := context.Background()

	userID := uuid.New()
	base := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)

	small, err := files.CreateWithGroup(ctx, newTestFile(t, "cid-small", "fp-s"))
	require.NoError(t, err)
	bigFile, err := storage.NewFile("cid-big", "fp-b", 4096)
	require.NoError(t, err)
	big, err := files.CreateWithGroup(ctx, bigFile)
	require.NoError(t, err)

	_, err = userFiles.Attach(ctx, userID, big.ID, base.Add(time.Hour))
	require.NoError(t, err)
	_, err = userFiles.Attach(ctx, userID, small.ID, base)
	require.NoError(t, err)

	// another user's upload of the same file must not leak in
	_, err = userFiles.Attach(ctx, uuid.New(), small.ID, base)
	require.NoError(t, err)

	records, err := userFiles.UploadsForUser(ctx, userID)

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, small.ID, records[0].FileID)
	assert.Equal(t, uint64(1024), records[0].Size)
	assert.Equal(t, big.ID, records[1].FileID)
	assert.Equal(t, uint64(4096), records[1].Size)
	assert.True(t, records[0].UploadedAt.Before(records[1].UploadedAt))
}

func TestUserFileRepository_UploadsForUser_Empty(t *testing.T) {
	db := setupUserFileTestDB(t)
	repo := NewUserFileRepository(db)

	records, err := repo.UploadsForUser(context.Background(), uuid.New())

	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestUserFileRepository_ListForUser(t *testing.T) {
	db := setupUserFileTestDB(t)
	userFiles := NewUserFileRepository(db)
	files := NewFileRepository(db)
	ctx := context.Background()

	userID := uuid.New()
	base := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)

	var created []*storage.File
	for i, cid := range []string{"cid-a", "cid-b", "cid-c"} {
		file, err := storage.NewFile(cid, "fp-"+cid, uint64(100*(i+1)))
		require.NoError(t, err)
		stored, err := files.CreateWithGroup(ctx, file)
		require.NoError(t, err)
		created = append(created, stored)

		_, err = userFiles.Attach(ctx, userID, stored.ID, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	// another user's file must not appear in the listing
	other, err := storage.NewFile("cid-other", "fp-other", 512)
	require.NoError(t, err)
	otherStored, err := files.CreateWithGroup(ctx, other)
	require.NoError(t, err)
	_, err = userFiles.Attach(ctx, uuid.New(), otherStored.ID, base)
	require.NoError(t, err)

	t.Run("first page is newest first with full count", func(t *testing.T) {
		listings, total, err := userFiles.ListForUser(ctx, userID, 0, 2)
		require.NoError(t, err)

		assert.Equal(t, int64(3), total)
		require.Len(t, listings, 2)
		assert.Equal(t, "cid-c", listings[0].ContentID)
		assert.Equal(t, uint64(300), listings[0].Size)
		assert.Equal(t, "cid-b", listings[1].ContentID)
	})

	t.Run("offset pages through the remainder", func(t *testing.T) {
		listings, total, err := userFiles.ListForUser(ctx, userID, 2, 2)
		require.NoError(t, err)

		assert.Equal(t, int64(3), total)
		require.Len(t, listings, 1)
		assert.Equal(t, created[0].ID, listings[0].FileID)
		assert.Equal(t, "cid-a", listings[0].ContentID)
	})

	t.Run("unknown user gets an empty page and zero total", func(t *testing.T) {
		listings, total, err := userFiles.ListForUser(ctx, uuid.New(), 0, 10)
		require.NoError(t, err)

		assert.Zero(t, total)
		assert.Empty(t, listings)
	})
}
