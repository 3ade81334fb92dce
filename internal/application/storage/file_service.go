package storage

import (
	"context"
	"time"

	appbilling "github.com/pinstor/backend/internal/application/billing"
	"github.com/pinstor/backend/internal/domain/shared"
	"github.com/pinstor/backend/internal/domain/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BlobStore is the content-addressed blob storage the uploaded bytes land
// in. Keys are content identifiers, so a second upload of identical content
// overwrites the same object.
type BlobStore interface {
	// Put stores the blob under its content identifier
	Put(ctx context.Context, contentID string, data []byte, contentType string) error

	// URL returns the public gateway URL for a stored blob
	URL(contentID string) string
}

// Fingerprinter is the black-box identity function for uploaded content:
// a stable content identifier for exact dedup and a similarity fingerprint
// for near-duplicate grouping.
type Fingerprinter interface {
	ContentID(data []byte) (string, error)
	Fingerprint(data []byte) (string, error)
}

// UploadResult is returned to the uploader
type UploadResult struct {
	UserID      uuid.UUID  `json:"user_id"`
	ContentID   string     `json:"content_id"`
	Fingerprint string     `json:"fingerprint"`
	Size        uint64     `json:"size"`
	GroupID     *uuid.UUID `json:"group_id,omitempty"`
	URL         string     `json:"url"`
	Duplicate   bool       `json:"duplicate"`
}

// FileInfo is one entry of a user's file inventory
type FileInfo struct {
	FileID     uuid.UUID  `json:"file_id"`
	ContentID  string     `json:"content_id"`
	Size       uint64     `json:"size"`
	GroupID    *uuid.UUID `json:"group_id,omitempty"`
	URL        string     `json:"url"`
	UploadedAt time.Time  `json:"uploaded_at"`
}

// FileService registers uploads: it resolves the uploading user, assigns
// content and group identities, stores the blob, records the upload
// association, and feeds the interactive usage delta into the current
// period's snapshot.
type FileService struct {
	userRepo        storage.UserRepository
	fileRepo        storage.FileRepository
	userFileRepo    storage.UserFileRepository
	blobs           BlobStore
	fingerprinter   Fingerprinter
	snapshotService *appbilling.SnapshotService
	logger          *zap.Logger
	now             func() time.Time
}

// NewFileService creates a new file service. A nil now defaults to time.Now.
func NewFileService(
	userRepo storage.UserRepository,
	fileRepo storage.FileRepository,
	userFileRepo storage.UserFileRepository,
	blobs BlobStore,
	fingerprinter Fingerprinter,
	snapshotService *appbilling.SnapshotService,
	logger *zap.Logger,
	now func() time.Time,
) *FileService {
	if now == nil {
		now = time.Now
	}
	return &FileService{
		userRepo:        userRepo,
		fileRepo:        fileRepo,
		userFileRepo:    userFileRepo,
		blobs:           blobs,
		fingerprinter:   fingerprinter,
		snapshotService: snapshotService,
		logger:          logger,
		now:             now,
	}
}

// RegisterUpload processes one uploaded blob for the wallet's user.
func (s *FileService) RegisterUpload(ctx context.Context, walletRaw string, data []byte, contentType string) (*UploadResult, error) {
	if len(data) == 0 {
		return nil, shared.NewValidationError("File content is required")
	}

	wallet, err := storage.NewWalletAddress(walletRaw)
	if err != nil {
		return nil, err
	}

	user, err := s.findOrCreateUser(ctx, wallet)
	if err != nil {
		return nil, err
	}

	contentID, err := s.fingerprinter.ContentID(data)
	if err != nil {
		return nil, shared.NewDependencyError("Failed to compute content identifier", err)
	}
	fingerprint, err := s.fingerprinter.Fingerprint(data)
	if err != nil {
		return nil, shared.NewDependencyError("Failed to compute similarity fingerprint", err)
	}

	if err := s.blobs.Put(ctx, contentID, data, contentType); err != nil {
		return nil, shared.NewDependencyError("Failed to store blob", err)
	}

	file, err := s.findOrCreateFile(ctx, contentID, fingerprint, uint64(len(data)))
	if err != nil {
		return nil, err
	}

	uploadedAt := s.now()
	attached, err := s.userFileRepo.Attach(ctx, user.ID, file.ID, uploadedAt)
	if err != nil {
		return nil, shared.NewDependencyError("Failed to record upload association", err)
	}

	// A re-upload of already-owned content keeps the original association
	// and must not inflate the current period's snapshot.
	if attached {
		if _, err := s.snapshotService.AddUsageDelta(ctx, user.ID, uploadedAt, file.Size); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Upload registered",
		zap.String("user_id", user.ID.String()),
		zap.String("content_id", contentID),
		zap.Uint64("size", file.Size),
		zap.Bool("new_association", attached))

	return &UploadResult{
		UserID:      user.ID,
		ContentID:   file.ContentID,
		Fingerprint: file.Fingerprint,
		Size:        file.Size,
		GroupID:     file.GroupID,
		URL:         s.blobs.URL(file.ContentID),
		Duplicate:   !attached,
	}, nil
}

// findOrCreateUser resolves a wallet to its user, creating the account on
// first interaction.
func (s *FileService) findOrCreateUser(ctx context.Context, wallet storage.WalletAddress) (*storage.User, error) {
	user, err := s.userRepo.FindByWallet(ctx, wallet)
	if err != nil {
		return nil, shared.NewDependencyError("Failed to look up user", err)
	}
	if user != nil {
		return user, nil
	}

	user = storage.NewUserWithWallet(wallet)
	if err := s.userRepo.Save(ctx, user); err != nil {
		// Lost a race with a concurrent first upload for the same wallet
		if existing, lookupErr := s.userRepo.FindByWallet(ctx, wallet); lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, shared.NewDependencyError("Failed to create user", err)
	}
	return user, nil
}

// findOrCreateFile dedups on content identifier; a new file gets its
// similarity group assigned by the repository's serialized grouping rule.
func (s *FileService) findOrCreateFile(ctx context.Context, contentID, fingerprint string, size uint64) (*storage.File, error) {
	file, err := s.fileRepo.FindByContentID(ctx, contentID)
	if err != nil {
		return nil, shared.NewDependencyError("Failed to look up file", err)
	}
	if file != nil {
		return file, nil
	}

	file, err = storage.NewFile(contentID, fingerprint, size)
	if err != nil {
		return nil, err
	}

	created, err := s.fileRepo.CreateWithGroup(ctx, file)
	if err != nil {
		// Lost a race with another upload of the same content
		if existing, lookupErr := s.fileRepo.FindByContentID(ctx, contentID); lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, shared.NewDependencyError("Failed to create file record", err)
	}
	return created, nil
}

// ListUserFiles returns one page of the user's files, newest upload
// first, with gateway URLs resolved, plus the user's total file count.
func (s *FileService) ListUserFiles(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]FileInfo, int64, error) {
	if userID == uuid.Nil {
		return nil, 0, shared.NewValidationError("User ID cannot be empty")
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, 0, shared.NewDependencyError("Failed to look up user", err)
	}
	if user == nil {
		return nil, 0, shared.NewNotFoundError("User not found")
	}

	listings, total, err := s.userFileRepo.ListForUser(ctx, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, shared.NewDependencyError("Failed to list files", err)
	}

	infos := make([]FileInfo, 0, len(listings))
	for _, l := range listings {
		infos = append(infos, FileInfo{
			FileID:     l.FileID,
			ContentID:  l.ContentID,
			Size:       l.Size,
			GroupID:    l.GroupID,
			URL:        s.blobs.URL(l.ContentID),
			UploadedAt: l.UploadedAt,
		})
	}
	return infos, total, nil
}

// AttachWallet performs the one-time wallet backfill for a user created
// without a settlement identity.
func (s *FileService) AttachWallet(ctx context.Context, userID uuid.UUID, walletRaw string) (*storage.User, error) {
	if userID == uuid.Nil {
		return nil, shared.NewValidationError("User ID cannot be empty")
	}

	wallet, err := storage.NewWalletAddress(walletRaw)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, shared.NewDependencyError("Failed to look up user", err)
	}
	if user == nil {
		return nil, shared.NewNotFoundError("User not found")
	}

	if err := user.AttachWallet(wallet); err != nil {
		return nil, err
	}
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, shared.NewDependencyError("Failed to update user", err)
	}
	return user, nil
}
