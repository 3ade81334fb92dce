package storage

import (
	"context"
	"time"

	"github.com/pinstor/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// File is a content-addressed blob shared by reference across users. It is
// keyed by its content identifier; the similarity fingerprint clusters
// near-duplicate content into groups. GroupID is assigned once at creation
// (or retroactively when a file becomes a group root) and never changes
// afterwards.
type File struct {
	shared.BaseEntity
	ContentID   string
	Fingerprint string
	Size        uint64
	GroupID     *uuid.UUID
	// Seq is the insertion order assigned by the store. Group assignment
	// ties break on the lowest surviving Seq.
	Seq int64
}

// NewFile creates a file record for freshly seen content. The group is
// assigned by the repository under its serialization rule, not here.
func NewFile(contentID, fingerprint string, size uint64) (*File, error) {
	if contentID == "" {
		return nil, shared.NewValidationError("Content identifier is required")
	}
	if fingerprint == "" {
		return nil, shared.NewValidationError("Similarity fingerprint is required")
	}
	return &File{
		BaseEntity:  shared.NewBaseEntity(),
		ContentID:   contentID,
		Fingerprint: fingerprint,
		Size:        size,
	}, nil
}

// IsGroupRoot reports whether the file anchors its similarity group
func (f *File) IsGroupRoot() bool {
	return f.GroupID != nil && *f.GroupID == f.ID
}

// UserFile associates a user with a file they uploaded. The association is
// unique per (user, file): re-uploading the same content creates no
// duplicate and therefore never double-counts in usage aggregation.
type UserFile struct {
	UserID     uuid.UUID
	FileID     uuid.UUID
	UploadedAt time.Time
}

// UploadRecord is a user's association joined with the file's byte size,
// the shape usage aggregation consumes.
type UploadRecord struct {
	FileID     uuid.UUID
	Size       uint64
	UploadedAt time.Time
}

// FileListing is one row of a user's file inventory: the association
// joined with the file's identity fields.
type FileListing struct {
	FileID     uuid.UUID
	ContentID  string
	Size       uint64
	GroupID    *uuid.UUID
	UploadedAt time.Time
}

// FileRepository persists content-addressed files and owns similarity-group
// assignment.
//
// CreateWithGroup must implement the grouping rule: look up the earliest
// created file (lowest surviving insertion order) with the same fingerprint
// and inherit its group, establishing that file retroactively as group root
// if it has none; when no match exists the new file becomes its own root.
// Implementations must serialize assignment for a fingerprint so two
// concurrently created files cannot both claim root status.
type FileRepository interface {
	// FindByContentID retrieves a file by content identifier, nil when absent
	FindByContentID(ctx context.Context, contentID string) (*File, error)

	// CreateWithGroup persists a new file and assigns its similarity group
	// atomically. Returns the stored file including the assigned group.
	CreateWithGroup(ctx context.Context, file *File) (*File, error)

	// FindByID retrieves a file by ID, nil when absent
	FindByID(ctx context.Context, id uuid.UUID) (*File, error)
}

// UserFileRepository persists upload associations
type UserFileRepository interface {
	// Attach records that the user uploaded the file. Idempotent: an
	// existing (user, file) association is left untouched, preserving the
	// original upload timestamp. Reports whether a new association was
	// created.
	Attach(ctx context.Context, userID, fileID uuid.UUID, uploadedAt time.Time) (bool, error)

	// UploadsForUser returns the user's upload records joined with file
	// sizes, for usage aggregation.
	UploadsForUser(ctx context.Context, userID uuid.UUID) ([]UploadRecord, error)

	// ListForUser returns one page of the user's files, newest upload
	// first, along with the user's total file count.
	ListForUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]FileListing, int64, error)
}
