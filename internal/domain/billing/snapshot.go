package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidUserID is returned when a user ID is invalid or empty
var ErrInvalidUserID = errors.New("billing: user ID cannot be empty")

// ErrInvalidPeriodLabel is returned for an out-of-range (year, month) label
var ErrInvalidPeriodLabel = errors.New("billing: period label out of range")

// SnapshotHashVersion identifies the canonical hash encoding. The encoding
// is public and stable so a third party can re-derive the hash from the
// snapshot fields alone.
const SnapshotHashVersion = "v1"

// NoWalletSentinel stands in for the wallet address in the hash input when
// the user has no settlement identity.
const NoWalletSentinel = "no-wallet"

// PlaceholderHash marks a snapshot created by the interactive delta path
// before the batch has recomputed the period and produced a real hash.
var PlaceholderHash = "0x" + strings.Repeat("0", 64)

// UsageSnapshot is the durable, idempotent record of one user's storage
// usage and billing state for one (year, month) period. There is at most one
// snapshot per (user, year, month); creation happens on first usage
// observation, ledger commit and settlement only mutate their own fields,
// and a snapshot is never deleted.
type UsageSnapshot struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Year         int
	Month        int
	TotalBytes   uint64
	BilledAmount decimal.Decimal
	Hash         string
	CommitTxID   *string
	CommitBlock  *uint64
	Paid         bool
	SettleTxID   *string
	SettleBlock  *uint64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUsageSnapshot creates a snapshot for a user and period label with
// freshly computed accounting fields.
func NewUsageSnapshot(userID uuid.UUID, year, month int, totalBytes uint64, billedAmount decimal.Decimal, hash string) (*UsageSnapshot, error) {
	if userID == uuid.Nil {
		return nil, ErrInvalidUserID
	}
	if year < 1970 || month < 1 || month > 12 {
		return nil, ErrInvalidPeriodLabel
	}

	now := time.Now().UTC()
	return &UsageSnapshot{
		ID:           uuid.New(),
		UserID:       userID,
		Year:         year,
		Month:        month,
		TotalBytes:   totalBytes,
		BilledAmount: billedAmount,
		Hash:         hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// SnapshotHash computes the canonical integrity hash for a snapshot.
//
// The input is the versioned, pipe-separated string
//
//	v1|<wallet-or-"no-wallet">|<year>|<month>|<totalBytes>|<billedAmount>
//
// with integers rendered as plain ASCII decimals and billedAmount in its
// minimal decimal form. The digest is sha256, hex encoded with a 0x prefix.
// Recomputing with identical inputs yields an identical hash.
func SnapshotHash(wallet *string, year, month int, totalBytes uint64, billedAmount decimal.Decimal) string {
	w := NoWalletSentinel
	if wallet != nil && *wallet != "" {
		w = strings.ToLower(*wallet)
	}

	input := fmt.Sprintf("%s|%s|%d|%d|%d|%s",
		SnapshotHashVersion, w, year, month, totalBytes, billedAmount.String())

	sum := sha256.Sum256([]byte(input))
	return "0x" + hex.EncodeToString(sum[:])
}

// SnapshotRepository is the idempotent keyed store for usage snapshots.
//
// Upsert overwrites only the accounting fields (total bytes, billed amount,
// hash) and must never clobber previously recorded ledger-commit or
// settlement fields. RecordCommit and RecordSettlement require the snapshot
// to exist already.
type SnapshotRepository interface {
	// Upsert inserts the snapshot or overwrites the accounting fields of the
	// existing row for (user, year, month). Returns the stored snapshot.
	Upsert(ctx context.Context, snapshot *UsageSnapshot) (*UsageSnapshot, error)

	// AddDelta atomically increments total bytes and billed amount for the
	// (user, year, month) row, creating it with the given values when absent.
	// Used by the interactive upload path.
	AddDelta(ctx context.Context, userID uuid.UUID, year, month int, bytesDelta uint64, amountDelta decimal.Decimal) (*UsageSnapshot, error)

	// RecordCommit stores the ledger commit receipt on an existing snapshot
	RecordCommit(ctx context.Context, snapshotID uuid.UUID, txID string, block *uint64) error

	// RecordSettlement stores the settlement outcome on an existing snapshot
	RecordSettlement(ctx context.Context, snapshotID uuid.UUID, paid bool, txID string, block *uint64) error

	// FindByUserAndPeriod retrieves the snapshot for (user, year, month).
	// Returns nil without error when no row exists.
	FindByUserAndPeriod(ctx context.Context, userID uuid.UUID, year, month int) (*UsageSnapshot, error)

	// FindByID retrieves a snapshot by its ID, nil when absent
	FindByID(ctx context.Context, id uuid.UUID) (*UsageSnapshot, error)
}
