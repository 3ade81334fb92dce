package storage

import (
	"context"
	"regexp"
	"strings"

	"github.com/pinstor/backend/internal/domain/shared"
	"github.com/google/uuid"
)

var walletAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// WalletAddress is an EVM settlement identity, normalized to lower case.
type WalletAddress string

// NewWalletAddress validates and normalizes a wallet address
func NewWalletAddress(raw string) (WalletAddress, error) {
	trimmed := strings.TrimSpace(raw)
	if !walletAddressPattern.MatchString(trimmed) {
		return "", shared.NewValidationError("Wallet address must be a 0x-prefixed 40-hex-digit string")
	}
	return WalletAddress(strings.ToLower(trimmed)), nil
}

// String returns the normalized address
func (w WalletAddress) String() string {
	return string(w)
}

// User is an account that owns uploads. A user may exist without a
// settlement identity; such users accrue snapshots but are never committed
// to the ledger.
type User struct {
	shared.BaseEntity
	Wallet *WalletAddress
}

// NewUser creates a user without a settlement identity
func NewUser() *User {
	return &User{BaseEntity: shared.NewBaseEntity()}
}

// NewUserWithWallet creates a user bound to a wallet address
func NewUserWithWallet(wallet WalletAddress) *User {
	u := NewUser()
	u.Wallet = &wallet
	return u
}

// HasWallet reports whether the user has a settlement identity
func (u *User) HasWallet() bool {
	return u.Wallet != nil && *u.Wallet != ""
}

// WalletString returns the wallet address, or nil when absent, in the form
// the snapshot hash consumes.
func (u *User) WalletString() *string {
	if !u.HasWallet() {
		return nil
	}
	s := u.Wallet.String()
	return &s
}

// AttachWallet performs the one-time wallet backfill. The address is
// immutable once set.
func (u *User) AttachWallet(wallet WalletAddress) error {
	if u.HasWallet() {
		return shared.ErrWalletImmutable
	}
	u.Wallet = &wallet
	u.Touch()
	return nil
}

// UserRepository persists users
type UserRepository interface {
	// Save persists a new user
	Save(ctx context.Context, user *User) error

	// Update persists changes to an existing user
	Update(ctx context.Context, user *User) error

	// FindByID retrieves a user by ID, nil when absent
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)

	// FindByWallet retrieves a user by wallet address, nil when absent
	FindByWallet(ctx context.Context, wallet WalletAddress) (*User, error)

	// FindAll retrieves every user, in creation order
	FindAll(ctx context.Context) ([]*User, error)
}
