package storage

import (
	"testing"

	"github.com/pinstor/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWalletAddress(t *testing.T) {
	t.Run("normalizes to lower case", func(t *testing.T) {
		w, err := NewWalletAddress("0xABCDEF0123456789abcdef0123456789ABCDEF01")

		require.NoError(t, err)
		assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", w.String())
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		w, err := NewWalletAddress("  0xabcdef0123456789abcdef0123456789abcdef01 ")

		require.NoError(t, err)
		assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", w.String())
	})

	t.Run("rejects malformed addresses", func(t *testing.T) {
		for _, raw := range []string{"", "abc", "0x123", "0xZZcdef0123456789abcdef0123456789abcdef01"} {
			_, err := NewWalletAddress(raw)
			assert.Error(t, err, raw)
			assert.True(t, shared.IsValidation(err))
		}
	})
}

func TestUser_AttachWallet(t *testing.T) {
	wallet, err := NewWalletAddress("0xabcdef0123456789abcdef0123456789abcdef01")
	require.NoError(t, err)

	t.Run("backfills a wallet once", func(t *testing.T) {
		u := NewUser()
		assert.False(t, u.HasWallet())
		assert.Nil(t, u.WalletString())

		require.NoError(t, u.AttachWallet(wallet))

		assert.True(t, u.HasWallet())
		require.NotNil(t, u.WalletString())
		assert.Equal(t, wallet.String(), *u.WalletString())
	})

	t.Run("wallet is immutable once set", func(t *testing.T) {
		u := NewUserWithWallet(wallet)

		other, err := NewWalletAddress("0x1111111111111111111111111111111111111111")
		require.NoError(t, err)

		assert.ErrorIs(t, u.AttachWallet(other), shared.ErrWalletImmutable)
		assert.Equal(t, wallet.String(), u.Wallet.String())
	})
}

func TestNewFile(t *testing.T) {
	t.Run("creates ungrouped file", func(t *testing.T) {
		f, err := NewFile("bafy123", "fp-1", 2048)

		require.NoError(t, err)
		assert.Equal(t, "bafy123", f.ContentID)
		assert.Equal(t, uint64(2048), f.Size)
		assert.Nil(t, f.GroupID)
		assert.False(t, f.IsGroupRoot())
	})

	t.Run("requires content identifier and fingerprint", func(t *testing.T) {
		_, err := NewFile("", "fp-1", 1)
		assert.True(t, shared.IsValidation(err))

		_, err = NewFile("bafy123", "", 1)
		assert.True(t, shared.IsValidation(err))
	})

	t.Run("group root is the file pointing at itself", func(t *testing.T) {
		f, err := NewFile("bafy123", "fp-1", 1)
		require.NoError(t, err)

		f.GroupID = &f.ID
		assert.True(t, f.IsGroupRoot())
	})
}
