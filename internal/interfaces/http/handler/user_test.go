package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appbilling "github.com/pinstor/backend/internal/application/billing"
	"github.com/pinstor/backend/internal/domain/shared"
	"github.com/pinstor/backend/internal/domain/storage"
	"github.com/pinstor/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWalletAttacher struct {
	gotUserID uuid.UUID
	gotWallet string
	user      *storage.User
	err       error
}

func (f *fakeWalletAttacher) AttachWallet(ctx context.Context, userID uuid.UUID, wallet string) (*storage.User, error) {
	f.gotUserID = userID
	f.gotWallet = wallet
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

type fakeUsageReader struct {
	gotUserID uuid.UUID
	usage     *appbilling.CurrentUsage
	err       error
}

func (f *fakeUsageReader) GetCurrentUsage(ctx context.Context, userID uuid.UUID, now time.Time) (*appbilling.CurrentUsage, error) {
	f.gotUserID = userID
	if f.err != nil {
		return nil, f.err
	}
	return f.usage, nil
}

func userRouter(wallets WalletAttacher, usage UsageReader) *gin.Engine {
	router := gin.New()
	NewUserHandler(wallets, usage, nil).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func attachWalletRequest(t *testing.T, userID string, body any) *http.Request {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/v1/users/"+userID+"/wallet", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestUserHandlerAttachWallet(t *testing.T) {
	wallet, err := storage.NewWalletAddress("0xabcd000000000000000000000000000000000001")
	require.NoError(t, err)
	user := storage.NewUserWithWallet(wallet)

	attacher := &fakeWalletAttacher{user: user}
	router := userRouter(attacher, &fakeUsageReader{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, attachWalletRequest(t, user.ID.String(), AttachWalletRequest{
		Wallet: "0xABCD000000000000000000000000000000000001",
	}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user.ID, attacher.gotUserID)
	assert.Equal(t, "0xABCD000000000000000000000000000000000001", attacher.gotWallet)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	assert.Equal(t, user.ID.String(), data["id"])
	assert.Equal(t, "0xabcd000000000000000000000000000000000001", data["wallet"])
}

func TestUserHandlerAttachWalletImmutable(t *testing.T) {
	attacher := &fakeWalletAttacher{err: shared.ErrWalletImmutable}
	router := userRouter(attacher, &fakeUsageReader{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, attachWalletRequest(t, uuid.NewString(), AttachWalletRequest{
		Wallet: "0xabcd000000000000000000000000000000000002",
	}))

	assert.Equal(t, http.StatusConflict, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.ErrCodeWalletImmutable, resp.Error.Code)
}

func TestUserHandlerAttachWalletUnknownUser(t *testing.T) {
	attacher := &fakeWalletAttacher{err: shared.NewNotFoundError("User not found")}
	router := userRouter(attacher, &fakeUsageReader{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, attachWalletRequest(t, uuid.NewString(), AttachWalletRequest{
		Wallet: "0xabcd000000000000000000000000000000000002",
	}))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUserHandlerAttachWalletBadRequest(t *testing.T) {
	attacher := &fakeWalletAttacher{}
	router := userRouter(attacher, &fakeUsageReader{})

	t.Run("invalid user id", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, attachWalletRequest(t, "not-a-uuid", AttachWalletRequest{Wallet: "0x1"}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing wallet field", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, attachWalletRequest(t, uuid.NewString(), map[string]any{}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUserHandlerGetCurrentUsage(t *testing.T) {
	userID := uuid.New()
	hash := "0x9f0c4b7a"
	reader := &fakeUsageReader{usage: &appbilling.CurrentUsage{
		Year:         2025,
		Month:        11,
		TotalBytes:   4096,
		BilledAmount: decimal.RequireFromString("0.000000000000004096"),
		Hash:         &hash,
	}}
	router := userRouter(&fakeWalletAttacher{}, reader)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/users/"+userID.String()+"/usage", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID, reader.gotUserID)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(2025), data["year"])
	assert.Equal(t, float64(11), data["month"])
	assert.Equal(t, float64(4096), data["total_bytes"])
}

func TestUserHandlerGetCurrentUsageUnknownUser(t *testing.T) {
	reader := &fakeUsageReader{err: shared.NewNotFoundError("User not found")}
	router := userRouter(&fakeWalletAttacher{}, reader)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/users/"+uuid.NewString()+"/usage", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
