package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	appbilling "github.com/pinstor/backend/internal/application/billing"
	"github.com/pinstor/backend/internal/domain/billing"
	"github.com/pinstor/backend/internal/domain/shared"
	"github.com/pinstor/backend/internal/domain/storage"
	"github.com/pinstor/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUserFinder struct {
	user *storage.User
	err  error
}

func (f *fakeUserFinder) FindByID(ctx context.Context, id uuid.UUID) (*storage.User, error) {
	return f.user, f.err
}

type fakeSnapshotFinder struct {
	snapshot *billing.UsageSnapshot
	err      error
}

func (f *fakeSnapshotFinder) FindByUserAndPeriod(ctx context.Context, userID uuid.UUID, year, month int) (*billing.UsageSnapshot, error) {
	return f.snapshot, f.err
}

type fakeCommitter struct {
	outcome appbilling.CommitOutcome
	receipt *billing.LedgerReceipt
	err     error
	called  bool
}

func (f *fakeCommitter) Commit(ctx context.Context, user *storage.User, snapshot *billing.UsageSnapshot) (appbilling.CommitOutcome, *billing.LedgerReceipt, error) {
	f.called = true
	return f.outcome, f.receipt, f.err
}

type fakeSettler struct {
	gotSuccess bool
	receipt    *billing.LedgerReceipt
	err        error
	called     bool
}

func (f *fakeSettler) Settle(ctx context.Context, user *storage.User, year, month int, success bool) (*billing.LedgerReceipt, error) {
	f.called = true
	f.gotSuccess = success
	return f.receipt, f.err
}

type fakeBatchRunner struct {
	report *appbilling.BatchReport
	err    error
}

func (f *fakeBatchRunner) Run(ctx context.Context) (*appbilling.BatchReport, error) {
	return f.report, f.err
}

type billingFixture struct {
	users     *fakeUserFinder
	snapshots *fakeSnapshotFinder
	committer *fakeCommitter
	settler   *fakeSettler
	batch     *fakeBatchRunner
	router    *gin.Engine
}

func newBillingFixture() *billingFixture {
	f := &billingFixture{
		users:     &fakeUserFinder{},
		snapshots: &fakeSnapshotFinder{},
		committer: &fakeCommitter{},
		settler:   &fakeSettler{},
		batch:     &fakeBatchRunner{},
	}
	f.router = gin.New()
	handler := NewBillingHandler(f.users, f.snapshots, f.committer, f.settler, f.batch)
	handler.RegisterRoutes(f.router.Group("/api/v1"))
	return f
}

func (f *billingFixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/v1/billing"+path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func billingTestUser(t *testing.T) *storage.User {
	t.Helper()
	wallet, err := storage.NewWalletAddress("0xabcd000000000000000000000000000000000001")
	require.NoError(t, err)
	return storage.NewUserWithWallet(wallet)
}

func billingTestSnapshot(t *testing.T, userID uuid.UUID) *billing.UsageSnapshot {
	t.Helper()
	snapshot, err := billing.NewUsageSnapshot(userID, 2025, 11, 4096, decimal.RequireFromString("0.000000000000004096"), "0x9f0c")
	require.NoError(t, err)
	return snapshot
}

func TestBillingHandlerCommit(t *testing.T) {
	user := billingTestUser(t)
	block := uint64(812345)

	f := newBillingFixture()
	f.users.user = user
	f.snapshots.snapshot = billingTestSnapshot(t, user.ID)
	f.committer.outcome = appbilling.OutcomeCommitted
	f.committer.receipt = &billing.LedgerReceipt{TxID: "0xfeed", BlockNumber: &block}

	w := f.post(t, "/commit", CommitRequest{UserID: user.ID, Year: 2025, Month: 11})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.committer.called)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	assert.Equal(t, "committed", data["outcome"])
	receipt := data["receipt"].(map[string]any)
	assert.Equal(t, "0xfeed", receipt["tx_id"])
	assert.Equal(t, float64(812345), receipt["block_number"])
}

func TestBillingHandlerCommitSkipOutcome(t *testing.T) {
	user := billingTestUser(t)

	f := newBillingFixture()
	f.users.user = user
	f.snapshots.snapshot = billingTestSnapshot(t, user.ID)
	f.committer.outcome = appbilling.OutcomeSkippedZeroBytes

	w := f.post(t, "/commit", CommitRequest{UserID: user.ID, Year: 2025, Month: 11})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	assert.Equal(t, "skipped_zero_bytes", data["outcome"])
	assert.NotContains(t, data, "receipt")
}

func TestBillingHandlerCommitUnknownUser(t *testing.T) {
	f := newBillingFixture()

	w := f.post(t, "/commit", CommitRequest{UserID: uuid.New(), Year: 2025, Month: 11})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, f.committer.called)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "User not found", resp.Error.Message)
}

func TestBillingHandlerCommitMissingSnapshot(t *testing.T) {
	user := billingTestUser(t)

	f := newBillingFixture()
	f.users.user = user

	w := f.post(t, "/commit", CommitRequest{UserID: user.ID, Year: 2025, Month: 11})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, f.committer.called)
}

func TestBillingHandlerCommitDependencyError(t *testing.T) {
	user := billingTestUser(t)

	f := newBillingFixture()
	f.users.user = user
	f.snapshots.snapshot = billingTestSnapshot(t, user.ID)
	f.committer.err = shared.NewDependencyError("Ledger commit failed", errors.New("connection refused"))

	w := f.post(t, "/commit", CommitRequest{UserID: user.ID, Year: 2025, Month: 11})

	assert.Equal(t, http.StatusBadGateway, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.ErrCodeDependency, resp.Error.Code)
}

func TestBillingHandlerCommitInvalidBody(t *testing.T) {
	f := newBillingFixture()

	w := f.post(t, "/commit", map[string]any{"user_id": uuid.NewString(), "year": 2025, "month": 13})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, f.committer.called)
}

func TestBillingHandlerSettle(t *testing.T) {
	user := billingTestUser(t)
	success := true

	f := newBillingFixture()
	f.users.user = user
	f.settler.receipt = &billing.LedgerReceipt{TxID: "0xbeef"}

	w := f.post(t, "/settle", SettleRequest{UserID: user.ID, Year: 2025, Month: 11, Success: &success})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.settler.called)
	assert.True(t, f.settler.gotSuccess)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	assert.Equal(t, "0xbeef", data["tx_id"])
	assert.NotContains(t, data, "block_number")
}

func TestBillingHandlerSettleFailureOutcome(t *testing.T) {
	user := billingTestUser(t)
	success := false

	f := newBillingFixture()
	f.users.user = user
	f.settler.receipt = &billing.LedgerReceipt{TxID: "0xdead"}

	w := f.post(t, "/settle", SettleRequest{UserID: user.ID, Year: 2025, Month: 11, Success: &success})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.settler.gotSuccess)
}

func TestBillingHandlerSettleMissingSuccess(t *testing.T) {
	f := newBillingFixture()
	f.users.user = billingTestUser(t)

	w := f.post(t, "/settle", map[string]any{"user_id": uuid.NewString(), "year": 2025, "month": 11})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, f.settler.called)
}

func TestBillingHandlerSettleUnknownUser(t *testing.T) {
	success := true

	f := newBillingFixture()

	w := f.post(t, "/settle", SettleRequest{UserID: uuid.New(), Year: 2025, Month: 11, Success: &success})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, f.settler.called)
}

func TestBillingHandlerSettleWithoutSnapshot(t *testing.T) {
	user := billingTestUser(t)
	success := true

	f := newBillingFixture()
	f.users.user = user
	f.settler.err = shared.NewNotFoundError("No usage snapshot exists for this user and period")

	w := f.post(t, "/settle", SettleRequest{UserID: user.ID, Year: 2025, Month: 11, Success: &success})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBillingHandlerRunBatch(t *testing.T) {
	f := newBillingFixture()
	f.batch.report = &appbilling.BatchReport{
		Year:       2025,
		Month:      11,
		TotalUsers: 3,
		Committed:  2,
		Skipped:    1,
	}

	w := f.post(t, "/run", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(2025), data["year"])
	assert.Equal(t, float64(3), data["total_users"])
	assert.Equal(t, float64(2), data["committed"])
	assert.Equal(t, float64(1), data["skipped"])
}

func TestBillingHandlerRunBatchFatal(t *testing.T) {
	f := newBillingFixture()
	f.batch.err = shared.NewDomainError(shared.CodeFatal, "Period resolution failed")

	w := f.post(t, "/run", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
