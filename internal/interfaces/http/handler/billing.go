package handler

import (
	"context"

	appbilling "github.com/pinstor/backend/internal/application/billing"
	"github.com/pinstor/backend/internal/domain/billing"
	"github.com/pinstor/backend/internal/domain/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UserFinder resolves user accounts by ID
type UserFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*storage.User, error)
}

// SnapshotFinder loads stored usage snapshots by user and period
type SnapshotFinder interface {
	FindByUserAndPeriod(ctx context.Context, userID uuid.UUID, year, month int) (*billing.UsageSnapshot, error)
}

// UsageCommitter anchors a stored snapshot to the ledger
type UsageCommitter interface {
	Commit(ctx context.Context, user *storage.User, snapshot *billing.UsageSnapshot) (appbilling.CommitOutcome, *billing.LedgerReceipt, error)
}

// PaymentSettler submits a payment outcome to the ledger
type PaymentSettler interface {
	Settle(ctx context.Context, user *storage.User, year, month int, success bool) (*billing.LedgerReceipt, error)
}

// BillingBatchRunner runs the monthly billing batch
type BillingBatchRunner interface {
	Run(ctx context.Context) (*appbilling.BatchReport, error)
}

// BillingHandler handles manual billing operations: per-user commit and
// settlement, and triggering a full batch run.
type BillingHandler struct {
	BaseHandler
	users     UserFinder
	snapshots SnapshotFinder
	committer UsageCommitter
	settler   PaymentSettler
	batch     BillingBatchRunner
}

// NewBillingHandler creates a new BillingHandler
func NewBillingHandler(
	users UserFinder,
	snapshots SnapshotFinder,
	committer UsageCommitter,
	settler PaymentSettler,
	batch BillingBatchRunner,
) *BillingHandler {
	return &BillingHandler{
		users:     users,
		snapshots: snapshots,
		committer: committer,
		settler:   settler,
		batch:     batch,
	}
}

// RegisterRoutes registers the billing routes
func (h *BillingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	billingGroup := rg.Group("/billing")
	billingGroup.POST("/commit", h.Commit)
	billingGroup.POST("/settle", h.Settle)
	billingGroup.POST("/run", h.RunBatch)
}

// CommitRequest identifies the snapshot to anchor
type CommitRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
	Year   int       `json:"year" binding:"required,gte=2000,lte=2200"`
	Month  int       `json:"month" binding:"required,gte=1,lte=12"`
}

// ReceiptResponse is the HTTP shape of a ledger receipt
type ReceiptResponse struct {
	TxID        string  `json:"tx_id"`
	BlockNumber *uint64 `json:"block_number,omitempty"`
}

func newReceiptResponse(receipt *billing.LedgerReceipt) *ReceiptResponse {
	if receipt == nil {
		return nil
	}
	return &ReceiptResponse{TxID: receipt.TxID, BlockNumber: receipt.BlockNumber}
}

// CommitResponse reports the commit outcome and receipt, if any
type CommitResponse struct {
	Outcome appbilling.CommitOutcome `json:"outcome"`
	Receipt *ReceiptResponse         `json:"receipt,omitempty"`
}

// Commit anchors the stored snapshot for (user, year, month) to the ledger.
// Users without a wallet and zero-byte periods are reported as skip
// outcomes without any ledger interaction.
func (h *BillingHandler) Commit(c *gin.Context) {
	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}

	user, snapshot, ok := h.loadUserAndSnapshot(c, req.UserID, req.Year, req.Month)
	if !ok {
		return
	}

	outcome, receipt, err := h.committer.Commit(c.Request.Context(), user, snapshot)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, CommitResponse{Outcome: outcome, Receipt: newReceiptResponse(receipt)})
}

// SettleRequest identifies the snapshot and carries the payment outcome
type SettleRequest struct {
	UserID  uuid.UUID `json:"user_id" binding:"required"`
	Year    int       `json:"year" binding:"required,gte=2000,lte=2200"`
	Month   int       `json:"month" binding:"required,gte=1,lte=12"`
	Success *bool     `json:"success" binding:"required"`
}

// Settle submits the payment outcome for (user, year, month) to the ledger
// and records it on the snapshot.
func (h *BillingHandler) Settle(c *gin.Context) {
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}

	user, err := h.users.FindByID(c.Request.Context(), req.UserID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if user == nil {
		h.NotFound(c, "User not found")
		return
	}

	receipt, err := h.settler.Settle(c.Request.Context(), user, req.Year, req.Month, *req.Success)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, newReceiptResponse(receipt))
}

// RunBatch triggers a full billing batch for the most recently closed
// window and returns the per-user report. Per-user failures are part of the
// report, not an error.
func (h *BillingHandler) RunBatch(c *gin.Context) {
	report, err := h.batch.Run(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, report)
}

func (h *BillingHandler) loadUserAndSnapshot(c *gin.Context, userID uuid.UUID, year, month int) (*storage.User, *billing.UsageSnapshot, bool) {
	user, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return nil, nil, false
	}
	if user == nil {
		h.NotFound(c, "User not found")
		return nil, nil, false
	}

	snapshot, err := h.snapshots.FindByUserAndPeriod(c.Request.Context(), userID, year, month)
	if err != nil {
		h.HandleError(c, err)
		return nil, nil, false
	}
	if snapshot == nil {
		h.NotFound(c, "No usage snapshot exists for this user and period")
		return nil, nil, false
	}

	return user, snapshot, true
}
