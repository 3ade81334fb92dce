package handler

import (
	"context"
	"time"

	appbilling "github.com/pinstor/backend/internal/application/billing"
	"github.com/pinstor/backend/internal/domain/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WalletAttacher performs the one-time wallet backfill for a user
type WalletAttacher interface {
	AttachWallet(ctx context.Context, userID uuid.UUID, wallet string) (*storage.User, error)
}

// UsageReader reads the current-period usage for a user
type UsageReader interface {
	GetCurrentUsage(ctx context.Context, userID uuid.UUID, now time.Time) (*appbilling.CurrentUsage, error)
}

// UserHandler handles user account endpoints
type UserHandler struct {
	BaseHandler
	wallets WalletAttacher
	usage   UsageReader
	now     func() time.Time
}

// NewUserHandler creates a new UserHandler. A nil now defaults to time.Now.
func NewUserHandler(wallets WalletAttacher, usage UsageReader, now func() time.Time) *UserHandler {
	if now == nil {
		now = time.Now
	}
	return &UserHandler{wallets: wallets, usage: usage, now: now}
}

// RegisterRoutes registers the user routes
func (h *UserHandler) RegisterRoutes(rg *gin.RouterGroup) {
	users := rg.Group("/users")
	users.POST("/:id/wallet", h.AttachWallet)
	users.GET("/:id/usage", h.GetCurrentUsage)
}

// AttachWalletRequest is the wallet backfill payload
type AttachWalletRequest struct {
	Wallet string `json:"wallet" binding:"required"`
}

// UserResponse is the HTTP shape of a user account
type UserResponse struct {
	ID     uuid.UUID `json:"id"`
	Wallet *string   `json:"wallet,omitempty"`
}

func newUserResponse(user *storage.User) UserResponse {
	resp := UserResponse{ID: user.ID}
	if user.HasWallet() {
		w := user.Wallet.String()
		resp.Wallet = &w
	}
	return resp
}

// AttachWallet attaches a settlement wallet to a user that has none.
// The wallet is immutable once set; a second attempt returns a conflict.
func (h *UserHandler) AttachWallet(c *gin.Context) {
	userID, err := parseUUIDParam(c, "id")
	if err != nil {
		h.HandleError(c, err)
		return
	}

	var req AttachWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}

	user, err := h.wallets.AttachWallet(c.Request.Context(), userID, req.Wallet)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, newUserResponse(user))
}

// GetCurrentUsage returns the user's usage in the running billing period.
// A user with no recorded usage yet gets a zero-valued result.
func (h *UserHandler) GetCurrentUsage(c *gin.Context) {
	userID, err := parseUUIDParam(c, "id")
	if err != nil {
		h.HandleError(c, err)
		return
	}

	usage, err := h.usage.GetCurrentUsage(c.Request.Context(), userID, h.now())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, usage)
}
