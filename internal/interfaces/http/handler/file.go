package handler

import (
	"context"
	"io"

	appstorage "github.com/pinstor/backend/internal/application/storage"
	"github.com/pinstor/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UploadRegistrar registers uploaded blobs for a wallet's user
type UploadRegistrar interface {
	RegisterUpload(ctx context.Context, wallet string, data []byte, contentType string) (*appstorage.UploadResult, error)
}

// UserFileLister pages through a user's file inventory
type UserFileLister interface {
	ListUserFiles(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]appstorage.FileInfo, int64, error)
}

// FileHandler handles file upload and listing endpoints
type FileHandler struct {
	BaseHandler
	files  UploadRegistrar
	lister UserFileLister
}

// NewFileHandler creates a new FileHandler
func NewFileHandler(files UploadRegistrar, lister UserFileLister) *FileHandler {
	return &FileHandler{files: files, lister: lister}
}

// RegisterRoutes registers the file routes
func (h *FileHandler) RegisterRoutes(rg *gin.RouterGroup) {
	files := rg.Group("/files")
	files.POST("", h.Upload)
	rg.GET("/users/:id/files", h.ListUserFiles)
}

// Upload registers one uploaded file for the wallet's user.
// Expects a multipart form with a "file" part and a "wallet" field.
func (h *FileHandler) Upload(c *gin.Context) {
	wallet := c.PostForm("wallet")
	if wallet == "" {
		h.ValidationError(c, []dto.ValidationDetail{
			{Field: "wallet", Message: "This field is required"},
		})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.ValidationError(c, []dto.ValidationDetail{
			{Field: "file", Message: "A file part is required"},
		})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		h.BadRequest(c, "Failed to read uploaded file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		h.BadRequest(c, "Failed to read uploaded file")
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")

	result, err := h.files.RegisterUpload(c.Request.Context(), wallet, data, contentType)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, result)
}

// ListUserFiles returns one page of the user's files, newest first
func (h *FileHandler) ListUserFiles(c *gin.Context) {
	userID, err := parseUUIDParam(c, "id")
	if err != nil {
		h.HandleError(c, err)
		return
	}

	req := dto.DefaultListRequest()
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "Invalid pagination parameters")
		return
	}

	files, total, err := h.lister.ListUserFiles(c.Request.Context(), userID, req.Page, req.PageSize)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, files, total, req.Page, req.PageSize)
}
