package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"railexchange/railx/internal/api/middleware"
	"railexchange/railx/internal/config"
	"railexchange/railx/internal/storage"
)

// UploadHandler issues presigned upload URLs and proxies stored images.
type UploadHandler struct {
	cfg       *config.Config
	s3Storage storage.IS3Storage
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(cfg *config.Config, s3Storage storage.IS3Storage) *UploadHandler {
	return &UploadHandler{cfg: cfg, s3Storage: s3Storage}
}

type presignUploadRequest struct {
	Folder      string `json:"folder" binding:"required"`
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
	Size        int64  `json:"size" binding:"required"`
}

// PresignUpload handles POST /v1/uploads/url. Returns a presigned PUT URL
// and the object key the client must reference afterwards.
func (h *UploadHandler) PresignUpload(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var req presignUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: folder, filename, content_type and size are required"})
		return
	}

	if err := storage.ValidateUpload(req.Folder, req.ContentType, req.Size); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	url, key, err := h.s3Storage.GeneratePresignedPutURL(c.Request.Context(), userID.Hex(), req.Folder, req.Filename, req.ContentType, req.Size)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate upload URL"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":        url,
		"key":        key,
		"expires_in": int(h.cfg.PresignTTL.Seconds()),
	})
}

// placeholderPNG is a 1x1 transparent PNG served whenever an image cannot be
// fetched. Broken photo references render as a blank tile instead of an
// error payload.
var placeholderPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func servePlaceholder(c *gin.Context) {
	c.Header("Content-Type", "image/png")
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", placeholderPNG)
}

// GetImage handles GET /v1/images/*key. Streams the object through the
// server so bucket URLs are never exposed to clients. Every failure path
// serves the placeholder image rather than an error body.
func (h *UploadHandler) GetImage(c *gin.Context) {
	key := storage.SanitizeKey(c.Param("key"))
	if key == "" {
		servePlaceholder(c)
		return
	}

	body, contentType, err := h.s3Storage.StreamObject(c.Request.Context(), key)
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotFound) {
			log.Printf("Failed to fetch image %s: %v", key, err)
		}
		servePlaceholder(c)
		return
	}
	defer body.Close()

	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "public, max-age=3600")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		_ = c.Error(err)
	}
}
