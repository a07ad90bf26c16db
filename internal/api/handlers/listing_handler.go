package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"railexchange/railx/internal/api/middleware"
	"railexchange/railx/internal/models"
	"railexchange/railx/internal/services"
	"railexchange/railx/internal/storage"
	"railexchange/railx/internal/tasks"
)

// IAsynqClient covers the asynq client methods handlers use, so tests can
// substitute a mock.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ListingHandler handles listing endpoints.
type ListingHandler struct {
	listingService services.IListingService
	taskClient     IAsynqClient
}

// NewListingHandler creates a new ListingHandler.
func NewListingHandler(listingService services.IListingService, taskClient IAsynqClient) *ListingHandler {
	return &ListingHandler{listingService: listingService, taskClient: taskClient}
}

type createListingRequest struct {
	Title       string              `json:"title" binding:"required"`
	Description string              `json:"description" binding:"required"`
	Category    string              `json:"category" binding:"required"`
	Condition   string              `json:"condition"`
	AskingPrice *models.AskingPrice `json:"asking_price"`
}

// CreateListing handles POST /v1/listings. New listings start as drafts.
func (h *ListingHandler) CreateListing(c *gin.Context) {
	sellerID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: title, description and category are required"})
		return
	}

	category := models.ListingCategory(req.Category)
	if !category.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown listing category", "field": "category"})
		return
	}

	listing, err := h.listingService.CreateListing(c.Request.Context(), sellerID, req.Title, req.Description, category, req.Condition, req.AskingPrice)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create listing"})
		return
	}
	c.JSON(http.StatusCreated, listing)
}

// GetListingByID handles GET /v1/listings/:id.
func (h *ListingHandler) GetListingByID(c *gin.Context) {
	listingID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	listing, err := h.listingService.FindListingByID(c.Request.Context(), listingID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve listing"})
		return
	}

	// Drafts and removed listings are only visible to their seller.
	if listing.Status != models.ListingStatusPublished && listing.Status != models.ListingStatusSold {
		callerID, authenticated := middleware.UserIDFromContext(c)
		isAdmin := c.GetBool(middleware.ContextKeyIsAdmin)
		if !authenticated || (listing.SellerID != callerID && !isAdmin) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
			return
		}
	}
	c.JSON(http.StatusOK, listing)
}

type updateListingRequest struct {
	Title       *string             `json:"title"`
	Description *string             `json:"description"`
	Category    *string             `json:"category"`
	Condition   *string             `json:"condition"`
	AskingPrice *models.AskingPrice `json:"asking_price"`
}

// UpdateListing handles PATCH /v1/listings/:id.
func (h *ListingHandler) UpdateListing(c *gin.Context) {
	sellerID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	listingID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	var req updateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Category != nil {
		category := models.ListingCategory(*req.Category)
		if !category.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown listing category", "field": "category"})
			return
		}
		updates["category"] = category
	}
	if req.Condition != nil {
		updates["condition"] = *req.Condition
	}
	if req.AskingPrice != nil {
		updates["asking_price"] = *req.AskingPrice
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No updatable fields provided"})
		return
	}

	listing, err := h.listingService.UpdateListing(c.Request.Context(), listingID, sellerID, updates)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found or not owned by you"})
		return
	}
	c.JSON(http.StatusOK, listing)
}

// PublishListing handles POST /v1/listings/:id/publish.
func (h *ListingHandler) PublishListing(c *gin.Context) {
	h.transition(c, h.listingService.PublishListing, "Failed to publish listing")
}

// MarkSold handles POST /v1/listings/:id/sold.
func (h *ListingHandler) MarkSold(c *gin.Context) {
	h.transition(c, h.listingService.MarkSold, "Failed to mark listing sold")
}

// RemoveListing handles DELETE /v1/listings/:id.
func (h *ListingHandler) RemoveListing(c *gin.Context) {
	h.transition(c, h.listingService.RemoveListing, "Failed to remove listing")
}

func (h *ListingHandler) transition(c *gin.Context, op func(ctx context.Context, listingID, sellerID primitive.ObjectID) error, failMsg string) {
	sellerID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	listingID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	if err := op(c.Request.Context(), listingID, sellerID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusConflict, gin.H{"error": failMsg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type confirmPhotoRequest struct {
	Key string `json:"key" binding:"required"`
}

// ConfirmPhoto handles POST /v1/listings/:id/photos. Called after the client
// finishes uploading to the presigned URL; enqueues the normalization task
// which attaches the photo once processed.
func (h *ListingHandler) ConfirmPhoto(c *gin.Context) {
	sellerID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	listingID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	var req confirmPhotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: key is required"})
		return
	}
	key := storage.SanitizeKey(req.Key)
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid object key", "field": "key"})
		return
	}

	listing, err := h.listingService.FindListingByID(c.Request.Context(), listingID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve listing"})
		return
	}
	if listing.SellerID != sellerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not your listing"})
		return
	}

	task, err := tasks.NewImageProcessTask(key, listingID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule photo processing"})
		return
	}
	if _, err := h.taskClient.EnqueueContext(c.Request.Context(), task); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule photo processing"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "key": key})
}

// SearchListings handles GET /v1/listings. Elite listings sort first.
func (h *ListingHandler) SearchListings(c *gin.Context) {
	params := services.ListingSearchParams{}

	if categoryStr := c.Query("category"); categoryStr != "" {
		category := models.ListingCategory(categoryStr)
		if !category.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown listing category", "field": "category"})
			return
		}
		params.Category = &category
	}
	if condition := c.Query("condition"); condition != "" {
		params.Condition = &condition
	}
	if sellerIDStr := c.Query("seller_id"); sellerIDStr != "" {
		sellerID, err := primitive.ObjectIDFromHex(sellerIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid seller ID format", "field": "seller_id"})
			return
		}
		params.SellerID = &sellerID
	}

	published := models.ListingStatusPublished
	params.Status = &published

	params.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	params.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))

	listings, total, err := h.listingService.SearchListings(c.Request.Context(), params)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search listings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": listings, "total": total})
}
