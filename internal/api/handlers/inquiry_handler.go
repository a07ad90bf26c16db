package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"railexchange/railx/internal/api/middleware"
	"railexchange/railx/internal/models"
	"railexchange/railx/internal/services"
	"railexchange/railx/internal/storage"
	"railexchange/railx/internal/tasks"
)

// InquiryHandler handles buyer/seller inquiry threads.
type InquiryHandler struct {
	inquiryService services.IInquiryService
	userService    services.IUserService
	listingService services.IListingService
	taskClient     IAsynqClient
}

// NewInquiryHandler creates a new InquiryHandler.
func NewInquiryHandler(inquiryService services.IInquiryService, userService services.IUserService, listingService services.IListingService, taskClient IAsynqClient) *InquiryHandler {
	return &InquiryHandler{
		inquiryService: inquiryService,
		userService:    userService,
		listingService: listingService,
		taskClient:     taskClient,
	}
}

// notifyParticipant emails the other side of the thread. Failures are logged;
// the message is already persisted so the request still succeeds.
func (h *InquiryHandler) notifyParticipant(ctx context.Context, inquiry *models.Inquiry, recipientID primitive.ObjectID, templateID string) {
	recipient, err := h.userService.FindByID(ctx, recipientID)
	if err != nil {
		log.Printf("Error loading user %s for inquiry notification: %v", recipientID.Hex(), err)
		return
	}
	if recipient.Notifications != nil && !recipient.Notifications.Inquiry {
		return
	}

	data := map[string]interface{}{"inquiry_id": inquiry.ID.Hex()}
	if listing, err := h.listingService.FindListingByID(ctx, inquiry.ListingID); err == nil {
		data["listing_title"] = listing.Title
	}

	task, err := tasks.NewEmailTask(recipient.Email, templateID, data)
	if err != nil {
		log.Printf("Error building inquiry notification task: %v", err)
		return
	}
	if _, err := h.taskClient.EnqueueContext(ctx, task); err != nil {
		log.Printf("Error enqueueing inquiry notification for %s: %v", recipient.Email, err)
	}
}

type createInquiryRequest struct {
	ListingID   string   `json:"listing_id" binding:"required"`
	Content     string   `json:"content" binding:"required"`
	Attachments []string `json:"attachments"`
}

// CreateInquiry handles POST /v1/inquiries. One inquiry per (listing, buyer);
// duplicates come back 409 off the unique index.
func (h *InquiryHandler) CreateInquiry(c *gin.Context) {
	buyerID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var req createInquiryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: listing_id and content are required"})
		return
	}
	listingID, err := primitive.ObjectIDFromHex(req.ListingID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format", "field": "listing_id"})
		return
	}

	inquiry, err := h.inquiryService.CreateInquiry(c.Request.Context(), listingID, buyerID, req.Content, sanitizeAttachments(req.Attachments))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInquiryExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrOwnListing):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, mongo.ErrNoDocuments):
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found or not published"})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create inquiry"})
		}
		return
	}

	h.notifyParticipant(c.Request.Context(), inquiry, inquiry.SellerID, "inquiry_received")
	c.JSON(http.StatusCreated, inquiry)
}

// GetInquiry handles GET /v1/inquiries/:id. Participants only.
func (h *InquiryHandler) GetInquiry(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	inquiryID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid inquiry ID format"})
		return
	}

	inquiry, err := h.inquiryService.FindInquiryByID(c.Request.Context(), inquiryID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Inquiry not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve inquiry"})
		return
	}
	if !inquiry.IsParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant of this inquiry"})
		return
	}
	c.JSON(http.StatusOK, inquiry)
}

// ListInquiries handles GET /v1/inquiries?side=buyer|seller.
func (h *InquiryHandler) ListInquiries(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	asSeller := c.DefaultQuery("side", "buyer") == "seller"
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	inquiries, total, err := h.inquiryService.ListForUser(c.Request.Context(), userID, asSeller, page, limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list inquiries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": inquiries, "total": total})
}

type appendMessageRequest struct {
	Content     string   `json:"content" binding:"required"`
	Attachments []string `json:"attachments"`
}

// AppendMessage handles POST /v1/inquiries/:id/messages.
func (h *InquiryHandler) AppendMessage(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	inquiryID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid inquiry ID format"})
		return
	}

	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: content is required"})
		return
	}

	inquiry, err := h.inquiryService.AppendMessage(c.Request.Context(), inquiryID, userID, req.Content, sanitizeAttachments(req.Attachments))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotParticipant):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, mongo.ErrNoDocuments):
			c.JSON(http.StatusNotFound, gin.H{"error": "Inquiry not found"})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to append message"})
		}
		return
	}

	recipientID := inquiry.SellerID
	if userID == inquiry.SellerID {
		recipientID = inquiry.BuyerID
	}
	h.notifyParticipant(c.Request.Context(), inquiry, recipientID, "inquiry_reply")
	c.JSON(http.StatusCreated, inquiry)
}

// MarkRead handles POST /v1/inquiries/:id/read. Resets the caller's unread
// counter and stamps read_at on the other party's messages.
func (h *InquiryHandler) MarkRead(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	inquiryID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid inquiry ID format"})
		return
	}

	if err := h.inquiryService.MarkRead(c.Request.Context(), inquiryID, userID); err != nil {
		switch {
		case errors.Is(err, services.ErrNotParticipant):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, mongo.ErrNoDocuments):
			c.JSON(http.StatusNotFound, gin.H{"error": "Inquiry not found"})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark inquiry read"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// sanitizeAttachments strips traversal sequences from client-supplied keys.
func sanitizeAttachments(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	cleaned := make([]string, 0, len(keys))
	for _, key := range keys {
		if clean := storage.SanitizeKey(key); clean != "" {
			cleaned = append(cleaned, clean)
		}
	}
	return cleaned
}
