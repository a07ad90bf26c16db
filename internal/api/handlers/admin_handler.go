package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"railexchange/railx/internal/api/middleware"
	"railexchange/railx/internal/models"
	"railexchange/railx/internal/services"
	"railexchange/railx/internal/tasks"
)

// AdminHandler handles moderation and verification review endpoints. Every
// mutation is recorded through the audit service.
type AdminHandler struct {
	userService         services.IUserService
	listingService      services.IListingService
	addOnService        services.IAddOnService
	verificationService services.IVerificationService
	auditService        services.IAuditService
	taskClient          IAsynqClient
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(userService services.IUserService, listingService services.IListingService, addOnService services.IAddOnService, verificationService services.IVerificationService, auditService services.IAuditService, taskClient IAsynqClient) *AdminHandler {
	return &AdminHandler{
		userService:         userService,
		listingService:      listingService,
		addOnService:        addOnService,
		verificationService: verificationService,
		auditService:        auditService,
		taskClient:          taskClient,
	}
}

// notifyVerificationDecision emails the applicant about the review outcome.
// Best effort, the state change already committed.
func (h *AdminHandler) notifyVerificationDecision(ctx context.Context, record *models.SellerVerification, templateID, reason string) {
	user, err := h.userService.FindByID(ctx, record.UserID)
	if err != nil {
		log.Printf("Error loading user %s for verification notification: %v", record.UserID.Hex(), err)
		return
	}
	if user.Notifications != nil && !user.Notifications.VerificationNews {
		return
	}

	data := map[string]interface{}{
		"tier":   string(record.Tier),
		"reason": reason,
	}
	task, err := tasks.NewEmailTask(user.Email, templateID, data)
	if err != nil {
		log.Printf("Error building verification notification task: %v", err)
		return
	}
	if _, err := h.taskClient.EnqueueContext(ctx, task); err != nil {
		log.Printf("Error enqueueing verification notification for %s: %v", user.Email, err)
	}
}

func adminID(c *gin.Context) primitive.ObjectID {
	id, _ := middleware.UserIDFromContext(c)
	return id
}

// ListPendingVerifications handles GET /v1/admin/verifications.
func (h *AdminHandler) ListPendingVerifications(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	records, total, err := h.verificationService.ListPending(c.Request.Context(), page, limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list pending verifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records, "total": total})
}

type verificationDecisionRequest struct {
	Reason string `json:"reason"`
}

// ApproveVerification handles POST /v1/admin/verifications/:id/approve.
func (h *AdminHandler) ApproveVerification(c *gin.Context) {
	verificationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid verification ID format"})
		return
	}

	record, err := h.verificationService.Approve(c.Request.Context(), verificationID, adminID(c))
	if err != nil {
		h.verificationError(c, err)
		return
	}

	h.notifyVerificationDecision(c.Request.Context(), record, "verification_approved", "")
	c.JSON(http.StatusOK, record)
}

// RejectVerification handles POST /v1/admin/verifications/:id/reject.
func (h *AdminHandler) RejectVerification(c *gin.Context) {
	verificationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid verification ID format"})
		return
	}

	var req verificationDecisionRequest
	_ = c.ShouldBindJSON(&req)

	record, err := h.verificationService.Reject(c.Request.Context(), verificationID, adminID(c), req.Reason)
	if err != nil {
		h.verificationError(c, err)
		return
	}

	h.notifyVerificationDecision(c.Request.Context(), record, "verification_rejected", req.Reason)
	c.JSON(http.StatusOK, record)
}

// RevokeVerification handles POST /v1/admin/verifications/:id/revoke.
func (h *AdminHandler) RevokeVerification(c *gin.Context) {
	verificationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid verification ID format"})
		return
	}

	var req verificationDecisionRequest
	_ = c.ShouldBindJSON(&req)

	record, err := h.verificationService.Revoke(c.Request.Context(), verificationID, adminID(c), req.Reason)
	if err != nil {
		h.verificationError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// ForceExpireVerification handles POST /v1/admin/verifications/:id/expire.
func (h *AdminHandler) ForceExpireVerification(c *gin.Context) {
	verificationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid verification ID format"})
		return
	}

	record, err := h.verificationService.ForceExpire(c.Request.Context(), verificationID, adminID(c))
	if err != nil {
		h.verificationError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *AdminHandler) verificationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrVerificationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Verification record not found"})
	case errors.Is(err, services.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "Verification is not in a state allowing this action"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Verification update failed"})
	}
}

type suspendRequest struct {
	Suspended bool   `json:"suspended"`
	Reason    string `json:"reason"`
}

// SuspendUser handles POST /v1/admin/users/:id/suspend.
func (h *AdminHandler) SuspendUser(c *gin.Context) {
	userID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID format"})
		return
	}

	var req suspendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.userService.SuspendUser(c.Request.Context(), userID, req.Suspended); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
		return
	}

	action := "user.suspend"
	if !req.Suspended {
		action = "user.unsuspend"
	}
	h.auditService.Record(c.Request.Context(), adminID(c), action, &userID, req.Reason)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RemoveListing handles DELETE /v1/admin/listings/:id.
func (h *AdminHandler) RemoveListing(c *gin.Context) {
	listingID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	if err := h.listingService.AdminRemoveListing(c.Request.Context(), listingID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove listing"})
		return
	}

	h.auditService.Record(c.Request.Context(), adminID(c), "listing.remove", &listingID, "")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type grantAddOnRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	ListingID    string `json:"listing_id"`
	Type         string `json:"type" binding:"required"`
	DurationDays int    `json:"duration_days"`
}

// GrantAddOn handles POST /v1/admin/addons/grant.
func (h *AdminHandler) GrantAddOn(c *gin.Context) {
	var req grantAddOnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: user_id and type are required"})
		return
	}

	userID, err := primitive.ObjectIDFromHex(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID format", "field": "user_id"})
		return
	}
	var listingID *primitive.ObjectID
	if req.ListingID != "" {
		id, err := primitive.ObjectIDFromHex(req.ListingID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format", "field": "listing_id"})
			return
		}
		listingID = &id
	}

	purchase, err := h.addOnService.GrantAddOn(c.Request.Context(), userID, listingID, models.AddOnType(req.Type), time.Duration(req.DurationDays*24)*time.Hour)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.auditService.Record(c.Request.Context(), adminID(c), "addon.grant", &purchase.ID, string(purchase.Type))
	c.JSON(http.StatusCreated, purchase)
}

// CancelAddOn handles POST /v1/admin/addons/:id/cancel.
func (h *AdminHandler) CancelAddOn(c *gin.Context) {
	purchaseID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid purchase ID format"})
		return
	}

	if err := h.addOnService.CancelPurchase(c.Request.Context(), purchaseID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Purchase not found or already finished"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel purchase"})
		return
	}

	h.auditService.Record(c.Request.Context(), adminID(c), "addon.cancel", &purchaseID, "")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetLoginAttempts handles GET /v1/admin/login-attempts?email=...
func (h *AdminHandler) GetLoginAttempts(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email query parameter is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	attempts, err := h.userService.RecentLoginAttempts(c.Request.Context(), email, limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list login attempts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": attempts})
}
