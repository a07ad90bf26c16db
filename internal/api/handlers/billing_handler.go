package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"railexchange/railx/internal/api/middleware"
	"railexchange/railx/internal/models"
	"railexchange/railx/internal/services"
)

// Stripe caps webhook payloads; anything larger is not a legitimate event.
const maxWebhookBodyBytes = 65536

// BillingHandler handles checkout and the Stripe webhook.
type BillingHandler struct {
	billingService services.IBillingService
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(billingService services.IBillingService) *BillingHandler {
	return &BillingHandler{billingService: billingService}
}

type checkoutRequest struct {
	Type      string `json:"type" binding:"required"`
	ListingID string `json:"listing_id"`
}

// CreateCheckout handles POST /v1/billing/checkout.
func (h *BillingHandler) CreateCheckout(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: type is required"})
		return
	}

	checkout := services.CheckoutRequest{Type: models.AddOnType(req.Type)}
	if req.ListingID != "" {
		listingID, err := primitive.ObjectIDFromHex(req.ListingID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format", "field": "listing_id"})
			return
		}
		checkout.ListingID = &listingID
	}

	url, err := h.billingService.CreateCheckoutSession(c.Request.Context(), userID, checkout)
	if err != nil {
		if errors.Is(err, services.ErrPriceNotConfigured) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": url})
}

// HandleWebhook handles POST /v1/billing/webhook. Signature verification
// happens inside the billing service; a bad signature is a 400 so Stripe
// retries do not mask a misconfigured secret.
func (h *BillingHandler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read webhook payload"})
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if err := h.billingService.HandleWebhook(c.Request.Context(), payload, signature); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
