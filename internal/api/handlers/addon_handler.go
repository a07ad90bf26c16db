package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"railexchange/railx/internal/api/middleware"
	"railexchange/railx/internal/config"
	"railexchange/railx/internal/services"
)

// AddOnHandler handles add-on purchase listing and the expiration cron
// endpoint.
type AddOnHandler struct {
	cfg          *config.Config
	addOnService services.IAddOnService
}

// NewAddOnHandler creates a new AddOnHandler.
func NewAddOnHandler(cfg *config.Config, addOnService services.IAddOnService) *AddOnHandler {
	return &AddOnHandler{cfg: cfg, addOnService: addOnService}
}

// ListOwnPurchases handles GET /v1/addons.
func (h *AddOnHandler) ListOwnPurchases(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	purchases, err := h.addOnService.ListPurchasesForUser(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list purchases"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": purchases})
}

// ExpireAddOns handles POST /v1/cron/expire-addons. Requires the shared
// cron secret as a bearer token; an unset secret rejects everything, so a
// misconfigured deployment can never run unauthenticated sweeps.
func (h *AddOnHandler) ExpireAddOns(c *gin.Context) {
	if !h.cronAuthorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	result, err := h.addOnService.ExpireDueAddOns(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sweep failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AddOnHandler) cronAuthorized(c *gin.Context) bool {
	if h.cfg.CronSecret == "" {
		return false
	}
	authHeader := c.GetHeader("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(parts[1]), []byte(h.cfg.CronSecret)) == 1
}
