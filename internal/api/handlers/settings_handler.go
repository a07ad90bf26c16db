package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"railexchange/railx/internal/services"
)

// SettingsHandler serves public settings and admin overrides.
type SettingsHandler struct {
	settings services.ISettingsService
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(settings services.ISettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// GetPublicSettings handles GET /v1/settings. Clients bootstrap from it.
func (h *SettingsHandler) GetPublicSettings(c *gin.Context) {
	public, err := h.settings.GetAllPublic(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve settings"})
		return
	}
	c.JSON(http.StatusOK, public)
}

type setSettingRequest struct {
	Key    string      `json:"key" binding:"required"`
	Value  interface{} `json:"value" binding:"required"`
	Public bool        `json:"public"`
}

// SetSetting handles POST /v1/admin/settings.
func (h *SettingsHandler) SetSetting(c *gin.Context) {
	var req setSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: key and value are required"})
		return
	}

	if err := h.settings.Set(c.Request.Context(), req.Key, req.Value, req.Public); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save setting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
