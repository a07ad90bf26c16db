package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"railexchange/railx/internal/api/middleware"
	"railexchange/railx/internal/models"
	"railexchange/railx/internal/services"
)

// UserHandler handles user profile endpoints.
type UserHandler struct {
	userService services.IUserService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(userService services.IUserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// GetUserByID handles GET /v1/users/:id. Unauthenticated viewers get the
// public shape with the phone number withheld.
func (h *UserHandler) GetUserByID(c *gin.Context) {
	userID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID format"})
		return
	}

	user, err := h.userService.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
		return
	}

	if _, authenticated := middleware.UserIDFromContext(c); !authenticated {
		c.JSON(http.StatusOK, user.PublicProfile())
		return
	}
	c.JSON(http.StatusOK, user)
}

type updateProfileRequest struct {
	Name          *string                         `json:"name"`
	Phone         *string                         `json:"phone"`
	Company       *string                         `json:"company"`
	AvatarKey     *string                         `json:"avatar_key"`
	IsSeller      *bool                           `json:"is_seller"`
	IsContractor  *bool                           `json:"is_contractor"`
	Notifications *models.NotificationPreferences `json:"notifications"`
}

// UpdateProfile handles PUT /v1/users/me.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}
	if req.Company != nil {
		updates["company"] = *req.Company
	}
	if req.AvatarKey != nil {
		updates["avatar_key"] = *req.AvatarKey
	}
	if req.IsSeller != nil {
		updates["is_seller"] = *req.IsSeller
	}
	if req.IsContractor != nil {
		updates["is_contractor"] = *req.IsContractor
	}
	if req.Notifications != nil {
		updates["notifications"] = *req.Notifications
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No updatable fields provided"})
		return
	}

	user, err := h.userService.UpdateProfile(c.Request.Context(), userID, updates)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update profile"})
		return
	}
	c.JSON(http.StatusOK, user)
}
