package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"railexchange/railx/internal/auth"
)

const (
	// ContextKeyUserID holds the authenticated user's ObjectID in Gin context.
	ContextKeyUserID = "userID"
	// ContextKeyIsAdmin holds the admin flag in Gin context.
	ContextKeyIsAdmin = "isAdmin"
)

// AuthMiddleware creates a Gin middleware for JWT authentication.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		claims, err := auth.ValidateJWT(parts[1], jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		userID, err := primitive.ObjectIDFromHex(claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token subject"})
			return
		}

		c.Set(ContextKeyUserID, userID)
		c.Set(ContextKeyIsAdmin, claims.IsAdmin)
		c.Next()
	}
}

// OptionalAuthMiddleware populates identity from a bearer token when present
// but never rejects the request. Handlers behind it serve both guests and
// authenticated users with different response shapes.
func OptionalAuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			if claims, err := auth.ValidateJWT(parts[1], jwtSecret); err == nil {
				if userID, err := primitive.ObjectIDFromHex(claims.UserID); err == nil {
					c.Set(ContextKeyUserID, userID)
					c.Set(ContextKeyIsAdmin, claims.IsAdmin)
				}
			}
		}
		c.Next()
	}
}

// AdminMiddleware checks for admin privileges. Assumes AuthMiddleware runs
// first.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		isAdmin, exists := c.Get(ContextKeyIsAdmin)
		if !exists || !isAdmin.(bool) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Administrator privileges required"})
			return
		}
		c.Next()
	}
}

// UserIDFromContext extracts the authenticated user ID set by AuthMiddleware.
func UserIDFromContext(c *gin.Context) (primitive.ObjectID, bool) {
	val, exists := c.Get(ContextKeyUserID)
	if !exists {
		return primitive.NilObjectID, false
	}
	userID, ok := val.(primitive.ObjectID)
	return userID, ok
}
