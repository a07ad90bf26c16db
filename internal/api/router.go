package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"railexchange/railx/internal/api/handlers"
	"railexchange/railx/internal/api/middleware"
	"railexchange/railx/internal/config"
	"railexchange/railx/internal/models"
	"railexchange/railx/internal/services"
	"railexchange/railx/internal/storage"
	"railexchange/railx/internal/tasks"
)

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, db *mongo.Database, rdb *redis.Client, taskClient handlers.IAsynqClient, settingsSvc services.ISettingsService) *gin.Engine {
	// Initialize services needed by API handlers here.
	userService := services.NewUserService(db, cfg)
	listingService := services.NewListingService(db, cfg)
	inquiryService := services.NewInquiryService(db, cfg, listingService)
	addOnService := services.NewAddOnService(db, cfg, listingService)
	auditService := services.NewAuditService(db)
	verificationService := services.NewVerificationService(db, cfg, userService, auditService)

	urlCache := storage.NewURLCache(cfg.PresignCacheTTL, cfg.PresignCacheMaxSize)
	s3StorageService, err := storage.NewS3Storage(cfg, urlCache)
	if err != nil {
		log.Fatalf("CRITICAL: Failed to initialize S3 storage for API: %v", err)
	}

	// Purchase confirmations go out through the task queue so a slow SMTP
	// round trip never delays the Stripe webhook response.
	purchaseNotifier := func(ctx context.Context, purchase *models.AddOnPurchase) {
		user, err := userService.FindByID(ctx, purchase.UserID)
		if err != nil {
			log.Printf("Error loading user %s for purchase confirmation: %v", purchase.UserID.Hex(), err)
			return
		}
		expires := ""
		if purchase.ExpiresAt != nil {
			expires = purchase.ExpiresAt.Format(time.RFC1123)
		}
		data := map[string]interface{}{
			"addon_type": string(purchase.Type),
			"expires_at": expires,
		}
		task, err := tasks.NewEmailTask(user.Email, "addon_activated", data)
		if err != nil {
			log.Printf("Error building purchase confirmation task: %v", err)
			return
		}
		if _, err := taskClient.EnqueueContext(ctx, task); err != nil {
			log.Printf("Error enqueueing purchase confirmation for %s: %v", user.Email, err)
		}
	}
	billingService := services.NewBillingService(cfg, userService, addOnService, listingService, purchaseNotifier)

	r := gin.Default()

	// Initialize middleware. Order matters: CORS first so preflights are
	// answered even when the limiter would reject.
	rateLimiter := middleware.NewRateLimiterMiddleware(cfg, settingsSvc)
	r.Use(middleware.CORSMiddleware())
	r.Use(rateLimiter.Limit())

	// Initialize handlers.
	authHandler := handlers.NewAuthHandler(cfg, userService)
	userHandler := handlers.NewUserHandler(userService)
	listingHandler := handlers.NewListingHandler(listingService, taskClient)
	inquiryHandler := handlers.NewInquiryHandler(inquiryService, userService, listingService, taskClient)
	addOnHandler := handlers.NewAddOnHandler(cfg, addOnService)
	verificationHandler := handlers.NewVerificationHandler(verificationService)
	uploadHandler := handlers.NewUploadHandler(cfg, s3StorageService)
	billingHandler := handlers.NewBillingHandler(billingService)
	settingsHandler := handlers.NewSettingsHandler(settingsSvc)
	adminHandler := handlers.NewAdminHandler(userService, listingService, addOnService, verificationService, auditService, taskClient)

	v1 := r.Group("/v1")
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Public routes.
		v1.POST("/auth/signup", authHandler.Signup)
		v1.POST("/auth/login", authHandler.Login)
		v1.GET("/settings", settingsHandler.GetPublicSettings)
		v1.GET("/listings", listingHandler.SearchListings)
		v1.GET("/users/:id", middleware.OptionalAuthMiddleware(cfg.JwtSecret), userHandler.GetUserByID)
		v1.GET("/listings/:id", middleware.OptionalAuthMiddleware(cfg.JwtSecret), listingHandler.GetListingByID)
		v1.GET("/images/*key", uploadHandler.GetImage)

		// Stripe calls this; authentication is the signature header.
		v1.POST("/billing/webhook", billingHandler.HandleWebhook)

		// Scheduler fallback; authenticated by the cron bearer secret.
		v1.POST("/cron/expire-addons", addOnHandler.ExpireAddOns)

		// Authenticated routes.
		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.GET("/auth/session", authHandler.GetSession)
			authRequired.PUT("/users/me", userHandler.UpdateProfile)

			authRequired.POST("/listings", listingHandler.CreateListing)
			authRequired.PATCH("/listings/:id", listingHandler.UpdateListing)
			authRequired.POST("/listings/:id/publish", listingHandler.PublishListing)
			authRequired.POST("/listings/:id/sold", listingHandler.MarkSold)
			authRequired.DELETE("/listings/:id", listingHandler.RemoveListing)
			authRequired.POST("/listings/:id/photos", listingHandler.ConfirmPhoto)

			authRequired.GET("/inquiries", inquiryHandler.ListInquiries)
			authRequired.GET("/inquiries/:id", inquiryHandler.GetInquiry)
			authRequired.POST("/inquiries", rateLimiter.LimitMessages(), inquiryHandler.CreateInquiry)
			authRequired.POST("/inquiries/:id/messages", rateLimiter.LimitMessages(), inquiryHandler.AppendMessage)
			authRequired.POST("/inquiries/:id/read", inquiryHandler.MarkRead)

			authRequired.GET("/addons", addOnHandler.ListOwnPurchases)
			authRequired.POST("/verification", verificationHandler.Submit)
			authRequired.GET("/verification", verificationHandler.GetOwn)
			authRequired.POST("/uploads/url", uploadHandler.PresignUpload)
			authRequired.POST("/billing/checkout", billingHandler.CreateCheckout)
		}

		// Admin routes.
		adminRequired := v1.Group("/admin")
		adminRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret), middleware.AdminMiddleware())
		{
			adminRequired.GET("/verifications", adminHandler.ListPendingVerifications)
			adminRequired.POST("/verifications/:id/approve", adminHandler.ApproveVerification)
			adminRequired.POST("/verifications/:id/reject", adminHandler.RejectVerification)
			adminRequired.POST("/verifications/:id/revoke", adminHandler.RevokeVerification)
			adminRequired.POST("/verifications/:id/expire", adminHandler.ForceExpireVerification)

			adminRequired.POST("/users/:id/suspend", adminHandler.SuspendUser)
			adminRequired.DELETE("/listings/:id", adminHandler.RemoveListing)
			adminRequired.POST("/addons/grant", adminHandler.GrantAddOn)
			adminRequired.POST("/addons/:id/cancel", adminHandler.CancelAddOn)
			adminRequired.GET("/login-attempts", adminHandler.GetLoginAttempts)
			adminRequired.POST("/settings", settingsHandler.SetSetting)
		}
	}

	return r
}

// SetupServiceRouter configures and returns the internal service Gin engine.
// Test tooling uses it to trigger shutdowns and inspect mock emails.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			log.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
			default:
				log.Println("Shutdown channel already signaled or blocked.")
			}
		case "getTestEmail":
			var args []string // ["template_id", "email"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 2 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [templateID, email]"})
				return
			}
			redisKey := fmt.Sprintf("mockemail:%s:%s", args[1], args[0])

			// Poll Redis briefly; workers deliver asynchronously.
			var emailJSON string
			found := false
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			for i := 0; i < 10; i++ {
				data, err := rdb.Get(ctx, redisKey).Result()
				if err == nil {
					emailJSON = data
					found = true
					rdb.Del(ctx, redisKey)
					break
				}
				if err != redis.Nil {
					log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, err)
					c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
					return
				}
				time.Sleep(200 * time.Millisecond)
			}

			if !found {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
				return
			}

			var emailData map[string]interface{}
			if err := json.Unmarshal([]byte(emailJSON), &emailData); err != nil {
				log.Printf("Service API: Error unmarshalling email data from key %s: %v", redisKey, err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
