package middleware

import (
	"fmt"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"railexchange/railx/internal/config"
	"railexchange/railx/internal/services"
)

// clientLimiter holds the token bucket for one client on one endpoint class.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiterMiddleware applies per-client token bucket rate limiting.
// Bucket parameters come from env defaults and may be overridden at runtime
// through the settings service.
type RateLimiterMiddleware struct {
	clients  map[string]*clientLimiter
	mu       sync.Mutex
	cfg      *config.Config
	settings services.ISettingsService
}

// NewRateLimiterMiddleware creates a new RateLimiterMiddleware and starts
// its stale-entry cleanup loop.
func NewRateLimiterMiddleware(cfg *config.Config, settings services.ISettingsService) *RateLimiterMiddleware {
	rm := &RateLimiterMiddleware{
		clients:  make(map[string]*clientLimiter),
		cfg:      cfg,
		settings: settings,
	}
	go rm.cleanupClients()
	return rm
}

// getClientLimiter retrieves or creates the limiter for a client key.
func (rm *RateLimiterMiddleware) getClientLimiter(key string, refillRate, burst int) *clientLimiter {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	limiter, exists := rm.clients[key]
	if !exists {
		limiter = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(refillRate), burst),
		}
		rm.clients[key] = limiter
	}
	limiter.lastSeen = time.Now()
	return limiter
}

// cleanupClients periodically drops entries not seen for a while.
func (rm *RateLimiterMiddleware) cleanupClients() {
	for {
		time.Sleep(10 * time.Minute)
		rm.mu.Lock()
		count := 0
		for key, client := range rm.clients {
			if time.Since(client.lastSeen) > 30*time.Minute {
				delete(rm.clients, key)
				count++
			}
		}
		rm.mu.Unlock()
		if count > 0 {
			log.Printf("Rate limiter cleanup removed %d stale client entries", count)
		}
	}
}

// limits resolves the effective bucket parameters for an endpoint class,
// checking settings overrides first.
func (rm *RateLimiterMiddleware) limits(c *gin.Context, class string, defaultBurst, defaultRefill int) (int, int) {
	burst := defaultBurst
	refill := defaultRefill
	if rm.settings != nil {
		ctx := c.Request.Context()
		burst = rm.settings.GetInt(ctx, fmt.Sprintf("RATE_LIMIT_%s_BUCKET", class), burst)
		refill = rm.settings.GetInt(ctx, fmt.Sprintf("RATE_LIMIT_%s_REFILL", class), refill)
	}
	if burst < 1 {
		burst = 1
	}
	if refill < 1 {
		refill = 1
	}
	return burst, refill
}

// reject writes the 429 with a Retry-After hint derived from the bucket's
// refill delay.
func reject(c *gin.Context, limiter *rate.Limiter) {
	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()

	retryAfter := int(math.Ceil(delay.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
}

// clientKey identifies a caller: the authenticated user when known,
// otherwise the source IP.
func clientKey(c *gin.Context, class string) string {
	if userID, ok := UserIDFromContext(c); ok {
		return class + "|u:" + userID.Hex()
	}
	return class + "|ip:" + c.ClientIP()
}

// Limit is the general API rate limit.
func (rm *RateLimiterMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		burst, refill := rm.limits(c, "API", rm.cfg.RateLimitBucketSize, rm.cfg.RateLimitRefillRate)
		client := rm.getClientLimiter(clientKey(c, "api"), refill, burst)
		if !client.limiter.Allow() {
			reject(c, client.limiter)
			return
		}
		c.Next()
	}
}

// LimitMessages is the tighter limit applied to message-append endpoints.
func (rm *RateLimiterMiddleware) LimitMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		burst, refill := rm.limits(c, "MESSAGE", rm.cfg.MessageRateBucket, rm.cfg.MessageRateRefill)
		client := rm.getClientLimiter(clientKey(c, "msg"), refill, burst)
		if !client.limiter.Allow() {
			reject(c, client.limiter)
			return
		}
		c.Next()
	}
}
