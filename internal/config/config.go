package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret string
	JwtTTL    time.Duration

	// Server
	ApiPort        string
	ServiceApiPort string

	// Cron endpoint shared secret. Empty means the endpoint rejects all
	// calls (fail closed).
	CronSecret string

	// Stripe
	StripeSecretKey          string
	StripeWebhookSecret      string
	StripePriceElite         string
	StripePriceVerifiedBadge string
	StripePriceTierStandard  string
	StripePriceTierPremium   string
	CheckoutSuccessURL       string
	CheckoutCancelURL        string

	// Add-on / verification durations
	AddOnEliteDuration    time.Duration
	AddOnBadgeDuration    time.Duration
	VerificationDuration  time.Duration
	SweepBatchSize        int
	SweepIntervalMinutes  int

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string

	// AWS S3
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	PresignTTL         time.Duration
	// Local cache entries drop before the provider URL does, so a cache hit
	// is always still usable.
	PresignCacheTTL     time.Duration
	PresignCacheMaxSize int
	ImageMaxDimension   int
	ImageMaxSizeMB      int

	// App defaults
	AppName        string
	PasswordRegexp string

	// Rate limiting defaults
	RateLimitBucketSize int
	RateLimitRefillRate int // tokens per second
	MessageRateBucket   int
	MessageRateRefill   int
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{RunMode: runMode}

	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}
	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	var err error
	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "railx")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.CronSecret = getEnv("CRON_SECRET", "")

	cfg.StripeSecretKey = getEnv("STRIPE_SECRET_KEY", "")
	cfg.StripeWebhookSecret = getEnv("STRIPE_WEBHOOK_SECRET", "")
	cfg.StripePriceElite = getEnv("STRIPE_PRICE_ELITE", "")
	cfg.StripePriceVerifiedBadge = getEnv("STRIPE_PRICE_VERIFIED_BADGE", "")
	cfg.StripePriceTierStandard = getEnv("STRIPE_PRICE_TIER_STANDARD", "")
	cfg.StripePriceTierPremium = getEnv("STRIPE_PRICE_TIER_PREMIUM", "")
	cfg.CheckoutSuccessURL = getEnv("CHECKOUT_SUCCESS_URL", "https://therailexchange.example.com/billing/success")
	cfg.CheckoutCancelURL = getEnv("CHECKOUT_CANCEL_URL", "https://therailexchange.example.com/billing/cancel")

	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "noreply@therailexchange.example.com")
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.AppName = getEnv("APP_NAME", "The Rail Exchange")
	cfg.PasswordRegexp = getEnv("PASSWORD_REGEXP", "^.{8,}$")

	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	jwtTTLSeconds, err := strconv.ParseInt(getEnv("JWT_TTL_SECONDS", "3600"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL_SECONDS: %w", err)
	}
	cfg.JwtTTL = time.Duration(jwtTTLSeconds) * time.Second

	cfg.SmtpPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	eliteDays, err := strconv.Atoi(getEnv("ADDON_ELITE_DURATION_DAYS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid ADDON_ELITE_DURATION_DAYS: %w", err)
	}
	cfg.AddOnEliteDuration = time.Duration(eliteDays*24) * time.Hour

	badgeDays, err := strconv.Atoi(getEnv("ADDON_BADGE_DURATION_DAYS", "365"))
	if err != nil {
		return nil, fmt.Errorf("invalid ADDON_BADGE_DURATION_DAYS: %w", err)
	}
	cfg.AddOnBadgeDuration = time.Duration(badgeDays*24) * time.Hour

	verificationDays, err := strconv.Atoi(getEnv("VERIFICATION_DURATION_DAYS", "365"))
	if err != nil {
		return nil, fmt.Errorf("invalid VERIFICATION_DURATION_DAYS: %w", err)
	}
	cfg.VerificationDuration = time.Duration(verificationDays*24) * time.Hour

	cfg.SweepBatchSize, err = strconv.Atoi(getEnv("SWEEP_BATCH_SIZE", "500"))
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_BATCH_SIZE: %w", err)
	}
	cfg.SweepIntervalMinutes, err = strconv.Atoi(getEnv("SWEEP_INTERVAL_MINUTES", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL_MINUTES: %w", err)
	}

	presignTTLSeconds, err := strconv.ParseInt(getEnv("PRESIGN_TTL_SECONDS", "900"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PRESIGN_TTL_SECONDS: %w", err)
	}
	cfg.PresignTTL = time.Duration(presignTTLSeconds) * time.Second

	presignCacheTTLSeconds, err := strconv.ParseInt(getEnv("PRESIGN_CACHE_TTL_SECONDS", "600"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PRESIGN_CACHE_TTL_SECONDS: %w", err)
	}
	cfg.PresignCacheTTL = time.Duration(presignCacheTTLSeconds) * time.Second
	if cfg.PresignCacheTTL >= cfg.PresignTTL {
		return nil, fmt.Errorf("PRESIGN_CACHE_TTL_SECONDS must be shorter than PRESIGN_TTL_SECONDS")
	}

	cfg.PresignCacheMaxSize, err = strconv.Atoi(getEnv("PRESIGN_CACHE_MAX_SIZE", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRESIGN_CACHE_MAX_SIZE: %w", err)
	}

	cfg.ImageMaxDimension, err = strconv.Atoi(getEnv("IMAGE_MAX_DIMENSION", "2048"))
	if err != nil {
		return nil, fmt.Errorf("invalid IMAGE_MAX_DIMENSION: %w", err)
	}
	cfg.ImageMaxSizeMB, err = strconv.Atoi(getEnv("IMAGE_MAX_SIZE_MB", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid IMAGE_MAX_SIZE_MB: %w", err)
	}

	cfg.RateLimitBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_BUCKET_SIZE", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_REFILL_RATE", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_REFILL_RATE: %w", err)
	}
	cfg.MessageRateBucket, err = strconv.Atoi(getEnv("MESSAGE_RATE_BUCKET", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid MESSAGE_RATE_BUCKET: %w", err)
	}
	cfg.MessageRateRefill, err = strconv.Atoi(getEnv("MESSAGE_RATE_REFILL", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid MESSAGE_RATE_REFILL: %w", err)
	}

	return cfg, nil
}
