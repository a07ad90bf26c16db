package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"railexchange/railx/internal/config"
	"railexchange/railx/internal/email"
	"railexchange/railx/internal/services"
)

// Task type identifiers.
const (
	TypeEmailDelivery     = "email:deliver"
	TypeImageProcess      = "image:process"
	TypeAddOnSweep        = "addon:expire_due"
	TypeVerificationSweep = "verification:expire_due"
	TypeAddOnExpiryNotice = "addon:notify_expiring"
)

// Add-on holders get their expiry warning this far ahead.
const expiryNoticeWindow = 3 * 24 * time.Hour

// NewClient creates an asynq client off the shared Redis connection.
func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	})
}

// EmailTaskPayload is the payload for TypeEmailDelivery.
type EmailTaskPayload struct {
	To         string                 `json:"to"`
	TemplateID string                 `json:"template_id"`
	Locale     string                 `json:"locale,omitempty"`
	Data       map[string]interface{} `json:"data"`
}

// ImageTaskPayload is the payload for TypeImageProcess.
type ImageTaskPayload struct {
	S3Key     string `json:"s3_key"`
	ListingID string `json:"listing_id"`
}

// NewEmailTask builds an email delivery task.
func NewEmailTask(to, templateID string, data map[string]interface{}) (*asynq.Task, error) {
	payload, err := json.Marshal(EmailTaskPayload{To: to, TemplateID: templateID, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email task payload: %w", err)
	}
	return asynq.NewTask(TypeEmailDelivery, payload), nil
}

// NewImageProcessTask builds an image normalization task. Image tasks run on
// their own queue so a backlog of photos never starves email delivery.
func NewImageProcessTask(s3Key string, listingID primitive.ObjectID) (*asynq.Task, error) {
	payload, err := json.Marshal(ImageTaskPayload{S3Key: s3Key, ListingID: listingID.Hex()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image task payload: %w", err)
	}
	return asynq.NewTask(TypeImageProcess, payload, asynq.Queue("images")), nil
}

// TaskProcessor holds the dependencies task handlers need.
type TaskProcessor struct {
	cfg                  *config.Config
	emailSender          email.Sender
	listingService       services.IListingService
	addOnService         services.IAddOnService
	verificationService  services.IVerificationService
	userService          services.IUserService
	emailTemplateService services.IEmailTemplateService
	s3Client             *s3.Client
	taskClient           *asynq.Client
}

// NewTaskProcessor creates a new TaskProcessor.
func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	listingService services.IListingService,
	addOnService services.IAddOnService,
	verificationService services.IVerificationService,
	userService services.IUserService,
	emailTemplateService services.IEmailTemplateService,
	s3Client *s3.Client,
	taskClient *asynq.Client,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:                  cfg,
		emailSender:          emailSender,
		listingService:       listingService,
		addOnService:         addOnService,
		verificationService:  verificationService,
		userService:          userService,
		emailTemplateService: emailTemplateService,
		s3Client:             s3Client,
		taskClient:           taskClient,
	}
}

// NewServer configures an asynq server for the given worker roles. The
// caller runs the returned server with the returned mux.
func NewServer(rdb *redis.Client, processor *TaskProcessor, isImageWorker, isBgWorker bool) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     rdb.Options().Addr,
			Password: rdb.Options().Password,
			DB:       rdb.Options().DB,
		},
		asynq.Config{
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
				"images":   5,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task %s failed: %v (payload: %s)", task.Type(), err, string(task.Payload()))
			}),
		},
	)

	mux := asynq.NewServeMux()
	if isBgWorker {
		mux.HandleFunc(TypeEmailDelivery, processor.HandleEmailDeliveryTask)
		mux.HandleFunc(TypeAddOnSweep, processor.HandleAddOnSweepTask)
		mux.HandleFunc(TypeVerificationSweep, processor.HandleVerificationSweepTask)
		mux.HandleFunc(TypeAddOnExpiryNotice, processor.HandleAddOnExpiryNoticeTask)
	}
	if isImageWorker {
		mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)
	}
	return srv, mux
}

// NewScheduler registers the periodic sweeps. Runs only in the background
// worker; the cron HTTP endpoint stays available as a manual trigger.
func NewScheduler(rdb *redis.Client, cfg *config.Config) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     rdb.Options().Addr,
			Password: rdb.Options().Password,
			DB:       rdb.Options().DB,
		},
		&asynq.SchedulerOpts{Location: time.UTC},
	)

	interval := fmt.Sprintf("@every %dm", cfg.SweepIntervalMinutes)
	for _, taskType := range []string{TypeAddOnSweep, TypeVerificationSweep, TypeAddOnExpiryNotice} {
		if _, err := scheduler.Register(interval, asynq.NewTask(taskType, nil)); err != nil {
			return nil, fmt.Errorf("failed to register periodic task %s: %w", taskType, err)
		}
	}
	return scheduler, nil
}

// HandleEmailDeliveryTask renders the template and hands the message to the
// configured sender.
func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload EmailTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}

	locale := payload.Locale
	if locale == "" {
		locale = "en-US"
	}

	tmpl, err := p.emailTemplateService.GetTemplate(ctx, payload.TemplateID, locale)
	if err != nil {
		log.Printf("Error getting email template %s/%s: %v", payload.TemplateID, locale, err)
		return fmt.Errorf("email template not found: %w", asynq.SkipRetry)
	}

	subject := tmpl.Subject
	body := tmpl.Body
	for key, val := range payload.Data {
		placeholder := fmt.Sprintf("{{.%s}}", key)
		valueStr := fmt.Sprintf("%v", val)
		subject = strings.ReplaceAll(subject, placeholder, valueStr)
		body = strings.ReplaceAll(body, placeholder, valueStr)
	}

	from := p.cfg.SmtpFromAddress
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", payload.To))
	sb.WriteString(fmt.Sprintf("From: %s\r\n", from))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	sb.WriteString("\r\n")

	if err := p.emailSender.Send(ctx, []string{payload.To}, subject, []byte(sb.String())); err != nil {
		return fmt.Errorf("email delivery to %s failed: %w", payload.To, err)
	}
	return nil
}

// HandleImageProcessTask downloads an uploaded listing photo, bounds its
// dimensions, re-uploads it and attaches the key to the listing.
func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}

	listingID, err := primitive.ObjectIDFromHex(payload.ListingID)
	if err != nil {
		return fmt.Errorf("invalid listing ID in payload: %w", asynq.SkipRetry)
	}

	getObjectOutput, err := p.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.AwsS3Bucket),
		Key:    aws.String(payload.S3Key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Printf("S3 object %s not found, upload likely never completed", payload.S3Key)
			return fmt.Errorf("s3 object not found: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("failed to download image from S3: %w", err)
	}
	defer getObjectOutput.Body.Close()

	imgData, err := io.ReadAll(getObjectOutput.Body)
	if err != nil {
		return fmt.Errorf("failed to read image data for %s: %w", payload.S3Key, err)
	}

	maxSizeBytes := int64(p.cfg.ImageMaxSizeMB) * 1024 * 1024
	if int64(len(imgData)) > maxSizeBytes {
		log.Printf("Image %s exceeds max size (%d > %d bytes), skipping", payload.S3Key, len(imgData), maxSizeBytes)
		return fmt.Errorf("image exceeds max size: %w", asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}

	maxDim := uint(p.cfg.ImageMaxDimension)
	processedData := imgData
	contentType := aws.ToString(getObjectOutput.ContentType)

	if uint(img.Bounds().Dx()) > maxDim || uint(img.Bounds().Dy()) > maxDim {
		resized := resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
			return fmt.Errorf("failed to re-encode resized image: %w", err)
		}
		processedData = buf.Bytes()
		contentType = "image/jpeg"
		log.Printf("Resized image %s (%s %dx%d -> %dx%d)", payload.S3Key, format,
			img.Bounds().Dx(), img.Bounds().Dy(), resized.Bounds().Dx(), resized.Bounds().Dy())

		_, err = p.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.cfg.AwsS3Bucket),
			Key:         aws.String(payload.S3Key),
			Body:        bytes.NewReader(processedData),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return fmt.Errorf("failed to upload processed image: %w", err)
		}
	}

	if err := p.listingService.AddPhotoToListing(ctx, listingID, payload.S3Key); err != nil {
		return fmt.Errorf("failed to attach photo %s to listing %s: %w", payload.S3Key, payload.ListingID, err)
	}
	return nil
}

// HandleAddOnSweepTask runs the add-on expiration sweep.
func (p *TaskProcessor) HandleAddOnSweepTask(ctx context.Context, t *asynq.Task) error {
	result, err := p.addOnService.ExpireDueAddOns(ctx)
	if err != nil {
		return err
	}
	if result.Errors > 0 {
		// Surfacing the partial failure lets asynq retry the pass; already
		// expired records are filtered out next time around.
		return fmt.Errorf("add-on sweep finished with %d errors out of %d", result.Errors, result.Total)
	}
	return nil
}

// HandleVerificationSweepTask expires verifications past their window.
func (p *TaskProcessor) HandleVerificationSweepTask(ctx context.Context, t *asynq.Task) error {
	result, err := p.verificationService.ExpireDue(ctx)
	if err != nil {
		return err
	}
	if result.Errors > 0 {
		return fmt.Errorf("verification sweep finished with %d errors out of %d", result.Errors, result.Total)
	}
	return nil
}

// HandleAddOnExpiryNoticeTask warns owners of add-ons expiring soon.
func (p *TaskProcessor) HandleAddOnExpiryNoticeTask(ctx context.Context, t *asynq.Task) error {
	purchases, err := p.addOnService.ExpiringSoon(ctx, expiryNoticeWindow)
	if err != nil {
		return err
	}

	for _, purchase := range purchases {
		user, err := p.userService.FindByID(ctx, purchase.UserID)
		if err != nil {
			log.Printf("Error loading user %s for expiry notice: %v", purchase.UserID.Hex(), err)
			continue
		}
		if user.Notifications != nil && !user.Notifications.AddOnExpiry {
			// Opted out; mark notified so the query stops returning it.
			_ = p.addOnService.MarkExpiryNotified(ctx, purchase.ID)
			continue
		}

		data := map[string]interface{}{
			"addon_type": string(purchase.Type),
			"expires_at": purchase.ExpiresAt.Format(time.RFC1123),
		}
		if purchase.ListingID != nil {
			if listing, err := p.listingService.FindListingByID(ctx, *purchase.ListingID); err == nil {
				data["listing_title"] = listing.Title
			}
		}

		task, err := NewEmailTask(user.Email, "addon_expiring", data)
		if err != nil {
			return err
		}
		if _, err := p.taskClient.EnqueueContext(ctx, task); err != nil {
			log.Printf("Error enqueueing expiry notice for purchase %s: %v", purchase.ID.Hex(), err)
			continue
		}
		if err := p.addOnService.MarkExpiryNotified(ctx, purchase.ID); err != nil {
			log.Printf("Error marking purchase %s notified: %v", purchase.ID.Hex(), err)
		}
	}
	return nil
}
