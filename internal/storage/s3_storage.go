package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"railexchange/railx/internal/config"
)

// UploadFolder constrains where clients may place objects.
const (
	FolderListingPhotos      = "listing-photos"
	FolderVerificationDocs   = "verification-docs"
	FolderInquiryAttachments = "inquiry-attachments"
	FolderAvatars            = "avatars"
)

var allowedFolders = map[string]bool{
	FolderListingPhotos:      true,
	FolderVerificationDocs:   true,
	FolderInquiryAttachments: true,
	FolderAvatars:            true,
}

// Per-MIME-type upload size ceilings in bytes.
var allowedContentTypes = map[string]int64{
	"image/jpeg":      10 * 1024 * 1024,
	"image/png":       10 * 1024 * 1024,
	"image/webp":      10 * 1024 * 1024,
	"application/pdf": 20 * 1024 * 1024,
}

// ErrObjectNotFound marks a fetch of a key the bucket does not hold.
var ErrObjectNotFound = fmt.Errorf("object not found")

// IS3Storage defines the interface for S3 operations.
type IS3Storage interface {
	GeneratePresignedPutURL(ctx context.Context, userID, folder, filename, contentType string, size int64) (string, string, error)
	PresignGetURL(ctx context.Context, key string) (string, error)
	StreamObject(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// s3Storage implements IS3Storage.
type s3Storage struct {
	cfg           *config.Config
	s3Client      *s3.Client
	presignClient *s3.PresignClient
	urlCache      *URLCache
	httpClient    *http.Client
}

// NewS3Storage creates a new S3 storage service. The URLCache is injected so
// callers (and tests) control its bounds and TTL.
func NewS3Storage(cfg *config.Config, urlCache *URLCache) (IS3Storage, error) {
	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(),
		aws_config.WithRegion(cfg.AwsRegion),
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"", // session token
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)
	return &s3Storage{
		cfg:           cfg,
		s3Client:      s3Client,
		presignClient: s3.NewPresignClient(s3Client),
		urlCache:      urlCache,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// SanitizeKey strips path traversal sequences and leading slashes from a
// requested object key so it cannot escape the intended prefix.
func SanitizeKey(key string) string {
	key = strings.ReplaceAll(key, "..", "")
	key = path.Clean(key)
	key = strings.TrimPrefix(key, "/")
	if key == "." {
		return ""
	}
	return key
}

// ValidateUpload checks folder, content type and size against the allow-lists.
// It returns a descriptive error naming the failing constraint.
func ValidateUpload(folder, contentType string, size int64) error {
	if !allowedFolders[folder] {
		return fmt.Errorf("folder %q is not allowed", folder)
	}
	maxSize, ok := allowedContentTypes[contentType]
	if !ok {
		return fmt.Errorf("content type %q is not allowed", contentType)
	}
	if size <= 0 {
		return fmt.Errorf("size must be positive")
	}
	if size > maxSize {
		return fmt.Errorf("size %d exceeds the %d byte limit for %s", size, maxSize, contentType)
	}
	return nil
}

// GeneratePresignedPutURL creates a pre-signed URL for uploading an object.
// It returns the URL and the generated S3 object key.
func (s *s3Storage) GeneratePresignedPutURL(ctx context.Context, userID, folder, filename, contentType string, size int64) (string, string, error) {
	if err := ValidateUpload(folder, contentType, size); err != nil {
		return "", "", err
	}

	filename = SanitizeKey(filename)
	if filename == "" {
		return "", "", fmt.Errorf("invalid filename")
	}
	objectKey := fmt.Sprintf("%s/%s/%s_%s", folder, userID, uuid.NewString(), filename)

	presignedReq, err := s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.AwsS3Bucket),
		Key:           aws.String(objectKey),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	}, s3.WithPresignExpires(s.cfg.PresignTTL))
	if err != nil {
		return "", "", fmt.Errorf("failed to generate presigned PUT URL for key %s: %w", objectKey, err)
	}

	return presignedReq.URL, objectKey, nil
}

// PresignGetURL returns a time-limited download URL for key, consulting the
// cache first. The cached copy expires locally before the provider URL does.
func (s *s3Storage) PresignGetURL(ctx context.Context, key string) (string, error) {
	key = SanitizeKey(key)
	if key == "" {
		return "", fmt.Errorf("invalid object key")
	}

	if url, ok := s.urlCache.Get(key); ok {
		return url, nil
	}

	presignedReq, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.AwsS3Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.cfg.PresignTTL))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned GET URL for key %s: %w", key, err)
	}

	s.urlCache.Put(key, presignedReq.URL)
	return presignedReq.URL, nil
}

// StreamObject fetches the object behind a (cached) presigned URL and returns
// its body for streaming to the caller. Streaming instead of redirecting
// keeps image-rendering clients that disallow redirects working.
func (s *s3Storage) StreamObject(ctx context.Context, key string) (io.ReadCloser, string, error) {
	url, err := s.PresignGetURL(ctx, key)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build request for key %s: %w", key, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch object %s: %w", key, err)
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
		// S3 answers 403 for missing keys when the caller lacks ListBucket.
		resp.Body.Close()
		return nil, "", ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("object fetch for %s returned status %d", key, resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}
