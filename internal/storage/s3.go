package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/readaloud/client/internal/config"
)

// DefaultContentType is sent when the caller does not name one.
const DefaultContentType = "application/pdf"

var (
	// ErrNotConfigured indicates no bucket was configured.
	ErrNotConfigured = errors.New("AWS credentials not configured. Please check your configuration.")
	// ErrInvalidObject indicates the object has no name or body.
	ErrInvalidObject = errors.New("object requires a name and a body")
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// Object is a file to place in the bucket.
type Object struct {
	Name        string
	Body        io.Reader
	ContentType string
	// Progress, when set, receives coarse percentages as the upload advances.
	Progress func(percent int)
}

// Uploaded describes a stored object.
type Uploaded struct {
	Key string
	URL string
}

// UploadAPI is the subset of the S3 upload manager the uploader needs.
type UploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Uploader places book PDFs in an S3-compatible bucket.
type S3Uploader struct {
	uploader UploadAPI
	bucket   string
	region   string
	prefix   string
	baseURL  string
	now      func() time.Time
}

// NewS3Uploader configures an uploader targeting the provided object store.
func NewS3Uploader(ctx context.Context, cfg config.ObjectStoreConfig) (*S3Uploader, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, ErrNotConfigured
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if strings.TrimSpace(cfg.Endpoint) != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:           cfg.Endpoint,
					SigningRegion: cfg.Region,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		loadOpts = append(loadOpts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = strings.TrimSpace(cfg.Endpoint) != ""
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	return NewS3UploaderWithAPI(uploader, cfg), nil
}

// NewS3UploaderWithAPI wraps an existing upload client.
func NewS3UploaderWithAPI(api UploadAPI, cfg config.ObjectStoreConfig) *S3Uploader {
	return &S3Uploader{
		uploader: api,
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		baseURL:  strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		now:      time.Now,
	}
}

// Upload stores obj under a unique key and returns where it can be fetched.
// Failures carry a message suitable for showing to the user.
func (s *S3Uploader) Upload(ctx context.Context, obj Object) (Uploaded, error) {
	if s == nil || s.uploader == nil || s.bucket == "" {
		return Uploaded{}, ErrNotConfigured
	}
	if strings.TrimSpace(obj.Name) == "" || obj.Body == nil {
		return Uploaded{}, ErrInvalidObject
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}

	now := s.now()
	key := ObjectKey(s.prefix, obj.Name, now)
	report(obj.Progress, 10)

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        obj.Body,
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"originalName": obj.Name,
			"uploadedAt":   now.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return Uploaded{}, &UploadError{Key: key, Message: FriendlyMessage(err), Err: err}
	}

	report(obj.Progress, 100)
	return Uploaded{Key: key, URL: s.objectURL(key)}, nil
}

func (s *S3Uploader) objectURL(key string) string {
	if s.baseURL != "" {
		return fmt.Sprintf("%s/%s", s.baseURL, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

func report(fn func(int), percent int) {
	if fn != nil {
		fn(percent)
	}
}

// ObjectKey builds "<prefix>/<unix millis>-<sanitized name>".
func ObjectKey(prefix, name string, at time.Time) string {
	key := fmt.Sprintf("%d-%s", at.UnixMilli(), SanitizeName(name))
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// SanitizeName replaces every character outside [a-zA-Z0-9.-] with an underscore.
func SanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// UploadError wraps a failed upload with a user-facing message.
type UploadError struct {
	Key     string
	Message string
	Err     error
}

func (e *UploadError) Error() string { return e.Message }

func (e *UploadError) Unwrap() error { return e.Err }

// FriendlyMessage maps common upload failures onto short actionable text.
func FriendlyMessage(err error) string {
	if err == nil {
		return ""
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return "Invalid AWS credentials. Please verify your Access Key ID and Secret Access Key."
		case "NoSuchBucket":
			return "S3 bucket not found. Verify bucket name and region."
		case "AccessDenied":
			return "Access denied. Check IAM permissions for s3:PutObject."
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return "Network error. Check your internet connection."
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "failed to retrieve credentials"), strings.Contains(msg, "no valid providers"):
		return ErrNotConfigured.Error()
	case strings.Contains(msg, "Access Key"):
		return "Invalid AWS credentials. Please verify your Access Key ID and Secret Access Key."
	case strings.Contains(msg, "NoSuchBucket"):
		return "S3 bucket not found. Verify bucket name and region."
	case strings.Contains(msg, "AccessDenied"):
		return "Access denied. Check IAM permissions for s3:PutObject."
	}
	return "Upload failed: " + msg
}
