// Package avatars caches provider profile pictures in S3-compatible storage
// so accounts do not depend on third-party CDN URLs staying alive.
package avatars

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const maxAvatarBytes = 5 << 20

// Cache copies a remote avatar into the configured bucket.
type Cache interface {
	// Store downloads the avatar at srcURL and uploads it under a fresh key.
	// Returns the public URL of the stored copy.
	Store(ctx context.Context, userID, srcURL string) (string, error)
}

// S3Config holds the storage settings for the avatar cache.
type S3Config struct {
	Region        string
	BaseEndpoint  string
	Bucket        string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
}

// S3Cache stores avatars in an S3-compatible bucket (AWS or MinIO).
type S3Cache struct {
	cfg        S3Config
	httpClient *http.Client
}

var _ Cache = (*S3Cache)(nil)

func NewS3Cache(cfg S3Config) *S3Cache {
	return &S3Cache{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Test seams.
var (
	loadDefaultAWSConfig  = awsconfig.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
	putObject = func(client *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return client.PutObject(ctx, in)
	}
)

func (c *S3Cache) getClient(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(c.cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.cfg.AccessKey, c.cfg.SecretKey, "",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.cfg.BaseEndpoint)
		}
		o.UsePathStyle = c.cfg.BaseEndpoint != ""
	}), nil
}

func (c *S3Cache) Store(ctx context.Context, userID, srcURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", fmt.Errorf("avatar fetch: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("avatar fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("avatar fetch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarBytes+1))
	if err != nil {
		return "", fmt.Errorf("avatar fetch: %w", err)
	}
	if len(body) > maxAvatarBytes {
		return "", fmt.Errorf("avatar fetch: image exceeds %d bytes", maxAvatarBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}

	client, err := c.getClient(ctx)
	if err != nil {
		return "", fmt.Errorf("avatar store: %w", err)
	}

	key := avatarKey(userID)
	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("avatar store: %w", err)
	}

	return fmt.Sprintf("%s/%s", c.cfg.PublicBaseURL, key), nil
}

func avatarKey(userID string) string {
	d := time.Now()
	return fmt.Sprintf("avatars/%d/%d/%s-%s", d.Year(), d.Month(), userID, uuid.NewString())
}
