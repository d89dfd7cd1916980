package avatars

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func withSeams(t *testing.T, put func(ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error)) {
	t.Helper()
	origLoad, origNew, origPut := loadDefaultAWSConfig, newS3ClientFromConfig, putObject
	t.Cleanup(func() {
		loadDefaultAWSConfig, newS3ClientFromConfig, putObject = origLoad, origNew, origPut
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return &s3.Client{}
	}
	putObject = func(client *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return put(ctx, in)
	}
}

func TestStore_UploadsAndReturnsPublicURL(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer src.Close()

	var gotBucket, gotKey, gotType string
	var gotBody []byte
	withSeams(t, func(ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		gotBucket = aws.ToString(in.Bucket)
		gotKey = aws.ToString(in.Key)
		gotType = aws.ToString(in.ContentType)
		gotBody, _ = io.ReadAll(in.Body)
		return &s3.PutObjectOutput{}, nil
	})

	c := NewS3Cache(S3Config{
		Bucket:        "linqyard-avatars",
		PublicBaseURL: "https://cdn.linqyard.com",
	})

	url, err := c.Store(context.Background(), "u1", src.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBucket != "linqyard-avatars" || gotType != "image/png" || string(gotBody) != "png-bytes" {
		t.Fatalf("unexpected upload: bucket=%s type=%s body=%q", gotBucket, gotType, gotBody)
	}
	if !strings.HasPrefix(gotKey, "avatars/") || !strings.Contains(gotKey, "u1") {
		t.Fatalf("unexpected key: %s", gotKey)
	}
	if url != "https://cdn.linqyard.com/"+gotKey {
		t.Fatalf("unexpected public url: %s", url)
	}
}

func TestStore_SourceNotOK(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer src.Close()

	c := NewS3Cache(S3Config{Bucket: "b", PublicBaseURL: "https://cdn.example"})
	_, err := c.Store(context.Background(), "u1", src.URL)
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestStore_UploadError(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer src.Close()

	withSeams(t, func(ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return nil, errors.New("bucket gone")
	})

	c := NewS3Cache(S3Config{Bucket: "b", PublicBaseURL: "https://cdn.example"})
	_, err := c.Store(context.Background(), "u1", src.URL)
	if err == nil || !strings.Contains(err.Error(), "avatar store") {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}
