package hosting

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/me/weaver/pkg/cwl"
)

// DefaultPresignExpiry bounds how long a hosted URL stays valid.
const DefaultPresignExpiry = 24 * time.Hour

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Host uploads files to a bucket and hands out presigned GET URLs.
// Keys mirror the path below OutputDir so that a job's files stay grouped
// under its UUID.
type S3Host struct {
	Bucket    string
	Prefix    string
	OutputDir string
	Expiry    time.Duration

	uploader  uploader
	presigner presigner
	logger    *slog.Logger
}

// NewS3Host creates an S3Host using the default AWS credential chain.
func NewS3Host(ctx context.Context, bucket, region string, logger *slog.Logger) (*S3Host, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3HostFromClient(s3.NewFromConfig(cfg), bucket, logger), nil
}

// NewS3HostFromClient creates an S3Host over an existing client.
func NewS3HostFromClient(client *s3.Client, bucket string, logger *slog.Logger) *S3Host {
	return &S3Host{
		Bucket:    bucket,
		Expiry:    DefaultPresignExpiry,
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
		logger:    logger.With("component", "hosting"),
	}
}

// Host uploads localPath and returns a presigned URL for it.
func (h *S3Host) Host(ctx context.Context, localPath string) (string, error) {
	if p, ok := cwl.LocalPath(localPath); ok {
		localPath = p
	}
	key := h.key(localPath)

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := h.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(h.Bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", h.Bucket, key, err)
	}

	expiry := h.Expiry
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}
	req, err := h.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign s3://%s/%s: %w", h.Bucket, key, err)
	}
	h.logger.Debug("hosted file on s3", "path", localPath, "bucket", h.Bucket, "key", key)
	return req.URL, nil
}

func (h *S3Host) key(localPath string) string {
	rel := filepath.Base(localPath)
	if h.OutputDir != "" {
		if r, err := filepath.Rel(filepath.Clean(h.OutputDir), localPath); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}
	rel = filepath.ToSlash(rel)
	if h.Prefix == "" {
		return rel
	}
	return strings.TrimRight(h.Prefix, "/") + "/" + rel
}
