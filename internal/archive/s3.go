// Package archive keeps copies of job bundles in S3.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	appconfig "github.com/ignite/sheet-dispatch/internal/config"
)

// ErrNoBucket is returned when archiving is enabled without a bucket.
var ErrNoBucket = errors.New("archive bucket not configured")

// S3API is the part of the S3 client the archiver uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads bundles to s3://<bucket>/<prefix><job id>/<file>.
type S3Archiver struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Archiver wraps an existing client.
func NewS3Archiver(client S3API, bucket, prefix string) *S3Archiver {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// New builds an archiver from config. Static keys are used when both are
// set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg appconfig.ArchiveConfig) (*S3Archiver, error) {
	if cfg.S3Bucket == "" {
		return nil, ErrNoBucket
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	log.Printf("[Archive] S3 archive enabled: bucket=%s prefix=%s region=%s", cfg.S3Bucket, cfg.Prefix, cfg.S3Region)
	return NewS3Archiver(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.Prefix), nil
}

// Key returns the object key for a bundle file.
func (a *S3Archiver) Key(jobID, file string) string {
	return a.prefix + path.Join(jobID, filepath.Base(file))
}

// Archive uploads the file at p and returns its object key.
func (a *S3Archiver) Archive(ctx context.Context, jobID, p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("opening bundle: %w", err)
	}
	defer f.Close()

	key := a.Key(jobID, p)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading s3://%s/%s: %w", a.bucket, key, err)
	}
	return key, nil
}
