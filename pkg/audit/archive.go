package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver receives entries leaving the live trail under retention
type Archiver interface {
	Archive(ctx context.Context, entries []*Entry) error
}

// S3Config configures the S3 archiver. Endpoint and path style support
// MinIO in local development.
type S3Config struct {
	Bucket       string
	Region       string
	Prefix       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Archiver writes expired entries to object storage as gzipped NDJSON
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver creates an archiver backed by S3-compatible object storage
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Archive uploads the batch as one gzipped NDJSON object keyed by the batch's
// time range.
func (a *S3Archiver) Archive(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	encoder := json.NewEncoder(gz)
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			gz.Close()
			return fmt.Errorf("failed to encode archive entry: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to compress archive: %w", err)
	}

	first := entries[0].Timestamp.UTC().Format("20060102T150405Z")
	last := entries[len(entries)-1].Timestamp.UTC().Format("20060102T150405Z")
	key := fmt.Sprintf("%saudit-%s-%s-%d.ndjson.gz", a.keyPrefix(), first, last, time.Now().UnixNano())

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload audit archive: %w", err)
	}
	return nil
}

func (a *S3Archiver) keyPrefix() string {
	if a.prefix == "" {
		return ""
	}
	if a.prefix[len(a.prefix)-1] == '/' {
		return a.prefix
	}
	return a.prefix + "/"
}
