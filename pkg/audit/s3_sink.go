package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by S3Sink
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures the S3 sink
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string // optional, for MinIO or other S3-compatible stores
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Prefix       string // default: audit/plan-changes
}

// S3Sink writes each audit event as its own object
type S3Sink struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Client builds an S3 client from config
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var awsConfig aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		// Static credentials for MinIO or explicit keys
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain (IAM roles, env vars, etc.)
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Sink creates an S3 sink over client
func NewS3Sink(client S3API, bucket, prefix string) (*S3Sink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("audit bucket is required")
	}
	if prefix == "" {
		prefix = "audit/plan-changes"
	}
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}, nil
}

// ObjectKey returns the object key for an event
func (s *S3Sink) ObjectKey(event *Event) string {
	ts := event.Timestamp.UTC()
	return path.Join(s.prefix, ts.Format("2006"), ts.Format("01"), ts.Format("02"), event.ID+".json")
}

// Write uploads the event
func (s *S3Sink) Write(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.ObjectKey(event)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"subject-id": event.SubjectID,
			"event-type": string(event.EventType),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload audit event: %w", err)
	}
	return nil
}

// Close is a no-op; the S3 client holds no per-sink resources
func (s *S3Sink) Close() error {
	return nil
}
