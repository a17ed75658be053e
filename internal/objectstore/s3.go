// Package objectstore implements the object store contract on Amazon S3
// and S3-compatible services.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/ambiyansyah-risyal/opsclient/internal/backend"
)

// Config configures the S3 client.
type Config struct {
	Region string `yaml:"region" env:"OPSCLIENT_S3_REGION"`
	// Endpoint overrides the AWS endpoint, e.g. for MinIO or LocalStack.
	Endpoint        string `yaml:"endpoint" env:"OPSCLIENT_S3_ENDPOINT"`
	AccessKeyID     string `yaml:"accessKeyId" env:"OPSCLIENT_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secretAccessKey" env:"OPSCLIENT_S3_SECRET_ACCESS_KEY"`
	ForcePathStyle  bool   `yaml:"forcePathStyle" env:"OPSCLIENT_S3_FORCE_PATH_STYLE"`
	// HealthBucket is checked with HeadBucket by Ping. Empty lists buckets.
	HealthBucket string `yaml:"healthBucket" env:"OPSCLIENT_S3_HEALTH_BUCKET"`

	HTTPClient *http.Client `yaml:"-"`
}

// Store is an S3 backed object store. Retries are left to the caller.
type Store struct {
	client       *s3.Client
	healthBucket string
}

// New loads the AWS configuration and creates the S3 client. Static keys
// take precedence over the default credential chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, config.WithHTTPClient(cfg.HTTPClient))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return NewWithClient(client, cfg.HealthBucket), nil
}

// NewWithClient wraps an existing S3 client.
func NewWithClient(client *s3.Client, healthBucket string) *Store {
	return &Store{client: client, healthBucket: healthBucket}
}

func (s *Store) Put(ctx context.Context, obj backend.Object) (*backend.ObjectInfo, error) {
	contentType := obj.ContentType
	if contentType == "" {
		contentType = detectContentType(obj.Key)
	}

	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(obj.Bucket),
		Key:           aws.String(obj.Key),
		Body:          bytes.NewReader(obj.Data),
		ContentLength: aws.Int64(int64(len(obj.Data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return nil, translateError(err, "PutObject", obj.Bucket, obj.Key)
	}

	return &backend.ObjectInfo{
		Bucket:      obj.Bucket,
		Key:         obj.Key,
		ContentType: contentType,
		Size:        int64(len(obj.Data)),
		ETag:        strings.Trim(aws.ToString(out.ETag), `"`),
	}, nil
}

func (s *Store) Get(ctx context.Context, bucket, key string) (*backend.Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, translateError(err, "GetObject", bucket, key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	return &backend.Object{
		Bucket:      bucket,
		Key:         key,
		ContentType: aws.ToString(out.ContentType),
		Data:        data,
	}, nil
}

// Delete removes the object. Deleting a missing key succeeds, as S3 does.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return translateError(err, "DeleteObject", bucket, key)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.healthBucket == "" {
		_, err := s.client.ListBuckets(ctx, &s3.ListBucketsInput{MaxBuckets: aws.Int32(1)})
		if err != nil {
			return translateError(err, "ListBuckets", "", "")
		}
		return nil
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.healthBucket)})
	if err != nil {
		return translateError(err, "HeadBucket", s.healthBucket, "")
	}
	return nil
}

// translateError maps S3 failures onto HTTP statuses. Transport failures
// are returned wrapped so timeouts and network errors stay detectable.
func translateError(err error, operation, bucket, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err):
		return &backend.StatusError{Status: http.StatusNotFound, Code: "NoSuchKey", Message: fmt.Sprintf("object not found: %s/%s", bucket, key), Err: err}
	case isErrorType[*s3types.NoSuchBucket](err):
		return &backend.StatusError{Status: http.StatusNotFound, Code: "NoSuchBucket", Message: fmt.Sprintf("bucket not found: %s", bucket), Err: err}
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) && status.HTTPStatusCode() >= 400 {
		se := &backend.StatusError{
			Status:  status.HTTPStatusCode(),
			Message: fmt.Sprintf("%s failed for %s/%s", operation, bucket, key),
			Err:     err,
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			se.Code = apiErr.ErrorCode()
		}
		return se
	}
	return fmt.Errorf("%s failed for %s/%s: %w", operation, bucket, key, err)
}

func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

func detectContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".csv"):
		return "text/csv"
	case strings.HasSuffix(key, ".txt"):
		return "text/plain"
	case strings.HasSuffix(key, ".jpg"), strings.HasSuffix(key, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(key, ".zip"):
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
