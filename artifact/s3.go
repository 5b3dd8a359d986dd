package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config configures an S3-compatible artifact bucket.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"` //nolint:gosec // config field
}

// S3Store keeps artifacts at {prefix}/{scope}/{key}.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Store wraps an existing client.
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// NewS3StoreFromConfig builds a client from the default AWS credential chain,
// or from static keys when both are set. A custom endpoint switches to
// path-style addressing for MinIO and similar servers.
func NewS3StoreFromConfig(ctx context.Context, cfg S3Config) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return NewS3Store(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix), nil
}

func (s *S3Store) objectKey(scope, key string) string {
	return path.Join(s.prefix, scope, key)
}

// Put uploads the artifact with its checksum as object metadata.
func (s *S3Store) Put(ctx context.Context, scope, key string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read artifact data: %w", err)
	}
	sum := sha256.Sum256(data)
	objectKey := s.objectKey(scope, key)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(data),
		Metadata: map[string]string{
			"checksum":   hex.EncodeToString(sum[:]),
			"size":       strconv.Itoa(len(data)),
			"created-at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("put artifact to S3: %w", err)
	}
	return nil
}

// Get downloads the artifact.
func (s *S3Store) Get(ctx context.Context, scope, key string) (io.ReadCloser, error) {
	objectKey := s.objectKey(scope, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(objectKey)})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, objectKey)
		}
		return nil, fmt.Errorf("get artifact from S3: %w", err)
	}
	return out.Body, nil
}

// List returns the artifacts stored under scope.
func (s *S3Store) List(ctx context.Context, scope string) ([]Artifact, error) {
	prefix := path.Join(s.prefix, scope) + "/"
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket), Prefix: aws.String(prefix)})
	if err != nil {
		return nil, fmt.Errorf("list artifacts from S3: %w", err)
	}

	artifacts := make([]Artifact, 0, len(out.Contents))
	for _, obj := range out.Contents {
		a := Artifact{Key: path.Base(*obj.Key)}
		if obj.Size != nil {
			a.Size = *obj.Size
		}
		if obj.LastModified != nil {
			a.CreatedAt = *obj.LastModified
		}
		if obj.ETag != nil {
			a.Checksum = *obj.ETag
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

// Delete removes the artifact.
func (s *S3Store) Delete(ctx context.Context, scope, key string) error {
	objectKey := s.objectKey(scope, key)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(objectKey)}); err != nil {
		return fmt.Errorf("delete artifact from S3: %w", err)
	}
	return nil
}
