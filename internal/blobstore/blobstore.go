package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"

	"github.com/tallyops/tally/config"
)

// Store persists raw source files outside the core. Once parsing
// succeeds only the normalized rows are needed; the original bytes are
// kept for audit.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
}

// S3Store is the default Store backed by S3 or any S3-compatible
// endpoint (MinIO etc).
type S3Store struct {
	client *s3.S3
	bucket string
}

func NewS3Store(cfg *config.Configuration) (*S3Store, error) {
	awsConfig := &aws.Config{
		Region:      aws.String(cfg.S3.Region),
		Credentials: credentials.NewStaticCredentials(cfg.S3.AccessKeyId, cfg.S3.SecretAccessKey, ""),
	}
	if cfg.S3.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.S3.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.Wrap(err, "creating s3 session")
	}

	return &S3Store{client: s3.New(sess), bucket: cfg.S3.BucketName}, nil
}

func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", errors.Wrapf(err, "uploading %s to s3", key)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Store) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "downloading %s from s3", key)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
