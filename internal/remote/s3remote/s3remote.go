// Package s3remote implements remote.Store over an S3-compatible bucket
// (AWS, MinIO, or any self-hosted gateway). This backs the "cloud" sync
// backend; the bucket is still treated as a dumb blob store.
package s3remote

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mindwtr/mindwtr/internal/remote"
)

// Config carries bucket coordinates and static credentials, the way a
// self-hosted MinIO deployment is usually addressed.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Store is an S3-backed remote.
type Store struct {
	client *s3.Client
	bucket string
}

// New builds the S3 client. A non-empty Endpoint overrides the default AWS
// endpoint resolution (for MinIO and friends).
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)))
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// wrapErr normalizes SDK errors into the tagged transport error.
func wrapErr(op, path string, err error) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return &remote.StatusError{Op: op, Path: path, Status: 404, Message: "no such key"}
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return &remote.StatusError{Op: op, Path: path, Status: re.HTTPStatusCode(), Message: re.Error()}
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}

func (s *Store) GetResource(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, 0, wrapErr("get", path, err)
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

func (s *Store) PutResource(ctx context.Context, path string, body io.Reader, size int64) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   body,
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return wrapErr("put", path, err)
	}
	return nil
}

func (s *Store) DeleteResource(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return wrapErr("delete", path, err)
	}
	return nil
}
