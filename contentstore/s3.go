package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ipfs/go-cid"
	"go.uber.org/zap"
)

// S3API is the subset of the S3 client used by S3Backend.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Backend mirrors content into an S3 bucket, keyed by CID.
type S3Backend struct {
	client S3API
	bucket string
	prefix string
	logger *zap.Logger
}

func NewS3Backend(client S3API, bucket, prefix string, logger *zap.Logger) (*S3Backend, error) {
	if client == nil || bucket == "" {
		return nil, errors.New("s3: client and bucket are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Backend{client: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

func (b *S3Backend) Name() string { return "s3" }

func (b *S3Backend) key(c cid.Cid) string {
	return b.prefix + c.String()
}

func (b *S3Backend) Put(ctx context.Context, data []byte) (string, error) {
	c, err := Digest(data)
	if err != nil {
		return "", err
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(c)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3: put %s: %w", b.key(c), err)
	}
	return c.String(), nil
}

func (b *S3Backend) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(c)),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3: get %s: %w", b.key(c), err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(io.LimitReader(out.Body, MaxRecordSize+1))
	if err != nil {
		return nil, fmt.Errorf("s3: read %s: %w", b.key(c), err)
	}
	return data, nil
}
