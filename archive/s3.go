package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink stores objects under an optional key prefix of one bucket.
type S3Sink struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Sink panics when client is nil or bucket is blank.
func NewS3Sink(client s3API, bucket, prefix string) *S3Sink {
	if client == nil {
		panic("archive: nil s3 client")
	}
	if strings.TrimSpace(bucket) == "" {
		panic("archive: bucket is required")
	}
	return &S3Sink{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Put writes data under key, joined to the sink prefix. The key is not
// path-cleaned.
func (s *S3Sink) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if key == "" {
		return "", errors.New("empty key")
	}
	key = strings.TrimLeft(key, "/")
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("put s3 object key=%q: %w", key, err)
	}
	return key, nil
}
