// Package objectstore reads manifest objects from S3 or a MinIO endpoint.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/elsa-data/copy-out-service/pkg/copyout"
)

// S3GetObjectAPI is the subset of the S3 client used by S3Getter.
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Getter reads objects through the AWS SDK.
type S3Getter struct {
	client S3GetObjectAPI
}

// NewS3Getter returns an S3Getter using client.
func NewS3Getter(client S3GetObjectAPI) *S3Getter {
	return &S3Getter{client: client}
}

// GetObject returns the body of bucket/key. A missing object or bucket is reported as
// copyout.ErrManifestNotFound.
func (g *S3Getter) GetObject(ctx context.Context, bucket string, key string) (io.ReadCloser, error) {
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, copyout.ErrManifestNotFound)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

func isNotFound(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var noSuchBucket *s3types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return true
		}
	}
	return false
}
