package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/elsa-data/copy-out-service/pkg/copyout"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig locates an S3 compatible endpoint.
type MinioConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// MinioGetter reads objects from an S3 compatible endpoint, typically MinIO in local setups.
type MinioGetter struct {
	client *minio.Client
}

// NewMinioGetter connects to the endpoint in cfg. The URL scheme selects TLS.
func NewMinioGetter(cfg MinioConfig) (*MinioGetter, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", cfg.Endpoint, err)
	}
	host := u.Host
	if host == "" {
		host = cfg.Endpoint
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: u.Scheme == "https",
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioGetter{client: client}, nil
}

// GetObject returns the body of bucket/key. A missing object or bucket is reported as
// copyout.ErrManifestNotFound.
func (g *MinioGetter) GetObject(ctx context.Context, bucket string, key string) (io.ReadCloser, error) {
	obj, err := g.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, minioError(bucket, key, err)
	}
	// GetObject is lazy; Stat surfaces a missing object before the caller starts reading.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, minioError(bucket, key, err)
	}
	return obj, nil
}

func minioError(bucket string, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%s/%s: %w", bucket, key, copyout.ErrManifestNotFound)
	}
	return fmt.Errorf("get %s/%s: %w", bucket, key, err)
}
