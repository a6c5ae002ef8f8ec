package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"
)

// ClientLoader returns an S3 client able to reach bucket.
type ClientLoader func(ctx context.Context, bucket string) (S3API, error)

// RegionalClientCache holds one S3 client per bucket, created in the bucket's region.
type RegionalClientCache struct {
	m     sync.Map
	mutex sync.Mutex
	load  ClientLoader
}

func NewRegionalClientCache(loader ClientLoader) *RegionalClientCache {
	return &RegionalClientCache{
		load: loader,
	}
}

func (c *RegionalClientCache) GetOrLoad(ctx context.Context, bucket string) (S3API, error) {
	if client, found := c.m.Load(bucket); found {
		return client.(S3API), nil
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if client, found := c.m.Load(bucket); found {
		return client.(S3API), nil
	}

	client, err := c.load(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("error loading client for bucket %s: %w", bucket, err)
	}
	c.m.Store(bucket, client)
	return client, nil
}

// makeRegionalClientLoader looks up the region of each bucket with base and creates a client
// for that region.
func makeRegionalClientLoader(cfg aws.Config, base *s3.Client) ClientLoader {
	return func(ctx context.Context, bucket string) (S3API, error) {
		region, err := manager.GetBucketRegion(ctx, base, bucket)
		if err != nil {
			return nil, fmt.Errorf("error getting region of bucket %s: %w", bucket, err)
		}
		log.WithFields(log.Fields{"bucket": bucket, "region": region}).Debug("using s3 client for region")
		return s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.Region = region
		}), nil
	}
}

// makeStaticClientLoader uses client for every bucket.
func makeStaticClientLoader(client S3API) ClientLoader {
	return func(context.Context, string) (S3API, error) {
		return client, nil
	}
}
