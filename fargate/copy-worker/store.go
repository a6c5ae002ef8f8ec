package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/elsa-data/copy-out-service/fargate/copy-worker/pkg"
	"github.com/elsa-data/copy-out-service/pkg/copyout"
	log "github.com/sirupsen/logrus"
)

// maxSimpleCopySize is the largest object copied with a single CopyObject call.
// The real limit is 5GiB but want to be conservative.
const maxSimpleCopySize = 5 * 1000 * 1000 * 1000

// S3API is the subset of the S3 client used by the copy worker.
type S3API interface {
	pkg.MultipartCopyAPI
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// CopyWorkerStore copies objects between buckets.
type CopyWorkerStore struct {
	clients     *RegionalClientCache
	timeout     time.Duration
	partWorkers int
}

// NewCopyWorkerStore returns a CopyWorkerStore.
func NewCopyWorkerStore(clients *RegionalClientCache, timeout time.Duration, partWorkers int) *CopyWorkerStore {
	return &CopyWorkerStore{
		clients:     clients,
		timeout:     timeout,
		partWorkers: partWorkers,
	}
}

// CopyAll copies every item to dest with nrWorkers workers and returns the number of items
// that could not be copied.
func (s *CopyWorkerStore) CopyAll(ctx context.Context, items []copyout.CopyItem, dest copyout.Location, nrWorkers int) int {
	walker := make(chan copyout.CopyItem)
	go func() {
		defer close(walker)
		for _, item := range items {
			walker <- item
		}
	}()

	var failed atomic.Int32
	var processWg sync.WaitGroup
	for w := 1; w <= nrWorkers; w++ {
		processWg.Add(1)
		go s.copyWorker(ctx, w, walker, dest, &failed, &processWg)
	}
	processWg.Wait()

	return int(failed.Load())
}

// copyWorker accepts items from the channel and copies each one to dest.
func (s *CopyWorkerStore) copyWorker(ctx context.Context, workerId int, items <-chan copyout.CopyItem,
	dest copyout.Location, failed *atomic.Int32, wg *sync.WaitGroup) {

	defer func() {
		log.Debug("Closing Worker: ", workerId)
		wg.Done()
	}()

	for item := range items {
		destKey := dest.ObjectKey(item.Key)
		fields := log.Fields{
			"source":      item.Source(),
			"dest_bucket": dest.Bucket,
			"dest_key":    destKey,
		}

		start := time.Now()
		size, err := s.copyObject(ctx, item, dest.Bucket, destKey)
		if err != nil {
			failed.Add(1)
			log.WithFields(fields).WithError(err).Error("unable to copy object")
			continue
		}

		fields["size"] = size
		fields["duration_ms"] = time.Since(start).Milliseconds()
		log.WithFields(fields).Info("object copied")
	}
}

// copyObject copies one object and returns its size. Objects up to maxSimpleCopySize use
// CopyObject, larger ones a multipart copy.
func (s *CopyWorkerStore) copyObject(ctx context.Context, item copyout.CopyItem, destBucket string, destKey string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	source, err := s.clients.GetOrLoad(ctx, item.Bucket)
	if err != nil {
		return 0, err
	}
	head, err := source.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(item.Bucket),
		Key:    aws.String(item.Key),
	})
	if err != nil {
		return 0, fmt.Errorf("cannot get size of %s: %w", item.Source(), err)
	}
	fileSize := aws.ToInt64(head.ContentLength)

	target, err := s.clients.GetOrLoad(ctx, destBucket)
	if err != nil {
		return 0, err
	}

	if fileSize < maxSimpleCopySize {
		_, err = target.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(destBucket),
			CopySource: aws.String(pkg.CopySource(item.Bucket, item.Key)),
			Key:        aws.String(destKey),
		})
		if err != nil {
			return 0, fmt.Errorf("error copying %s: %w", item.Source(), err)
		}
		return fileSize, nil
	}

	err = pkg.MultiPartCopy(ctx, target, s.partWorkers, fileSize, item.Bucket, item.Key, destBucket, destKey)
	if err != nil {
		return 0, err
	}
	return fileSize, nil
}
