package pkg

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	log "github.com/sirupsen/logrus"
)

// MinPartSize is the smallest part size used by MultiPartCopy, 105 MiB.
const MinPartSize = 105 * 1024 * 1024

// maxParts is the S3 limit on parts per multipart upload.
const maxParts = 10000

// DefaultCopyWorkers number of threads for multipart copy
const DefaultCopyWorkers = 10

// MultipartCopyAPI is the subset of the S3 client used for multipart copies.
type MultipartCopyAPI interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPartCopy(ctx context.Context, params *s3.UploadPartCopyInput, optFns ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// MultiPartCopy starts a multipart upload on the destination, copies each part of the source
// with nrWorkers concurrent UploadPartCopy calls and completes the upload. On any part failure
// the upload is aborted.
func MultiPartCopy(ctx context.Context, svc MultipartCopyAPI, nrWorkers int, fileSize int64,
	sourceBucket string, sourceKey string, destBucket string, destKey string) error {

	if nrWorkers <= 0 {
		nrWorkers = DefaultCopyWorkers
	}

	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()

	createOutput, err := svc.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(destBucket),
		Key:    aws.String(destKey),
	})
	if err != nil {
		return fmt.Errorf("error starting multipart upload: %w", err)
	}
	uploadId := aws.ToString(createOutput.UploadId)
	if uploadId == "" {
		return errors.New("no upload id found in start upload request")
	}

	partWalker := make(chan s3.UploadPartCopyInput, nrWorkers)
	results := make(chan s3types.CompletedPart, nrWorkers)

	go allocate(ctx, uploadId, fileSize, sourceBucket, sourceKey, destBucket, destKey, partWalker)

	done := make(chan []s3types.CompletedPart)
	go aggregateResult(done, results)

	workerErr := createWorkerPool(ctx, cancelFn, svc, nrWorkers, partWalker, results)

	parts := <-done

	if workerErr != nil {
		abort(svc, uploadId, destBucket, destKey)
		return fmt.Errorf("error copying parts of %s/%s: %w", sourceBucket, sourceKey, workerErr)
	}

	// parts must be in ascending order for completion
	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})

	_, err = svc.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(destBucket),
		Key:             aws.String(destKey),
		UploadId:        aws.String(uploadId),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		abort(svc, uploadId, destBucket, destKey)
		return fmt.Errorf("error completing upload: %w", err)
	}

	log.WithFields(log.Fields{
		"source_bucket": sourceBucket,
		"source_key":    sourceKey,
		"dest_bucket":   destBucket,
		"dest_key":      destKey,
		"parts":         len(parts),
	}).Debug("multipart copy complete")
	return nil
}

// PartSize returns the part size for an object, growing past MinPartSize when the object
// would otherwise need more than 10,000 parts.
func PartSize(fileSize int64) int64 {
	size := int64(MinPartSize)
	if n := (fileSize + maxParts - 1) / maxParts; n > size {
		size = n
	}
	return size
}

// buildCopySourceRange helper function to build the string for the range of bytes to copy
func buildCopySourceRange(start int64, partSize int64, objectSize int64) string {
	end := start + partSize - 1
	if end >= objectSize {
		end = objectSize - 1
	}
	return "bytes=" + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10)
}

// CopySource returns the escaped CopySource value of an object.
func CopySource(bucket string, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// allocate create entries into the part channel for the workers to consume.
func allocate(ctx context.Context, uploadId string, fileSize int64, sourceBucket string, sourceKey string,
	destBucket string, destKey string, partWalker chan<- s3.UploadPartCopyInput) {
	defer close(partWalker)

	partSize := PartSize(fileSize)
	copySource := CopySource(sourceBucket, sourceKey)

	var partNumber int32 = 1
	for i := int64(0); i < fileSize; i += partSize {
		input := s3.UploadPartCopyInput{
			Bucket:          aws.String(destBucket),
			CopySource:      aws.String(copySource),
			CopySourceRange: aws.String(buildCopySourceRange(i, partSize, fileSize)),
			Key:             aws.String(destKey),
			PartNumber:      aws.Int32(partNumber),
			UploadId:        aws.String(uploadId),
		}
		select {
		case partWalker <- input:
		case <-ctx.Done():
			return
		}
		partNumber++
	}
}

// createWorkerPool runs the part workers and returns the first error. The first failure
// cancels the remaining parts.
func createWorkerPool(ctx context.Context, cancelFn context.CancelFunc, svc MultipartCopyAPI, nrWorkers int,
	partWalker <-chan s3.UploadPartCopyInput, results chan<- s3types.CompletedPart) error {
	defer close(results)

	var copyWg sync.WaitGroup
	var once sync.Once
	var workerErr error
	for w := 1; w <= nrWorkers; w++ {
		copyWg.Add(1)
		go func(workerId int) {
			defer copyWg.Done()
			if err := worker(ctx, svc, workerId, partWalker, results); err != nil {
				once.Do(func() {
					workerErr = err
					cancelFn()
				})
			}
		}(w)
	}

	copyWg.Wait()
	return workerErr
}

// aggregateResult grabs the e-tags from results channel and aggregates in array
func aggregateResult(done chan<- []s3types.CompletedPart, results <-chan s3types.CompletedPart) {
	var parts []s3types.CompletedPart
	for cPart := range results {
		parts = append(parts, cPart)
	}
	done <- parts
}

// worker copies parts until the channel closes or a part fails.
func worker(ctx context.Context, svc MultipartCopyAPI, workerId int,
	partWalker <-chan s3.UploadPartCopyInput, results chan<- s3types.CompletedPart) error {

	for partInput := range partWalker {
		partResp, err := svc.UploadPartCopy(ctx, &partInput)
		if err != nil {
			return fmt.Errorf("part %d: %w", aws.ToInt32(partInput.PartNumber), err)
		}
		if partResp.CopyPartResult == nil {
			return fmt.Errorf("part %d: no copy result", aws.ToInt32(partInput.PartNumber))
		}

		etag := strings.Trim(aws.ToString(partResp.CopyPartResult.ETag), "\"")
		results <- s3types.CompletedPart{
			ETag:       aws.String(etag),
			PartNumber: partInput.PartNumber,
		}

		log.WithFields(log.Fields{
			"worker_id":   workerId,
			"part_number": aws.ToInt32(partInput.PartNumber),
		}).Debug("copied part")
	}
	return nil
}

func abort(svc MultipartCopyAPI, uploadId string, bucket string, key string) {
	log.WithField("upload_id", uploadId).Warn("Attempting to abort upload")
	_, err := svc.AbortMultipartUpload(context.Background(), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadId),
	})
	if err != nil {
		log.WithField("upload_id", uploadId).WithError(err).Error("Error aborting failed upload session.")
	}
}
