package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/elsa-data/copy-out-service/pkg/copyout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	region string

	mu         sync.Mutex
	sizes      map[string]int64
	copies     []*s3.CopyObjectInput
	partCopies int
	completed  []string
}

func (m *mockS3) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	size, ok := m.sizes[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(size)}, nil
}

func (m *mockS3) CopyObject(_ context.Context, params *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.copies = append(m.copies, params)
	return &s3.CopyObjectOutput{}, nil
}

func (m *mockS3) CreateMultipartUpload(_ context.Context, _ *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload")}, nil
}

func (m *mockS3) UploadPartCopy(_ context.Context, params *s3.UploadPartCopyInput, _ ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partCopies++
	return &s3.UploadPartCopyOutput{
		CopyPartResult: &s3types.CopyPartResult{ETag: aws.String(fmt.Sprintf("etag-%d", aws.ToInt32(params.PartNumber)))},
	}, nil
}

func (m *mockS3) CompleteMultipartUpload(_ context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, aws.ToString(params.Key))
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (m *mockS3) AbortMultipartUpload(_ context.Context, _ *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func newTestStore(client *mockS3) *CopyWorkerStore {
	return NewCopyWorkerStore(NewRegionalClientCache(makeStaticClientLoader(client)), time.Minute, 2)
}

func TestCopyWorkerStore(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, client *mockS3){
		"small objects use copy object": testCopySmallObjects,
		"large objects use multipart":   testCopyLargeObject,
		"missing sources are counted":   testCopyMissingSource,
		"sources use their own region":  testCopyRegionalClients,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, &mockS3{sizes: map[string]int64{}})
		})
	}
}

func testCopySmallObjects(t *testing.T, client *mockS3) {
	client.sizes["src/a.bam"] = 10
	client.sizes["src/dir/b c.vcf"] = 20
	items := []copyout.CopyItem{{Bucket: "src", Key: "a.bam"}, {Bucket: "src", Key: "dir/b c.vcf"}}

	failed := newTestStore(client).CopyAll(context.Background(), items, copyout.Location{Bucket: "dest", Key: "cohort"}, 2)
	assert.Equal(t, 0, failed)

	require.Len(t, client.copies, 2)
	keys := map[string]string{}
	for _, c := range client.copies {
		assert.Equal(t, "dest", aws.ToString(c.Bucket))
		keys[aws.ToString(c.Key)] = aws.ToString(c.CopySource)
	}
	assert.Equal(t, map[string]string{
		"cohort/a.bam":       "src/a.bam",
		"cohort/dir/b c.vcf": "src/dir/b%20c.vcf",
	}, keys)
}

func testCopyLargeObject(t *testing.T, client *mockS3) {
	client.sizes["src/big.bam"] = maxSimpleCopySize + 1

	failed := newTestStore(client).CopyAll(context.Background(),
		[]copyout.CopyItem{{Bucket: "src", Key: "big.bam"}}, copyout.Location{Bucket: "dest"}, 1)
	assert.Equal(t, 0, failed)

	assert.Empty(t, client.copies)
	assert.Equal(t, []string{"big.bam"}, client.completed)
	assert.Greater(t, client.partCopies, 1)
}

func testCopyMissingSource(t *testing.T, client *mockS3) {
	client.sizes["src/a.bam"] = 10
	items := []copyout.CopyItem{{Bucket: "src", Key: "a.bam"}, {Bucket: "src", Key: "gone.bam"}}

	failed := newTestStore(client).CopyAll(context.Background(), items, copyout.Location{Bucket: "dest"}, 4)

	assert.Equal(t, 1, failed)
	assert.Len(t, client.copies, 1)
}

func testCopyRegionalClients(t *testing.T, client *mockS3) {
	source := &mockS3{sizes: map[string]int64{"src/a.bam": 10}}
	store := NewCopyWorkerStore(NewRegionalClientCache(func(_ context.Context, bucket string) (S3API, error) {
		switch bucket {
		case "src":
			return source, nil
		case "dest":
			return client, nil
		}
		return nil, errors.New("unknown bucket")
	}), time.Minute, 1)

	failed := store.CopyAll(context.Background(), []copyout.CopyItem{{Bucket: "src", Key: "a.bam"}}, copyout.Location{Bucket: "dest"}, 1)

	assert.Equal(t, 0, failed)
	assert.Empty(t, source.copies)
	assert.Len(t, client.copies, 1)
}

func TestSettings(t *testing.T) {
	t.Setenv("COPY_TIMEOUT", "15")
	t.Setenv("transfers", "16")
	t.Setenv("PART_WORKERS", "nope")

	assert.Equal(t, 15*time.Minute, CopyTimeout())
	assert.Equal(t, 16, Transfers())
	assert.Equal(t, 10, PartWorkers())
}
