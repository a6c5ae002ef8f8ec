// Package report writes the per-batch outcome of a run as CSV to S3.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/elsa-data/copy-out-service/pkg/copyout"
	log "github.com/sirupsen/logrus"
)

// Headers is the header row of a run report.
var Headers = []string{"batch", "job_id", "attempts", "status", "reason", "sources"}

// Write writes one row per batch, ordered by batch index. Sources are space separated.
func Write(w io.Writer, result *copyout.RunResult) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Headers); err != nil {
		return err
	}

	indexes := make([]int, 0, len(result.Outcomes))
	for i := range result.Outcomes {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	for _, i := range indexes {
		o := result.Outcomes[i]
		row := []string{
			strconv.Itoa(o.Batch),
			o.JobID,
			strconv.Itoa(o.Attempts),
			string(o.Status),
			o.Reason,
			strings.Join(o.Sources, " "),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Key returns the object key of the report for a run.
func Key(runID string) string {
	return fmt.Sprintf("copy-out/%s/report.csv", runID)
}

// Writer uploads run reports to a bucket.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

// NewWriter returns a Writer uploading to bucket through client.
func NewWriter(client manager.UploadAPIClient, bucket string) *Writer {
	return &Writer{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
	}
}

// Upload writes the report of result and returns its s3:// location.
func (w *Writer) Upload(ctx context.Context, result *copyout.RunResult) (string, error) {
	var buf bytes.Buffer
	if err := Write(&buf, result); err != nil {
		return "", fmt.Errorf("error writing report: %w", err)
	}

	key := Key(result.RunID)
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        &buf,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("error uploading report: %w", err)
	}

	location := fmt.Sprintf("s3://%s/%s", w.bucket, key)
	log.WithFields(log.Fields{
		"run_id":   result.RunID,
		"location": location,
	}).Info("run report uploaded")
	return location, nil
}
