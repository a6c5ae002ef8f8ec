package copyout

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

// byteOrderMark is written at the start of CSV files by some spreadsheet tools.
const byteOrderMark = "\ufeff"

// Location identifies an object in object storage.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return fmt.Sprintf("%s/%s", l.Bucket, l.Key)
}

// CopyItem is one (bucket, key) pair from the manifest.
type CopyItem struct {
	Bucket string
	Key    string
}

// Source renders the item in copy-engine syntax. This is not an s3:// URL.
func (i CopyItem) Source() string {
	return fmt.Sprintf("%s:%s/%s", ProtocolPrefix, i.Bucket, i.Key)
}

// ObjectGetter opens objects in object storage. Implementations return an error wrapping
// ErrManifestNotFound when the object does not exist.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket string, key string) (io.ReadCloser, error)
}

// ManifestReader reads CSV manifests of (bucket, key) rows.
type ManifestReader struct {
	store ObjectGetter
}

// NewManifestReader returns a ManifestReader backed by store.
func NewManifestReader(store ObjectGetter) *ManifestReader {
	return &ManifestReader{store: store}
}

// Read returns all items of the manifest at loc in manifest order. Either the whole manifest
// parses or an error is returned; there is no partial result. Every call re-reads the object.
func (r *ManifestReader) Read(ctx context.Context, loc Location) ([]CopyItem, error) {
	body, err := r.store.GetObject(ctx, loc.Bucket, loc.Key)
	if err != nil {
		return nil, fmt.Errorf("error reading manifest %s: %w", loc, err)
	}
	defer body.Close()

	var items []CopyItem
	scanner := NewManifestScanner(body)
	for scanner.Next() {
		items = append(items, scanner.Item())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error parsing manifest %s: %w", loc, err)
	}

	log.WithFields(log.Fields{
		"manifest":   loc.String(),
		"item_count": len(items),
	}).Debug("read manifest")

	return items, nil
}

// ManifestScanner decodes manifest rows one at a time.
type ManifestScanner struct {
	r       *csv.Reader
	records int
	item    CopyItem
	err     error
}

// NewManifestScanner returns a scanner reading CSV rows from r.
func NewManifestScanner(r io.Reader) *ManifestScanner {
	cr := csv.NewReader(r)
	// column count is checked per row so the error carries our own type
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return &ManifestScanner{r: cr}
}

// Next advances to the next item. It returns false at the end of input or on the first error.
func (s *ManifestScanner) Next() bool {
	if s.err != nil {
		return false
	}
	for {
		record, err := s.r.Read()
		if errors.Is(err, io.EOF) {
			return false
		}
		if err != nil {
			line := s.records + 1
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
			s.err = &ManifestFormatError{Line: line, Reason: err.Error()}
			return false
		}
		s.records++
		line, _ := s.r.FieldPos(0)
		if len(record) != 2 {
			s.err = &ManifestFormatError{
				Line:   line,
				Reason: fmt.Sprintf("expected 2 columns (bucket, key) but found %d", len(record)),
			}
			return false
		}

		if s.records == 1 {
			record[0] = strings.TrimPrefix(record[0], byteOrderMark)
			first, second := strings.ToLower(strings.TrimSpace(record[0])), strings.ToLower(strings.TrimSpace(record[1]))
			if first == "bucket" && second == "key" {
				continue
			}
			if first == "key" && second == "bucket" {
				s.err = &ManifestFormatError{Line: line, Reason: "header must declare columns in the order bucket,key"}
				return false
			}
		}

		bucket, key := strings.TrimSpace(record[0]), record[1]
		if bucket == "" || key == "" {
			s.err = &ManifestFormatError{Line: line, Reason: "bucket and key must not be empty"}
			return false
		}
		s.item = CopyItem{Bucket: bucket, Key: key}
		return true
	}
}

// Item returns the item decoded by the last successful call to Next.
func (s *ManifestScanner) Item() CopyItem {
	return s.item
}

// Err returns the first error encountered, if any.
func (s *ManifestScanner) Err() error {
	return s.err
}
