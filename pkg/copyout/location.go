package copyout

import (
	"fmt"
	"strings"
)

// ParseSource parses a job argument of the form s3:bucket/key.
func ParseSource(s string) (CopyItem, error) {
	loc, err := parseRemote(s)
	if err != nil {
		return CopyItem{}, err
	}
	if loc.Key == "" {
		return CopyItem{}, fmt.Errorf("source %q has no key", s)
	}
	return CopyItem{Bucket: loc.Bucket, Key: loc.Key}, nil
}

// ParseDestination parses the destination of a job, s3:bucket[/prefix]. The prefix is returned
// as the Key of the location without surrounding slashes.
func ParseDestination(s string) (Location, error) {
	loc, err := parseRemote(s)
	if err != nil {
		return Location{}, err
	}
	loc.Key = strings.Trim(loc.Key, "/")
	return loc, nil
}

// ObjectKey returns the destination key of key under the prefix of l.
func (l Location) ObjectKey(key string) string {
	if l.Key == "" {
		return key
	}
	return l.Key + "/" + key
}

func parseRemote(s string) (Location, error) {
	rest, ok := strings.CutPrefix(s, ProtocolPrefix+":")
	if !ok {
		return Location{}, fmt.Errorf("%q does not start with %s:", s, ProtocolPrefix)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("%q has no bucket", s)
	}
	return Location{Bucket: bucket, Key: key}, nil
}
