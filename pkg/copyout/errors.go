package copyout

import (
	"errors"
	"fmt"
)

// ErrManifestNotFound is returned when the manifest object does not exist in object storage.
var ErrManifestNotFound = errors.New("manifest object not found")

// ConfigurationError reports an invalid or missing invocation field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid copy-out request: %s", e.Reason)
	}
	return fmt.Sprintf("invalid copy-out request: %s %s", e.Field, e.Reason)
}

// ManifestFormatError reports a manifest row that cannot be decoded into a (bucket, key) pair.
type ManifestFormatError struct {
	Line   int
	Reason string
}

func (e *ManifestFormatError) Error() string {
	return fmt.Sprintf("manifest line %d: %s", e.Line, e.Reason)
}

// IsFatal reports whether err belongs to the class of errors that abort a run before dispatch.
func IsFatal(err error) bool {
	var cfgErr *ConfigurationError
	var fmtErr *ManifestFormatError
	return errors.As(err, &cfgErr) || errors.As(err, &fmtErr) || errors.Is(err, ErrManifestNotFound)
}
