package copyout

import (
	"fmt"
	"sort"
	"strings"

	"github.com/valyala/fastjson"
)

// Wire-level keys of an invocation request.
const (
	KeySourceFilesCsvBucket       = "sourceFilesCsvBucket"
	KeySourceFilesCsvKey          = "sourceFilesCsvKey"
	KeyDestinationBucket          = "destinationBucket"
	KeyDestinationPrefix          = "destinationPrefix"
	KeyMaxItemsPerBatch           = "maxItemsPerBatch"
	KeyToleratedFailurePercentage = "toleratedFailurePercentage"
	KeyMaxConcurrency             = "maxConcurrency"
)

// Built-in defaults applied during the Defaulting state.
const (
	DefaultMaxItemsPerBatch           = 1
	DefaultToleratedFailurePercentage = 0
	DefaultMaxConcurrency             = 100
)

// ProtocolPrefix is the remote name the copy engine expects in front of every location.
const ProtocolPrefix = "s3"

var knownKeys = map[string]struct{}{
	KeySourceFilesCsvBucket:       {},
	KeySourceFilesCsvKey:          {},
	KeyDestinationBucket:          {},
	KeyDestinationPrefix:          {},
	KeyMaxItemsPerBatch:           {},
	KeyToleratedFailurePercentage: {},
	KeyMaxConcurrency:             {},
}

// Request is one copy-out invocation after defaults have been merged in and validated.
type Request struct {
	SourceFilesCsvBucket       string
	SourceFilesCsvKey          string
	DestinationBucket          string
	DestinationPrefix          string
	MaxItemsPerBatch           int
	ToleratedFailurePercentage float64
	MaxConcurrency             int

	// Extra holds copy-tool specific parameters that are handed opaquely to every batch.
	Extra map[string]string

	raw []byte
}

// ManifestLocation returns the object-storage location of the source manifest.
func (r *Request) ManifestLocation() Location {
	return Location{Bucket: r.SourceFilesCsvBucket, Key: r.SourceFilesCsvKey}
}

// Destination renders the destination in copy-engine syntax: s3:bucket[/prefix].
func (r *Request) Destination() string {
	dest := fmt.Sprintf("%s:%s", ProtocolPrefix, r.DestinationBucket)
	if prefix := strings.Trim(r.DestinationPrefix, "/"); prefix != "" {
		dest = dest + "/" + prefix
	}
	return dest
}

// JSON returns the merged request document (caller values over defaults).
func (r *Request) JSON() []byte {
	return r.raw
}

// ApplyDefaults merges the caller's request document over the built-in defaults.
// The merge is shallow and keyed by field name: a key the caller supplied is kept as-is,
// even when its value is empty, zero or null.
func ApplyDefaults(raw []byte) ([]byte, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(raw)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("request is not valid JSON: %v", err)}
	}
	obj, err := v.Object()
	if err != nil {
		return nil, &ConfigurationError{Reason: "request must be a JSON object"}
	}

	var a fastjson.Arena
	defaults := []struct {
		key   string
		value *fastjson.Value
	}{
		{KeyMaxItemsPerBatch, a.NewNumberInt(DefaultMaxItemsPerBatch)},
		{KeyToleratedFailurePercentage, a.NewNumberInt(DefaultToleratedFailurePercentage)},
		{KeyMaxConcurrency, a.NewNumberInt(DefaultMaxConcurrency)},
	}
	for _, d := range defaults {
		if obj.Get(d.key) == nil {
			obj.Set(d.key, d.value)
		}
	}

	return v.MarshalTo(nil), nil
}

// ParseRequest applies defaults to the raw invocation document and validates the result.
// Any problem is reported as a *ConfigurationError before anything is read or dispatched.
func ParseRequest(raw []byte) (*Request, error) {
	merged, err := ApplyDefaults(raw)
	if err != nil {
		return nil, err
	}

	var p fastjson.Parser
	v, err := p.ParseBytes(merged)
	if err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}

	req := &Request{raw: merged, Extra: map[string]string{}}

	if req.SourceFilesCsvBucket, err = requiredString(v, KeySourceFilesCsvBucket); err != nil {
		return nil, err
	}
	if req.SourceFilesCsvKey, err = requiredString(v, KeySourceFilesCsvKey); err != nil {
		return nil, err
	}
	if req.DestinationBucket, err = requiredString(v, KeyDestinationBucket); err != nil {
		return nil, err
	}
	if pv := v.Get(KeyDestinationPrefix); pv != nil {
		b, err := pv.StringBytes()
		if err != nil {
			return nil, &ConfigurationError{Field: KeyDestinationPrefix, Reason: "must be a string"}
		}
		req.DestinationPrefix = string(b)
	}

	if req.MaxItemsPerBatch, err = positiveInt(v, KeyMaxItemsPerBatch); err != nil {
		return nil, err
	}
	if req.MaxConcurrency, err = positiveInt(v, KeyMaxConcurrency); err != nil {
		return nil, err
	}

	pct, err := v.Get(KeyToleratedFailurePercentage).Float64()
	if err != nil {
		return nil, &ConfigurationError{Field: KeyToleratedFailurePercentage, Reason: "must be a number"}
	}
	if pct < 0 || pct > 100 {
		return nil, &ConfigurationError{Field: KeyToleratedFailurePercentage, Reason: "must be between 0 and 100"}
	}
	req.ToleratedFailurePercentage = pct

	obj, _ := v.Object()
	obj.Visit(func(key []byte, ev *fastjson.Value) {
		if _, known := knownKeys[string(key)]; known {
			return
		}
		if ev.Type() == fastjson.TypeString {
			req.Extra[string(key)] = string(ev.GetStringBytes())
		} else {
			req.Extra[string(key)] = ev.String()
		}
	})

	return req, nil
}

// ExtraKeys returns the pass-through parameter names in a stable order.
func (r *Request) ExtraKeys() []string {
	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func requiredString(v *fastjson.Value, key string) (string, error) {
	fv := v.Get(key)
	if fv == nil {
		return "", &ConfigurationError{Field: key, Reason: "is required"}
	}
	b, err := fv.StringBytes()
	if err != nil {
		return "", &ConfigurationError{Field: key, Reason: "must be a string"}
	}
	if strings.TrimSpace(string(b)) == "" {
		return "", &ConfigurationError{Field: key, Reason: "must not be empty"}
	}
	return string(b), nil
}

func positiveInt(v *fastjson.Value, key string) (int, error) {
	n, err := v.Get(key).Int()
	if err != nil {
		return 0, &ConfigurationError{Field: key, Reason: "must be an integer"}
	}
	if n < 1 {
		return 0, &ConfigurationError{Field: key, Reason: "must be at least 1"}
	}
	return n, nil
}
