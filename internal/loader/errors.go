package loader

import (
	"errors"
	"fmt"
	"strings"

	"hochat/internal/engine"
)

// ErrLoadCanceled is returned when the caller's context ends mid-load.
var ErrLoadCanceled = errors.New("model loading canceled")

// ManifestFetchError aborts a load: without a manifest nothing is known about
// which files to expect, so the cache tier is not touched.
type ManifestFetchError struct {
	ModelID string
	URL     string
	// Status is the HTTP status, 0 for transport failures.
	Status int
	Err    error
}

func (e *ManifestFetchError) Error() string {
	return fmt.Sprintf("manifest fetch for %s failed: %v", e.ModelID, e.Err)
}

func (e *ManifestFetchError) Unwrap() error { return e.Err }

// IsManifestFetchError reports whether err carries a *ManifestFetchError.
func IsManifestFetchError(err error) bool {
	var m *ManifestFetchError
	return errors.As(err, &m)
}

// LoadKind distinguishes engine construction failures.
type LoadKind int

const (
	LoadFailed LoadKind = iota
	// CacheMismatch means cached bytes were rejected by the runtime.
	CacheMismatch
)

func (k LoadKind) String() string {
	if k == CacheMismatch {
		return "cache_mismatch"
	}
	return "load_failed"
}

// CacheMismatchHint is attached to CacheMismatch errors.
const CacheMismatchHint = "clear the model cache and reload"

// LoadError wraps an engine construction failure.
type LoadError struct {
	ModelID string
	Kind    LoadKind
	Hint    string
	Err     error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("load %s: %v", e.ModelID, e.Err)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsCacheMismatch reports whether err is a LoadError of kind CacheMismatch.
func IsCacheMismatch(err error) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Kind == CacheMismatch
}

// mismatchPatterns are runtime messages known to mean "the cached weights do
// not fit". Consulted only when the runtime did not return ErrCacheMismatch.
var mismatchPatterns = []string{
	"cache mismatch",
	"size mismatch",
	"invalid magic",
	"unexpected end of file",
	"tensor data is not within the file bounds",
}

func classify(modelID string, err error) *LoadError {
	le := &LoadError{ModelID: modelID, Kind: LoadFailed, Err: err}
	mismatch := errors.Is(err, engine.ErrCacheMismatch)
	if !mismatch {
		msg := strings.ToLower(err.Error())
		for _, p := range mismatchPatterns {
			if strings.Contains(msg, p) {
				mismatch = true
				break
			}
		}
	}
	if mismatch {
		le.Kind = CacheMismatch
		le.Hint = CacheMismatchHint
	}
	return le
}
