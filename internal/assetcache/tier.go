// Package assetcache stores model weight files in a persistent private tier
// so a model can be loaded again without touching the network.
//
// A Tier namespaces blobs by model id. Presence of every manifest file is the
// only completeness signal; byte contents are trusted once written.
package assetcache

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var (
	// ErrStorageUnavailable reports that the backing store refused access,
	// for example a revoked permission, a read-only mount or a missing bucket.
	ErrStorageUnavailable = errors.New("assetcache: storage unavailable")
	// ErrUnsupported is returned by every operation of a tier whose
	// Supported() is false.
	ErrUnsupported = errors.New("assetcache: tier not supported")
	// ErrInvalidName rejects model ids and file names that would escape
	// their namespace.
	ErrInvalidName = errors.New("assetcache: invalid name")
)

// Tier is a persistent, namespaced blob store for model files.
type Tier interface {
	// Name identifies the backend ("fs", "minio", "none").
	Name() string
	// Supported is a pure capability check. A false result is terminal for
	// the tier and not an error.
	Supported() bool
	// Directory obtains or creates the container for modelID.
	Directory(ctx context.Context, modelID string) (*Directory, error)
	// ReadFile returns the stored blob, or nil when it was never written or
	// has been deleted.
	ReadFile(ctx context.Context, dir *Directory, name string) (Blob, error)
	// WriteFile durably stores r under name, replacing prior content. A
	// failed write leaves no partial blob behind.
	WriteFile(ctx context.Context, dir *Directory, name string, r io.Reader) error
	// IsModelComplete reports whether every name in files is present.
	IsModelComplete(ctx context.Context, modelID string, files []string) (bool, error)
	// DeleteDirectory removes the container and everything in it.
	DeleteDirectory(ctx context.Context, modelID string) error
	// List describes every container in the tier.
	List(ctx context.Context) ([]DirInfo, error)
}

// Directory is a handle to one model's container.
type Directory struct {
	ModelID string
	// loc is the backend-specific location: a filesystem path or an object
	// key prefix.
	loc   string
	local bool
}

// LocalPath returns the on-disk path of the container, or "" when the
// backend is not a local filesystem.
func (d *Directory) LocalPath() string {
	if d == nil || !d.local {
		return ""
	}
	return d.loc
}

// Blob is a stored file.
type Blob interface {
	Name() string
	Size() int64
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Sized is implemented by readers that know their total length, such as an
// HTTP body with a Content-Length.
type Sized interface {
	Size() int64
}

// readerSize returns the length r will yield, or -1 when unknown.
func readerSize(r io.Reader) int64 {
	switch v := r.(type) {
	case Sized:
		return v.Size()
	case interface{ Len() int }:
		return int64(v.Len())
	}
	return -1
}

// DirInfo summarises one container.
type DirInfo struct {
	ModelID string
	Files   int
	Bytes   int64
}

// checkModelID accepts a single path segment.
func checkModelID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/\\\x00") {
		return ErrInvalidName
	}
	return nil
}

// cleanFileName normalises a manifest-relative file name. Nested names are
// allowed; absolute names and parent references are not.
func cleanFileName(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "\\\x00") || strings.HasPrefix(name, "/") {
		return "", ErrInvalidName
	}
	c := path.Clean(name)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", ErrInvalidName
	}
	return c, nil
}
