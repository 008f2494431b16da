package assetcache

import (
	"context"
	"fmt"
	"io"
)

// Unsupported is the tier used when caching is disabled or the configured
// backend cannot be reached at all. Every operation fails with ErrUnsupported.
type Unsupported struct{}

func (Unsupported) Name() string    { return "none" }
func (Unsupported) Supported() bool { return false }

func (Unsupported) Directory(context.Context, string) (*Directory, error) {
	return nil, ErrUnsupported
}

func (Unsupported) ReadFile(context.Context, *Directory, string) (Blob, error) {
	return nil, ErrUnsupported
}

func (Unsupported) WriteFile(context.Context, *Directory, string, io.Reader) error {
	return ErrUnsupported
}

func (Unsupported) IsModelComplete(context.Context, string, []string) (bool, error) {
	return false, ErrUnsupported
}

func (Unsupported) DeleteDirectory(context.Context, string) error { return ErrUnsupported }

func (Unsupported) List(context.Context) ([]DirInfo, error) { return nil, ErrUnsupported }

// Options selects and configures a tier.
type Options struct {
	// Backend is one of fs, minio, none.
	Backend string
	Dir     string
	Minio   MinioOptions
}

// New returns the tier for opts.Backend.
func New(opts Options) (Tier, error) {
	switch opts.Backend {
	case "", "fs":
		return NewFSTier(opts.Dir), nil
	case "minio":
		return NewMinioTier(opts.Minio)
	case "none":
		return Unsupported{}, nil
	default:
		return nil, fmt.Errorf("assetcache: unknown backend %q", opts.Backend)
	}
}
