package loader

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"hochat/internal/assetcache"
)

// cacheSource serves weight files straight from the asset cache tier.
type cacheSource struct {
	tier assetcache.Tier
	dir  *assetcache.Directory
}

func (c *cacheSource) Kind() string { return "cache" }

func (c *cacheSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	b, err := c.tier.ReadFile(ctx, c.dir, name)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("cached %s: %w", name, fs.ErrNotExist)
	}
	return b.Open(ctx)
}

// LocalPath lets a runtime open files in place when the tier is on disk.
func (c *cacheSource) LocalPath(name string) string {
	root := c.dir.LocalPath()
	if root == "" {
		return ""
	}
	return filepath.Join(root, filepath.FromSlash(name))
}
