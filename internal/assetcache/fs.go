package assetcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"hochat/internal/common/fsutil"
)

// FSTier keeps each model in its own directory under a private root.
type FSTier struct {
	root string
}

// NewFSTier returns a tier rooted at root. Nothing is created until the first
// Directory call.
func NewFSTier(root string) *FSTier {
	return &FSTier{root: root}
}

func (t *FSTier) Name() string { return "fs" }

// Supported reports whether root is, or can become, a directory: the nearest
// existing ancestor must be a directory.
func (t *FSTier) Supported() bool {
	if t == nil || t.root == "" {
		return false
	}
	p := filepath.Clean(t.root)
	for {
		info, err := os.Stat(p)
		if err == nil {
			return info.IsDir()
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return false
		}
		parent := filepath.Dir(p)
		if parent == p {
			return false
		}
		p = parent
	}
}

func (t *FSTier) dirPath(modelID string) (string, error) {
	if !t.Supported() {
		return "", ErrUnsupported
	}
	if err := checkModelID(modelID); err != nil {
		return "", err
	}
	return filepath.Join(t.root, modelID), nil
}

// Directory creates <root>/<modelID> if needed.
func (t *FSTier) Directory(ctx context.Context, modelID string) (*Directory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := t.dirPath(modelID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p, 0o700); err != nil {
		return nil, storageErr("create directory", err)
	}
	return &Directory{ModelID: modelID, loc: p, local: true}, nil
}

// ReadFile stats the file; a missing file is reported as a nil blob.
func (t *FSTier) ReadFile(ctx context.Context, dir *Directory, name string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := t.filePath(dir, name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, storageErr("stat file", err)
	}
	if !info.Mode().IsRegular() {
		return nil, nil
	}
	return fsBlob{name: name, path: p, size: info.Size()}, nil
}

// WriteFile writes through a temp file and renames it into place.
func (t *FSTier) WriteFile(ctx context.Context, dir *Directory, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := t.filePath(dir, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return storageErr("create directory", err)
	}
	if _, err := fsutil.WriteFileAtomic(p, ctxReader{ctx: ctx, r: r}, 0o600); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return storageErr("write "+name, err)
	}
	return nil
}

// IsModelComplete checks files in order and stops at the first miss. The
// directory is not created when it does not exist.
func (t *FSTier) IsModelComplete(ctx context.Context, modelID string, files []string) (bool, error) {
	p, err := t.dirPath(modelID)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storageErr("stat directory", err)
	}
	if !info.IsDir() {
		return false, nil
	}
	dir := &Directory{ModelID: modelID, loc: p, local: true}
	for _, name := range files {
		b, err := t.ReadFile(ctx, dir, name)
		if err != nil {
			return false, err
		}
		if b == nil {
			return false, nil
		}
	}
	return true, nil
}

// DeleteDirectory removes the model directory; absent is not an error.
func (t *FSTier) DeleteDirectory(ctx context.Context, modelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := t.dirPath(modelID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return storageErr("remove directory", err)
	}
	return nil
}

// List reports every model directory with its file count and size.
func (t *FSTier) List(ctx context.Context) ([]DirInfo, error) {
	if !t.Supported() {
		return nil, ErrUnsupported
	}
	entries, err := os.ReadDir(t.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, storageErr("read root", err)
	}
	var out []DirInfo
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		files, size, err := fsutil.DirUsage(filepath.Join(t.root, e.Name()))
		if err != nil {
			return nil, storageErr("walk "+e.Name(), err)
		}
		out = append(out, DirInfo{ModelID: e.Name(), Files: files, Bytes: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out, nil
}

func (t *FSTier) filePath(dir *Directory, name string) (string, error) {
	if dir == nil || !dir.local {
		return "", fmt.Errorf("assetcache: directory handle does not belong to fs tier")
	}
	c, err := cleanFileName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir.loc, filepath.FromSlash(c)), nil
}

// storageErr maps permission and read-only failures to ErrStorageUnavailable.
func storageErr(op string, err error) error {
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EROFS) {
		return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
	}
	return fmt.Errorf("assetcache: %s: %w", op, err)
}

type fsBlob struct {
	name string
	path string
	size int64
}

func (b fsBlob) Name() string { return b.name }
func (b fsBlob) Size() int64  { return b.size }
func (b fsBlob) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(b.path)
}

// ctxReader stops a long copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
