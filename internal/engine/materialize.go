package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hochat/internal/common/fsutil"
)

// Materialize makes every file of the manifest available on local disk and
// returns name -> path. Files from a LocalSource are used in place; anything
// else is copied into dir, skipping files an earlier run already copied.
func Materialize(ctx context.Context, dir string, src Source, files []string, onProgress func(string)) (map[string]string, error) {
	if src == nil {
		return nil, fmt.Errorf("engine: no weight source")
	}
	opts := Options{OnProgress: onProgress}
	paths := make(map[string]string, len(files))
	local, isLocal := src.(LocalSource)
	for i, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if isLocal {
			if p := local.LocalPath(name); p != "" {
				paths[name] = p
				opts.progress(fmt.Sprintf("Loading from cache [%d/%d] %s", i+1, len(files), name))
				continue
			}
		}
		dst := filepath.Join(dir, filepath.FromSlash(name))
		if !strings.HasPrefix(dst, filepath.Clean(dir)+string(os.PathSeparator)) {
			return nil, fmt.Errorf("engine: file name %q escapes scratch dir", name)
		}
		if fsutil.PathExists(dst) {
			paths[name] = dst
			continue
		}
		opts.progress(fmt.Sprintf("Fetching param cache [%d/%d] %s", i+1, len(files), name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
			return nil, err
		}
		rc, err := src.Open(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("engine: fetch %s: %w", name, err)
		}
		_, err = fsutil.WriteFileAtomic(dst, rc, 0o600)
		_ = rc.Close()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("engine: store %s: %w", name, err)
		}
		paths[name] = dst
	}
	return paths, nil
}

// weightsFile names the file the runtime opens: the first .gguf in manifest
// order.
func weightsFile(files []string) (string, error) {
	for _, name := range files {
		if strings.EqualFold(filepath.Ext(name), ".gguf") {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: manifest lists no .gguf weights", ErrUnsupportedFormat)
}

// FormatPrompt renders messages as a plain role-prefixed transcript ending
// with an open assistant turn.
func FormatPrompt(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("assistant: ")
	return b.String()
}
