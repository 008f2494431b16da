package assetcache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTier(t *testing.T) *FSTier {
	t.Helper()
	return NewFSTier(filepath.Join(t.TempDir(), "models"))
}

func mustDir(t *testing.T, tier Tier, id string) *Directory {
	t.Helper()
	d, err := tier.Directory(context.Background(), id)
	if err != nil {
		t.Fatalf("Directory(%q): %v", id, err)
	}
	return d
}

func readAll(t *testing.T, b Blob) string {
	t.Helper()
	rc, err := b.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func TestFSTier_WriteThenRead(t *testing.T) {
	ctx := context.Background()
	tier := newTier(t)
	if !tier.Supported() {
		t.Fatalf("expected tier to be supported")
	}
	d := mustDir(t, tier, "m1")
	if err := tier.WriteFile(ctx, d, "params_shard_0.bin", strings.NewReader("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := tier.ReadFile(ctx, d, "params_shard_0.bin")
	if err != nil || b == nil {
		t.Fatalf("read: blob=%v err=%v", b, err)
	}
	if b.Size() != 3 || readAll(t, b) != "abc" {
		t.Fatalf("unexpected blob size=%d", b.Size())
	}

	// overwrite replaces content
	if err := tier.WriteFile(ctx, d, "params_shard_0.bin", strings.NewReader("xy")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	b, _ = tier.ReadFile(ctx, d, "params_shard_0.bin")
	if got := readAll(t, b); got != "xy" {
		t.Fatalf("got %q after overwrite", got)
	}

	info, err := os.Stat(filepath.Join(d.LocalPath(), "params_shard_0.bin"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("perm = %v", info.Mode().Perm())
	}
}

func TestFSTier_ReadMissingIsNil(t *testing.T) {
	tier := newTier(t)
	d := mustDir(t, tier, "m1")
	b, err := tier.ReadFile(context.Background(), d, "nope.bin")
	if err != nil || b != nil {
		t.Fatalf("expected nil blob, got %v err=%v", b, err)
	}
}

func TestFSTier_NestedNames(t *testing.T) {
	ctx := context.Background()
	tier := newTier(t)
	d := mustDir(t, tier, "m1")
	if err := tier.WriteFile(ctx, d, "tokenizer/vocab.json", strings.NewReader("{}")); err != nil {
		t.Fatalf("write nested: %v", err)
	}
	ok, err := tier.IsModelComplete(ctx, "m1", []string{"tokenizer/vocab.json"})
	if err != nil || !ok {
		t.Fatalf("expected complete, ok=%v err=%v", ok, err)
	}
}

func TestFSTier_RejectsEscapingNames(t *testing.T) {
	ctx := context.Background()
	tier := newTier(t)
	for _, id := range []string{"", ".", "..", "a/b", `a\b`} {
		if _, err := tier.Directory(ctx, id); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("Directory(%q) err = %v", id, err)
		}
	}
	d := mustDir(t, tier, "m1")
	for _, name := range []string{"", "../x", "/etc/passwd", "a/../../x", ".."} {
		if err := tier.WriteFile(ctx, d, name, strings.NewReader("x")); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("WriteFile(%q) err = %v", name, err)
		}
	}
}

func TestFSTier_IsModelComplete(t *testing.T) {
	ctx := context.Background()
	tier := newTier(t)
	files := []string{"a.bin", "b.bin", "c.bin"}

	ok, err := tier.IsModelComplete(ctx, "m1", files)
	if err != nil || ok {
		t.Fatalf("empty tier: ok=%v err=%v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(tier.root, "m1")); !os.IsNotExist(err) {
		t.Fatalf("completeness check must not create the directory")
	}

	d := mustDir(t, tier, "m1")
	for _, f := range files[:2] {
		if err := tier.WriteFile(ctx, d, f, strings.NewReader(f)); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}
	if ok, _ := tier.IsModelComplete(ctx, "m1", files); ok {
		t.Fatalf("expected incomplete with one file missing")
	}
	if err := tier.WriteFile(ctx, d, "c.bin", strings.NewReader("c")); err != nil {
		t.Fatalf("write c: %v", err)
	}
	if ok, _ := tier.IsModelComplete(ctx, "m1", files); !ok {
		t.Fatalf("expected complete")
	}
	// an empty manifest is trivially complete
	if ok, _ := tier.IsModelComplete(ctx, "m1", nil); !ok {
		t.Fatalf("expected empty file list to be complete")
	}
}

func TestFSTier_DeleteDirectory(t *testing.T) {
	ctx := context.Background()
	tier := newTier(t)
	d := mustDir(t, tier, "m1")
	if err := tier.WriteFile(ctx, d, "a.bin", strings.NewReader("a")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tier.DeleteDirectory(ctx, "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := tier.IsModelComplete(ctx, "m1", []string{"a.bin"}); ok {
		t.Fatalf("expected incomplete after delete")
	}
	// deleting again is fine
	if err := tier.DeleteDirectory(ctx, "m1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

type brokenReader struct{ n int }

func (b *brokenReader) Read(p []byte) (int, error) {
	if b.n == 0 {
		return 0, errors.New("connection reset")
	}
	k := copy(p, bytes.Repeat([]byte("x"), b.n))
	b.n -= k
	return k, nil
}

func TestFSTier_FailedWriteLeavesNoBlob(t *testing.T) {
	ctx := context.Background()
	tier := newTier(t)
	d := mustDir(t, tier, "m1")
	if err := tier.WriteFile(ctx, d, "a.bin", &brokenReader{n: 10}); err == nil {
		t.Fatalf("expected error")
	}
	b, err := tier.ReadFile(ctx, d, "a.bin")
	if err != nil || b != nil {
		t.Fatalf("expected no blob after failed write, got %v err=%v", b, err)
	}
	list, err := tier.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Files != 0 {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestFSTier_CanceledWrite(t *testing.T) {
	tier := newTier(t)
	d := mustDir(t, tier, "m1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tier.WriteFile(ctx, d, "a.bin", strings.NewReader("a")); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestFSTier_List(t *testing.T) {
	ctx := context.Background()
	tier := newTier(t)
	if list, err := tier.List(ctx); err != nil || len(list) != 0 {
		t.Fatalf("empty list: %v %v", list, err)
	}
	for _, id := range []string{"b", "a"} {
		d := mustDir(t, tier, id)
		if err := tier.WriteFile(ctx, d, "w.bin", strings.NewReader("1234")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	list, err := tier.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ModelID != "a" || list[1].Bytes != 4 || list[1].Files != 1 {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestFSTier_Supported(t *testing.T) {
	if NewFSTier("").Supported() {
		t.Fatalf("empty root must be unsupported")
	}
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if NewFSTier(filepath.Join(file, "models")).Supported() {
		t.Fatalf("root below a regular file must be unsupported")
	}
	if !NewFSTier(filepath.Join(dir, "a", "b", "c")).Supported() {
		t.Fatalf("missing nested root under a directory should be supported")
	}
}

func TestUnsupportedTier(t *testing.T) {
	var tier Tier = Unsupported{}
	if tier.Supported() {
		t.Fatalf("unsupported tier reports support")
	}
	if _, err := tier.Directory(context.Background(), "m"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	tier, err := New(Options{Backend: "fs", Dir: t.TempDir()})
	if err != nil || tier.Name() != "fs" {
		t.Fatalf("fs: %v %v", tier, err)
	}
	tier, err = New(Options{Backend: "minio", Minio: MinioOptions{Endpoint: "127.0.0.1:9000", Bucket: "models"}})
	if err != nil || tier.Name() != "minio" || !tier.Supported() {
		t.Fatalf("minio: %v %v", tier, err)
	}
	if _, err := New(Options{Backend: "minio"}); err == nil {
		t.Fatalf("expected error for minio without endpoint")
	}
	if _, err := New(Options{Backend: "floppy"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestMinioTier_ObjectKeys(t *testing.T) {
	tier, err := NewMinioTier(MinioOptions{Endpoint: "127.0.0.1:9000", Bucket: "models"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	d := &Directory{ModelID: "m1", loc: "m1/"}
	key, err := tier.objectKey(d, "sub/./w.bin")
	if err != nil || key != "m1/sub/w.bin" {
		t.Fatalf("key=%q err=%v", key, err)
	}
	if _, err := tier.objectKey(d, "../x"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("err = %v", err)
	}
	if _, err := tier.objectKey(&Directory{ModelID: "m1", loc: "/tmp/m1", local: true}, "w.bin"); err == nil {
		t.Fatalf("expected foreign handle to be rejected")
	}
}
