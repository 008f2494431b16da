package assetcache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
)

// memObjects is an in-memory bucket store behind the objectAPI surface.
type memObjects struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
	denied  bool

	putSizes []int64
	putParts []uint64
}

func newMemObjects() *memObjects {
	return &memObjects{buckets: map[string]map[string][]byte{}}
}

func (m *memObjects) BucketExists(_ context.Context, bucket string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied {
		return false, minio.ErrorResponse{Code: "AccessDenied", Message: "Access Denied."}
	}
	_, ok := m.buckets[bucket]
	return ok, nil
}

func (m *memObjects) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucket] = map[string][]byte{}
	return nil
}

func (m *memObjects) object(bucket, key string) ([]byte, error) {
	objs, ok := m.buckets[bucket]
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchBucket", BucketName: bucket}
	}
	data, ok := objs[key]
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchKey", Key: key}
	}
	return data, nil
}

func (m *memObjects) StatObject(_ context.Context, bucket, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := m.object(bucket, key)
	if err != nil {
		return minio.ObjectInfo{}, err
	}
	return minio.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memObjects) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if ctx.Err() != nil {
		return minio.UploadInfo{}, ctx.Err()
	}
	if size >= 0 && int64(len(data)) != size {
		return minio.UploadInfo{}, errors.New("short body")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putSizes = append(m.putSizes, size)
	m.putParts = append(m.putParts, opts.PartSize)
	objs, ok := m.buckets[bucket]
	if !ok {
		return minio.UploadInfo{}, minio.ErrorResponse{Code: "NoSuchBucket"}
	}
	objs[key] = data
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: int64(len(data))}, nil
}

func (m *memObjects) ListObjects(_ context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	m.mu.Lock()
	var out []minio.ObjectInfo
	for k, v := range m.buckets[bucket] {
		if strings.HasPrefix(k, opts.Prefix) {
			out = append(out, minio.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	ch := make(chan minio.ObjectInfo, len(out))
	for _, o := range out {
		ch <- o
	}
	close(ch)
	return ch
}

func (m *memObjects) RemoveObjects(_ context.Context, bucket string, objects <-chan minio.ObjectInfo, _ minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError {
	errs := make(chan minio.RemoveObjectError)
	go func() {
		defer close(errs)
		for o := range objects {
			m.mu.Lock()
			delete(m.buckets[bucket], o.Key)
			m.mu.Unlock()
		}
	}()
	return errs
}

func (m *memObjects) getObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := m.object(bucket, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func newMemMinio() (*MinioTier, *memObjects) {
	objs := newMemObjects()
	return &MinioTier{client: objs, bucket: "models"}, objs
}

// unsizedReader hides any length the wrapped reader knows.
type unsizedReader struct{ r io.Reader }

func (u unsizedReader) Read(p []byte) (int, error) { return u.r.Read(p) }

type sizedReader struct {
	io.Reader
	n int64
}

func (s sizedReader) Size() int64 { return s.n }

func TestMinioTier_Supported(t *testing.T) {
	tier, _ := newMemMinio()
	if !tier.Supported() || tier.Name() != "minio" {
		t.Fatalf("expected supported minio tier")
	}
	var none *MinioTier
	if none.Supported() {
		t.Fatalf("nil tier must not be supported")
	}
	if _, err := none.Directory(context.Background(), "m1"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v", err)
	}
}

func TestMinioTier_DirectoryCreatesBucket(t *testing.T) {
	tier, objs := newMemMinio()
	d := mustDir(t, tier, "m1")
	if d.LocalPath() != "" {
		t.Fatalf("object tier has no local path")
	}
	if _, ok := objs.buckets["models"]; !ok {
		t.Fatalf("bucket not created")
	}

	denied, objs2 := newMemMinio()
	objs2.denied = true
	if _, err := denied.Directory(context.Background(), "m1"); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestMinioTier_WriteThenRead(t *testing.T) {
	ctx := context.Background()
	tier, _ := newMemMinio()
	d := mustDir(t, tier, "m1")
	if err := tier.WriteFile(ctx, d, "params_shard_0.bin", strings.NewReader("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := tier.ReadFile(ctx, d, "params_shard_0.bin")
	if err != nil || b == nil {
		t.Fatalf("read: blob=%v err=%v", b, err)
	}
	if b.Name() != "params_shard_0.bin" || b.Size() != 3 || readAll(t, b) != "abc" {
		t.Fatalf("unexpected blob %s size=%d", b.Name(), b.Size())
	}
	if err := tier.WriteFile(ctx, d, "params_shard_0.bin", strings.NewReader("xy")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	b, _ = tier.ReadFile(ctx, d, "params_shard_0.bin")
	if got := readAll(t, b); got != "xy" {
		t.Fatalf("got %q after overwrite", got)
	}
}

func TestMinioTier_ReadMissingIsNil(t *testing.T) {
	ctx := context.Background()
	tier, _ := newMemMinio()
	d := &Directory{ModelID: "m1", loc: "m1/"}
	// no bucket yet
	if b, err := tier.ReadFile(ctx, d, "a.bin"); err != nil || b != nil {
		t.Fatalf("missing bucket: blob=%v err=%v", b, err)
	}
	d = mustDir(t, tier, "m1")
	if b, err := tier.ReadFile(ctx, d, "a.bin"); err != nil || b != nil {
		t.Fatalf("missing key: blob=%v err=%v", b, err)
	}
}

func TestMinioTier_UploadSizing(t *testing.T) {
	ctx := context.Background()
	tier, objs := newMemMinio()
	d := mustDir(t, tier, "m1")
	if err := tier.WriteFile(ctx, d, "known.bin", sizedReader{Reader: strings.NewReader("abcd"), n: 4}); err != nil {
		t.Fatalf("sized write: %v", err)
	}
	if err := tier.WriteFile(ctx, d, "len.bin", strings.NewReader("xyz")); err != nil {
		t.Fatalf("len write: %v", err)
	}
	if err := tier.WriteFile(ctx, d, "stream.bin", unsizedReader{strings.NewReader("stream")}); err != nil {
		t.Fatalf("stream write: %v", err)
	}
	if objs.putSizes[0] != 4 || objs.putParts[0] != 0 {
		t.Fatalf("sized upload: size=%d part=%d", objs.putSizes[0], objs.putParts[0])
	}
	if objs.putSizes[1] != 3 || objs.putParts[1] != 0 {
		t.Fatalf("len upload: size=%d part=%d", objs.putSizes[1], objs.putParts[1])
	}
	if objs.putSizes[2] != -1 || objs.putParts[2] != uploadPartSize {
		t.Fatalf("unknown size upload: size=%d part=%d", objs.putSizes[2], objs.putParts[2])
	}
}

func TestMinioTier_FailedWriteLeavesNoBlob(t *testing.T) {
	ctx := context.Background()
	tier, _ := newMemMinio()
	d := mustDir(t, tier, "m1")
	if err := tier.WriteFile(ctx, d, "a.bin", &brokenReader{n: 10}); err == nil {
		t.Fatalf("expected error")
	}
	if b, err := tier.ReadFile(ctx, d, "a.bin"); err != nil || b != nil {
		t.Fatalf("expected no blob after failed write, got %v err=%v", b, err)
	}
}

func TestMinioTier_IsModelComplete(t *testing.T) {
	ctx := context.Background()
	tier, _ := newMemMinio()
	files := []string{"a.bin", "b.bin"}
	if ok, err := tier.IsModelComplete(ctx, "m1", files); err != nil || ok {
		t.Fatalf("empty tier: ok=%v err=%v", ok, err)
	}
	d := mustDir(t, tier, "m1")
	if err := tier.WriteFile(ctx, d, "a.bin", strings.NewReader("a")); err != nil {
		t.Fatal(err)
	}
	if ok, _ := tier.IsModelComplete(ctx, "m1", files); ok {
		t.Fatalf("expected incomplete with one file missing")
	}
	if err := tier.WriteFile(ctx, d, "b.bin", strings.NewReader("b")); err != nil {
		t.Fatal(err)
	}
	if ok, err := tier.IsModelComplete(ctx, "m1", files); err != nil || !ok {
		t.Fatalf("expected complete: %v", err)
	}
	if _, err := tier.IsModelComplete(ctx, "../m1", files); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("err = %v", err)
	}
}

func TestMinioTier_DeleteDirectoryAndList(t *testing.T) {
	ctx := context.Background()
	tier, _ := newMemMinio()
	for _, id := range []string{"m1", "m2"} {
		d := mustDir(t, tier, id)
		if err := tier.WriteFile(ctx, d, "a.bin", strings.NewReader("aaa")); err != nil {
			t.Fatal(err)
		}
		if err := tier.WriteFile(ctx, d, "sub/b.bin", strings.NewReader("b")); err != nil {
			t.Fatal(err)
		}
	}
	list, err := tier.List(ctx)
	if err != nil || len(list) != 2 || list[0].ModelID != "m1" || list[0].Files != 2 || list[0].Bytes != 4 {
		t.Fatalf("list = %+v err=%v", list, err)
	}

	if err := tier.DeleteDirectory(ctx, "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := tier.IsModelComplete(ctx, "m1", []string{"a.bin"}); ok {
		t.Fatalf("expected incomplete after delete")
	}
	if ok, _ := tier.IsModelComplete(ctx, "m2", []string{"a.bin", "sub/b.bin"}); !ok {
		t.Fatalf("delete removed another model's files")
	}
	if err := tier.DeleteDirectory(ctx, "m1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}
