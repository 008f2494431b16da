package assetcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions configures a MinioTier.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// uploadPartSize bounds the buffer PutObject allocates per part when the
// object size is unknown. Without it minio-go sizes parts for a 5 TiB object.
const uploadPartSize = 16 << 20

// objectAPI is the part of *minio.Client the tier uses.
type objectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObjects(ctx context.Context, bucket string, objects <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError
	getObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type minioClient struct {
	*minio.Client
}

func (c minioClient) getObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return c.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

// MinioTier stores model files as objects keyed "<modelID>/<name>" in one
// bucket of a MinIO or S3 compatible store.
type MinioTier struct {
	client objectAPI
	bucket string

	mu      sync.Mutex
	ensured bool
}

// NewMinioTier builds the client. No request is made until the first
// Directory call ensures the bucket.
func NewMinioTier(opts MinioOptions) (*MinioTier, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("minio tier: endpoint and bucket are required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	return &MinioTier{client: minioClient{client}, bucket: opts.Bucket}, nil
}

func (t *MinioTier) Name() string { return "minio" }

// Supported reports whether a client was configured.
func (t *MinioTier) Supported() bool { return t != nil && t.client != nil }

func (t *MinioTier) ensureBucket(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ensured {
		return nil
	}
	exists, err := t.client.BucketExists(ctx, t.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket: %v", ErrStorageUnavailable, err)
	}
	if !exists {
		if err := t.client.MakeBucket(ctx, t.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("%w: create bucket: %v", ErrStorageUnavailable, err)
		}
	}
	t.ensured = true
	return nil
}

// Directory ensures the bucket; the prefix itself needs no creation.
func (t *MinioTier) Directory(ctx context.Context, modelID string) (*Directory, error) {
	if !t.Supported() {
		return nil, ErrUnsupported
	}
	if err := checkModelID(modelID); err != nil {
		return nil, err
	}
	if err := t.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return &Directory{ModelID: modelID, loc: modelID + "/"}, nil
}

// ReadFile stats the object; NoSuchKey and NoSuchBucket mean absent.
func (t *MinioTier) ReadFile(ctx context.Context, dir *Directory, name string) (Blob, error) {
	key, err := t.objectKey(dir, name)
	if err != nil {
		return nil, err
	}
	info, err := t.client.StatObject(ctx, t.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, minioErr("stat object", err)
	}
	return &minioBlob{tier: t, key: key, name: name, size: info.Size}, nil
}

// WriteFile uploads r. An object becomes visible only once PutObject
// completes, so an aborted upload leaves nothing under the key.
func (t *MinioTier) WriteFile(ctx context.Context, dir *Directory, name string, r io.Reader) error {
	key, err := t.objectKey(dir, name)
	if err != nil {
		return err
	}
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	size := readerSize(r)
	if size < 0 {
		opts.PartSize = uploadPartSize
	}
	_, err = t.client.PutObject(ctx, t.bucket, key, r, size, opts)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return minioErr("put object", err)
	}
	return nil
}

// IsModelComplete stats each file in order and stops at the first miss.
func (t *MinioTier) IsModelComplete(ctx context.Context, modelID string, files []string) (bool, error) {
	if !t.Supported() {
		return false, ErrUnsupported
	}
	if err := checkModelID(modelID); err != nil {
		return false, err
	}
	dir := &Directory{ModelID: modelID, loc: modelID + "/"}
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

// DeleteDirectory removes every object under the model prefix.
func (t *MinioTier) DeleteDirectory(ctx context.Context, modelID string) error {
	if !t.Supported() {
		return ErrUnsupported
	}
	if err := checkModelID(modelID); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var listErr error
	objects := make(chan minio.ObjectInfo)
	go func() {
		defer close(objects)
		for obj := range t.client.ListObjects(ctx, t.bucket, minio.ListObjectsOptions{Prefix: modelID + "/", Recursive: true}) {
			if obj.Err != nil {
				if !isNotFound(obj.Err) {
					listErr = obj.Err
				}
				return
			}
			select {
			case objects <- obj:
			case <-ctx.Done():
				return
			}
		}
	}()
	var firstErr error
	for rerr := range t.client.RemoveObjects(ctx, t.bucket, objects, minio.RemoveObjectsOptions{}) {
		if firstErr == nil && rerr.Err != nil && !isNotFound(rerr.Err) {
			firstErr = rerr.Err
		}
	}
	if listErr != nil {
		return minioErr("list objects", listErr)
	}
	if firstErr != nil {
		return minioErr("remove objects", firstErr)
	}
	return nil
}

// List aggregates objects by their first key segment.
func (t *MinioTier) List(ctx context.Context) ([]DirInfo, error) {
	if !t.Supported() {
		return nil, ErrUnsupported
	}
	byModel := map[string]*DirInfo{}
	for obj := range t.client.ListObjects(ctx, t.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			if isNotFound(obj.Err) {
				return nil, nil
			}
			return nil, minioErr("list objects", obj.Err)
		}
		id, _, ok := strings.Cut(obj.Key, "/")
		if !ok || id == "" {
			continue
		}
		d := byModel[id]
		if d == nil {
			d = &DirInfo{ModelID: id}
			byModel[id] = d
		}
		d.Files++
		d.Bytes += obj.Size
	}
	out := make([]DirInfo, 0, len(byModel))
	for _, d := range byModel {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out, nil
}

func (t *MinioTier) objectKey(dir *Directory, name string) (string, error) {
	if !t.Supported() {
		return "", ErrUnsupported
	}
	if dir == nil || dir.local || dir.loc == "" {
		return "", fmt.Errorf("assetcache: directory handle does not belong to minio tier")
	}
	c, err := cleanFileName(name)
	if err != nil {
		return "", err
	}
	return dir.loc + c, nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return true
	}
	return false
}

func minioErr(op string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoSuchBucket":
		return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("assetcache: %s: %w", op, err)
}

type minioBlob struct {
	tier *MinioTier
	key  string
	name string
	size int64
}

func (b *minioBlob) Name() string { return b.name }
func (b *minioBlob) Size() int64  { return b.size }

func (b *minioBlob) Open(ctx context.Context) (io.ReadCloser, error) {
	obj, err := b.tier.client.getObject(ctx, b.tier.bucket, b.key)
	if err != nil {
		return nil, minioErr("get object", err)
	}
	return obj, nil
}
