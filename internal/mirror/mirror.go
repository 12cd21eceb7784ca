package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ErrNoBucket is returned by Open for an empty bucket URL.
var ErrNoBucket = errors.New("mirror: no bucket URL")

// Mirror uploads local files into a bucket.
type Mirror struct {
	bucket *blob.Bucket
	owned  bool
}

// Open opens the bucket at bucketURL. The returned Mirror owns the bucket
// and closes it in Close.
func Open(ctx context.Context, bucketURL string) (*Mirror, error) {
	if bucketURL == "" {
		return nil, ErrNoBucket
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	m := New(bucket)
	m.owned = true
	return m, nil
}

// New wraps an already opened bucket. Close does not close it.
func New(bucket *blob.Bucket) *Mirror {
	return &Mirror{bucket: bucket}
}

// Upload copies the file at localPath to key. It returns false without
// writing when an object of the same size is already there; a missing or
// truncated object is (re)written.
func (m *Mirror) Upload(ctx context.Context, key, localPath string) (bool, error) {
	key = path.Clean(key)

	f, err := os.Open(localPath)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", localPath, err)
	}

	remote, exists, err := m.stat(ctx, key)
	if err != nil {
		return false, err
	}
	if exists && remote == info.Size() {
		return false, nil
	}

	w, err := m.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return false, fmt.Errorf("create writer for %s: %w", key, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return false, fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return false, fmt.Errorf("finalize %s: %w", key, err)
	}
	return true, nil
}

// Size returns the size of the mirrored object, or 0 and no error when it
// does not exist.
func (m *Mirror) Size(ctx context.Context, key string) (int64, error) {
	size, _, err := m.stat(ctx, path.Clean(key))
	return size, err
}

func (m *Mirror) stat(ctx context.Context, key string) (int64, bool, error) {
	attrs, err := m.bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("attributes of %s: %w", key, err)
	}
	return attrs.Size, true, nil
}

// Close releases the bucket if the Mirror opened it.
func (m *Mirror) Close() error {
	if m.owned {
		return m.bucket.Close()
	}
	return nil
}
