package artifacts

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"golang.org/x/sync/errgroup"
)

// ObjectStore fetches artifact files from S3-compatible storage into a
// local cache directory, so deployments can pull model updates without
// baking them into the image. Reads then go through the regular FileSource.
type ObjectStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObjectStore wraps a minio client for the given bucket. prefix is
// prepended to every object key (e.g. "models/v3/").
func NewObjectStore(client *minio.Client, bucket, prefix string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket, prefix: prefix}
}

// FetchAll downloads the named artifacts into cacheDir, concurrently. A
// missing optional object (the .gz variant is tried as well) fails the
// whole fetch; partial artifact sets produce inconsistent snapshots.
func (o *ObjectStore) FetchAll(ctx context.Context, cacheDir string, names ...string) error {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("artifacts: create cache dir: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			return o.fetch(ctx, cacheDir, name)
		})
	}
	return g.Wait()
}

func (o *ObjectStore) fetch(ctx context.Context, cacheDir, name string) error {
	key := path.Join(o.prefix, name)

	obj, err := o.client.GetObject(ctx, o.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("artifacts: get %s: %w", key, err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			// Fall back to the compressed variant.
			return o.fetchGz(ctx, cacheDir, name)
		}
		return fmt.Errorf("artifacts: stat %s: %w", key, err)
	}

	return writeAtomic(filepath.Join(cacheDir, name), obj)
}

func (o *ObjectStore) fetchGz(ctx context.Context, cacheDir, name string) error {
	key := path.Join(o.prefix, name+".gz")

	obj, err := o.client.GetObject(ctx, o.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("artifacts: get %s: %w", key, err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		return fmt.Errorf("artifacts: stat %s: %w", key, err)
	}

	log.Printf("artifacts: fetched compressed %s", key)
	return writeAtomic(filepath.Join(cacheDir, name+".gz"), obj)
}

// writeAtomic streams the object to a temp file and renames it into place,
// so a crashed fetch never leaves a truncated artifact behind.
func writeAtomic(dst string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fetch-*")
	if err != nil {
		return fmt.Errorf("artifacts: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("artifacts: write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("artifacts: close %s: %w", dst, err)
	}
	return os.Rename(tmp.Name(), dst)
}
