// Package storage resolves image references for the workflow. Local paths are
// used in place; s3://bucket/key references are downloaded from the image
// repository into a staging directory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/autopeer-io/multiprog/internal/station/core"
	"github.com/autopeer-io/multiprog/pkg/log"
)

// Scheme prefixes image references held in the repository.
const Scheme = "s3://"

// ErrNoRepository is returned for an s3:// reference when no repository is configured.
var ErrNoRepository = errors.New("image is in the repository but no s3 endpoint is configured")

// ObjectGetter downloads one object to a file. It is implemented by *minio.Client.
type ObjectGetter interface {
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
}

var _ core.ImageStore = (*Store)(nil)

// Store implements core.ImageStore.
type Store struct {
	objects  ObjectGetter
	cacheDir string
}

// NewStore returns a Store. objects may be nil, in which case only local paths resolve.
func NewStore(objects ObjectGetter, cacheDir string) *Store {
	return &Store{objects: objects, cacheDir: cacheDir}
}

// ParseRef splits s3://bucket/key. ok is false for anything else.
func ParseRef(ref string) (bucket, key string, ok bool, err error) {
	if !strings.HasPrefix(ref, Scheme) {
		return "", "", false, nil
	}
	rest := strings.TrimPrefix(ref, Scheme)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || strings.Trim(key, "/") == "" {
		return "", "", true, fmt.Errorf("invalid image reference %q, want s3://bucket/key", ref)
	}
	return bucket, key, true, nil
}

// Fetch returns a local path for ref.
func (s *Store) Fetch(ctx context.Context, ref string) (string, func(), error) {
	bucket, key, remote, err := ParseRef(ref)
	if err != nil {
		return "", nil, err
	}
	if !remote {
		return s.local(ref)
	}
	if s.objects == nil {
		return "", nil, fmt.Errorf("%s: %w", ref, ErrNoRepository)
	}

	dir, err := os.MkdirTemp(s.cacheDir, "image-")
	if err != nil {
		return "", nil, fmt.Errorf("create staging dir: %w", err)
	}
	release := func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("Failed to remove staged image", "dir", dir, "error", err)
		}
	}

	dst := filepath.Join(dir, path.Base(key))
	log.Debug("Downloading image", "bucket", bucket, "key", key, "path", dst)
	if err := s.objects.FGetObject(ctx, bucket, key, dst, minio.GetObjectOptions{}); err != nil {
		release()
		return "", nil, fmt.Errorf("download %s: %w", ref, err)
	}

	return dst, release, nil
}

func (s *Store) local(p string) (string, func(), error) {
	info, err := os.Stat(p)
	if err != nil {
		return "", nil, fmt.Errorf("image %q: %w", p, err)
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("image %q is a directory", p)
	}
	return p, func() {}, nil
}
