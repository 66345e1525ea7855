package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref         string
		bucket, key string
		remote      bool
		wantErr     bool
	}{
		{"s3://firmware/v2/app.acfr", "firmware", "v2/app.acfr", true, false},
		{"./images/boot.bin", "", "", false, false},
		{"s3://firmware", "", "", true, true},
		{"s3:///key", "", "", true, true},
		{"s3://bucket/", "", "", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			bucket, key, remote, err := ParseRef(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if remote != tt.remote || bucket != tt.bucket || key != tt.key {
				t.Errorf("got (%q, %q, %v)", bucket, key, remote)
			}
		})
	}
}

type fakeObjects struct {
	err    error
	bucket string
	key    string
}

func (f *fakeObjects) FGetObject(_ context.Context, bucket, key, filePath string, _ minio.GetObjectOptions) error {
	f.bucket, f.key = bucket, key
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(filePath, []byte("image"), 0o600)
}

func TestFetchLocal(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "boot.bin")
	if err := os.WriteFile(img, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewStore(nil, "")
	got, release, err := s.Fetch(context.Background(), img)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	release()
	if got != img {
		t.Errorf("path = %q", got)
	}
	if _, err := os.Stat(img); err != nil {
		t.Error("release must not remove a local image")
	}

	if _, _, err := s.Fetch(context.Background(), filepath.Join(dir, "missing.bin")); err == nil {
		t.Error("missing local image should fail")
	}
	if _, _, err := s.Fetch(context.Background(), dir); err == nil {
		t.Error("directory should fail")
	}
}

func TestFetchRemote(t *testing.T) {
	objects := &fakeObjects{}
	s := NewStore(objects, t.TempDir())

	got, release, err := s.Fetch(context.Background(), "s3://firmware/v2/app.acfr")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if objects.bucket != "firmware" || objects.key != "v2/app.acfr" {
		t.Errorf("downloaded %s/%s", objects.bucket, objects.key)
	}
	if filepath.Base(got) != "app.acfr" {
		t.Errorf("staged file %q keeps the object name", got)
	}
	if _, err := os.Stat(got); err != nil {
		t.Fatalf("staged file: %v", err)
	}

	release()
	if _, err := os.Stat(filepath.Dir(got)); !os.IsNotExist(err) {
		t.Errorf("staging dir not removed: %v", err)
	}
}

func TestFetchRemoteErrors(t *testing.T) {
	cache := t.TempDir()

	s := NewStore(nil, cache)
	if _, _, err := s.Fetch(context.Background(), "s3://b/k.bin"); !errors.Is(err, ErrNoRepository) {
		t.Errorf("err = %v, want ErrNoRepository", err)
	}

	boom := errors.New("access denied")
	s = NewStore(&fakeObjects{err: boom}, cache)
	if _, _, err := s.Fetch(context.Background(), "s3://b/k.bin"); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	entries, _ := os.ReadDir(cache)
	if len(entries) != 0 {
		t.Errorf("failed download left %d entries in the cache", len(entries))
	}
}
