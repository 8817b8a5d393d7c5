package objectstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Enabled:       true,
		Endpoint:      "localhost:9000",
		AccessKey:     "a",
		SecretKey:     "b",
		Region:        "us-east-1",
		BucketResults: "results",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	cases := map[string]func(*Config){
		"scheme in endpoint": func(c *Config) { c.Endpoint = "http://localhost:9000" },
		"endpoint no port":   func(c *Config) { c.Endpoint = "localhost" },
		"blank bucket":       func(c *Config) { c.BucketResults = " " },
		"missing secret":     func(c *Config) { c.SecretKey = "" },
		"missing region":     func(c *Config) { c.Region = "" },
	}
	for name, mutate := range cases {
		cfg := valid
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestConfigFromEnv_DisabledSkipsValidation(t *testing.T) {
	t.Setenv("SIMGATE_ARCHIVE_ENABLED", "false")
	t.Setenv("SIMGATE_MINIO_ENDPOINT", "http://bad")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Enabled {
		t.Fatalf("expected archive disabled")
	}
}

func TestConfigFromEnv_EnabledValidates(t *testing.T) {
	t.Setenv("SIMGATE_ARCHIVE_ENABLED", "true")
	t.Setenv("SIMGATE_MINIO_ENDPOINT", "http://bad")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected validation error")
	}
}

type fakePutter struct {
	bucket      string
	key         string
	body        []byte
	contentType string
	err         error
}

func (f *fakePutter) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.bucket = bucketName
	f.key = objectName
	f.body = body
	f.contentType = opts.ContentType
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: objectSize}, nil
}

func TestResultArchive_Archive(t *testing.T) {
	putter := &fakePutter{}
	archive, err := NewResultArchive(putter, Config{BucketResults: "results", Prefix: "/runs/"})
	if err != nil {
		t.Fatalf("NewResultArchive() err=%v", err)
	}
	if err := archive.Archive(context.Background(), "sim-1", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("Archive() err=%v", err)
	}
	if putter.bucket != "results" || putter.key != "runs/sim-1.json" {
		t.Fatalf("unexpected object location %s/%s", putter.bucket, putter.key)
	}
	if string(putter.body) != `{"ok":true}` {
		t.Fatalf("body=%s", putter.body)
	}
	if putter.contentType != "application/json" {
		t.Fatalf("content type=%q", putter.contentType)
	}
}

func TestResultArchive_PropagatesError(t *testing.T) {
	archive, err := NewResultArchive(&fakePutter{err: errors.New("down")}, Config{BucketResults: "results"})
	if err != nil {
		t.Fatalf("NewResultArchive() err=%v", err)
	}
	if err := archive.Archive(context.Background(), "sim-1", []byte(`{}`)); err == nil {
		t.Fatalf("expected error")
	}
	if err := archive.Archive(context.Background(), " ", []byte(`{}`)); err == nil {
		t.Fatalf("expected error for empty id")
	}
}
