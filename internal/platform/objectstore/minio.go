package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

func EnsureBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketResults)
	if err != nil {
		return fmt.Errorf("results bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, cfg.BucketResults, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return fmt.Errorf("make results bucket: %w", err)
	}
	return nil
}

func CheckBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketResults)
	if err != nil {
		return fmt.Errorf("results bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("results bucket missing: %s", cfg.BucketResults)
	}
	return nil
}

// Putter is the slice of the MinIO client the archive needs; tests substitute it.
type Putter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ResultArchive writes validated responses as JSON objects keyed by record id.
type ResultArchive struct {
	client Putter
	bucket string
	prefix string
}

func NewResultArchive(client Putter, cfg Config) (*ResultArchive, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	if strings.TrimSpace(cfg.BucketResults) == "" {
		return nil, errors.New("results bucket is required")
	}
	return &ResultArchive{
		client: client,
		bucket: cfg.BucketResults,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
	}, nil
}

func (a *ResultArchive) ObjectKey(recordID string) string {
	name := strings.TrimSpace(recordID) + ".json"
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

func (a *ResultArchive) Archive(ctx context.Context, recordID string, body []byte) error {
	if a == nil || a.client == nil {
		return errors.New("result archive not initialized")
	}
	if strings.TrimSpace(recordID) == "" {
		return errors.New("record id is required")
	}
	_, err := a.client.PutObject(ctx, a.bucket, a.ObjectKey(recordID), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", a.ObjectKey(recordID), err)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
