// Package s3 implements storage connections on S3 compatible object stores
// through the MinIO client.
package s3

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ProviderType is the "type" of storage entries served by this package.
const ProviderType = "s3"

// Adapter implements storage.Connection on a MinIO client.
type Adapter struct {
	cfg    storageconfig.StorageConfig
	name   string
	client *minio.Client
}

var _ storage.Connection = (*Adapter)(nil)

// Validate checks the settings required to reach the service.
func Validate(cfg storageconfig.StorageConfig) error {
	switch {
	case cfg.Endpoint == "":
		return fmt.Errorf("endpoint must be specified")
	case cfg.AccessKeyID == "" || cfg.SecretAccessKey == "":
		return fmt.Errorf("access_key_id and secret_access_key must be specified")
	case cfg.CreateBucket && cfg.BucketName == "":
		return fmt.Errorf("create_bucket requires bucket_name")
	}
	return nil
}

// NewAdapter creates an Adapter. No request is sent until the first operation.
func NewAdapter(name string, cfg storageconfig.StorageConfig) (*Adapter, error) {
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("s3 storage '%s': %w", name, err)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 storage '%s': failed to create client: %w", name, err)
	}
	return &Adapter{cfg: cfg, name: name, client: client}, nil
}

// Name implements storage.Connection.
func (a *Adapter) Name() string { return a.name }

// Type implements storage.Connection.
func (a *Adapter) Type() string { return ProviderType }

// Config implements storage.Connection.
func (a *Adapter) Config() storageconfig.StorageConfig { return a.cfg }

// Close implements storage.Connection. The client keeps no open connection state.
func (a *Adapter) Close() error { return nil }

// EnsureBucket creates the configured bucket when it does not exist.
func (a *Adapter) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.cfg.BucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket '%s': %w", a.cfg.BucketName, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.cfg.BucketName, minio.MakeBucketOptions{Region: a.cfg.Region}); err != nil {
		return fmt.Errorf("failed to create bucket '%s': %w", a.cfg.BucketName, err)
	}
	logger.Infof("Created bucket '%s' (s3 storage '%s').", a.cfg.BucketName, a.name)
	return nil
}

// Upload implements storage.Executor. The object size is unknown up front, so the
// client streams it as a multipart upload.
func (a *Adapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	bucket = a.bucket(bucket)
	if _, err := a.client.PutObject(ctx, bucket, objectName, data, -1, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("failed to upload '%s/%s': %w", bucket, objectName, err)
	}
	logger.Debugf("Uploaded '%s/%s' (s3 storage '%s').", bucket, objectName, a.name)
	return nil
}

// Download implements storage.Executor.
func (a *Adapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	bucket = a.bucket(bucket)
	obj, err := a.client.GetObject(ctx, bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download '%s/%s': %w", bucket, objectName, err)
	}
	// GetObject is lazy; Stat surfaces a missing object before the first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("failed to download '%s/%s': %w", bucket, objectName, err)
	}
	return obj, nil
}

// ListObjects implements storage.Executor.
func (a *Adapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	bucket = a.bucket(bucket)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for info := range a.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return fmt.Errorf("failed to list '%s' with prefix '%s': %w", bucket, prefix, info.Err)
		}
		if err := fn(info.Key); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// DeleteObject implements storage.Executor.
func (a *Adapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	bucket = a.bucket(bucket)
	if err := a.client.RemoveObject(ctx, bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("failed to delete '%s/%s': %w", bucket, objectName, err)
	}
	return nil
}

func (a *Adapter) bucket(bucket string) string {
	if bucket == "" {
		return a.cfg.BucketName
	}
	return bucket
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

// Provider opens S3 storage connections.
type Provider struct{}

var _ storage.Provider = Provider{}

// NewProvider creates the S3 Provider.
func NewProvider() Provider { return Provider{} }

// Type implements storage.Provider.
func (Provider) Type() string { return ProviderType }

// Open implements storage.Provider. When the entry sets create_bucket, the bucket
// is created before the connection is returned.
func (Provider) Open(name string, cfg storageconfig.StorageConfig) (storage.Connection, error) {
	a, err := NewAdapter(name, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.CreateBucket {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.EnsureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Module contributes the S3 Provider to the storage Registry.
var Module = fx.Provide(fx.Annotate(
	NewProvider,
	fx.As(new(storage.Provider)),
	fx.ResultTags(`group:"storage_providers"`),
))
