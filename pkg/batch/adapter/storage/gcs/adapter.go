// Package gcs implements storage connections on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/fx"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ProviderType is the "type" of storage entries served by this package.
const ProviderType = "gcs"

// Adapter implements storage.Connection on a Cloud Storage client.
type Adapter struct {
	cfg    storageconfig.StorageConfig
	name   string
	client *gcstorage.Client
}

var _ storage.Connection = (*Adapter)(nil)

func clientOptions(cfg storageconfig.StorageConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.Endpoint != "":
		// Emulators accept unauthenticated requests.
		opts = append(opts, option.WithoutAuthentication())
	}
	return opts
}

// NewAdapter creates an Adapter with the entry's credentials. ctx must outlive the
// client: the credential token source refreshes through it.
func NewAdapter(ctx context.Context, name string, cfg storageconfig.StorageConfig) (*Adapter, error) {
	if cfg.CreateBucket && (cfg.BucketName == "" || cfg.ProjectID == "") {
		return nil, fmt.Errorf("gcs storage '%s': create_bucket requires bucket_name and project_id", name)
	}
	client, err := gcstorage.NewClient(ctx, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage '%s': failed to create client: %w", name, err)
	}
	return &Adapter{cfg: cfg, name: name, client: client}, nil
}

// Name implements storage.Connection.
func (a *Adapter) Name() string { return a.name }

// Type implements storage.Connection.
func (a *Adapter) Type() string { return ProviderType }

// Config implements storage.Connection.
func (a *Adapter) Config() storageconfig.StorageConfig { return a.cfg }

// Close implements storage.Connection.
func (a *Adapter) Close() error { return a.client.Close() }

// EnsureBucket creates the configured bucket in ProjectID when it does not exist.
func (a *Adapter) EnsureBucket(ctx context.Context) error {
	b := a.client.Bucket(a.cfg.BucketName)
	_, err := b.Attrs(ctx)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, gcstorage.ErrBucketNotExist):
		return fmt.Errorf("failed to check bucket '%s': %w", a.cfg.BucketName, err)
	}
	if err := b.Create(ctx, a.cfg.ProjectID, nil); err != nil {
		return fmt.Errorf("failed to create bucket '%s': %w", a.cfg.BucketName, err)
	}
	logger.Infof("Created bucket '%s' (gcs storage '%s').", a.cfg.BucketName, a.name)
	return nil
}

// Upload implements storage.Executor. The object becomes visible when the writer closes.
func (a *Adapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	bucket = a.bucket(bucket)
	w := a.client.Bucket(bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload '%s/%s': %w", bucket, objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to upload '%s/%s': %w", bucket, objectName, err)
	}
	logger.Debugf("Uploaded '%s/%s' (gcs storage '%s').", bucket, objectName, a.name)
	return nil
}

// Download implements storage.Executor.
func (a *Adapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	bucket = a.bucket(bucket)
	r, err := a.client.Bucket(bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to download '%s/%s': %w", bucket, objectName, err)
	}
	return r, nil
}

// ListObjects implements storage.Executor. Cloud Storage lists names in lexical order.
func (a *Adapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	bucket = a.bucket(bucket)
	it := a.client.Bucket(bucket).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list '%s' with prefix '%s': %w", bucket, prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

// DeleteObject implements storage.Executor.
func (a *Adapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	bucket = a.bucket(bucket)
	err := a.client.Bucket(bucket).Object(objectName).Delete(ctx)
	if err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
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

// Provider opens Cloud Storage connections.
type Provider struct{}

var _ storage.Provider = Provider{}

// NewProvider creates the GCS Provider.
func NewProvider() Provider { return Provider{} }

// Type implements storage.Provider.
func (Provider) Type() string { return ProviderType }

// Open implements storage.Provider.
func (Provider) Open(name string, cfg storageconfig.StorageConfig) (storage.Connection, error) {
	a, err := NewAdapter(context.Background(), name, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.CreateBucket {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.EnsureBucket(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// Module contributes the GCS Provider to the storage Registry.
var Module = fx.Provide(fx.Annotate(
	NewProvider,
	fx.As(new(storage.Provider)),
	fx.ResultTags(`group:"storage_providers"`),
))
