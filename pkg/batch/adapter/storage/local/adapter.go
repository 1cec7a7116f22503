// Package local implements storage connections on the local file system. A bucket
// is a directory under the configured base directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ProviderType is the "type" of storage entries served by this package.
const ProviderType = "local"

// Adapter implements storage.Connection on a directory tree.
type Adapter struct {
	cfg  storageconfig.StorageConfig
	name string
}

var _ storage.Connection = (*Adapter)(nil)

// NewAdapter creates an Adapter rooted at cfg.BaseDir, creating the directory if needed.
func NewAdapter(name string, cfg storageconfig.StorageConfig) (*Adapter, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage '%s': base_dir must be specified", name)
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("local storage '%s': failed to create base_dir '%s': %w", name, cfg.BaseDir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("local storage '%s': failed to stat base_dir '%s': %w", name, cfg.BaseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("local storage '%s': base_dir '%s' is not a directory", name, cfg.BaseDir)
	}
	return &Adapter{cfg: cfg, name: name}, nil
}

// Name implements storage.Connection.
func (a *Adapter) Name() string { return a.name }

// Type implements storage.Connection.
func (a *Adapter) Type() string { return ProviderType }

// Config implements storage.Connection.
func (a *Adapter) Config() storageconfig.StorageConfig { return a.cfg }

// Close implements storage.Connection. The adapter holds no resources.
func (a *Adapter) Close() error { return nil }

// Upload writes data to a temporary file next to the target and renames it into
// place, so readers never observe a partial object.
func (a *Adapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in '%s': %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, &contextReader{ctx: ctx, r: data}); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write '%s': %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write '%s': %w", fullPath, err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("failed to move upload into '%s': %w", fullPath, err)
	}
	logger.Debugf("Uploaded '%s' (local storage '%s').", fullPath, a.name)
	return nil
}

// Download opens the file backing objectName.
func (a *Adapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", fullPath, err)
	}
	return f, nil
}

// ListObjects walks the bucket directory. Object names use forward slashes and
// are relative to the bucket.
func (a *Adapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	basePath, err := a.resolvePath(bucket, "")
	if err != nil {
		return err
	}
	if _, err := os.Stat(basePath); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	err = filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(basePath, path)
		if err != nil {
			return err
		}
		objectName := filepath.ToSlash(rel)
		if !strings.HasPrefix(objectName, prefix) {
			return nil
		}
		return fn(objectName)
	})
	if err != nil {
		return fmt.Errorf("failed to list '%s' with prefix '%s': %w", basePath, prefix, err)
	}
	return nil
}

// DeleteObject removes the file backing objectName.
func (a *Adapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete '%s': %w", fullPath, err)
	}
	return nil
}

// Path returns the file system path of objectName.
func (a *Adapter) Path(bucket, objectName string) (string, error) {
	return a.resolvePath(bucket, objectName)
}

// resolvePath maps bucket and objectName below BaseDir and refuses paths escaping it.
func (a *Adapter) resolvePath(bucket, objectName string) (string, error) {
	if bucket == "" {
		bucket = a.cfg.BucketName
	}
	base, err := filepath.Abs(a.cfg.BaseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base_dir '%s': %w", a.cfg.BaseDir, err)
	}
	full := filepath.Join(base, bucket, filepath.FromSlash(objectName))
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("object '%s' in bucket '%s' resolves outside of base_dir '%s'", objectName, bucket, a.cfg.BaseDir)
	}
	return full, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Provider opens local storage connections.
type Provider struct{}

var _ storage.Provider = Provider{}

// NewProvider creates the local Provider.
func NewProvider() Provider { return Provider{} }

// Type implements storage.Provider.
func (Provider) Type() string { return ProviderType }

// Open implements storage.Provider.
func (Provider) Open(name string, cfg storageconfig.StorageConfig) (storage.Connection, error) {
	return NewAdapter(name, cfg)
}

// Module contributes the local Provider to the storage Registry.
var Module = fx.Provide(fx.Annotate(
	NewProvider,
	fx.As(new(storage.Provider)),
	fx.ResultTags(`group:"storage_providers"`),
))
