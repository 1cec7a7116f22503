// Package storage defines object storage connections used by file item readers
// and writers. Backends (local file system, S3 compatible services, Cloud Storage) register a
// Provider; connections are opened by name from the "storage" configuration section.
package storage

import (
	"context"
	"io"

	storageconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
)

// Executor defines the object operations of a storage backend.
type Executor interface {
	// Upload stores data under objectName in bucket, replacing any existing object.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens objectName in bucket. The caller must close the returned reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object of bucket whose name starts with prefix,
	// in lexical order. Listing stops at the first error returned by fn.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes objectName from bucket. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// Connection is an open storage connection.
type Connection interface {
	Executor
	// Name returns the configuration entry name of the connection.
	Name() string
	// Type returns the backend type ("local", "s3", "gcs").
	Type() string
	// Config returns the entry the connection was opened from.
	Config() storageconfig.StorageConfig
	// Close releases the connection.
	Close() error
}

// Provider opens connections of one backend type.
type Provider interface {
	// Type returns the backend type handled by this provider.
	Type() string
	// Open creates a connection for the named entry.
	Open(name string, cfg storageconfig.StorageConfig) (Connection, error)
}

// Resolver hands out connections by entry name.
type Resolver interface {
	GetConnection(name string) (Connection, error)
}
