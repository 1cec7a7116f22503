// Package config defines the settings of one named storage entry.
package config

import (
	"fmt"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/configbinder"
)

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type       string `yaml:"type"`        // Type of storage ("local", "s3", "gcs").
	BucketName string `yaml:"bucket_name"` // Default bucket, used when an operation names none.
	BaseDir    string `yaml:"base_dir"`    // Root directory of the local backend.

	// S3 compatible backends.
	Endpoint        string `yaml:"endpoint"`          // host:port of the service.
	Region          string `yaml:"region"`            // Bucket region.
	AccessKeyID     string `yaml:"access_key_id"`     // Static access key.
	SecretAccessKey string `yaml:"secret_access_key"` // Static secret key.
	UseSSL          bool   `yaml:"use_ssl"`           // Connect over TLS.
	CreateBucket    bool   `yaml:"create_bucket"`     // Create BucketName on first use when it is missing.

	// Google Cloud Storage. Endpoint, when set, points the client at an emulator.
	ProjectID       string `yaml:"project_id"`       // Project owning buckets created by create_bucket.
	CredentialsFile string `yaml:"credentials_file"` // Service account key; application default credentials when empty.
}

// Decode reads a raw "storage.<name>" entry into a StorageConfig.
func Decode(raw interface{}) (StorageConfig, error) {
	var c StorageConfig
	props, ok := raw.(map[string]interface{})
	if !ok {
		return c, fmt.Errorf("storage entry must be a mapping, got %T", raw)
	}
	err := configbinder.BindProperties(props, &c)
	return c, err
}
