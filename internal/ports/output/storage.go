// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
)

// ObjectStorage defines the secondary port for the remote store that holds
// boundary files.
type ObjectStorage interface {
	// List returns all boundary files in the storage.
	List(ctx context.Context) ([]StorageObject, error)

	// Download downloads a boundary file to the local filesystem.
	Download(ctx context.Context, key string, dest string) error

	// GetReader returns a reader for the given object.
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)
}

// StorageObject describes a boundary file in object storage. Sync compares
// Size and LastModified with the local copy; zero means unknown.
type StorageObject struct {
	Key          string // Key relative to the configured prefix
	Size         int64  // Size in bytes
	LastModified int64  // Unix timestamp
	ETag         string // Content hash, informational
}

// StorageType selects the remote store boundary files are synced from.
type StorageType string

const (
	StorageTypeNone  StorageType = "none"
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeHTTP  StorageType = "http"
	StorageTypeLocal StorageType = "local"
)
