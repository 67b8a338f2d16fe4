package storage

import (
	"context"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/jobrunner/geofetch/internal/ports/output"
)

// AzureStorage implements ObjectStorage for Azure Blob Storage.
type AzureStorage struct {
	client    *azblob.Client
	container string
	prefix    string
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string // Takes precedence over account name and key
	Prefix           string
}

// NewAzureStorage creates a new Azure Blob Storage adapter.
func NewAzureStorage(cfg AzureConfig) (*AzureStorage, error) {
	client, err := newAzureClient(cfg)
	if err != nil {
		return nil, err
	}

	return &AzureStorage{
		client:    client,
		container: cfg.Container,
		prefix:    cfg.Prefix,
	}, nil
}

func newAzureClient(cfg AzureConfig) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		return azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	url := "https://" + cfg.AccountName + ".blob.core.windows.net/"
	return azblob.NewClientWithSharedKeyCredential(url, cred, nil)
}

// List returns all boundary files below the prefix.
func (s *AzureStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &s.prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		for _, blob := range page.Segment.BlobItems {
			if blob.Name == nil || !IsBoundaryFile(*blob.Name) {
				continue
			}
			objects = append(objects, s.storageObject(blob))
		}
	}

	return objects, nil
}

// storageObject converts an Azure blob to a StorageObject.
func (s *AzureStorage) storageObject(blob *container.BlobItem) output.StorageObject {
	obj := output.StorageObject{Key: relativeKey(*blob.Name, s.prefix)}

	props := blob.Properties
	if props == nil {
		return obj
	}
	if props.ContentLength != nil {
		obj.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		obj.LastModified = props.LastModified.Unix()
	}
	if props.ETag != nil {
		obj.ETag = string(*props.ETag)
	}
	return obj
}

// Download downloads a blob to the local filesystem.
func (s *AzureStorage) Download(ctx context.Context, key string, dest string) error {
	body, err := s.GetReader(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	return writeFile(dest, body)
}

// GetReader returns a reader for the given blob.
func (s *AzureStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, joinKey(s.prefix, key), nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Exists checks if a blob exists.
func (s *AzureStorage) Exists(ctx context.Context, key string) (bool, error) {
	blob := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(joinKey(s.prefix, key))
	_, err := blob.GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	return false, err
}
