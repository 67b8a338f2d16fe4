package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jobrunner/geofetch/internal/ports/output"
)

// LocalStorage implements ObjectStorage for a directory, typically a mounted
// share that mirrors the boundary store.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage adapter.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// List returns all boundary files below the base directory.
func (s *LocalStorage) List(_ context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsBoundaryFile(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}

		objects = append(objects, output.StorageObject{
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return objects, nil
}

// Download copies a file to dest. It does nothing when dest is the source.
func (s *LocalStorage) Download(_ context.Context, key string, dest string) error {
	src := s.FullPath(key)
	if src == filepath.Clean(dest) {
		return nil
	}

	f, err := os.Open(src) //#nosec G304 -- key comes from List
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return writeFile(dest, f)
}

// GetReader returns a reader for the given object.
func (s *LocalStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	return os.Open(s.FullPath(key))
}

// Exists checks if a file exists.
func (s *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.FullPath(key))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

// FullPath returns the full path for a key.
func (s *LocalStorage) FullPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}
