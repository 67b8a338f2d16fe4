package application

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jobrunner/geofetch/internal/domain"
	"github.com/jobrunner/geofetch/internal/ports/output"
)

// BoundaryRegistry manages boundaries loaded from boundary files.
type BoundaryRegistry struct {
	mu        sync.RWMutex
	files     map[string][]string // source path -> boundary IDs
	bounds    map[string]*domain.Boundary
	loader    output.BoundaryLoader
	storage   output.ObjectStorage
	metrics   output.MetricsCollector
	logger    *slog.Logger
	localPath string
}

// NewBoundaryRegistry creates a new boundary registry. storage may be nil
// when boundaries only come from the local directory.
func NewBoundaryRegistry(
	loader output.BoundaryLoader,
	storage output.ObjectStorage,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	localPath string,
) *BoundaryRegistry {
	return &BoundaryRegistry{
		files:     make(map[string][]string),
		bounds:    make(map[string]*domain.Boundary),
		loader:    loader,
		storage:   storage,
		metrics:   metrics,
		logger:    logger,
		localPath: localPath,
	}
}

// Supports reports whether path is a boundary file the registry can load.
func (r *BoundaryRegistry) Supports(path string) bool {
	return r.loader.Supports(path)
}

// LoadFile loads or reloads the boundaries of one file.
func (r *BoundaryRegistry) LoadFile(ctx context.Context, path string) error {
	r.logger.Info("loading boundary file", "path", path)

	boundaries, err := r.loader.Load(ctx, path)
	if err != nil {
		r.logger.Error("failed to load boundary file", "path", path, "error", err)
		return err
	}

	now := time.Now()
	r.mu.Lock()
	for _, id := range r.files[path] {
		delete(r.bounds, id)
	}
	ids := make([]string, 0, len(boundaries))
	for i := range boundaries {
		b := boundaries[i]
		b.LoadedAt = now
		r.bounds[b.ID] = &b
		ids = append(ids, b.ID)
	}
	r.files[path] = ids
	r.mu.Unlock()

	r.updateMetrics()
	r.logger.Info("boundary file loaded", "path", path, "boundaries", len(ids))
	return nil
}

// UnloadFile removes the boundaries of one file.
func (r *BoundaryRegistry) UnloadFile(_ context.Context, path string) {
	r.mu.Lock()
	ids, ok := r.files[path]
	for _, id := range ids {
		delete(r.bounds, id)
	}
	delete(r.files, path)
	r.mu.Unlock()

	if ok {
		r.logger.Info("boundary file unloaded", "path", path, "boundaries", len(ids))
		r.updateMetrics()
	}
}

// IsLoaded reports whether the file at path is loaded.
func (r *BoundaryRegistry) IsLoaded(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.files[path]
	return ok
}

// ListBoundaries implements input.BoundaryRegistry. Boundaries are sorted by ID.
func (r *BoundaryRegistry) ListBoundaries(_ context.Context) ([]domain.Boundary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Boundary, 0, len(r.bounds))
	for _, b := range r.bounds {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetBoundary implements input.BoundaryRegistry.
func (r *BoundaryRegistry) GetBoundary(_ context.Context, id string) (*domain.Boundary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bounds[id]
	if !ok {
		return nil, domain.ErrBoundaryNotFound
	}
	return b, nil
}

// BoundaryCount returns the number of loaded boundaries.
func (r *BoundaryRegistry) BoundaryCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bounds)
}

// updateMetrics updates the metrics collector with the current boundary count.
func (r *BoundaryRegistry) updateMetrics() {
	r.metrics.SetBoundariesLoaded(r.BoundaryCount())
}

// LoadLocal loads every supported file below the local boundary directory.
func (r *BoundaryRegistry) LoadLocal(ctx context.Context) error {
	r.logger.Info("loading boundaries", "path", r.localPath)

	return filepath.WalkDir(r.localPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !r.loader.Supports(path) {
			return nil
		}
		if err := r.LoadFile(ctx, path); err != nil {
			r.logger.Warn("skipping boundary file", "path", path, "error", err)
		}
		return nil
	})
}

// SyncStats contains statistics from a sync operation.
type SyncStats struct {
	Added   int
	Updated int
	Removed int
}

// Sync downloads boundary files that are new or changed in remote storage
// and removes local files that no longer exist remotely. A changed sidecar
// reloads its shapefile.
func (r *BoundaryRegistry) Sync(ctx context.Context) (SyncStats, error) {
	if r.storage == nil {
		return SyncStats{}, nil
	}
	r.logger.Info("syncing boundaries from storage")

	start := time.Now()
	objects, err := r.storage.List(ctx)
	r.metrics.ObserveStorageDuration("list", time.Since(start))
	r.metrics.IncStorageOperations("list", err == nil)
	if err != nil {
		return SyncStats{}, &domain.StorageError{Operation: "list", Err: err}
	}

	remote := make(map[string]output.StorageObject) // local path -> object
	for _, obj := range objects {
		if !r.loader.Supports(obj.Key) && !isShapefileSidecar(obj.Key) {
			continue
		}
		remote[filepath.Join(r.localPath, obj.Key)] = obj
	}

	// Shapefile sidecars must be present before the .shp file is loaded.
	keys := make([]string, 0, len(remote))
	for localPath := range remote {
		keys = append(keys, localPath)
	}
	sort.Slice(keys, func(i, j int) bool {
		return isShapefileSidecar(keys[i]) && !isShapefileSidecar(keys[j])
	})

	stats := SyncStats{}
	reload := make(map[string]bool) // shapefiles with a changed sidecar
	for _, localPath := range keys {
		obj := remote[localPath]
		sidecar := isShapefileSidecar(localPath)
		loaded := r.IsLoaded(localPath)
		changed := stale(localPath, obj)

		switch {
		case sidecar && !changed:
			continue
		case !sidecar && loaded && !changed && !reload[localPath]:
			continue
		}

		if changed || !loaded {
			if err := r.download(ctx, obj, localPath); err != nil {
				r.logger.Error("failed to download boundary file", "key", obj.Key, "error", err)
				continue
			}
		}
		if sidecar {
			shp := strings.TrimSuffix(localPath, filepath.Ext(localPath)) + ".shp"
			reload[shp] = r.IsLoaded(shp)
			continue
		}

		if err := r.LoadFile(ctx, localPath); err != nil {
			continue
		}
		if loaded {
			stats.Updated++
		} else {
			stats.Added++
		}
	}

	for _, localPath := range r.filesToRemove(remote) {
		r.UnloadFile(ctx, localPath)
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("failed to delete local boundary file", "path", localPath, "error", err)
		}
		stats.Removed++
	}

	r.logger.Info("sync completed",
		"added", stats.Added,
		"updated", stats.Updated,
		"removed", stats.Removed,
		"total", r.BoundaryCount(),
	)
	return stats, nil
}

// download fetches obj to localPath and stamps it with the remote
// modification time.
func (r *BoundaryRegistry) download(ctx context.Context, obj output.StorageObject, localPath string) error {
	start := time.Now()
	err := r.storage.Download(ctx, obj.Key, localPath)
	r.metrics.ObserveStorageDuration("download", time.Since(start))
	r.metrics.IncStorageOperations("download", err == nil)
	if err != nil {
		return err
	}

	if obj.LastModified > 0 {
		mtime := time.Unix(obj.LastModified, 0)
		if err := os.Chtimes(localPath, mtime, mtime); err != nil {
			r.logger.Warn("failed to set modification time", "path", localPath, "error", err)
		}
	}
	return nil
}

// stale reports whether the local copy of obj is missing or differs from it.
// A zero size or modification time is unknown and never differs.
func stale(localPath string, obj output.StorageObject) bool {
	info, err := os.Stat(localPath)
	if err != nil {
		return true
	}
	if obj.Size > 0 && info.Size() != obj.Size {
		return true
	}
	return obj.LastModified > info.ModTime().Unix()
}

// filesToRemove returns loaded files that are not in remote storage.
func (r *BoundaryRegistry) filesToRemove(remote map[string]output.StorageObject) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for path := range r.files {
		if _, ok := remote[path]; !ok {
			out = append(out, path)
		}
	}
	return out
}

// isShapefileSidecar reports whether path is one of the files that
// accompany a .shp file.
func isShapefileSidecar(path string) bool {
	switch filepath.Ext(path) {
	case ".dbf", ".shx", ".prj", ".cpg":
		return true
	default:
		return false
	}
}
