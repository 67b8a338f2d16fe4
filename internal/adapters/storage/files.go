// Package storage provides object storage adapters for boundary files.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// boundaryExtensions are the file types synced from object storage:
// GeoJSON files and shapefiles with their sidecars.
var boundaryExtensions = map[string]bool{
	".geojson": true,
	".json":    true,
	".shp":     true,
	".shx":     true,
	".dbf":     true,
	".prj":     true,
	".cpg":     true,
}

// IsBoundaryFile reports whether name has a boundary file extension.
func IsBoundaryFile(name string) bool {
	return boundaryExtensions[strings.ToLower(filepath.Ext(name))]
}

// relativeKey strips prefix and a leading slash from key.
func relativeKey(key, prefix string) string {
	return strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
}

// joinKey returns key below prefix.
func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}

// writeFile streams r into dest. A partially written file is removed.
func writeFile(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}

	f, err := os.Create(dest) //#nosec G304 -- dest is a controlled local path
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return f.Close()
}
