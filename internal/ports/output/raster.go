package output

import (
	"context"

	"github.com/ctessum/geom"

	"github.com/jobrunner/geofetch/internal/domain"
)

// RasterProcessor defines the secondary port for raster file operations.
type RasterProcessor interface {
	// Mosaic merges files into a single GeoTIFF at out and removes the
	// inputs. It must not be called twice with the same inputs.
	Mosaic(ctx context.Context, files []string, out string) error

	// Clip masks the raster at path with aoi and writes <base>_clipped.tif.
	Clip(ctx context.Context, path string, aoi geom.MultiPolygon) (string, error)

	// Stats returns the minimum and maximum of the first band, ignoring
	// values of 9999 and above.
	Stats(path string) (domain.RasterStats, error)

	// ToGeoTIFF converts a raster in another format (GRIB) to GeoTIFF.
	ToGeoTIFF(ctx context.Context, path, out string) error
}
