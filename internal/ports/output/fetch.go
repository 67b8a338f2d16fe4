package output

import (
	"context"

	"github.com/ctessum/geom"

	"github.com/jobrunner/geofetch/internal/domain"
)

// ImageFetcher defines the secondary port for the image export service.
//
// DownloadURL returns an error wrapping domain.ErrTooLarge when the export
// of region exceeds the service limit. Any other error is fatal for the
// fetch.
type ImageFetcher interface {
	DownloadURL(ctx context.Context, req domain.ImageRequest, region geom.Polygon) (string, error)
}

// Downloader streams a remote file to disk. Every failure is fatal.
type Downloader interface {
	Download(ctx context.Context, url string, dest string) error
}

// ClimateDataStore defines the secondary port for the climate data store
// that serves GloFAS products.
type ClimateDataStore interface {
	// Retrieve runs the request and writes the result to dest. It returns an
	// error wrapping domain.ErrNoDataForParameters when the service has no
	// data for the requested combination.
	Retrieve(ctx context.Context, req domain.GloFASRequest, options domain.ProductOptions, dest string) error
}
