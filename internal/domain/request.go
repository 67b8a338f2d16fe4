package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ImageRequest describes a raster to fetch from the image export service.
// Image is passed through to the service unchanged.
type ImageRequest struct {
	Image     string  // Asset or collection identifier
	Band      string  // Band to export
	Year      int     // Acquisition year, used for naming
	Scale     float64 // Pixel size in metres
	OutputDir string  // Directory that receives the downloaded files
}

// Validate checks the request fields.
func (r ImageRequest) Validate() error {
	if r.Image == "" {
		return &ValidationError{Field: "image", Value: r.Image, Constraint: "required", Message: "image is required"}
	}
	if r.Band == "" {
		return &ValidationError{Field: "band", Value: r.Band, Constraint: "required", Message: "band is required"}
	}
	if r.Scale <= 0 {
		return &ValidationError{Field: "scale", Value: r.Scale, Constraint: "> 0", Message: "scale must be positive"}
	}
	if r.OutputDir == "" {
		return &ValidationError{Field: "output_dir", Value: r.OutputDir, Constraint: "required", Message: "output directory is required"}
	}
	return nil
}

var nameReplacer = strings.NewReplacer("-", "_", "/", "_", " ", "_")

// SanitizeName replaces characters that are unsafe in file names.
func SanitizeName(s string) string {
	return nameReplacer.Replace(s)
}

// CellFileName returns the deterministic file name of one split cell.
func (r ImageRequest) CellFileName(splitCount, index int) string {
	return filepath.Join(r.OutputDir,
		fmt.Sprintf("%s_%d_%d_%d.tif", SanitizeName(r.Band), r.Year, splitCount, index))
}

// MosaicFileName returns the file name of the merged raster for the band.
func (r ImageRequest) MosaicFileName() string {
	return filepath.Join(r.OutputDir, fmt.Sprintf("mosaic_%s.tif", SanitizeName(r.Band)))
}

// SplitResult is the result of a split fetch.
type SplitResult struct {
	Files          []string // Downloaded files, largest cell first
	MosaicRequired bool     // Files must be merged before use
	SplitCount     int      // Split count that succeeded
}
