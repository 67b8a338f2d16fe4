package domain

import "github.com/ctessum/geom"

// Image collections of the population products.
const (
	PopulationCollection = "WorldPop/GP/100m/pop"
	AgeSexCollection     = "WorldPop/GP/100m/pop_age_sex_cons_unadj"
)

// AgeSexBands lists the bands of the age and sex structure product.
var AgeSexBands = []string{
	"population",
	"M_0", "M_1", "M_5", "M_10", "M_15", "M_20", "M_25", "M_30", "M_35",
	"M_40", "M_45", "M_50", "M_55", "M_60", "M_65", "M_70", "M_75", "M_80",
	"F_0", "F_1", "F_5", "F_10", "F_15", "F_20", "F_25", "F_30", "F_35",
	"F_40", "F_45", "F_50", "F_55", "F_60", "F_65", "F_70", "F_75", "F_80",
}

// PopulationRequest asks for one raster per band over an area of interest.
type PopulationRequest struct {
	Image     string            // Image collection
	Bands     []string          // Bands to fetch, AgeSexBands if empty
	Year      int               // Year used for naming
	Scale     float64           // Pixel size in metres
	AOI       geom.MultiPolygon // Area of interest
	Clip      bool              // Clip each band raster to the AOI
	Split     int               // Initial split count, 1 if zero
	OutputDir string            // Directory that receives the rasters

	// StatisticsOnly keeps only the statistics file; band rasters are
	// removed once their statistics are computed.
	StatisticsOnly bool
}

// Validate checks the request fields.
func (r PopulationRequest) Validate() error {
	if len(r.AOI) == 0 {
		return ErrInvalidGeometry
	}
	if r.Split != 0 && !IsPerfectSquare(r.Split) {
		return &ValidationError{Field: "split", Value: r.Split, Constraint: "perfect square", Message: "split must be a perfect square"}
	}
	if r.Year < 1 {
		return &ValidationError{Field: "year", Value: r.Year, Constraint: "> 0", Message: "year is required"}
	}
	return r.ImageRequest("population").Validate()
}

// InitialSplit returns the split count of the first attempt.
func (r PopulationRequest) InitialSplit() int {
	if r.Split < 1 {
		return 1
	}
	return r.Split
}

// BandList returns the bands to fetch.
func (r PopulationRequest) BandList() []string {
	if len(r.Bands) == 0 {
		return AgeSexBands
	}
	return r.Bands
}

// ImageRequest returns the fetch request of a single band.
func (r PopulationRequest) ImageRequest(band string) ImageRequest {
	return ImageRequest{
		Image:     r.Image,
		Band:      band,
		Year:      r.Year,
		Scale:     r.Scale,
		OutputDir: r.OutputDir,
	}
}

// BandResult is the result of fetching one band.
type BandResult struct {
	Band  string       `json:"band"`
	Path  string       `json:"path,omitempty"`
	Stats *RasterStats `json:"stats,omitempty"`
	Err   error        `json:"-"`
	Error string       `json:"error,omitempty"`
}

// Failed reports whether the band could not be fetched.
func (r BandResult) Failed() bool {
	return r.Err != nil
}

// RasterStats holds summary values of a single band raster.
type RasterStats struct {
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	NoData    float64 `json:"nodata"`
	HasNoData bool    `json:"has_nodata"`
}
