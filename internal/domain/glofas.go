package domain

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/ctessum/geom"
	"gopkg.in/yaml.v3"
)

// GloFASForecast is the product identity of the GloFAS forecast dataset.
const GloFASForecast = "cems-glofas-forecast"

// Combination is one dataset variant of a GloFAS product.
type Combination struct {
	SystemVersion     string `json:"system_version" yaml:"system_version"`
	HydrologicalModel string `json:"hydrological_model" yaml:"hydrological_model"`
	ProductType       string `json:"product_type" yaml:"product_type"`
}

// String returns the combination as a slash separated triple.
func (c Combination) String() string {
	return c.SystemVersion + "/" + c.HydrologicalModel + "/" + c.ProductType
}

// ProductOptions holds the valid values of each request field of a product.
type ProductOptions struct {
	SystemVersions     []string `yaml:"system_version"`
	HydrologicalModels []string `yaml:"hydrological_model"`
	ProductTypes       []string `yaml:"product_type"`
	Variable           string   `yaml:"variable"`
	LeadtimeHours      []int    `yaml:"leadtime_hour"`
	Years              []int    `yaml:"year"`
	Months             []string `yaml:"month"`
	Days               []int    `yaml:"day"`
	Format             string   `yaml:"format"`
}

// Combinations returns the cross-product of the option lists in declaration
// order, with system version varying slowest and product type fastest. The
// combination already attempted is left out.
func (o ProductOptions) Combinations(attempted Combination) []Combination {
	out := make([]Combination, 0, len(o.SystemVersions)*len(o.HydrologicalModels)*len(o.ProductTypes))
	for _, sv := range o.SystemVersions {
		for _, hm := range o.HydrologicalModels {
			for _, pt := range o.ProductTypes {
				c := Combination{SystemVersion: sv, HydrologicalModel: hm, ProductType: pt}
				if c == attempted {
					continue
				}
				out = append(out, c)
			}
		}
	}
	return out
}

// OptionTable maps a product identity to its options.
type OptionTable map[string]ProductOptions

// Product returns the options of a product.
func (t OptionTable) Product(name string) (ProductOptions, error) {
	o, ok := t[name]
	if !ok {
		return ProductOptions{}, fmt.Errorf("%s: %w", name, ErrUnknownProduct)
	}
	return o, nil
}

// DefaultGloFASOptions returns the option table of the GloFAS forecast
// product. Years run from 2020 to the year of now.
func DefaultGloFASOptions(now time.Time) OptionTable {
	leadtimes := make([]int, 0, 30)
	for h := 24; h <= 720; h += 24 {
		leadtimes = append(leadtimes, h)
	}
	var years []int
	for y := 2020; y <= now.Year(); y++ {
		years = append(years, y)
	}
	days := make([]int, 0, 8)
	for d := 24; d <= 31; d++ {
		days = append(days, d)
	}

	return OptionTable{
		GloFASForecast: {
			SystemVersions:     []string{"operational", "version_3_1", "version_2_1"},
			HydrologicalModels: []string{"lisflood", "htessel_lisflood"},
			ProductTypes:       []string{"control_forecast", "ensemble_perturbed_forecasts"},
			Variable:           "river_discharge_in_the_last_24_hours",
			LeadtimeHours:      leadtimes,
			Years:              years,
			Months:             []string{"01", "02", "03", "04", "05", "06", "07", "08", "09", "10", "11", "12"},
			Days:               days,
			Format:             "grib",
		},
	}
}

// LoadOptionTable reads an option table from a YAML file keyed by product.
func LoadOptionTable(path string) (OptionTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading option table: %w", err)
	}
	var t OptionTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing option table: %w", err)
	}
	if len(t) == 0 {
		return nil, &ValidationError{Field: "products", Value: path, Constraint: "non-empty", Message: "option table has no products"}
	}
	return t, nil
}

// Area is a request area in north, west, south, east order.
type Area [4]float64

// GloFASRequest is a typed request to the climate data store.
type GloFASRequest struct {
	Combination

	Product      string `json:"product"`
	LeadtimeHour int    `json:"leadtime_hour"`
	Year         int    `json:"year"`
	Month        string `json:"month"`
	Day          int    `json:"day"`
	Area         Area   `json:"area"`
	Label        string `json:"label"` // Boundary label used for naming, "userdefined" if empty
	Index        int    `json:"index"` // Position of the boundary in a batch
	OutputDir    string `json:"output_dir"`
}

// Validate checks the request against the product options.
func (r GloFASRequest) Validate(o ProductOptions) error {
	if r.OutputDir == "" {
		return &ValidationError{Field: "output_dir", Value: r.OutputDir, Constraint: "required", Message: "output directory is required"}
	}
	checks := []struct {
		field string
		value interface{}
		ok    bool
	}{
		{"system_version", r.SystemVersion, slices.Contains(o.SystemVersions, r.SystemVersion)},
		{"hydrological_model", r.HydrologicalModel, slices.Contains(o.HydrologicalModels, r.HydrologicalModel)},
		{"product_type", r.ProductType, slices.Contains(o.ProductTypes, r.ProductType)},
		{"leadtime_hour", r.LeadtimeHour, slices.Contains(o.LeadtimeHours, r.LeadtimeHour)},
		{"year", r.Year, slices.Contains(o.Years, r.Year)},
		{"month", r.Month, slices.Contains(o.Months, r.Month)},
		{"day", r.Day, slices.Contains(o.Days, r.Day)},
	}
	for _, c := range checks {
		if !c.ok {
			return &ValidationError{
				Field:      c.field,
				Value:      c.value,
				Constraint: "one of the product options",
				Message:    fmt.Sprintf("%s is not offered by %s", c.field, r.Product),
			}
		}
	}
	north, west, south, east := r.Area[0], r.Area[1], r.Area[2], r.Area[3]
	if north <= south || east <= west {
		return &ValidationError{Field: "area", Value: r.Area, Constraint: "north > south, east > west", Message: "area is empty"}
	}
	return nil
}

// WithCombination returns a copy of r using c.
func (r GloFASRequest) WithCombination(c Combination) GloFASRequest {
	r.Combination = c
	return r
}

// FileName returns the output file name of the request.
func (r GloFASRequest) FileName() string {
	label := r.Label
	if label == "" {
		label = "userdefined"
	}
	return fmt.Sprintf("%s_%s_%d_%d_%s_%02d.grib",
		r.Product, SanitizeName(label), r.Index, r.Year, r.Month, r.Day)
}

// Polygon returns the rectangle covered by the area.
func (a Area) Polygon() geom.Polygon {
	north, west, south, east := a[0], a[1], a[2], a[3]
	return geom.Polygon{{
		{X: west, Y: south},
		{X: east, Y: south},
		{X: east, Y: north},
		{X: west, Y: north},
		{X: west, Y: south},
	}}
}

// AreaFromBounds returns the request area covering the given extent.
func AreaFromBounds(minX, minY, maxX, maxY float64) Area {
	return Area{maxY, minX, minY, maxX}
}
