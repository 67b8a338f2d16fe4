package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jobrunner/geofetch/internal/app"
	"github.com/jobrunner/geofetch/internal/config"
	"github.com/jobrunner/geofetch/internal/domain"
	"github.com/jobrunner/geofetch/internal/ports/input"
)

var populationCmd = &cobra.Command{
	Use:   "population <boundary-file>",
	Short: "Fetch population rasters for every boundary in a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runPopulation,
}

var glofasCmd = &cobra.Command{
	Use:   "glofas [boundary-file]",
	Short: "Fetch a GloFAS forecast per boundary, or for --area",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGloFAS,
}

func init() {
	f := populationCmd.Flags()
	f.Int("year", 2020, "population year")
	f.String("image", domain.AgeSexCollection, "image collection")
	f.StringSlice("bands", nil, "bands to fetch (default: every age and sex band)")
	f.Float64("scale", 0, "pixel size in metres (default from config)")
	f.Int("split", 0, "initial split count, a perfect square (default from config)")
	f.Bool("no-clip", false, "keep rasters unclipped")
	f.Bool("statistics-only", false, "write only statistics.json and remove the band rasters")

	g := glofasCmd.Flags()
	g.String("product", domain.GloFASForecast, "product name in the option table")
	g.String("system-version", "operational", "system version")
	g.String("model", "lisflood", "hydrological model")
	g.String("product-type", "control_forecast", "product type")
	g.Int("leadtime", 24, "lead time in hours")
	g.Int("year", time.Now().Year(), "forecast year")
	g.String("month", fmt.Sprintf("%02d", int(time.Now().Month())), "forecast month")
	g.Int("day", 1, "forecast day")
	g.String("area", "", "north,west,south,east instead of a boundary file")
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runDir returns the output directory of a CLI run.
func runDir(cfg config.FetchConfig, now time.Time) string {
	if !cfg.CreateSubFolder {
		return cfg.OutputDir
	}
	return filepath.Join(cfg.OutputDir, now.Format("20060102_150405"))
}

func runPopulation(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	services, err := app.NewServices(cfg, nil, logger)
	if err != nil {
		return err
	}
	boundaries, err := services.Loader.Load(ctx, args[0])
	if err != nil {
		return err
	}

	f := cmd.Flags()
	year, _ := f.GetInt("year")
	image, _ := f.GetString("image")
	bands, _ := f.GetStringSlice("bands")
	scale, _ := f.GetFloat64("scale")
	split, _ := f.GetInt("split")
	noClip, _ := f.GetBool("no-clip")
	statsOnly, _ := f.GetBool("statistics-only")
	if scale == 0 {
		scale = cfg.Fetch.Scale
	}
	if split == 0 {
		split = cfg.Fetch.InitialSplit
	}

	dir := runDir(cfg.Fetch, time.Now())
	var failed []string
	for i, b := range boundaries {
		req := domain.PopulationRequest{
			Image:     image,
			Bands:     bands,
			Year:      year,
			Scale:     scale,
			AOI:       b.Geometry,
			Clip:      cfg.Fetch.Clip && !noClip,
			Split:     split,
			OutputDir: filepath.Join(dir, boundaryDir(b.Name, i)),

			StatisticsOnly: statsOnly,
		}
		logger.Info("fetching population", "boundary", b.Name, "bands", len(req.BandList()), "output", req.OutputDir)

		results, fetchErr := services.Population.FetchBands(ctx, req)
		if err := printJSON(cmd, map[string]interface{}{"boundary": b.Name, "bands": sortedResults(results)}); err != nil {
			return err
		}
		if fetchErr != nil {
			if ctx.Err() != nil {
				return fetchErr
			}
			failed = append(failed, b.Name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("no band fetched for %s", strings.Join(failed, ", "))
	}
	return nil
}

func runGloFAS(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	services, err := app.NewServices(cfg, nil, logger)
	if err != nil {
		return err
	}

	f := cmd.Flags()
	req := domain.GloFASRequest{OutputDir: runDir(cfg.Fetch, time.Now())}
	req.Product, _ = f.GetString("product")
	req.SystemVersion, _ = f.GetString("system-version")
	req.HydrologicalModel, _ = f.GetString("model")
	req.ProductType, _ = f.GetString("product-type")
	req.LeadtimeHour, _ = f.GetInt("leadtime")
	req.Year, _ = f.GetInt("year")
	req.Month, _ = f.GetString("month")
	req.Day, _ = f.GetInt("day")

	if len(args) == 0 {
		area, _ := f.GetString("area")
		if area == "" {
			return errors.New("a boundary file or --area is required")
		}
		if req.Area, err = parseArea(area); err != nil {
			return err
		}
		out, err := services.GloFAS.Fetch(ctx, req, nil)
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	}

	boundaries, err := services.Loader.Load(ctx, args[0])
	if err != nil {
		return err
	}
	return fetchGloFASBoundaries(ctx, services.GloFAS, req, boundaries, logger, func(out *input.GloFASOutput) error {
		return printJSON(cmd, out)
	})
}

// fetchGloFASBoundaries fetches req once per boundary, each into its own
// directory below req.OutputDir so the sidecars of one boundary are never
// overwritten by the next. A failing boundary is logged and the others are
// still fetched; the failures are returned joined.
func fetchGloFASBoundaries(
	ctx context.Context,
	fetcher input.GloFASFetcher,
	req domain.GloFASRequest,
	boundaries []domain.Boundary,
	logger *slog.Logger,
	emit func(*input.GloFASOutput) error,
) error {
	var errs []error
	for i := range boundaries {
		b := &boundaries[i]
		r := req
		r.Index = i
		r.OutputDir = filepath.Join(req.OutputDir, boundaryDir(b.Name, i))

		out, err := fetcher.Fetch(ctx, r, b)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			logger.Error("glofas fetch failed", "boundary", b.Name, "index", i, "error", err)
			errs = append(errs, fmt.Errorf("boundary %s (%d): %w", b.Name, i, err))
			continue
		}
		if err := emit(out); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

// boundaryDir names the output directory of the i-th boundary of a run.
func boundaryDir(name string, i int) string {
	return fmt.Sprintf("%s_%d", domain.SanitizeName(name), i)
}

// parseArea parses "north,west,south,east".
func parseArea(s string) (domain.Area, error) {
	var a domain.Area
	parts := strings.Split(s, ",")
	if len(parts) != len(a) {
		return a, fmt.Errorf("area %q: want north,west,south,east", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return a, fmt.Errorf("area %q: %w", s, err)
		}
		a[i] = v
	}
	return a, nil
}

// sortedResults returns band results in band order.
func sortedResults(results map[string]domain.BandResult) []domain.BandResult {
	out := make([]domain.BandResult, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Band < out[j].Band })
	return out
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
