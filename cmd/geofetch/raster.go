package main

import (
	"fmt"
	"os"

	"github.com/ctessum/geom"
	"github.com/spf13/cobra"

	"github.com/jobrunner/geofetch/internal/app"
	"github.com/jobrunner/geofetch/internal/domain"
)

var mosaicCmd = &cobra.Command{
	Use:   "mosaic <out.tif> <file>...",
	Short: "Merge rasters into one GeoTIFF and remove the inputs",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runMosaic,
}

var clipCmd = &cobra.Command{
	Use:   "clip <raster> <boundary-file>",
	Short: "Mask a raster with every boundary in a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runClip,
}

var statsCmd = &cobra.Command{
	Use:   "stats <raster>...",
	Short: "Print the minimum and maximum of each raster",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStats,
}

func runMosaic(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	out, files := args[0], args[1:]
	if exists(out) {
		return fmt.Errorf("%s already exists", out)
	}
	services, err := app.NewServices(cfg, nil, logger)
	if err != nil {
		return err
	}
	if err := services.Raster.Mosaic(ctx, files, out); err != nil {
		return err
	}
	logger.Info("mosaic written", "path", out, "inputs", len(files))
	return nil
}

func runClip(cmd *cobra.Command, args []string) error {
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
	boundaries, err := services.Loader.Load(ctx, args[1])
	if err != nil {
		return err
	}
	var aoi geom.MultiPolygon
	for _, b := range boundaries {
		aoi = append(aoi, b.Geometry...)
	}

	out, err := services.Raster.Clip(ctx, args[0], aoi)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	services, err := app.NewServices(cfg, nil, logger)
	if err != nil {
		return err
	}

	type fileStats struct {
		Path  string              `json:"path"`
		Stats *domain.RasterStats `json:"stats,omitempty"`
		Error string              `json:"error,omitempty"`
	}
	var failed int
	results := make([]fileStats, 0, len(args))
	for _, path := range args {
		stats, err := services.Raster.Stats(path)
		if err != nil {
			failed++
			results = append(results, fileStats{Path: path, Error: err.Error()})
			continue
		}
		results = append(results, fileStats{Path: path, Stats: &stats})
	}
	if err := printJSON(cmd, results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d rasters failed", failed, len(args))
	}
	return nil
}

// exists reports whether path can be stat'ed.
func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
