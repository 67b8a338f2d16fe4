// Package main provides the entry point for the geofetch service and CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/geofetch/internal/app"
	"github.com/jobrunner/geofetch/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "geofetch",
	Short: "geofetch - population and flood forecast raster fetcher",
	Long: `geofetch downloads population rasters and GloFAS discharge forecasts
for administrative boundaries.

Features:
  - Adaptive splitting of areas that exceed the export size limit
  - Mosaicking, clipping and band statistics with GDAL
  - Fallback over GloFAS dataset variants when a request has no data
  - Background jobs with a persistent job ledger
  - Boundary files from local disk, AWS S3, Azure or HTTP
  - TLS with automatic certificate management
  - Prometheus metrics`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job API server",
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("geofetch %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().String("output", "", "output directory")
	rootCmd.PersistentFlags().Int("workers", 0, "concurrent band fetches")
	rootCmd.PersistentFlags().Bool("progress", false, "show download progress")

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "server host")
	serveCmd.Flags().Int("port", 8080, "server port")
	serveCmd.Flags().Bool("tls", false, "enable TLS")
	serveCmd.Flags().StringSlice("tls-domains", nil, "TLS domains")
	serveCmd.Flags().String("tls-email", "", "TLS email for Let's Encrypt")
	serveCmd.Flags().String("boundaries", "./boundaries", "boundary directory")
	serveCmd.Flags().String("storage-type", "none", "boundary storage type (none, local, s3, azure, http)")
	serveCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")

	// Bind flags to viper
	v := viper.GetViper()
	_ = v.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = v.BindPFlag("fetch.progress", rootCmd.PersistentFlags().Lookup("progress"))
	_ = v.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = v.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = v.BindPFlag("tls.enabled", serveCmd.Flags().Lookup("tls"))
	_ = v.BindPFlag("tls.domains", serveCmd.Flags().Lookup("tls-domains"))
	_ = v.BindPFlag("tls.email", serveCmd.Flags().Lookup("tls-email"))
	_ = v.BindPFlag("boundaries.local_path", serveCmd.Flags().Lookup("boundaries"))
	_ = v.BindPFlag("boundaries.storage.type", serveCmd.Flags().Lookup("storage-type"))
	_ = v.BindPFlag("server.cors.allowed_origins", serveCmd.Flags().Lookup("cors"))

	rootCmd.AddCommand(serveCmd, populationCmd, glofasCmd, mosaicCmd, clipCmd, statsCmd, versionCmd)
}

// loadConfig loads the configuration and applies the global overrides that
// have no zero-value default.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if out, _ := cmd.Flags().GetString("output"); out != "" {
		cfg.Fetch.OutputDir = out
	}
	if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
		cfg.Fetch.Workers = n
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger.Info("starting geofetch",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage_type", cfg.Boundaries.Storage.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- application.Start(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func setupLogger(level, format string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: l,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
