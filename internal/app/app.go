// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jobrunner/geofetch/internal/adapters/boundary"
	"github.com/jobrunner/geofetch/internal/adapters/cds"
	"github.com/jobrunner/geofetch/internal/adapters/earthengine"
	httpAdapter "github.com/jobrunner/geofetch/internal/adapters/http"
	"github.com/jobrunner/geofetch/internal/adapters/ledger"
	"github.com/jobrunner/geofetch/internal/adapters/metrics"
	"github.com/jobrunner/geofetch/internal/adapters/raster"
	"github.com/jobrunner/geofetch/internal/adapters/storage"
	tlsAdapter "github.com/jobrunner/geofetch/internal/adapters/tls"
	"github.com/jobrunner/geofetch/internal/adapters/watcher"
	"github.com/jobrunner/geofetch/internal/application"
	"github.com/jobrunner/geofetch/internal/config"
	"github.com/jobrunner/geofetch/internal/domain"
	"github.com/jobrunner/geofetch/internal/ports/output"
)

// Services holds the fetch pipeline shared by the server and the CLI.
type Services struct {
	Metrics    output.MetricsCollector
	Loader     *boundary.Loader
	Raster     *raster.Processor
	Splitter   *application.GeometrySplitter
	Population *application.PopulationService
	GloFAS     *application.GloFASService
}

// NewServices wires the fetch pipeline from cfg.
func NewServices(cfg *config.Config, collector output.MetricsCollector, logger *slog.Logger) (*Services, error) {
	if collector == nil {
		collector = &output.NoOpMetrics{}
	}

	table := domain.DefaultGloFASOptions(time.Now())
	if cfg.Fetch.OptionsFile != "" {
		t, err := domain.LoadOptionTable(cfg.Fetch.OptionsFile)
		if err != nil {
			return nil, fmt.Errorf("loading GloFAS options: %w", err)
		}
		table = t
	}

	images := earthengine.New(earthengine.Config{
		Endpoint:        cfg.EarthEngine.Endpoint,
		Project:         cfg.EarthEngine.Project,
		Token:           cfg.EarthEngine.Token,
		RequestTimeout:  cfg.Fetch.RequestTimeout,
		DownloadTimeout: cfg.Fetch.DownloadTimeout,
		Progress:        cfg.Fetch.Progress,
	})
	store := cds.New(cds.Config{
		URL:             cfg.CDS.URL,
		Key:             cfg.CDS.Key,
		RequestTimeout:  cfg.Fetch.RequestTimeout,
		DownloadTimeout: cfg.Fetch.DownloadTimeout,
		PollInterval:    cfg.CDS.PollInterval,
		MaxPollInterval: cfg.CDS.MaxPollInterval,
		MaxWait:         cfg.CDS.MaxWait,
	}, logger)

	s := &Services{
		Metrics: collector,
		Loader:  boundary.NewLoader(cfg.Boundaries.NameField, logger),
		Raster:  raster.NewProcessor(os.TempDir()),
	}
	s.Splitter = application.NewGeometrySplitter(images, images, collector, logger, cfg.Fetch.MaxCells)
	s.Population = application.NewPopulationService(s.Splitter, s.Raster, collector, logger, cfg.Fetch.Workers)
	s.GloFAS = application.NewGloFASService(store, s.Raster, table, application.GloFASOptions{
		ConvertToGeoTIFF: cfg.Fetch.ConvertGRIB,
		Clip:             cfg.Fetch.Clip && cfg.Fetch.ConvertGRIB,
	}, collector, logger)

	return s, nil
}

// App holds all components of the API server.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Services      *Services
	Metrics       *metrics.Collector
	Storage       output.ObjectStorage
	Ledger        *ledger.SQLite
	Registry      *application.BoundaryRegistry
	SyncService   *application.SyncService
	JobService    *application.JobService
	HealthService *application.HealthService
	HTTPServer    *httpAdapter.Server
	TLSServer     *tlsAdapter.Server
	Watcher       *watcher.Watcher

	stopOnce sync.Once
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	var collector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)
		collector = app.Metrics
	}

	services, err := NewServices(cfg, collector, logger)
	if err != nil {
		return nil, err
	}
	app.Services = services

	store, err := initStorage(ctx, cfg.Boundaries.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = store

	app.Ledger, err = ledger.Open(ctx, cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("opening job ledger: %w", err)
	}

	app.Registry = application.NewBoundaryRegistry(
		services.Loader,
		app.Storage,
		collector,
		logger,
		cfg.Boundaries.LocalPath,
	)

	if app.Storage != nil {
		app.SyncService = application.NewSyncService(app.Registry, cfg.Boundaries.SyncInterval, logger)
	}

	app.JobService = application.NewJobService(
		app.Registry,
		services.Population,
		services.GloFAS,
		app.Ledger,
		collector,
		logger,
		cfg.Fetch.OutputDir,
	)

	app.HealthService = application.NewHealthService(app.Registry, app.JobService)

	// A nil *SyncService must not become a non-nil Syncer.
	var syncer httpAdapter.Syncer
	if app.SyncService != nil {
		syncer = app.SyncService
	}
	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		app.JobService,
		app.Registry,
		app.HealthService,
		syncer,
		httpAdapter.RequestDefaults{
			Scale:        cfg.Fetch.Scale,
			Clip:         cfg.Fetch.Clip,
			InitialSplit: cfg.Fetch.InitialSplit,
		},
		logger,
	)
	if app.Metrics != nil {
		app.HTTPServer.EnableMetrics(cfg.Metrics.Path, metrics.Handler(), app.Metrics.Middleware)
	}

	app.TLSServer, err = tlsAdapter.NewServer(
		tlsAdapter.Config{
			Enabled:  cfg.TLS.Enabled,
			Domains:  cfg.TLS.Domains,
			Email:    cfg.TLS.Email,
			CacheDir: cfg.TLS.CacheDir,
			Staging:  cfg.TLS.Staging,
			DNS: tlsAdapter.DNSConfig{
				SubscriptionID:    cfg.TLS.AzureDNS.SubscriptionID,
				ResourceGroupName: cfg.TLS.AzureDNS.ResourceGroupName,
				ClientID:          cfg.TLS.AzureDNS.ClientID,
			},
		},
		app.HTTPServer.HTTPServer(),
		logger,
	)
	if err != nil {
		_ = app.Ledger.Close()
		return nil, fmt.Errorf("initializing TLS: %w", err)
	}

	if cfg.Boundaries.Watch {
		w, err := watcher.New(
			watcher.Config{
				Root:     cfg.Boundaries.LocalPath,
				Debounce: cfg.Boundaries.WatchDebounce,
				Filter:   storage.IsBoundaryFile,
			},
			app.handleFileEvent,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Start loads the boundaries, starts the background services and serves
// until Shutdown is called.
func (a *App) Start(ctx context.Context) error {
	if err := os.MkdirAll(a.Config.Boundaries.LocalPath, 0o755); err != nil {
		return fmt.Errorf("creating boundary directory: %w", err)
	}
	if err := a.Registry.LoadLocal(ctx); err != nil {
		a.Logger.Warn("failed to load boundaries", "error", err)
	}

	if a.SyncService != nil {
		if _, err := a.Registry.Sync(ctx); err != nil {
			a.Logger.Warn("initial boundary sync failed", "error", err)
		}
		a.SyncService.Start(ctx)
	}

	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	if err := a.TLSServer.ManageCertificates(ctx); err != nil {
		return fmt.Errorf("obtaining certificates: %w", err)
	}

	a.Logger.Info("server listening", "address", a.Config.Server.Address(), "tls", a.Config.TLS.Enabled)
	return a.TLSServer.ListenAndServe()
}

// Shutdown stops accepting requests, waits for running jobs and releases
// all resources.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.Logger.Info("shutting down application")

		if a.Watcher != nil {
			_ = a.Watcher.Stop()
		}
		if a.SyncService != nil {
			a.SyncService.Stop()
		}

		if err := a.TLSServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}

		if err := a.JobService.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("job shutdown: %w", err))
		}

		if err := a.Ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing job ledger: %w", err))
		}
	})
	return errors.Join(errs...)
}

// handleFileEvent reloads boundary files changed in the local directory.
// A changed shapefile sidecar reloads its .shp file.
func (a *App) handleFileEvent(ctx context.Context, event watcher.Event) error {
	a.Logger.Info("file event", "path", event.Path, "operation", event.Operation.String())

	path := event.Path
	if !a.Registry.Supports(path) {
		shp := strings.TrimSuffix(path, filepath.Ext(path)) + ".shp"
		if _, err := os.Stat(shp); err != nil {
			return nil
		}
		return a.Registry.LoadFile(ctx, shp)
	}

	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		return a.Registry.LoadFile(ctx, path)
	case watcher.OpDelete:
		a.Registry.UnloadFile(ctx, path)
	}
	return nil
}

// initStorage initializes the remote boundary storage. It returns nil when
// boundaries only come from the local directory.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch output.StorageType(cfg.Type) {
	case "", output.StorageTypeNone:
		return nil, nil

	case output.StorageTypeLocal:
		return storage.NewLocalStorage(cfg.Local.Path), nil

	case output.StorageTypeS3:
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case output.StorageTypeAzure:
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	case output.StorageTypeHTTP:
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
