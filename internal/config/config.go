// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrunner/geofetch/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	TLS         TLSConfig         `mapstructure:"tls"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	EarthEngine EarthEngineConfig `mapstructure:"earthengine"`
	CDS         CDSConfig         `mapstructure:"cds"`
	Boundaries  BoundariesConfig  `mapstructure:"boundaries"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Domains  []string       `mapstructure:"domains"`
	Email    string         `mapstructure:"email"`
	CacheDir string         `mapstructure:"cache_dir"`
	Staging  bool           `mapstructure:"staging"` // Use Let's Encrypt staging
	AzureDNS AzureDNSConfig `mapstructure:"azure_dns"`
}

// AzureDNSConfig enables DNS-01 challenges through Azure DNS.
type AzureDNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"`
}

// FetchConfig holds the settings shared by all fetches.
type FetchConfig struct {
	OutputDir       string        `mapstructure:"output_dir"`
	CreateSubFolder bool          `mapstructure:"create_sub_folder"` // Timestamped folder per CLI run
	InitialSplit    int           `mapstructure:"initial_split"`
	MaxCells        int           `mapstructure:"max_cells"`
	Workers         int           `mapstructure:"workers"`
	Scale           float64       `mapstructure:"scale"`
	Clip            bool          `mapstructure:"clip"`
	ConvertGRIB     bool          `mapstructure:"convert_grib"` // Convert GloFAS downloads to GeoTIFF
	OptionsFile     string        `mapstructure:"options_file"` // GloFAS option table, built-in if empty
	Progress        bool          `mapstructure:"progress"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
}

// EarthEngineConfig holds the image export service configuration.
type EarthEngineConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Project  string `mapstructure:"project"`
	Token    string `mapstructure:"token"`
}

// CDSConfig holds the Climate Data Store configuration.
type CDSConfig struct {
	URL             string        `mapstructure:"url"`
	Key             string        `mapstructure:"key"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxPollInterval time.Duration `mapstructure:"max_poll_interval"`
	MaxWait         time.Duration `mapstructure:"max_wait"`
}

// BoundariesConfig holds boundary file configuration.
type BoundariesConfig struct {
	LocalPath     string        `mapstructure:"local_path"`
	NameField     string        `mapstructure:"name_field"`
	Watch         bool          `mapstructure:"watch"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
	SyncInterval  time.Duration `mapstructure:"sync_interval"`
	Storage       StorageConfig `mapstructure:"storage"`
}

// StorageConfig holds the remote source of boundary files.
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // none, local, s3, azure, http
	Local LocalConfig `mapstructure:"local"`
	S3    S3Config    `mapstructure:"s3"`
	Azure AzureConfig `mapstructure:"azure"`
	HTTP  HTTPConfig  `mapstructure:"http"`
}

// LocalConfig holds a mirror directory, e.g. a mounted network share.
type LocalConfig struct {
	Path string `mapstructure:"path"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// LedgerConfig holds the job ledger configuration.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values on v.
func Defaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors.allowed_origins", []string{})

	// TLS defaults
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cache_dir", "./.certmagic")
	v.SetDefault("tls.staging", false)

	// Fetch defaults
	v.SetDefault("fetch.output_dir", "./output")
	v.SetDefault("fetch.create_sub_folder", false)
	v.SetDefault("fetch.initial_split", 1)
	v.SetDefault("fetch.max_cells", 256)
	v.SetDefault("fetch.workers", 4)
	v.SetDefault("fetch.scale", 100.0)
	v.SetDefault("fetch.clip", true)
	v.SetDefault("fetch.convert_grib", false)
	v.SetDefault("fetch.progress", false)
	v.SetDefault("fetch.request_timeout", 2*time.Minute)
	v.SetDefault("fetch.download_timeout", 30*time.Minute)

	// Service defaults
	v.SetDefault("earthengine.endpoint", "https://earthengine.googleapis.com")
	v.SetDefault("cds.url", "https://cds.climate.copernicus.eu/api/v2")
	v.SetDefault("cds.poll_interval", 2*time.Second)
	v.SetDefault("cds.max_poll_interval", time.Minute)
	v.SetDefault("cds.max_wait", 2*time.Hour)

	// Boundary defaults
	v.SetDefault("boundaries.local_path", "./boundaries")
	v.SetDefault("boundaries.watch", true)
	v.SetDefault("boundaries.watch_debounce", 500*time.Millisecond)
	v.SetDefault("boundaries.sync_interval", 0)
	v.SetDefault("boundaries.storage.type", "none")
	v.SetDefault("boundaries.storage.http.index_file", "index.txt")
	v.SetDefault("boundaries.storage.http.timeout", 5*time.Minute)

	// Ledger defaults
	v.SetDefault("ledger.path", "./data/jobs.db")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "geofetch")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file. Flags bound to
// v before Load take precedence over both.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	Defaults(v)

	// Environment variable binding
	v.SetEnvPrefix("GEOFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/geofetch")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &domain.ConfigError{Field: "server.port", Message: fmt.Sprintf("invalid port %d", c.Server.Port)}
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return &domain.ConfigError{Field: "tls.domains", Message: "TLS enabled but no domains specified"}
		}
		if c.TLS.Email == "" {
			return &domain.ConfigError{Field: "tls.email", Message: "TLS enabled but no email specified"}
		}
	}

	if err := c.Fetch.validate(); err != nil {
		return err
	}

	if c.CDS.PollInterval <= 0 || c.CDS.MaxWait < c.CDS.PollInterval {
		return &domain.ConfigError{Field: "cds.max_wait", Message: "poll interval must be positive and below the maximum wait"}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &domain.ConfigError{Field: "logging.level", Message: fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}

	return c.Boundaries.Storage.validate()
}

func (f *FetchConfig) validate() error {
	if f.OutputDir == "" {
		return &domain.ConfigError{Field: "fetch.output_dir", Message: "output directory is required"}
	}
	if !domain.IsPerfectSquare(f.InitialSplit) {
		return &domain.ConfigError{Field: "fetch.initial_split", Message: fmt.Sprintf("%d is not a perfect square", f.InitialSplit)}
	}
	if !domain.IsPerfectSquare(f.MaxCells) || f.MaxCells < f.InitialSplit {
		return &domain.ConfigError{Field: "fetch.max_cells", Message: fmt.Sprintf("%d must be a perfect square not below the initial split", f.MaxCells)}
	}
	if f.Workers < 1 {
		return &domain.ConfigError{Field: "fetch.workers", Message: "at least one worker is required"}
	}
	if f.Scale <= 0 {
		return &domain.ConfigError{Field: "fetch.scale", Message: "scale must be positive"}
	}
	return nil
}

func (s *StorageConfig) validate() error {
	switch s.Type {
	case "", "none":
	case "local":
		if s.Local.Path == "" {
			return &domain.ConfigError{Field: "boundaries.storage.local.path", Message: "mirror directory is required"}
		}
	case "s3":
		if s.S3.Bucket == "" {
			return &domain.ConfigError{Field: "boundaries.storage.s3.bucket", Message: "S3 bucket is required"}
		}
		if s.S3.Region == "" {
			return &domain.ConfigError{Field: "boundaries.storage.s3.region", Message: "S3 region is required"}
		}
	case "azure":
		if s.Azure.Container == "" {
			return &domain.ConfigError{Field: "boundaries.storage.azure.container", Message: "azure container is required"}
		}
		if s.Azure.AccountName == "" && s.Azure.ConnectionString == "" {
			return &domain.ConfigError{Field: "boundaries.storage.azure", Message: "azure account name or connection string is required"}
		}
	case "http":
		if s.HTTP.BaseURL == "" {
			return &domain.ConfigError{Field: "boundaries.storage.http.base_url", Message: "HTTP base URL is required"}
		}
	default:
		return &domain.ConfigError{Field: "boundaries.storage.type", Message: fmt.Sprintf("unknown storage type %q", s.Type)}
	}
	return nil
}

// Remote reports whether boundary files are synced from object storage.
func (s *StorageConfig) Remote() bool {
	return s.Type != "" && s.Type != "none"
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
