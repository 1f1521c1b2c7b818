// Package config loads service settings from defaults, an optional YAML file
// and FINIMPORT_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FINIMPORT_HTTP_PORT.
const EnvPrefix = "FINIMPORT"

// Storage backends.
const (
	StorageLocal = "local"
	StorageGCS   = "gcs"
)

// Config is the full service configuration.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	BigQuery BigQueryConfig `mapstructure:"bigquery"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Log      LogConfig      `mapstructure:"log"`
	Upload   UploadConfig   `mapstructure:"upload"`
}

type HTTPConfig struct {
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig selects where uploaded files wait for processing.
type StorageConfig struct {
	Backend         string `mapstructure:"backend"`
	LocalDir        string `mapstructure:"local_dir"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// BigQueryConfig controls the optional warehouse mirror.
type BigQueryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Project string `mapstructure:"project"`
	Dataset string `mapstructure:"dataset"`
	Table   string `mapstructure:"table"`
}

// WorkerConfig sizes the in-process worker pool and the stale-job sweep.
type WorkerConfig struct {
	Count         int           `mapstructure:"count"`
	QueueSize     int           `mapstructure:"queue_size"`
	MaxProcessing time.Duration `mapstructure:"max_processing"`
	ReapInterval  time.Duration `mapstructure:"reap_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("database.path", "data/finimport.db")
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.local_dir", "data/uploads")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.credentials_file", "")
	v.SetDefault("bigquery.enabled", false)
	v.SetDefault("bigquery.project", "")
	v.SetDefault("bigquery.dataset", "finance")
	v.SetDefault("bigquery.table", "transactions")
	v.SetDefault("worker.count", 5)
	v.SetDefault("worker.queue_size", 100)
	v.SetDefault("worker.max_processing", 30*time.Minute)
	v.SetDefault("worker.reap_interval", time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("upload.max_bytes", int64(10<<20))
}

// Load reads the configuration. With an empty path it looks for an optional
// finimport.yaml in the working directory; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("finimport")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("storage.local_dir is required for the local backend"))
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be %q or %q, got %q", StorageLocal, StorageGCS, c.Storage.Backend))
	}

	if c.BigQuery.Enabled && (c.BigQuery.Project == "" || c.BigQuery.Dataset == "" || c.BigQuery.Table == "") {
		errs = append(errs, errors.New("bigquery.project, bigquery.dataset and bigquery.table are required when bigquery is enabled"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Worker.Count <= 0 {
		errs = append(errs, fmt.Errorf("worker.count must be positive, got %d", c.Worker.Count))
	}
	if c.Worker.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("worker.queue_size must not be negative, got %d", c.Worker.QueueSize))
	}
	if c.Worker.MaxProcessing <= 0 || c.Worker.ReapInterval <= 0 {
		errs = append(errs, errors.New("worker.max_processing and worker.reap_interval must be positive"))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("upload.max_bytes must be positive, got %d", c.Upload.MaxBytes))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
