// Package config loads GEMINI settings from defaults, an optional YAML file
// and GEMINI_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"gemini/internal/blob"
	"gemini/internal/logging"
	"gemini/internal/persistence"
)

// EnvPrefix prefixes every environment override, e.g. GEMINI_DATABASE_DSN.
const EnvPrefix = "GEMINI"

// DefaultFile is looked up in the working directory when no file is given.
const DefaultFile = "gemini"

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Model    ModelConfig    `mapstructure:"model"`
	Records  RecordsConfig  `mapstructure:"records"`
	Logging  logging.Config `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
	Export   ExportConfig   `mapstructure:"export"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// Pool returns the connection pool limits.
func (d DatabaseConfig) Pool() persistence.PoolConfig {
	return persistence.PoolConfig{
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

type StorageConfig struct {
	Driver        string        `mapstructure:"driver"`
	Root          string        `mapstructure:"root"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
	EnsureBucket  bool          `mapstructure:"ensure_bucket"`
	S3            S3Config      `mapstructure:"s3"`
}

type S3Config struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	PathStyle       bool   `mapstructure:"path_style"`
}

// Blob converts the storage section to a blob backend configuration.
func (s StorageConfig) Blob() (blob.Config, error) {
	driver, err := blob.ParseDriver(s.Driver)
	if err != nil {
		return blob.Config{}, err
	}
	return blob.Config{
		Driver:       driver,
		Root:         s.Root,
		EnsureBucket: s.EnsureBucket,
		S3: blob.S3Config{
			Region:          s.S3.Region,
			Bucket:          s.S3.Bucket,
			Endpoint:        s.S3.Endpoint,
			AccessKeyID:     s.S3.AccessKeyID,
			SecretAccessKey: s.S3.SecretAccessKey,
			SessionToken:    s.S3.SessionToken,
			PathStyle:       s.S3.PathStyle,
		},
	}, nil
}

type ModelConfig struct {
	// StrictFields rejects unknown fields instead of dropping them.
	StrictFields  bool `mapstructure:"strict_fields"`
	PartitionSize int  `mapstructure:"partition_size"`
}

type RecordsConfig struct {
	UploadConcurrency int           `mapstructure:"upload_concurrency"`
	URLExpiry         time.Duration `mapstructure:"url_expiry"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ExportConfig struct {
	Workers   int    `mapstructure:"workers"`
	QueueSize int    `mapstructure:"queue_size"`
	Prefix    string `mapstructure:"prefix"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

var defaults = map[string]any{
	"database.driver":             DriverSQLite,
	"database.dsn":                "gemini.db",
	"database.max_open_conns":     10,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  time.Hour,
	"database.conn_max_idle_time": 15 * time.Minute,

	"storage.driver":               string(blob.DriverFilesystem),
	"storage.root":                 "./blobdata",
	"storage.presign_expiry":       time.Hour,
	"storage.ensure_bucket":        false,
	"storage.s3.region":            "us-east-1",
	"storage.s3.bucket":            "",
	"storage.s3.endpoint":          "",
	"storage.s3.access_key_id":     "",
	"storage.s3.secret_access_key": "",
	"storage.s3.session_token":     "",
	"storage.s3.path_style":        false,

	"model.strict_fields":  false,
	"model.partition_size": 1000,

	"records.upload_concurrency": 4,
	"records.url_expiry":         time.Hour,

	"logging.level":  "info",
	"logging.format": logging.FormatText,

	"server.addr":             ":8080",
	"server.shutdown_timeout": 10 * time.Second,

	"export.workers":    1,
	"export.queue_size": 16,
	"export.prefix":     "exports",

	"metrics.enabled": true,
	"metrics.path":    "/metrics",
}

// Load reads the configuration. An explicit path must exist; without one,
// ./gemini.yaml is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(DefaultFile)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers and non-positive sizes.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn: required"))
	}
	if _, err := blob.ParseDriver(c.Storage.Driver); err != nil {
		errs = append(errs, fmt.Errorf("storage.driver: %w", err))
	} else if c.Storage.Driver == string(blob.DriverS3) && c.Storage.S3.Bucket == "" {
		errs = append(errs, errors.New("storage.s3.bucket: required for the s3 driver"))
	}
	if c.Model.PartitionSize <= 0 {
		errs = append(errs, fmt.Errorf("model.partition_size: must be positive, got %d", c.Model.PartitionSize))
	}
	if c.Records.UploadConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("records.upload_concurrency: must be positive, got %d", c.Records.UploadConcurrency))
	}
	if c.Export.Workers <= 0 {
		errs = append(errs, fmt.Errorf("export.workers: must be positive, got %d", c.Export.Workers))
	}
	if c.Export.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("export.queue_size: must not be negative, got %d", c.Export.QueueSize))
	}
	if _, err := logging.New(c.Logging, nil); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
