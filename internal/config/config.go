// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Datastore DatastoreConfig `mapstructure:"datastore"`
	Convert   ConvertConfig   `mapstructure:"convert"`
	Retention RetentionConfig `mapstructure:"retention"`
	Publish   PublishConfig   `mapstructure:"publish"`
	TLS       TLSConfig       `mapstructure:"tls"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
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

// DatastoreConfig holds row source configuration.
type DatastoreConfig struct {
	Type     string         `mapstructure:"type"` // http, postgres
	PageSize int            `mapstructure:"page_size"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// HTTPConfig holds the JSON-over-HTTP datastore configuration.
type HTTPConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PostgresConfig holds the direct Postgres datastore configuration.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ConvertConfig holds conversion pipeline configuration.
type ConvertConfig struct {
	ScratchRoot     string `mapstructure:"scratch_root"`
	ChunkSize       int    `mapstructure:"chunk_size"`
	ReportCapacity  int    `mapstructure:"report_capacity"`
	DisableSpatial  bool   `mapstructure:"disable_spatial"` // Skip the SpatiaLite engine; spatial outputs are refused
	WatchScratchDir bool   `mapstructure:"watch_scratch_dir"`
}

// RetentionConfig holds scratch retention sweeper configuration. Disabled
// unless both values are positive.
type RetentionConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxAge        time.Duration `mapstructure:"max_age"`
}

// PublishConfig holds artifact publishing configuration.
type PublishConfig struct {
	Type  string      `mapstructure:"type"` // none, s3, azure
	S3    S3Config    `mapstructure:"s3"`
	Azure AzureConfig `mapstructure:"azure"`
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

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Domains  []string `mapstructure:"domains"`
	Email    string   `mapstructure:"email"`
	CacheDir string   `mapstructure:"cache_dir"`
	Staging  bool     `mapstructure:"staging"` // Use Let's Encrypt staging
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Minute)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	// Datastore defaults
	viper.SetDefault("datastore.type", "http")
	viper.SetDefault("datastore.page_size", 20000)
	viper.SetDefault("datastore.http.timeout", 5*time.Minute)

	// Convert defaults
	viper.SetDefault("convert.scratch_root", "./scratch")
	viper.SetDefault("convert.chunk_size", 20000)
	viper.SetDefault("convert.report_capacity", 256)
	viper.SetDefault("convert.disable_spatial", false)
	viper.SetDefault("convert.watch_scratch_dir", true)

	// Retention defaults: off
	viper.SetDefault("retention.sweep_interval", time.Duration(0))
	viper.SetDefault("retention.max_age", time.Duration(0))

	// Publish defaults
	viper.SetDefault("publish.type", "none")

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("EFFLUX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/efflux")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
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
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return fmt.Errorf("TLS enabled but no domains specified")
		}
		if c.TLS.Email == "" {
			return fmt.Errorf("TLS enabled but no email specified")
		}
	}

	if c.Convert.ScratchRoot == "" {
		return fmt.Errorf("scratch root is required")
	}
	if c.Convert.ChunkSize < 1 {
		return fmt.Errorf("invalid chunk size: %d", c.Convert.ChunkSize)
	}

	switch c.Datastore.Type {
	case "http":
		if c.Datastore.HTTP.BaseURL == "" {
			return fmt.Errorf("datastore base URL is required")
		}
	case "postgres":
		if c.Datastore.Postgres.DSN == "" {
			return fmt.Errorf("postgres DSN is required")
		}
	default:
		return fmt.Errorf("unknown datastore type: %s", c.Datastore.Type)
	}
	if c.Datastore.PageSize < 1 {
		return fmt.Errorf("invalid page size: %d", c.Datastore.PageSize)
	}

	switch c.Publish.Type {
	case "", "none":
	case "s3":
		if c.Publish.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required")
		}
		if c.Publish.S3.Region == "" {
			return fmt.Errorf("S3 region is required")
		}
	case "azure":
		if c.Publish.Azure.Container == "" {
			return fmt.Errorf("azure container is required")
		}
		if c.Publish.Azure.AccountName == "" && c.Publish.Azure.ConnectionString == "" {
			return fmt.Errorf("azure account name or connection string is required")
		}
	default:
		return fmt.Errorf("unknown publish type: %s", c.Publish.Type)
	}

	if (c.Retention.SweepInterval > 0) != (c.Retention.MaxAge > 0) {
		return fmt.Errorf("retention requires both sweep_interval and max_age")
	}

	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
