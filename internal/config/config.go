// Package config loads the server configuration from an optional file and
// STASH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "STASH"

// Config is the complete server configuration.
//
// Sources, highest precedence first:
//  1. command line flags applied by the caller
//  2. environment variables (STASH_*)
//  3. the configuration file
//  4. defaults
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
	Storage StorageConfig `mapstructure:"storage"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Cors    CorsConfig    `mapstructure:"cors"`
}

type ServerConfig struct {
	Listen            string        `mapstructure:"listen" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type AuthConfig struct {
	Username string `mapstructure:"username" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	Realm    string `mapstructure:"realm"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

// StorageConfig selects the backend. Only the section matching Type is used.
type StorageConfig struct {
	Type     string       `mapstructure:"type" validate:"required,oneof=memory sqlite badger s3"`
	PageSize int          `mapstructure:"page_size" validate:"min=1,max=10000"`
	SQLite   SQLiteConfig `mapstructure:"sqlite"`
	Badger   BadgerConfig `mapstructure:"badger"`
	S3       S3Config     `mapstructure:"s3"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type BadgerConfig struct {
	Dir string `mapstructure:"dir"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen" validate:"required_if=Enabled true"`
}

type CorsConfig struct {
	AllowOrigin string `mapstructure:"allow_origin"`
}

var validate = validator.New()

// defaults doubles as the list of known keys, which lets every key be
// overridden from the environment.
var defaults = map[string]any{
	"server.listen":              ":8080",
	"server.read_header_timeout": 20 * time.Second,
	"server.shutdown_timeout":    10 * time.Second,
	"auth.username":              "",
	"auth.password":              "",
	"auth.realm":                 "webdav",
	"logging.level":              "info",
	"logging.format":             "text",
	"storage.type":               "memory",
	"storage.page_size":          1000,
	"storage.sqlite.path":        "./data/stash.sqlite",
	"storage.badger.dir":         "./data/badger",
	"storage.s3.endpoint":        "",
	"storage.s3.bucket":          "",
	"storage.s3.access_key":      "",
	"storage.s3.secret_key":      "",
	"storage.s3.region":          "",
	"storage.s3.use_ssl":         false,
	"metrics.enabled":            false,
	"metrics.listen":             ":9090",
	"cors.allow_origin":          "*",
}

// Load reads the configuration file at path, if path is not empty, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	cfg.Storage.Type = strings.ToLower(cfg.Storage.Type)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks cfg using struct tags plus the per-backend rules that tags
// cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	switch cfg.Storage.Type {
	case "sqlite":
		if cfg.Storage.SQLite.Path == "" {
			return errors.New("storage.sqlite.path is required for the sqlite backend")
		}
	case "badger":
		if cfg.Storage.Badger.Dir == "" {
			return errors.New("storage.badger.dir is required for the badger backend")
		}
	case "s3":
		if cfg.Storage.S3.Endpoint == "" || cfg.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.endpoint and storage.s3.bucket are required for the s3 backend")
		}
	}

	return nil
}

// formatValidationError reports the first failing field.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
