// Package config loads and watches the server's static configuration:
// logging, telemetry, partitions, the admin API, the change-log, Kerberos,
// and blob offload. Dynamic state (entries, referrals) lives in the
// partitions themselves, not here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the directory server configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DIRSRV_*), for keys the file sets (highest priority)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// No CLI flags are bound to config keys; the command line only selects the
// config file path.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// Partitions lists the naming contexts this server hosts and the
	// backend serving each.
	Partitions []PartitionConfig `mapstructure:"partitions" yaml:"partitions"`

	// API configures the embedded admin HTTP server.
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Changelog controls reverse-op recording.
	Changelog ChangelogConfig `mapstructure:"changelog" yaml:"changelog"`

	// Kerberos configures SASL/GSSAPI binds.
	Kerberos KerberosConfig `mapstructure:"kerberos" yaml:"kerberos"`

	// Blobstore configures S3 offload for oversized binary attribute
	// values.
	Blobstore BlobstoreConfig `mapstructure:"blobstore" yaml:"blobstore"`

	// Registry configures the control-plane database persisting the
	// partition registry and server settings.
	Registry RegistryConfig `mapstructure:"registry" yaml:"registry"`

	// AdminDN is the distinguished name of the administrative account.
	AdminDN string `mapstructure:"admin_dn" yaml:"admin_dn"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // DEBUG, INFO, WARN, ERROR
	Format string `mapstructure:"format" yaml:"format"` // text, json
	Output string `mapstructure:"output" yaml:"output"` // stdout, stderr, or file path
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"` // OTLP gRPC endpoint
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// PartitionConfig describes one naming context.
type PartitionConfig struct {
	// Suffix is the naming context DN, e.g. "dc=example,dc=com".
	Suffix string `mapstructure:"suffix" yaml:"suffix"`

	// Backend selects the storage implementation: memory, badger, or
	// postgres.
	Backend string `mapstructure:"backend" yaml:"backend"`

	// Dir is the data directory for the badger backend.
	Dir string `mapstructure:"dir" yaml:"dir"`

	// DSN is the connection string for the postgres backend.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// APIConfig configures the embedded admin HTTP server.
type APIConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr      string `mapstructure:"addr" yaml:"addr"`
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
}

// ChangelogConfig controls the change-log.
type ChangelogConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// KerberosConfig configures GSSAPI bind verification.
type KerberosConfig struct {
	Enabled          bool              `mapstructure:"enabled" yaml:"enabled"`
	KeytabPath       string            `mapstructure:"keytab_path" yaml:"keytab_path"`
	ServicePrincipal string            `mapstructure:"service_principal" yaml:"service_principal"`
	MaxClockSkew     time.Duration     `mapstructure:"max_clock_skew" yaml:"max_clock_skew"`
	PrincipalMap     map[string]string `mapstructure:"principal_map" yaml:"principal_map"`
	BindDNTemplate   string            `mapstructure:"bind_dn_template" yaml:"bind_dn_template"`
}

// BlobstoreConfig configures S3 offload of large binary values.
type BlobstoreConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"` // custom endpoint for S3-compatible stores
	Threshold int    `mapstructure:"threshold" yaml:"threshold"`
}

// RegistryConfig configures the control-plane database.
type RegistryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// Load loads configuration from file, environment, and defaults.
// Environment variables use the DIRSRV_ prefix with underscores, e.g.
// DIRSRV_LOGGING_LEVEL=DEBUG, and override only keys present in the file.
// When no config file is found, Load returns GetDefaultConfig() and reads
// no environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration with user-friendly errors when the file is
// missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Create one first:\n"+
				"  dirsrv init\n\n"+
				"Or specify a custom config file:\n"+
				"  dirsrv <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}
	return Load(configPath)
}

// SaveConfig writes cfg to path in YAML with restricted permissions, since
// it may carry a JWT secret or DSN credentials.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DIRSRV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(GetDefaultConfigDir())
	v.AddConfigPath(".")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns the mapstructure hooks viper uses while
// decoding: duration strings and comma-separated string slices.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		// Accept bare integers for durations expressed in seconds.
		func(f reflect.Type, t reflect.Type, data any) (any, error) {
			if t != reflect.TypeOf(time.Duration(0)) || f.Kind() != reflect.Int {
				return data, nil
			}
			return time.Duration(data.(int)) * time.Second, nil
		},
	)
}

// Validate rejects configurations the server cannot start with.
func Validate(cfg *Config) error {
	for i, p := range cfg.Partitions {
		if p.Suffix == "" {
			return fmt.Errorf("partition %d: suffix is required", i)
		}
		switch p.Backend {
		case "", "memory":
		case "badger":
			if p.Dir == "" {
				return fmt.Errorf("partition %q: badger backend requires dir", p.Suffix)
			}
		case "postgres":
			if p.DSN == "" {
				return fmt.Errorf("partition %q: postgres backend requires dsn", p.Suffix)
			}
		default:
			return fmt.Errorf("partition %q: unknown backend %q", p.Suffix, p.Backend)
		}
	}
	if cfg.API.Enabled && cfg.API.JWTSecret == "" {
		return fmt.Errorf("api: jwt_secret is required when the admin API is enabled")
	}
	if cfg.Kerberos.Enabled && (cfg.Kerberos.KeytabPath == "" || cfg.Kerberos.ServicePrincipal == "") {
		return fmt.Errorf("kerberos: keytab_path and service_principal are required when enabled")
	}
	if cfg.Blobstore.Enabled && cfg.Blobstore.Bucket == "" {
		return fmt.Errorf("blobstore: bucket is required when enabled")
	}
	return nil
}
