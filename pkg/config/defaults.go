package config

import (
	"os"
	"path/filepath"
	"time"
)

// GetDefaultConfigDir returns the directory searched for config.yaml when
// no explicit path is given.
func GetDefaultConfigDir() string {
	if dir := os.Getenv("DIRSRV_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/dirsrv"
	}
	return filepath.Join(home, ".dirsrv")
}

// GetDefaultConfigPath returns the default config file location.
func GetDefaultConfigPath() string {
	return filepath.Join(GetDefaultConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetDefaultConfig returns a configuration suitable for a local,
// ephemeral instance: one in-memory partition, admin API off, change-log
// on (it is what makes test runs revertable).
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "dirsrv",
			SampleRate:  1.0,
		},
		ShutdownTimeout: 30 * time.Second,
		Partitions: []PartitionConfig{
			{Suffix: "ou=system", Backend: "memory"},
		},
		Changelog: ChangelogConfig{Enabled: true},
		AdminDN:   "uid=admin,ou=system",
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values with their defaults after unmarshalling.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "dirsrv"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8389"
	}
	if cfg.Kerberos.MaxClockSkew == 0 {
		cfg.Kerberos.MaxClockSkew = 5 * time.Minute
	}
	if cfg.Blobstore.Threshold == 0 {
		cfg.Blobstore.Threshold = 256 * 1024
	}
	for i := range cfg.Partitions {
		if cfg.Partitions[i].Backend == "" {
			cfg.Partitions[i].Backend = "memory"
		}
	}
}
