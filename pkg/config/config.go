// Package config loads, validates, and persists server configuration.
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

	"github.com/ftpy/ftpy/internal/bytesize"
)

// Config represents the ftpy server configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (FTPY_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains control connection and shutdown settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Auth contains the login policy
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Transfer contains data connection settings
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" yaml:"level"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output"`
}

// ServerConfig contains control connection settings.
type ServerConfig struct {
	// BindAddress is the address the control listener binds to.
	// Default: 0.0.0.0
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the control connection port.
	// Default: 2121
	Port int `mapstructure:"port" yaml:"port"`

	// PublicHost is the IPv4 address advertised in PASV replies. Set this
	// when the server runs behind NAT; when empty the control connection's
	// local address is advertised.
	PublicHost string `mapstructure:"public_host" yaml:"public_host,omitempty"`

	// SandboxRoot is the directory served to clients. Required.
	SandboxRoot string `mapstructure:"sandbox_root" yaml:"sandbox_root"`

	// ShutdownGracePeriod is how long a graceful shutdown waits for active
	// sessions before force-closing them.
	// Default: 30s
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period" yaml:"shutdown_grace_period"`

	// MaxConnections caps concurrent control connections. Zero means
	// unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections,omitempty"`
}

// AuthConfig contains the login policy.
type AuthConfig struct {
	// AllowEmptyPassword accepts PASS with no argument. Default: false
	AllowEmptyPassword bool `mapstructure:"allow_empty_password" yaml:"allow_empty_password"`

	// Users maps usernames to passwords. An empty map accepts any
	// username/password pair.
	Users map[string]string `mapstructure:"users" yaml:"users,omitempty"`
}

// TransferConfig contains data connection settings.
type TransferConfig struct {
	// ChunkSize is the transfer buffer size.
	// Supports human-readable formats: "4KB", "64Ki"
	// Default: 4KB
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`

	// DataTimeout bounds how long the server waits for a data connection
	// to be established after PASV or PORT.
	// Default: 30s
	DataTimeout time.Duration `mapstructure:"data_timeout" yaml:"data_timeout"`

	// PassivePortRange restricts PASV listeners to an inclusive port range,
	// e.g. "30000-30100". Empty means any ephemeral port. Set this when a
	// firewall only forwards a fixed block of data ports.
	PassivePortRange string `mapstructure:"passive_port_range" yaml:"passive_port_range,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint.
	// Default: 9090
	Port int `mapstructure:"port" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configFileFound {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the file is
// missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  ftpy init\n\n"+
				"Or specify a custom config file:\n"+
				"  ftpy <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  ftpy init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Restricted permissions: the file may contain passwords.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file
// settings. Environment variables use the FTPY_ prefix with underscores,
// e.g. FTPY_LOGGING_LEVEL=DEBUG or FTPY_SERVER_PORT=21.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("FTPY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file
// is not an error; the caller falls back to defaults.
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

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize so
// config files can use human-readable sizes like "64Ki" or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration so config files can
// use human-readable durations like "30s" or "5m".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ftpy")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "ftpy")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
