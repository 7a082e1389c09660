package config

import (
	"fmt"
	"net"

	"github.com/ftpy/ftpy/internal/bytesize"
)

// maxChunkSize caps the transfer buffer so a typo in the config cannot
// allocate gigabytes per session.
const maxChunkSize = 16 * bytesize.MiB

// Validate checks the configuration for values that would make the server
// unusable at runtime.
func Validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("logging.level: invalid level %q (must be DEBUG, INFO, WARN, or ERROR)", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: invalid format %q (must be text or json)", cfg.Logging.Format)
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d is out of range (1-65535)", cfg.Server.Port)
	}

	if cfg.Server.SandboxRoot == "" {
		return fmt.Errorf("server.sandbox_root: required")
	}

	if cfg.Server.PublicHost != "" {
		ip := net.ParseIP(cfg.Server.PublicHost)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("server.public_host: %q is not a valid IPv4 address", cfg.Server.PublicHost)
		}
	}

	if cfg.Server.ShutdownGracePeriod < 0 {
		return fmt.Errorf("server.shutdown_grace_period: must not be negative")
	}

	if cfg.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections: must not be negative")
	}

	if cfg.Transfer.ChunkSize <= 0 {
		return fmt.Errorf("transfer.chunk_size: must be positive")
	}
	if cfg.Transfer.ChunkSize > maxChunkSize {
		return fmt.Errorf("transfer.chunk_size: %s exceeds the %s maximum",
			cfg.Transfer.ChunkSize, maxChunkSize)
	}

	if cfg.Transfer.DataTimeout <= 0 {
		return fmt.Errorf("transfer.data_timeout: must be positive")
	}

	if cfg.Transfer.PassivePortRange != "" {
		if _, _, err := cfg.Transfer.PassivePorts(); err != nil {
			return fmt.Errorf("transfer.passive_port_range: %w", err)
		}
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port: %d is out of range (1-65535)", cfg.Metrics.Port)
	}

	return nil
}

// PublicHostIP returns the parsed PASV advertisement address, or nil when
// unset. Validate has already checked the format.
func (c *ServerConfig) PublicHostIP() net.IP {
	if c.PublicHost == "" {
		return nil
	}
	return net.ParseIP(c.PublicHost).To4()
}

// PassivePorts parses the passive port range. Both values are zero when the
// range is unset.
func (c *TransferConfig) PassivePorts() (min, max int, err error) {
	if c.PassivePortRange == "" {
		return 0, 0, nil
	}

	if _, err := fmt.Sscanf(c.PassivePortRange, "%d-%d", &min, &max); err != nil {
		return 0, 0, fmt.Errorf("%q is not of the form \"min-max\"", c.PassivePortRange)
	}
	if min < 1 || max > 65535 || min > max {
		return 0, 0, fmt.Errorf("%q is not a valid port range (1-65535, min <= max)", c.PassivePortRange)
	}
	return min, max, nil
}
