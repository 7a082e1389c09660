package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ftpy/ftpy/internal/logger"
	"github.com/ftpy/ftpy/internal/metrics"
	ftpproto "github.com/ftpy/ftpy/internal/protocol/ftp"
	"github.com/ftpy/ftpy/internal/vfs"
	"github.com/ftpy/ftpy/pkg/adapter"
	ftpadapter "github.com/ftpy/ftpy/pkg/adapter/ftp"
	"github.com/ftpy/ftpy/pkg/config"
	"github.com/ftpy/ftpy/pkg/server"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ftpy server",
	Long: `Start the ftpy server with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/ftpy/config.yaml.

Examples:
  # Start in background (default)
  ftpy start

  # Start in foreground
  ftpy start --foreground

  # Start with custom config file
  ftpy start --config /etc/ftpy/config.yaml

  # Start with environment variable overrides
  FTPY_LOGGING_LEVEL=DEBUG ftpy start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/ftpy/ftpy.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/ftpy/ftpy.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Handle daemon mode (background)
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Initialize metrics (if enabled)
	var ftpMetrics *metrics.FTPMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		ftpMetrics = metrics.NewFTPMetrics()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	gateway, err := vfs.New(cfg.Server.SandboxRoot)
	if err != nil {
		return err
	}
	logger.Info("Serving sandbox", "root", cfg.Server.SandboxRoot)

	pasvMin, pasvMax, err := cfg.Transfer.PassivePorts()
	if err != nil {
		return err
	}

	ftpAdapter := ftpadapter.New(ftpadapter.Config{
		BaseConfig: adapter.BaseConfig{
			BindAddress:     cfg.Server.BindAddress,
			Port:            cfg.Server.Port,
			MaxConnections:  cfg.Server.MaxConnections,
			ShutdownTimeout: cfg.Server.ShutdownGracePeriod,
		},
		PublicHost: cfg.Server.PublicHostIP(),
		Credentials: ftpproto.CredentialPolicy{
			AllowEmptyPassword: cfg.Auth.AllowEmptyPassword,
			Users:              cfg.Auth.Users,
		},
		DataTimeout:    cfg.Transfer.DataTimeout,
		PassivePortMin: pasvMin,
		PassivePortMax: pasvMax,
		ChunkSize:      cfg.Transfer.ChunkSize.Int(),
	}, gateway, ftpMetrics)

	srv := server.New(ftpAdapter, cfg.Server.ShutdownGracePeriod)
	if cfg.Metrics.Enabled {
		if err := srv.EnableMetrics(cfg.Metrics.Port); err != nil {
			return fmt.Errorf("failed to enable metrics endpoint: %w", err)
		}
	}

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Start serving in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.",
		"bind", cfg.Server.BindAddress, "port", cfg.Server.Port)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for server to shut down gracefully
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// startDaemon starts the server as a background daemon process.
func startDaemon() error {
	stateDir := GetDefaultStateDir()
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Set default PID file if not specified
	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	// Check if already running
	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("ftpy is already running (PID %d)\nUse 'ftpy stop' to stop the running instance", pid)
					}
				}
			}
		}
		// Stale PID file, remove it
		_ = os.Remove(pidPath)
	}

	// Set default log file if not specified
	logPath := logFile
	if logPath == "" {
		logPath = GetDefaultLogFile()
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	daemon := exec.Command(executable, daemonArgs...)

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	daemon.Stdout = logFileHandle
	daemon.Stderr = logFileHandle

	// Detach from parent process
	daemon.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := daemon.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	_ = logFileHandle.Close()

	fmt.Printf("ftpy started in background (PID %d)\n", daemon.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'ftpy stop' to stop the server")

	return nil
}
