package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/localrivet/toolgate"
	"github.com/localrivet/toolgate/internal/config"
	"github.com/localrivet/toolgate/internal/errortypes"
	"github.com/localrivet/toolgate/internal/logger"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigFilename, "path to the configuration file")
	stdio := flag.Bool("stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	flag.Parse()

	// Bootstrap logging before the config is loaded; the environment can
	// raise verbosity for config problems themselves.
	appLogger := setupLogging(logger.Config{
		Level:  os.Getenv("TOOLGATE_LOG_LEVEL"),
		Format: os.Getenv("TOOLGATE_LOG_FORMAT"),
	})

	appLogger.Info("Toolgate MCP server starting")

	cfg, err := config.LoadConfigWithPath(*configPath)
	if err != nil {
		errortypes.LogError(appLogger, err)
		appLogger.Error("Failed to load configuration")
		os.Exit(1)
	}

	// Rebuild the logger with the configured level and format.
	appLogger = setupLogging(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	srv, err := toolgate.NewServer(toolgate.ServerOptions{
		Config: cfg,
		Logger: appLogger,
	})
	if err != nil {
		errortypes.LogError(appLogger, err)
		appLogger.Error("Failed to initialize toolgate server")
		os.Exit(1)
	}

	if *stdio {
		setupSignalHandler(srv, appLogger)
		if err := srv.RunStdio(); err != nil {
			errortypes.LogError(appLogger, err)
			appLogger.Error("Stdio server failed")
			os.Exit(1)
		}
		return
	}

	failed := make(chan struct{}, 1)
	srv.Start(func(tr toolgate.Transition) {
		switch tr.State {
		case toolgate.StateRunning:
			appLogger.Info("Server is running",
				"host", cfg.Server.Host,
				"port", cfg.Server.Port)
		case toolgate.StateFailed:
			errortypes.LogError(appLogger, tr.Err)
			appLogger.Error("Server failed to start")
			failed <- struct{}{}
		default:
			appLogger.Debug("Lifecycle transition", "state", tr.State.String())
		}
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		appLogger.Info("Received shutdown signal, terminating gracefully")
	case <-failed:
	}

	srv.Shutdown()
	appLogger.Info("Shutdown complete")
}

// setupLogging builds the application logger and installs it as the slog
// and package default.
func setupLogging(cfg logger.Config) *slog.Logger {
	appLogger := logger.New(cfg)
	logger.SetDefault(appLogger)
	slog.SetDefault(appLogger)
	return appLogger
}

// setupSignalHandler tears the server down when the process is interrupted.
// Used in stdio mode, where RunStdio blocks until the client disconnects.
func setupSignalHandler(srv *toolgate.Server, log *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Info("Received shutdown signal, terminating gracefully")
		srv.Shutdown()
		os.Exit(0)
	}()
}
