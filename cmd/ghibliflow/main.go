package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghibliflow/internal/app"
	"github.com/ternarybob/ghibliflow/internal/common"
	"github.com/ternarybob/ghibliflow/internal/server"
)

const shutdownTimeout = 10 * time.Second

var (
	configFiles []string
	serverPort  int
	serverHost  string
)

var rootCmd = &cobra.Command{
	Use:   "ghibliflow",
	Short: "GhibliFlow - queued image stylization through a browser session",
	Long: `GhibliFlow accepts uploaded images, runs them one at a time through an
authenticated browser session, and reports results over Telegram and email.

Examples:
  ghibliflow serve -c ghibliflow.toml   # Start the HTTP service
  ghibliflow version                    # Print version information`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service and job queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("GhibliFlow version %s\n", common.GetFullVersion())
	},
}

func init() {
	serveCmd.Flags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")
	serveCmd.Flags().StringVar(&serverHost, "host", "", "Server host (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	common.InstallCrashHandler("")
	defer common.RecoverWithCrashFile()

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	if len(configFiles) == 0 {
		if _, err := os.Stat("ghibliflow.toml"); err == nil {
			configFiles = append(configFiles, "ghibliflow.toml")
		} else if _, err := os.Stat("deployments/local/ghibliflow.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/ghibliflow.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Error().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		return err
	}

	common.ApplyFlagOverrides(config, serverPort, serverHost)

	logger := common.InitLogger(config)
	common.PrintBanner(config, logger)

	logger.Info().
		Strs("config_files", configFiles).
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		return err
	}

	srv := server.New(application)

	serverErr := make(chan error, 1)
	common.SafeGo(logger, "http-server", func() {
		serverErr <- srv.Start()
	})

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case runErr = <-serverErr:
		if runErr != nil {
			logger.Error().Err(runErr).Msg("HTTP server failed")
		}
	}

	// Shutdown order: HTTP server, job queue, browser session, storage
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	if err := application.Close(); err != nil {
		logger.Error().Err(err).Msg("Application close failed")
		if runErr == nil {
			runErr = err
		}
	}

	logger.Info().Msg("Server stopped")
	return runErr
}
