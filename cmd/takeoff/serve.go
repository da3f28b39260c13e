package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/config"
	"github.com/jackzampolin/takeoff/internal/home"
	"github.com/jackzampolin/takeoff/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the takeoff server",
	Long: `Start the takeoff HTTP server.

Configuration is read from --config, ./config.yaml or ~/.takeoff/config.yaml
and TAKEOFF_* environment variables. Provider settings are reloaded when the
config file changes.

The server provides:
  - /health - Basic server health check
  - /ready  - Readiness check (includes store status)
  - /api/*  - Analysis, job and document endpoints

Examples:
  takeoff serve                    # Start on the configured port
  takeoff serve --port 3000        # Start on custom port
  takeoff serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, err := newLogger()
		if err != nil {
			return err
		}

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		path := cfgFile
		if path == "" && h.ConfigExists() {
			path = h.ConfigPath()
		}
		mgr, err := config.NewManager(path, logger)
		if err != nil {
			return err
		}
		if used := mgr.ConfigFileUsed(); used != "" {
			logger.Info("loaded config", "path", used)
		}
		mgr.WatchConfig()

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			Home:          h,
			ConfigManager: mgr,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from config)")

	rootCmd.AddCommand(serveCmd)
}
