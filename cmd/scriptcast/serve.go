package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptcast/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scriptcast server",
	Long: `Start the scriptcast HTTP server.

The server opens the library, connects to the automation backend and runs
the narration orchestrator. Narration requests are sent one at a time with
the configured delay between them. Changes to the config file are picked
up without a restart.

The server provides:
  - /health - Basic server health check
  - /status - Backend, library, drafting and job overview
  - /api/*  - Narrations, library and drafting

Examples:
  scriptcast serve                    # Start on default port 8080
  scriptcast serve --port 3000        # Start on custom port
  scriptcast serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, err := newLogger()
		if err != nil {
			return err
		}

		h, mgr, err := loadConfig()
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		mgr.SetLogger(logger)
		mgr.WatchConfig()
		if used := mgr.ConfigFile(); used != "" {
			logger.Info("loaded config", "file", used)
		} else {
			logger.Warn("no config file found, using defaults", "hint", "run 'scriptcast config init'")
		}

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
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
