package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/artpar/rpcspec/bootstrap"
	"github.com/artpar/rpcspec/config"
	"github.com/spf13/cobra"
)

var (
	hotReload bool
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the rpcspec HTTP server.

The server will:
  - Load configuration from rpcspec.yaml (or --config)
  - Or load configuration from RPCSPEC_* environment variables
  - Open the run history database
  - Serve POST /v1/check, GET /v1/runs and GET /v1/runs/{id}

With a config file and --hot-reload (the default), saving the file or
sending SIGHUP reloads the check and logging.level settings.

Environment variables:
  RPCSPEC_SERVER_PORT       - Server port (default: 8080)
  RPCSPEC_DATABASE_DRIVER   - sqlite, memory or none (default: sqlite)
  RPCSPEC_DATABASE_DSN      - Database path (default: rpcspec.db)
  RPCSPEC_LOG_LEVEL         - Log level: debug, info, warn, error
  RPCSPEC_METRICS_ENABLED   - Serve Prometheus metrics

Examples:
  rpcspec serve
  rpcspec serve --config /etc/rpcspec/rpcspec.yaml
  rpcspec serve --port 9090 --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port override")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}

	opts := bootstrap.Options{Version: version, Output: cmd.ErrOrStderr()}

	var a *bootstrap.App
	var err error

	if hasConfigFile && hotReload {
		// Hot reload only works with a config file.
		cfg, loadErr := config.Load(cfgFile)
		if loadErr != nil {
			return fmt.Errorf("error loading config: %w", loadErr)
		}
		applyServeFlags(cfg)

		var holder *config.Holder
		holder, err = config.NewHolder(cfgFile, bootstrap.NewLogger(cfg.Logging, opts.Output))
		if err != nil {
			return err
		}
		applyServeFlags(holder.Get())
		a, err = bootstrap.NewWithHolder(holder, opts)
	} else {
		cfg, loadErr := loadConfig("")
		if loadErr != nil {
			return fmt.Errorf("error loading config: %w", loadErr)
		}
		if !hasConfigFile {
			fmt.Fprintln(cmd.ErrOrStderr(), "Running with environment variables (no config file)")
		}
		applyServeFlags(cfg)
		a, err = bootstrap.New(cfg, opts)
	}
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Blocks until interrupted.
	return a.Serve(cmd.Context())
}

func applyServeFlags(cfg *config.Config) {
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
}
