package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/rpcspec/config"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailed  = 1 // a declaration was rejected or could not be checked
	exitProblem = 2 // bad usage, unreadable config, storage failure
)

// errChecksFailed is returned by commands whose checks did not all pass.
// The report has already been printed, so Execute exits quietly.
var errChecksFailed = errors.New("checks failed")

var (
	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rpcspec",
	Short: "Validate RPC interface declarations",
	Long: `rpcspec checks def-msg, def-rpc and def-rpc-package declarations.

Declarations are written as YAML or JSON sequences:

  - [def-rpc-package, library]
  - [def-msg, book-info, ':title', string, ':authors', [list, string]]
  - [def-rpc, get-book, {title: string}, book-info]

Quick start:
  rpcspec check api.yaml    # Check a declaration file
  rpcspec watch api.yaml    # Re-check on every save
  rpcspec serve             # Start the HTTP API

History:
  rpcspec history           # List recent runs
  rpcspec history show ID   # Show one run`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errChecksFailed):
		return exitFailed
	default:
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		return exitProblem
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format override: console or json")
}

// loadConfig loads the config file, falling back to environment variables when
// it does not exist, and applies the global logging flags. defaultLevel is
// used when neither the flag nor RPCSPEC_LOG_LEVEL set a level.
func loadConfig(defaultLevel string) (*config.Config, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, err
	}

	switch {
	case logLevel != "":
		cfg.Logging.Level = logLevel
	case defaultLevel != "" && os.Getenv("RPCSPEC_LOG_LEVEL") == "":
		cfg.Logging.Level = defaultLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}
