package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/artpar/rpcspec/adapters/sqlite"
	"github.com/artpar/rpcspec/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the rpcspec configuration file.

Checks:
  - YAML syntax is valid
  - Values are in range
  - Database is writable (optional)

Examples:
  rpcspec validate
  rpcspec validate --config /etc/rpcspec/rpcspec.yaml --check-database`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

var validateCheckDatabase bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check that the sqlite database can be opened and migrated")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	rep := &reporter{w: out, color: isTerminal(out)}

	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(out, "  %s Config file exists\n", rep.mark(false))
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", rep.mark(true))

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", rep.mark(false))
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", rep.mark(true))

	fmt.Fprintf(out, "  %s Listen: %s\n", rep.mark(true), cfg.Server.Addr())
	fmt.Fprintf(out, "  %s History: %s %s\n", rep.mark(true), cfg.Database.Driver, cfg.Database.DSN)
	fmt.Fprintf(out, "  %s Keep going: %t, parallelism: %d, unique names: %t\n",
		rep.mark(true), cfg.Check.KeepGoing, cfg.Check.Parallelism, cfg.Check.UniqueNames)
	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "  %s Metrics: %s\n", rep.mark(true), cfg.Metrics.Path)
	}

	if validateCheckDatabase && cfg.Database.Driver == "sqlite" {
		if err := checkDatabaseWritable(cmd, cfg.Database.DSN); err != nil {
			fmt.Fprintf(out, "  %s Database writable\n", rep.mark(false))
			return fmt.Errorf("database error: %w", err)
		}
		fmt.Fprintf(out, "  %s Database writable\n", rep.mark(true))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func checkDatabaseWritable(cmd *cobra.Command, dsn string) error {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Migrate(cmd.Context())
}
