package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/artpar/rpcspec/adapters/sqlite"
	"github.com/artpar/rpcspec/ports"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent check runs",
	Long: `List check runs stored in the sqlite run history, newest first.

Examples:
  rpcspec history
  rpcspec history --limit 5
  rpcspec history show 0192f0c4-8d1e-7b3a-9c55-3f1e2a6b7c80`,
	Args: cobra.NoArgs,
	RunE: runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and every declaration result",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var (
	historyLimit  int
	historyFormat string
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)

	historyCmd.PersistentFlags().StringVarP(&historyFormat, "format", "f", formatText, "output format: text or json")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list")
}

func openHistory() (*sqlite.DB, error) {
	cfg, err := loadConfig("warn")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver != "sqlite" {
		return nil, fmt.Errorf("run history is only persisted by the sqlite driver, database.driver is %q", cfg.Database.Driver)
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(rootCmd.Context()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	rep, err := newReporter(cmd.OutOrStdout(), historyFormat, false)
	if err != nil {
		return err
	}

	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := sqlite.NewRunStore(db).List(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if rep.format == formatJSON {
		for _, run := range runs {
			if err := rep.Run(run); err != nil {
				return err
			}
		}
		return nil
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Record one with: rpcspec check <file>")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tOUTCOME\tCHECKED\tREJECTED\tERRORS\tSTARTED")
	fmt.Fprintln(w, "--\t------\t-------\t-------\t--------\t------\t-------")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			run.ID, run.Source, run.Outcome, run.Checked, run.Rejected, run.Errors,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	rep, err := newReporter(cmd.OutOrStdout(), historyFormat, true)
	if err != nil {
		return err
	}

	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := sqlite.NewRunStore(db).Get(cmd.Context(), args[0])
	if errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("run not found: %s", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	if rep.format == formatText {
		fmt.Fprintf(cmd.OutOrStdout(), "run %s\n", run.ID)
	}
	return rep.Run(run)
}
