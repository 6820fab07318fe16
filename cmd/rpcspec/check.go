package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/artpar/rpcspec/adapters/yamlforms"
	"github.com/artpar/rpcspec/app"
	"github.com/artpar/rpcspec/bootstrap"
	"github.com/artpar/rpcspec/config"
	"github.com/artpar/rpcspec/ports"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <file>... | -",
	Short: "Check declaration files",
	Long: `Check every declaration in the given YAML or JSON files.

Use - to read from standard input. Each file is checked as one run and,
unless --no-history is given or database.driver is none, stored in the
run history.

By default a run stops at the first rejected declaration. A declaration
that cannot be checked at all (an unknown declaration or a value that is
not a type expression) always stops the run.

Exit status is 0 when every file passed, 1 when a declaration was
rejected or could not be checked, and 2 on any other problem.

Examples:
  rpcspec check api.yaml
  rpcspec check --keep-going --unique-names api/*.yaml
  cat api.json | rpcspec check -
  rpcspec check --format json api.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

// checkFlags holds flags shared by check and watch.
type checkFlags struct {
	keepGoing   bool
	uniqueNames bool
	parallel    int
	noHistory   bool
	format      string
	verbose     bool
}

var checkOpts checkFlags

func init() {
	rootCmd.AddCommand(checkCmd)
	checkOpts.register(checkCmd)
}

func (f *checkFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.keepGoing, "keep-going", "k", false, "continue past rejected declarations")
	cmd.Flags().BoolVar(&f.uniqueNames, "unique-names", false, "reject repeated declaration names")
	cmd.Flags().IntVarP(&f.parallel, "parallel", "p", 0, "concurrent checks per file (default from config)")
	cmd.Flags().BoolVar(&f.noHistory, "no-history", false, "do not store runs")
	cmd.Flags().StringVarP(&f.format, "format", "f", formatText, "output format: text or json")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "also list accepted declarations")
}

// apply overrides cfg with the flags the user set.
func (f *checkFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("keep-going") {
		cfg.Check.KeepGoing = f.keepGoing
	}
	if flags.Changed("unique-names") {
		cfg.Check.UniqueNames = f.uniqueNames
	}
	if flags.Changed("parallel") {
		if f.parallel < 1 || f.parallel > 256 {
			return fmt.Errorf("--parallel must be between 1 and 256, got %d", f.parallel)
		}
		cfg.Check.Parallelism = f.parallel
	}
	if f.noHistory {
		cfg.Database.Driver = "none"
	}
	return nil
}

// newChecker builds an app without an HTTP server from the config and flags.
func (f *checkFlags) newChecker(cmd *cobra.Command) (*bootstrap.App, *reporter, error) {
	cfg, err := loadConfig("warn")
	if err != nil {
		return nil, nil, err
	}
	if err := f.apply(cmd, cfg); err != nil {
		return nil, nil, err
	}

	rep, err := newReporter(cmd.OutOrStdout(), f.format, f.verbose)
	if err != nil {
		return nil, nil, err
	}

	a, err := bootstrap.New(cfg, bootstrap.Options{
		Version:  version,
		Output:   cmd.ErrOrStderr(),
		NoServer: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("error initializing: %w", err)
	}
	return a, rep, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, rep, err := checkOpts.newChecker(cmd)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	runs, err := checkSources(cmd.Context(), a.Checks, args, cmd.InOrStdin(), rep)
	rep.Summary(runs)
	if err != nil {
		return err
	}

	for _, run := range runs {
		if !run.Passed() {
			return errChecksFailed
		}
	}
	return nil
}

// checkSources checks each path in turn and prints every run.
// A file that is not valid YAML still produces a failed run; only errors
// opening a file or storing a run stop the loop.
func checkSources(ctx context.Context, checks *app.CheckService, paths []string, stdin io.Reader, rep *reporter) ([]ports.Run, error) {
	var runs []ports.Run
	for _, path := range paths {
		run, err := checkSource(ctx, checks, path, stdin)
		if err != nil && !errors.Is(err, app.ErrSource) {
			return runs, err
		}
		if err := rep.Run(run); err != nil {
			return runs, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func checkSource(ctx context.Context, checks *app.CheckService, path string, stdin io.Reader) (ports.Run, error) {
	if path == "-" {
		return checks.Check(ctx, "stdin", yamlforms.NewDecoder(stdin))
	}

	f, err := os.Open(path)
	if err != nil {
		return ports.Run{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return checks.Check(ctx, path, yamlforms.NewDecoder(f))
}
