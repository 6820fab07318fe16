package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <file>...",
	Short: "Re-check declaration files whenever they change",
	Long: `Check the given files, then watch them and check each file again
every time it is saved. Stop with Ctrl-C.

Accepts the same flags as check.

Examples:
  rpcspec watch api.yaml
  rpcspec watch --keep-going --verbose api/*.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

var (
	watchOpts     checkFlags
	watchDebounce time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchOpts.register(watchCmd)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 100*time.Millisecond, "wait this long after a change before checking")
}

func runWatch(cmd *cobra.Command, args []string) error {
	files := make(map[string]string, len(args))
	dirs := make(map[string]bool)
	for _, arg := range args {
		if arg == "-" {
			return errors.New("watch cannot read from standard input")
		}
		abs, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("absolute path: %w", err)
		}
		files[abs] = arg
		dirs[filepath.Dir(abs)] = true
	}

	a, rep, err := watchOpts.newChecker(cmd)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	ctx := cmd.Context()
	recheck := func(path string) {
		if _, err := checkSources(ctx, a.Checks, []string{path}, nil, rep); err != nil {
			a.Logger.Error().Err(err).Str("path", path).Msg("check failed")
		}
	}

	if _, err := checkSources(ctx, a.Checks, args, nil, rep); err != nil {
		a.Logger.Error().Err(err).Msg("initial check failed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch directories so editors that save by rename are seen.
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "watching %d file(s), press Ctrl-C to stop\n", len(files))
	return watchLoop(ctx, watcher, files, watchDebounce, a.Logger, recheck)
}

// watchLoop calls recheck for every watched file that was written or created,
// once per burst of events. files maps cleaned absolute paths to the names
// passed to recheck. Returns nil when ctx is done or the watcher closes.
func watchLoop(ctx context.Context, w *fsnotify.Watcher, files map[string]string, debounce time.Duration, logger zerolog.Logger, recheck func(string)) error {
	pending := make(map[string]bool)
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			name, watched := files[filepath.Clean(ev.Name)]
			if !watched {
				continue
			}
			logger.Debug().Str("file", name).Str("op", ev.Op.String()).Msg("file changed")
			pending[name] = true
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("file watcher error")

		case <-timer.C:
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			sort.Strings(names)
			clear(pending)
			for _, name := range names {
				recheck(name)
			}
		}
	}
}
