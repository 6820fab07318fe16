package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/artpar/rpcspec/ports"
	"golang.org/x/term"
)

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

// Output formats.
const (
	formatText = "text"
	formatJSON = "json"
)

// reporter prints check runs.
type reporter struct {
	w       io.Writer
	format  string
	color   bool
	verbose bool // also list accepted declarations
}

func newReporter(w io.Writer, format string, verbose bool) (*reporter, error) {
	switch format {
	case formatText, formatJSON:
	default:
		return nil, fmt.Errorf("unknown format %q, want text or json", format)
	}
	return &reporter{w: w, format: format, color: isTerminal(w), verbose: verbose}, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (r *reporter) mark(ok bool) string {
	switch {
	case ok && r.color:
		return checkMark
	case ok:
		return "✓"
	case r.color:
		return crossMark
	default:
		return "✗"
	}
}

// runJSON is the JSON form of a run, one object per line.
type runJSON struct {
	ID         string       `json:"id"`
	Source     string       `json:"source"`
	Outcome    string       `json:"outcome"`
	Checked    int          `json:"checked"`
	Accepted   int          `json:"accepted"`
	Rejected   int          `json:"rejected"`
	Errors     int          `json:"errors"`
	FirstIndex int          `json:"first_index,omitempty"`
	FirstError string       `json:"first_error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	DurationMS float64      `json:"duration_ms"`
	Results    []resultJSON `json:"results,omitempty"`
}

type resultJSON struct {
	Index   int    `json:"index"`
	Line    int    `json:"line,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Name    string `json:"name,omitempty"`
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`
}

func toJSON(run ports.Run, verbose bool) runJSON {
	out := runJSON{
		ID:         run.ID,
		Source:     run.Source,
		Outcome:    run.Outcome,
		Checked:    run.Checked,
		Accepted:   run.Accepted,
		Rejected:   run.Rejected,
		Errors:     run.Errors,
		FirstIndex: run.FirstIndex,
		FirstError: run.FirstError,
		StartedAt:  run.StartedAt,
		DurationMS: float64(run.Duration().Microseconds()) / 1000,
	}
	for _, res := range run.Results {
		if !verbose && !res.Failed() {
			continue
		}
		out.Results = append(out.Results, resultJSON(res))
	}
	return out
}

// Run prints one run.
func (r *reporter) Run(run ports.Run) error {
	if r.format == formatJSON {
		return json.NewEncoder(r.w).Encode(toJSON(run, r.verbose))
	}

	fmt.Fprintf(r.w, "%s %s %s: %d checked, %d accepted, %d rejected, %d errors (%s)\n",
		r.mark(run.Passed()), run.Source, run.Outcome,
		run.Checked, run.Accepted, run.Rejected, run.Errors,
		run.Duration().Round(time.Microsecond))

	for _, res := range run.Results {
		if !r.verbose && !res.Failed() {
			continue
		}
		fmt.Fprintf(r.w, "    %s %s\n", r.mark(!res.Failed()), describeResult(res))
	}

	// A read error leaves no result behind.
	if run.Outcome == ports.RunFailed && run.FirstIndex > len(run.Results) {
		fmt.Fprintf(r.w, "    %s #%d: %s\n", r.mark(false), run.FirstIndex, run.FirstError)
	}
	return nil
}

// Summary prints totals across several runs.
func (r *reporter) Summary(runs []ports.Run) {
	if r.format != formatText || len(runs) < 2 {
		return
	}
	passed := 0
	for _, run := range runs {
		if run.Passed() {
			passed++
		}
	}
	fmt.Fprintf(r.w, "\n%d of %d sources passed\n", passed, len(runs))
}

func describeResult(res ports.Result) string {
	s := fmt.Sprintf("#%d", res.Index)
	if res.Line > 0 {
		s += fmt.Sprintf(" line %d", res.Line)
	}
	if res.Kind != "" {
		s += " " + res.Kind
	}
	if res.Name != "" {
		s += " " + res.Name
	}
	s += ": " + res.Outcome
	if res.Message != "" {
		s += ": " + res.Message
	}
	return s
}
