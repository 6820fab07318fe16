// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/rpcspec/domain/form"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time so run timestamps are testable.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Declaration Sources
// -----------------------------------------------------------------------------

// Declaration is one parsed declaration and where it came from.
type Declaration struct {
	Index int       // 1-based position in the source
	Line  int       // 1-based source line, 0 if unknown
	Form  form.List // the declaration itself
}

// DeclarationSource yields parsed declarations one at a time.
type DeclarationSource interface {
	// Next returns the next declaration, or io.EOF when the source is exhausted.
	Next() (Declaration, error)
}

// -----------------------------------------------------------------------------
// Run History
// -----------------------------------------------------------------------------

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Declaration outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Run outcomes.
const (
	RunPassed   = "passed"
	RunRejected = "rejected"
	RunFailed   = "failed"
)

// Run is the persisted summary of checking one source.
type Run struct {
	ID         string
	Source     string
	Outcome    string // RunPassed, RunRejected or RunFailed
	Checked    int
	Accepted   int
	Rejected   int
	Errors     int
	FirstIndex int    // index of the first failing declaration, 0 if none
	FirstError string // message of the first failure
	StartedAt  time.Time
	FinishedAt time.Time

	// Results holds per-declaration results. Populated by Get only.
	Results []Result
}

// Passed reports whether every declaration was accepted.
func (r Run) Passed() bool {
	return r.Outcome == RunPassed
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Result is the outcome of checking one declaration.
type Result struct {
	Index   int
	Line    int
	Kind    string // declaration kind name, empty if unknown
	Name    string // rendered name form, empty if absent
	Outcome string // OutcomeAccepted, OutcomeRejected or OutcomeError
	Message string // error text, or the reason for a rejection when known
}

// Failed reports whether the result is a rejection or an error.
func (r Result) Failed() bool {
	return r.Outcome != OutcomeAccepted
}

// RunStore persists check runs.
type RunStore interface {
	// Create stores a finished run and its results.
	Create(ctx context.Context, run Run) error

	// Get retrieves a run and its results by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (Run, error)

	// List returns the most recent runs, newest first.
	List(ctx context.Context, limit int) ([]Run, error)
}

// CheckObserver receives check events, typically for metrics.
type CheckObserver interface {
	ObserveDeclaration(kind, outcome string)
	ObserveRun(outcome string, d time.Duration)
}
