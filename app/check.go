// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/artpar/rpcspec/domain/form"
	"github.com/artpar/rpcspec/domain/typecheck"
	"github.com/artpar/rpcspec/ports"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// CheckService runs declarations through the type checker and records the runs.
type CheckService struct {
	registry *typecheck.Registry
	runs     ports.RunStore      // optional
	observer ports.CheckObserver // optional
	clock    ports.Clock
	idGen    ports.IDGenerator
	logger   zerolog.Logger

	// Hot-reloadable
	cfg atomic.Pointer[CheckConfig]
}

// CheckDeps contains dependencies for CheckService.
type CheckDeps struct {
	Registry *typecheck.Registry // defaults to typecheck.Default
	Runs     ports.RunStore
	Observer ports.CheckObserver
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Logger   zerolog.Logger
}

// CheckConfig controls how a run proceeds.
type CheckConfig struct {
	// StopOnFailure ends the run at the first rejected declaration.
	// A hard error always ends the run.
	StopOnFailure bool

	// Parallelism bounds concurrent checks in a run. Values below 2 check sequentially.
	Parallelism int

	// UniqueNames rejects a declaration whose kind and name repeat an earlier accepted one.
	UniqueNames bool
}

// ErrSource wraps failures to read declarations from a source.
var ErrSource = errors.New("read declarations")

// CheckOption overrides the service configuration for a single run.
type CheckOption func(*CheckConfig)

// WithStopOnFailure overrides CheckConfig.StopOnFailure.
func WithStopOnFailure(stop bool) CheckOption {
	return func(c *CheckConfig) { c.StopOnFailure = stop }
}

// WithUniqueNames overrides CheckConfig.UniqueNames.
func WithUniqueNames(unique bool) CheckOption {
	return func(c *CheckConfig) { c.UniqueNames = unique }
}

// NewCheckService creates a new check service.
func NewCheckService(deps CheckDeps, cfg CheckConfig) *CheckService {
	s := &CheckService{
		registry: deps.Registry,
		runs:     deps.Runs,
		observer: deps.Observer,
		clock:    deps.Clock,
		idGen:    deps.IDGen,
		logger:   deps.Logger,
	}
	if s.registry == nil {
		s.registry = typecheck.Default
	}
	s.UpdateConfig(cfg)
	return s
}

// UpdateConfig replaces the run configuration. Safe to call while runs are in progress;
// a run uses the configuration current when it started.
func (s *CheckService) UpdateConfig(cfg CheckConfig) {
	s.cfg.Store(&cfg)
}

// Config returns the current run configuration.
func (s *CheckService) Config() CheckConfig {
	return *s.cfg.Load()
}

// Check reads declarations from src, checks them and stores the run.
// Reading stops at the declaration that ends the run, so a defect later in src
// does not affect it. The returned error reports a failure to read src or store
// the run; rejected and erroneous declarations are reported through the run itself.
func (s *CheckService) Check(ctx context.Context, source string, src ports.DeclarationSource, opts ...CheckOption) (ports.Run, error) {
	cfg := s.Config()
	for _, opt := range opts {
		opt(&cfg)
	}

	run := ports.Run{
		ID:        s.idGen.New(),
		Source:    source,
		StartedAt: s.clock.Now(),
	}

	p, err := s.evaluate(ctx, cfg, src)
	if err != nil {
		return ports.Run{}, err
	}
	run.Results = p.results
	summarize(&run)

	if p.readErr != nil && run.FirstIndex == 0 {
		run.Outcome = ports.RunFailed
		run.FirstIndex = len(p.results) + 1
		run.FirstError = p.readErr.Error()
	}
	run.FinishedAt = s.clock.Now()

	s.finish(run)

	if s.runs != nil {
		if err := s.runs.Create(ctx, run); err != nil {
			return run, fmt.Errorf("save run: %w", err)
		}
	}
	if p.readErr != nil {
		return run, fmt.Errorf("%w: %w", ErrSource, p.readErr)
	}
	return run, nil
}

// CheckDeclarations checks an already parsed batch and stores the run.
func (s *CheckService) CheckDeclarations(ctx context.Context, source string, decls []ports.Declaration, opts ...CheckOption) (ports.Run, error) {
	return s.Check(ctx, source, &sliceSource{decls: decls}, opts...)
}

// pass holds the results of one run up to its stopping point.
type pass struct {
	results []ports.Result
	readErr error // src failed before the run stopped
}

func (s *CheckService) evaluate(ctx context.Context, cfg CheckConfig, src ports.DeclarationSource) (pass, error) {
	var (
		p   pass
		err error
	)
	if cfg.Parallelism > 1 {
		p, err = s.evaluateParallel(ctx, cfg, src)
	} else {
		p, err = s.evaluateSequential(ctx, cfg, src)
	}
	if err != nil {
		return pass{}, err
	}

	if s.observer != nil {
		for _, r := range p.results {
			s.observer.ObserveDeclaration(r.Kind, r.Outcome)
		}
	}
	return p, nil
}

// evaluateSequential pulls one declaration at a time and stops reading at the
// first one that ends the run.
func (s *CheckService) evaluateSequential(ctx context.Context, cfg CheckConfig, src ports.DeclarationSource) (pass, error) {
	var p pass
	seen := duplicates{}
	for {
		if err := ctx.Err(); err != nil {
			return pass{}, err
		}
		decl, err := src.Next()
		if errors.Is(err, io.EOF) {
			return p, nil
		}
		if err != nil {
			p.readErr = err
			return p, nil
		}

		r := s.checkOne(decl)
		if cfg.UniqueNames {
			seen.mark(&r)
		}
		p.results = append(p.results, r)
		if stops(cfg, r) {
			return p, nil
		}
	}
}

// evaluateParallel drains src, checks the batch concurrently and truncates the
// results at the stopping point. A read error past that point is dropped, so the
// outcome matches evaluateSequential.
func (s *CheckService) evaluateParallel(ctx context.Context, cfg CheckConfig, src ports.DeclarationSource) (pass, error) {
	var (
		decls   []ports.Declaration
		readErr error
	)
	for {
		decl, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = err
			break
		}
		decls = append(decls, decl)
	}

	results := make([]ports.Result, len(decls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallelism)
	for i, decl := range decls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.checkOne(decl)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return pass{}, err
	}
	if err := ctx.Err(); err != nil {
		return pass{}, err
	}

	if cfg.UniqueNames {
		seen := duplicates{}
		for i := range results {
			seen.mark(&results[i])
		}
	}

	for i, r := range results {
		if stops(cfg, r) {
			return pass{results: results[:i+1]}, nil
		}
	}
	return pass{results: results, readErr: readErr}, nil
}

// checkOne classifies one declaration. It never fails: hard errors become results.
func (s *CheckService) checkOne(decl ports.Declaration) ports.Result {
	r := ports.Result{Index: decl.Index, Line: decl.Line}
	if k := s.registry.Kind(decl.Form); k != typecheck.DeclUnknown {
		r.Kind = k.Name()
	}
	if len(decl.Form) > 1 {
		r.Name = form.Render(decl.Form[1])
	}

	ok, err := s.registry.Check(decl.Form)
	switch {
	case err != nil:
		r.Outcome = ports.OutcomeError
		r.Message = err.Error()
	case !ok:
		r.Outcome = ports.OutcomeRejected
	default:
		r.Outcome = ports.OutcomeAccepted
	}

	if r.Failed() {
		s.logger.Debug().
			Int("index", r.Index).
			Int("line", r.Line).
			Str("kind", r.Kind).
			Str("name", r.Name).
			Str("outcome", r.Outcome).
			Str("declaration", decl.Form.String()).
			Msg("declaration failed")
	}
	return r
}

// finish logs and observes a completed run.
func (s *CheckService) finish(run ports.Run) {
	if s.observer != nil {
		s.observer.ObserveRun(run.Outcome, run.Duration())
	}

	var ev *zerolog.Event
	if run.Passed() {
		ev = s.logger.Info()
	} else {
		ev = s.logger.Warn().
			Int("first_index", run.FirstIndex).
			Str("first_error", run.FirstError)
	}
	ev.Str("run_id", run.ID).
		Str("source", run.Source).
		Str("outcome", run.Outcome).
		Int("checked", run.Checked).
		Int("accepted", run.Accepted).
		Int("rejected", run.Rejected).
		Int("errors", run.Errors).
		Dur("duration", run.Duration()).
		Msg("check run finished")
}

func stops(cfg CheckConfig, r ports.Result) bool {
	switch r.Outcome {
	case ports.OutcomeError:
		return true
	case ports.OutcomeRejected:
		return cfg.StopOnFailure
	default:
		return false
	}
}

// duplicates rejects accepted declarations that repeat the kind and name of an
// earlier accepted declaration. Names compare case-insensitively.
type duplicates map[string]int

func (d duplicates) mark(r *ports.Result) {
	if r.Outcome != ports.OutcomeAccepted || r.Kind == "" {
		return
	}
	key := r.Kind + " " + strings.ToLower(r.Name)
	if first, ok := d[key]; ok {
		r.Outcome = ports.OutcomeRejected
		r.Message = fmt.Sprintf("duplicate %s %s, first declared at #%d", r.Kind, r.Name, first)
		return
	}
	d[key] = r.Index
}

// summarize fills the run counters and outcome from its results.
func summarize(run *ports.Run) {
	run.Checked = len(run.Results)
	for _, r := range run.Results {
		switch r.Outcome {
		case ports.OutcomeAccepted:
			run.Accepted++
		case ports.OutcomeRejected:
			run.Rejected++
		case ports.OutcomeError:
			run.Errors++
		}
		if r.Failed() && run.FirstIndex == 0 {
			run.FirstIndex = r.Index
			run.FirstError = r.Message
			if run.FirstError == "" {
				run.FirstError = fmt.Sprintf("%s %s rejected", r.Kind, r.Name)
			}
		}
	}

	switch {
	case run.Errors > 0:
		run.Outcome = ports.RunFailed
	case run.Rejected > 0:
		run.Outcome = ports.RunRejected
	default:
		run.Outcome = ports.RunPassed
	}
}

type sliceSource struct {
	decls []ports.Declaration
}

func (s *sliceSource) Next() (ports.Declaration, error) {
	if len(s.decls) == 0 {
		return ports.Declaration{}, io.EOF
	}
	d := s.decls[0]
	s.decls = s.decls[1:]
	return d, nil
}
