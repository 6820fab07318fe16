package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/artpar/rpcspec/adapters/clock"
	"github.com/artpar/rpcspec/adapters/idgen"
	"github.com/artpar/rpcspec/adapters/memory"
	"github.com/artpar/rpcspec/adapters/metrics"
	"github.com/artpar/rpcspec/adapters/yamlforms"
	"github.com/artpar/rpcspec/app"
	"github.com/artpar/rpcspec/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

type testDeps struct {
	runs    *memory.RunStore
	metrics *metrics.Collector
}

func newTestCheckService(cfg app.CheckConfig) (*app.CheckService, testDeps) {
	deps := testDeps{
		runs:    memory.NewRunStore(0),
		metrics: metrics.NewWithRegistry(prometheus.NewRegistry()),
	}
	svc := app.NewCheckService(app.CheckDeps{
		Runs:     deps.runs,
		Observer: deps.metrics,
		Clock:    clock.NewFake(baseTime, time.Millisecond),
		IDGen:    idgen.NewSequential("run-"),
		Logger:   zerolog.Nop(),
	}, cfg)
	return svc, deps
}

func check(t *testing.T, svc *app.CheckService, src string) ports.Run {
	t.Helper()
	run, err := svc.Check(context.Background(), "test.yaml", yamlforms.NewDecoder(strings.NewReader(src)))
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	return run
}

const library = `
- [def-rpc-package, library]
- [def-msg, book-info, ':title', string, ':authors', [list, string]]
- [def-rpc, get-book, {title: string}, book-info]
- [def-rpc, list-books, book-query, [list, book-info]]
`

func TestCheckService_Passed(t *testing.T) {
	svc, deps := newTestCheckService(app.CheckConfig{StopOnFailure: true})

	run := check(t, svc, library)

	if run.Outcome != ports.RunPassed {
		t.Fatalf("Outcome = %s, want passed (first error %q)", run.Outcome, run.FirstError)
	}
	if run.Checked != 4 || run.Accepted != 4 {
		t.Errorf("Checked = %d, Accepted = %d, want 4, 4", run.Checked, run.Accepted)
	}
	if run.ID != "run-000001" {
		t.Errorf("ID = %s", run.ID)
	}
	if run.Duration() != time.Millisecond {
		t.Errorf("Duration = %v, want 1ms", run.Duration())
	}
	if run.Results[1].Kind != "def-msg" || run.Results[1].Name != "book-info" {
		t.Errorf("Results[1] = %+v", run.Results[1])
	}

	stored, err := deps.runs.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("run not stored: %v", err)
	}
	if len(stored.Results) != 4 {
		t.Errorf("stored results = %d, want 4", len(stored.Results))
	}

	if got := testutil.ToFloat64(deps.metrics.DeclarationsTotal.WithLabelValues("def-rpc", "accepted")); got != 2 {
		t.Errorf("def-rpc accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(deps.metrics.RunsTotal.WithLabelValues("passed")); got != 1 {
		t.Errorf("passed runs = %v, want 1", got)
	}
}

func TestCheckService_StopsAtFirstRejection(t *testing.T) {
	svc, _ := newTestCheckService(app.CheckConfig{StopOnFailure: true})

	run := check(t, svc, `
- [def-msg, user, ':first', string]
- [def-msg, user2, ':first', nil]
- [def-msg, user3, ':first', string]
`)

	if run.Outcome != ports.RunRejected {
		t.Fatalf("Outcome = %s, want rejected", run.Outcome)
	}
	if run.Checked != 2 {
		t.Errorf("Checked = %d, want 2", run.Checked)
	}
	if run.FirstIndex != 2 {
		t.Errorf("FirstIndex = %d, want 2", run.FirstIndex)
	}
	if !strings.Contains(run.FirstError, "user2") {
		t.Errorf("FirstError = %q, should name user2", run.FirstError)
	}
}

func TestCheckService_KeepGoing(t *testing.T) {
	svc, _ := newTestCheckService(app.CheckConfig{StopOnFailure: false})

	run := check(t, svc, `
- [def-msg, user, ':first', nil]
- [def-rpc, get-user, [list, string]]
- [def-msg, user3, ':first', string]
- [def-enum, color]
- [def-msg, user4, ':first', string]
`)

	if run.Outcome != ports.RunFailed {
		t.Fatalf("Outcome = %s, want failed", run.Outcome)
	}
	// The unknown declaration is a hard error and ends the run.
	if run.Checked != 4 {
		t.Errorf("Checked = %d, want 4", run.Checked)
	}
	if run.Rejected != 2 || run.Accepted != 1 || run.Errors != 1 {
		t.Errorf("rejected/accepted/errors = %d/%d/%d, want 2/1/1", run.Rejected, run.Accepted, run.Errors)
	}
	if run.FirstIndex != 1 {
		t.Errorf("FirstIndex = %d, want 1", run.FirstIndex)
	}
	last := run.Results[3]
	if last.Outcome != ports.OutcomeError || !strings.Contains(last.Message, "def-rpc-package") {
		t.Errorf("last result = %+v", last)
	}
}

func TestCheckService_HardError(t *testing.T) {
	svc, _ := newTestCheckService(app.CheckConfig{StopOnFailure: true})

	run := check(t, svc, `
- [def-msg, user, ':age', 3]
- [def-msg, ok, ':first', string]
`)

	if run.Outcome != ports.RunFailed {
		t.Fatalf("Outcome = %s, want failed", run.Outcome)
	}
	if run.Checked != 1 || run.Errors != 1 {
		t.Errorf("Checked = %d, Errors = %d", run.Checked, run.Errors)
	}
	if !strings.Contains(run.FirstError, "cannot classify") {
		t.Errorf("FirstError = %q", run.FirstError)
	}
}

func TestCheckService_UniqueNames(t *testing.T) {
	src := `
- [def-msg, user, ':first', string]
- [def-rpc, user, {id: string}]
- [def-msg, USER, ':second', string]
`
	svc, _ := newTestCheckService(app.CheckConfig{StopOnFailure: false})
	if run := check(t, svc, src); run.Outcome != ports.RunPassed {
		t.Errorf("without unique names: Outcome = %s, want passed", run.Outcome)
	}

	svc, _ = newTestCheckService(app.CheckConfig{StopOnFailure: false, UniqueNames: true})
	run := check(t, svc, src)
	if run.Outcome != ports.RunRejected {
		t.Fatalf("Outcome = %s, want rejected", run.Outcome)
	}
	if run.FirstIndex != 3 {
		t.Errorf("FirstIndex = %d, want 3", run.FirstIndex)
	}
	if !strings.Contains(run.FirstError, "first declared at #1") {
		t.Errorf("FirstError = %q", run.FirstError)
	}
}

func TestCheckService_ParallelMatchesSequential(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("- [def-msg, m, ':a', string]\n")
	}
	b.WriteString("- [def-msg, bad, ':a', nil]\n")
	for i := 0; i < 10; i++ {
		b.WriteString("- [def-rpc, r, {a: string}, b]\n")
	}
	src := b.String()

	for _, stop := range []bool{true, false} {
		seqSvc, _ := newTestCheckService(app.CheckConfig{StopOnFailure: stop})
		parSvc, _ := newTestCheckService(app.CheckConfig{StopOnFailure: stop, Parallelism: 8})

		seq := check(t, seqSvc, src)
		par := check(t, parSvc, src)

		if seq.Checked != par.Checked || seq.Outcome != par.Outcome || seq.FirstIndex != par.FirstIndex {
			t.Errorf("stop=%v: sequential %d/%s/%d, parallel %d/%s/%d", stop,
				seq.Checked, seq.Outcome, seq.FirstIndex, par.Checked, par.Outcome, par.FirstIndex)
		}
		for i := range seq.Results {
			if seq.Results[i] != par.Results[i] {
				t.Errorf("stop=%v: result %d differs: %+v vs %+v", stop, i, seq.Results[i], par.Results[i])
			}
		}
	}
}

func TestCheckService_ReadError(t *testing.T) {
	svc, deps := newTestCheckService(app.CheckConfig{StopOnFailure: true})

	run, err := svc.Check(context.Background(), "broken.yaml",
		yamlforms.NewDecoder(strings.NewReader("[def-msg, a]\n---\na: b\n")))
	if !errors.Is(err, app.ErrSource) {
		t.Fatalf("err = %v, want ErrSource", err)
	}
	if run.Outcome != ports.RunFailed || run.FirstIndex != 2 {
		t.Errorf("Outcome = %s, FirstIndex = %d", run.Outcome, run.FirstIndex)
	}
	if deps.runs.Len() != 1 {
		t.Error("failed run should still be stored")
	}
}

func TestCheckService_StopIgnoresLaterSourceDefect(t *testing.T) {
	src := "[def-msg, user, ':first', ~]\n---\n[def-msg, [unclosed\n"

	for _, parallelism := range []int{1, 4} {
		svc, deps := newTestCheckService(app.CheckConfig{StopOnFailure: true, Parallelism: parallelism})

		run, err := svc.Check(context.Background(), "late.yaml", yamlforms.NewDecoder(strings.NewReader(src)))
		if err != nil {
			t.Fatalf("parallelism=%d: Check() error: %v", parallelism, err)
		}
		if run.Outcome != ports.RunRejected || run.FirstIndex != 1 || run.Checked != 1 {
			t.Errorf("parallelism=%d: Outcome = %s, FirstIndex = %d, Checked = %d",
				parallelism, run.Outcome, run.FirstIndex, run.Checked)
		}
		if deps.runs.Len() != 1 {
			t.Errorf("parallelism=%d: run not stored", parallelism)
		}
	}
}

// countingSource records how many declarations were pulled.
type countingSource struct {
	ports.DeclarationSource
	pulled int
}

func (c *countingSource) Next() (ports.Declaration, error) {
	d, err := c.DeclarationSource.Next()
	if err == nil {
		c.pulled++
	}
	return d, err
}

func TestCheckService_SequentialStopsReading(t *testing.T) {
	svc, _ := newTestCheckService(app.CheckConfig{StopOnFailure: true})
	src := &countingSource{DeclarationSource: yamlforms.NewDecoder(strings.NewReader(`
- [def-msg, a, ':x', string]
- [def-msg, b, ':x', nil]
- [def-msg, c, ':x', string]
- [def-msg, d, ':x', string]
`))}

	run, err := svc.Check(context.Background(), "stream.yaml", src)
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if run.Checked != 2 {
		t.Errorf("Checked = %d, want 2", run.Checked)
	}
	if src.pulled != 2 {
		t.Errorf("pulled = %d declarations, want 2", src.pulled)
	}
}

func TestCheckService_UniqueNamesStopsAtDuplicate(t *testing.T) {
	svc, _ := newTestCheckService(app.CheckConfig{StopOnFailure: true, UniqueNames: true})

	run := check(t, svc, `
- [def-msg, user, ':first', string]
- [def-msg, user, ':second', string]
- [def-msg, other, ':first', string]
`)
	if run.Outcome != ports.RunRejected || run.Checked != 2 || run.FirstIndex != 2 {
		t.Errorf("Outcome = %s, Checked = %d, FirstIndex = %d", run.Outcome, run.Checked, run.FirstIndex)
	}
}

func TestCheckService_Empty(t *testing.T) {
	svc, _ := newTestCheckService(app.CheckConfig{})
	run := check(t, svc, "")
	if run.Outcome != ports.RunPassed || run.Checked != 0 {
		t.Errorf("Outcome = %s, Checked = %d", run.Outcome, run.Checked)
	}
}

func TestCheckService_Cancelled(t *testing.T) {
	svc, _ := newTestCheckService(app.CheckConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decls, _ := yamlforms.Parse([]byte(library))
	_, err := svc.CheckDeclarations(ctx, "x", decls)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCheckService_Options(t *testing.T) {
	svc, _ := newTestCheckService(app.CheckConfig{StopOnFailure: true})
	src := "- [def-msg, a, ':x', nil]\n- [def-msg, a, ':x', string]\n- [def-msg, a, ':x', string]\n"

	run, err := svc.Check(context.Background(), "x", yamlforms.NewDecoder(strings.NewReader(src)),
		app.WithStopOnFailure(false), app.WithUniqueNames(true))
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if run.Checked != 3 || run.Rejected != 2 {
		t.Errorf("Checked = %d, Rejected = %d, want 3, 2", run.Checked, run.Rejected)
	}
	if !svc.Config().StopOnFailure {
		t.Error("options must not change the service configuration")
	}
}

func TestCheckService_UpdateConfig(t *testing.T) {
	svc, _ := newTestCheckService(app.CheckConfig{StopOnFailure: true})
	svc.UpdateConfig(app.CheckConfig{StopOnFailure: false, Parallelism: 4})

	cfg := svc.Config()
	if cfg.StopOnFailure || cfg.Parallelism != 4 {
		t.Errorf("Config() = %+v", cfg)
	}
}

type failingStore struct{ ports.RunStore }

func (failingStore) Create(context.Context, ports.Run) error { return errors.New("disk full") }

func TestCheckService_StoreError(t *testing.T) {
	svc := app.NewCheckService(app.CheckDeps{
		Runs:   failingStore{},
		Clock:  clock.Real{},
		IDGen:  idgen.TimeOrdered{},
		Logger: zerolog.Nop(),
	}, app.CheckConfig{})

	run, err := svc.Check(context.Background(), "x", yamlforms.NewDecoder(strings.NewReader(library)))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("err = %v, want save error", err)
	}
	if !run.Passed() {
		t.Error("run result should still be returned")
	}
}
