package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/artpar/rpcspec/ports"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = ports.ErrNotFound

// RunStore implements ports.RunStore using SQLite.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new SQLite run store.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db.DB}
}

// Ensure interface compliance.
var _ ports.RunStore = (*RunStore)(nil)

// Create inserts the run and its results in one transaction.
func (s *RunStore) Create(ctx context.Context, run ports.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO check_runs (id, source, outcome, checked, accepted, rejected, errors,
			first_index, first_error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Source, run.Outcome, run.Checked, run.Accepted, run.Rejected, run.Errors,
		run.FirstIndex, run.FirstError, run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(run.Results) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO run_results (run_id, idx, line, kind, name, outcome, message)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare result insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range run.Results {
			if _, err := stmt.ExecContext(ctx, run.ID, r.Index, r.Line, r.Kind, r.Name, r.Outcome, r.Message); err != nil {
				return fmt.Errorf("insert result %d: %w", r.Index, err)
			}
		}
	}

	return tx.Commit()
}

// Get returns the run with its results.
func (s *RunStore) Get(ctx context.Context, id string) (ports.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, outcome, checked, accepted, rejected, errors,
			first_index, first_error, started_at, finished_at
		FROM check_runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.Run{}, ErrNotFound
	}
	if err != nil {
		return ports.Run{}, fmt.Errorf("get run: %w", err)
	}

	run.Results, err = s.results(ctx, id)
	if err != nil {
		return ports.Run{}, err
	}
	return run, nil
}

func (s *RunStore) results(ctx context.Context, runID string) ([]ports.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, line, kind, name, outcome, message
		FROM run_results WHERE run_id = ?
		ORDER BY idx
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []ports.Result
	for rows.Next() {
		var r ports.Result
		if err := rows.Scan(&r.Index, &r.Line, &r.Kind, &r.Name, &r.Outcome, &r.Message); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// List returns the most recent runs without their results.
func (s *RunStore) List(ctx context.Context, limit int) ([]ports.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, outcome, checked, accepted, rejected, errors,
			first_index, first_error, started_at, finished_at
		FROM check_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []ports.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (ports.Run, error) {
	var run ports.Run
	err := row.Scan(
		&run.ID,
		&run.Source,
		&run.Outcome,
		&run.Checked,
		&run.Accepted,
		&run.Rejected,
		&run.Errors,
		&run.FirstIndex,
		&run.FirstError,
		&run.StartedAt,
		&run.FinishedAt,
	)
	return run, err
}
